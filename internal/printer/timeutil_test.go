package printer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slok/taskdash/internal/printer"
)

func TestTimeAgo(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := map[string]struct {
		time time.Time
		exp  string
	}{
		"1 second ago":   {time: now.Add(-1 * time.Second), exp: "1 second ago"},
		"30 seconds ago": {time: now.Add(-30 * time.Second), exp: "30 seconds ago"},
		"1 minute ago":   {time: now.Add(-1 * time.Minute), exp: "1 minute ago"},
		"1 hour ago":     {time: now.Add(-1 * time.Hour), exp: "1 hour ago"},
		"5 hours ago":    {time: now.Add(-5 * time.Hour), exp: "5 hours ago"},
		"7 days ago":     {time: now.Add(-7 * 24 * time.Hour), exp: "7 days ago"},
		"future time":    {time: now.Add(5 * time.Minute), exp: "in the future"},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, printer.TimeAgo(now, test.time))
		})
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := map[string]struct {
		time time.Time
		exp  string
	}{
		"UTC timestamp": {
			time: time.Date(2026, 1, 30, 10, 15, 30, 0, time.UTC),
			exp:  "2026-01-30 10:15:30 UTC",
		},
		"Other timezones should be converted to UTC": {
			time: time.Date(2026, 1, 30, 10, 15, 30, 0, time.FixedZone("EST", -5*3600)),
			exp:  "2026-01-30 15:15:30 UTC",
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, test.exp, printer.FormatTimestamp(test.time))
		})
	}
}
