package printer

import (
	"fmt"
	"time"
)

// TimeAgo returns how long before now t happened, in a human friendly way.
// Examples: "5 seconds ago", "2 minutes ago", "3 days ago".
func TimeAgo(now, t time.Time) string {
	diff := now.Sub(t)
	switch {
	case diff < 0:
		return "in the future"
	case diff < time.Minute:
		return plural(int(diff.Seconds()), "second") + " ago"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	}
	return plural(int(diff.Hours()/24), "day") + " ago"
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatTimestamp returns a formatted timestamp string in UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
