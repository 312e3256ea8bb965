package clock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slok/taskdash/internal/clock"
)

func TestFakeClockAfterFunc(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := clock.NewFake(start)

	var fired []string
	c.AfterFunc(2*time.Second, func() { fired = append(fired, "b") })
	c.AfterFunc(1*time.Second, func() { fired = append(fired, "a") })
	stopped := c.AfterFunc(3*time.Second, func() { fired = append(fired, "c") })

	assert.True(t, stopped.Stop())
	assert.False(t, stopped.Stop())

	c.Advance(time.Second)
	assert.Equal(t, []string{"a"}, fired)

	c.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b"}, fired)
	assert.Equal(t, 0, c.Pending())
	assert.Equal(t, start.Add(6*time.Second), c.Now())
}

func TestFakeClockTicker(t *testing.T) {
	c := clock.NewFake(time.Now())
	tk := c.NewTicker(10 * time.Second)
	defer tk.Stop()

	c.Advance(9 * time.Second)
	select {
	case <-tk.C:
		t.Fatal("ticker should not have fired")
	default:
	}

	c.Advance(time.Second)
	select {
	case <-tk.C:
	default:
		t.Fatal("ticker should have fired")
	}

	assert.Equal(t, 1, c.Pending())
	tk.Stop()
	assert.Equal(t, 0, c.Pending())
}
