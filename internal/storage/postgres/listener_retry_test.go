package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/slok/taskdash/internal/clock"
	"github.com/slok/taskdash/internal/log"
)

func TestListenerRunRetriesAfterInterval(t *testing.T) {
	assert := assert.New(t)

	clk := clock.NewFake(time.Date(2026, 5, 1, 9, 50, 0, 0, time.UTC))
	calls := make(chan struct{}, 10)
	l := &Listener{
		retryInterval: 2 * time.Second,
		clock:         clk,
		logger:        log.Noop,
		listenFn: func(ctx context.Context) error {
			calls <- struct{}{}
			return errors.New("connection refused")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// First session fails and waits for the retry interval.
	<-calls
	clk.WaitForTimers(1)
	clk.Advance(1999 * time.Millisecond)
	select {
	case <-calls:
		t.Fatal("listener should wait the retry interval before reconnecting")
	default:
	}

	clk.Advance(time.Millisecond)
	<-calls

	// Cancelling while waiting stops the listener.
	clk.WaitForTimers(1)
	cancel()
	assert.NoError(<-done)
	assert.Equal(0, clk.Pending())
}
