package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/slok/taskdash/internal/clock"
	"github.com/slok/taskdash/internal/log"
	"github.com/slok/taskdash/internal/realtime"
)

// ChangesChannel is the NOTIFY channel the change triggers publish on.
const ChangesChannel = "taskdash_changes"

// ListenerConfig is the configuration for the change listener.
type ListenerConfig struct {
	Pool      *pgxpool.Pool
	Publisher realtime.Publisher
	// RetryInterval is the wait before listening again after a connection failure.
	RetryInterval time.Duration
	Clock         clock.Clock
	Logger        log.Logger
}

func (c *ListenerConfig) defaults() error {
	if c.Pool == nil {
		return fmt.Errorf("pool is required")
	}
	if c.Publisher == nil {
		return fmt.Errorf("publisher is required")
	}
	if c.RetryInterval == 0 {
		c.RetryInterval = 2 * time.Second
	}
	if c.Clock == nil {
		c.Clock = clock.Real()
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "storage.PostgresListener"})
	return nil
}

// Listener relays Postgres row change notifications as realtime change events.
type Listener struct {
	pool          *pgxpool.Pool
	pub           realtime.Publisher
	retryInterval time.Duration
	clock         clock.Clock
	logger        log.Logger

	// listenFn runs one listening session until it fails.
	listenFn func(ctx context.Context) error
}

// NewListener returns a new change listener.
func NewListener(cfg ListenerConfig) (*Listener, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	l := &Listener{
		pool:          cfg.Pool,
		pub:           cfg.Publisher,
		retryInterval: cfg.RetryInterval,
		clock:         cfg.Clock,
		logger:        cfg.Logger,
	}
	l.listenFn = l.listen
	return l, nil
}

// Run listens for changes until the context is cancelled, reconnecting on failures.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listenFn(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.logger.Warningf("Change listener stopped, retrying in %s: %s", l.retryInterval, err)

		retry := make(chan struct{})
		t := l.clock.AfterFunc(l.retryInterval, func() { close(retry) })
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-retry:
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("could not acquire connection: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+ChangesChannel); err != nil {
		return fmt.Errorf("could not listen on %s: %w", ChangesChannel, err)
	}
	l.logger.Infof("Listening for row changes on %s", ChangesChannel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("could not wait for notification: %w", err)
		}

		ev, err := DecodeNotification(n.Payload)
		if err != nil {
			l.logger.Warningf("Ignoring notification: %s", err)
			continue
		}
		l.pub.Publish(ctx, ev)
	}
}

type notification struct {
	Table  string          `json:"table"`
	Type   string          `json:"type"`
	Record realtime.Record `json:"record"`
}

// DecodeNotification decodes a change trigger payload. Delete events carry the
// removed row as the old record.
func DecodeNotification(payload string) (realtime.ChangeEvent, error) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return realtime.ChangeEvent{}, fmt.Errorf("could not decode payload: %w", err)
	}
	if n.Table == "" {
		return realtime.ChangeEvent{}, fmt.Errorf("missing table on payload")
	}

	ev := realtime.ChangeEvent{
		Table:     n.Table,
		Type:      realtime.EventType(n.Type),
		Timestamp: time.Now().UTC(),
	}
	switch ev.Type {
	case realtime.EventInsert, realtime.EventUpdate:
		ev.New = n.Record
	case realtime.EventDelete:
		ev.Old = n.Record
	default:
		return realtime.ChangeEvent{}, fmt.Errorf("unknown event type %q", n.Type)
	}

	return ev, nil
}
