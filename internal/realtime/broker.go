package realtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/slok/taskdash/internal/log"
)

const defaultBufferSize = 128

// BrokerConfig is the configuration for the broker.
type BrokerConfig struct {
	// BufferSize is the number of events queued per subscriber before dropping.
	BufferSize int
	Logger     log.Logger
}

func (c *BrokerConfig) defaults() error {
	if c.BufferSize < 0 {
		return fmt.Errorf("buffer size can't be negative")
	}
	if c.BufferSize == 0 {
		c.BufferSize = defaultBufferSize
	}
	if c.Logger == nil {
		c.Logger = log.Noop
	}
	c.Logger = c.Logger.WithValues(log.Kv{"svc": "realtime.Broker"})
	return nil
}

// Broker is an in-process realtime change broker. Every subscriber has its own
// queue and goroutine, slow subscribers drop events instead of blocking
// publishers (periodic polling is the backstop for missed events).
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int]*subscriber
	nextID      int
	bufferSize  int
	closed      bool
	logger      log.Logger
}

type subscriber struct {
	table   string
	filter  *Filter
	handler Handler
	events  chan ChangeEvent
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewBroker returns a new broker.
func NewBroker(cfg BrokerConfig) (*Broker, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Broker{
		subscribers: map[int]*subscriber{},
		bufferSize:  cfg.BufferSize,
		logger:      cfg.Logger,
	}, nil
}

// Subscribe registers a handler for the subscription. The returned unsubscribe
// func waits for the running handler so it must not be called from a handler.
func (b *Broker) Subscribe(sub Subscription, h Handler) (func(), error) {
	if sub.Table == "" {
		return nil, fmt.Errorf("table is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handler is required")
	}

	filter, err := ParseFilter(sub.Filter)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, fmt.Errorf("broker is closed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &subscriber{
		table:   sub.Table,
		filter:  filter,
		handler: h,
		events:  make(chan ChangeEvent, b.bufferSize),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	id := b.nextID
	b.nextID++
	b.subscribers[id] = s

	go s.run(ctx)
	b.logger.Debugf("Subscribed to %s (filter: %q)", sub.Table, sub.Filter)

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			b.mu.Unlock()
			s.stop()
		})
	}, nil
}

// Publish delivers the event to every matching subscriber.
func (b *Broker) Publish(ctx context.Context, ev ChangeEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, s := range b.subscribers {
		if s.table != ev.Table || !s.filter.Matches(ev) {
			continue
		}

		select {
		case s.events <- ev:
		default:
			b.logger.Warningf("Subscriber queue for %s is full, dropping %s event", ev.Table, ev.Type)
		}
	}
}

// Close stops every subscriber and waits for their handlers to finish.
func (b *Broker) Close() error {
	b.mu.Lock()
	subs := b.subscribers
	b.subscribers = map[int]*subscriber{}
	b.closed = true
	b.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

func (s *subscriber) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.handler(ctx, ev)
		}
	}
}

func (s *subscriber) stop() {
	s.cancel()
	<-s.done
}
