// Package realtime delivers table change events to subscribers. Subscriptions
// are keyed by table name with an optional equality filter on a column, the
// same shape a hosted backend realtime channel has (`user_id=eq.<id>`).
package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// EventType is the kind of change that happened on a row.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Record is a row payload indexed by column name.
type Record map[string]any

// String returns the column value as a string, empty if missing.
func (r Record) String(column string) string {
	v, ok := r[column]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// ChangeEvent is a single row change on a table.
type ChangeEvent struct {
	Table     string
	Type      EventType
	New       Record
	Old       Record
	Timestamp time.Time
}

// Subscription selects the events a handler receives.
type Subscription struct {
	Table string
	// Filter is an optional `<column>=eq.<value>` expression.
	Filter string
}

// Handler processes change events. Handlers run in the subscriber goroutine so
// they can block on backend lookups without stalling publishers.
type Handler func(ctx context.Context, ev ChangeEvent)

// Subscriber knows how to register change handlers.
type Subscriber interface {
	Subscribe(sub Subscription, h Handler) (unsubscribe func(), err error)
}

// Publisher knows how to publish change events.
type Publisher interface {
	Publish(ctx context.Context, ev ChangeEvent)
}

// Filter is a parsed equality filter.
type Filter struct {
	Column string
	Value  string
}

// ParseFilter parses `<column>=eq.<value>` filters. An empty expression returns a nil filter.
func ParseFilter(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}

	column, rest, ok := strings.Cut(expr, "=")
	if !ok || column == "" {
		return nil, fmt.Errorf("invalid filter %q: missing column", expr)
	}

	value, ok := strings.CutPrefix(rest, "eq.")
	if !ok {
		return nil, fmt.Errorf("invalid filter %q: only eq operator is supported", expr)
	}

	return &Filter{Column: column, Value: value}, nil
}

// Matches returns true if the event row matches the filter. Delete events only
// carry the old row so the old record is used as a fallback.
func (f *Filter) Matches(ev ChangeEvent) bool {
	if f == nil {
		return true
	}

	if ev.New != nil {
		if _, ok := ev.New[f.Column]; ok {
			return ev.New.String(f.Column) == f.Value
		}
	}

	return ev.Old.String(f.Column) == f.Value
}

// EqFilter returns the filter expression for a column equality.
func EqFilter(column, value string) string { return column + "=eq." + value }
