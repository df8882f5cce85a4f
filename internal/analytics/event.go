// Package analytics records one event per match attempt. Recording is fire
// and forget: a failing sink never fails the attempt that produced it.
package analytics

import (
	"context"
	"time"
)

// Event describes one match attempt.
type Event struct {
	ID                 string
	Timestamp          time.Time
	UserID             string
	MatchFound         bool
	CompatibilityScore *float64 // nil when no match was found
	LatencyMs          int64
	PoolSize           int
}

// Sink stores events.
type Sink interface {
	Record(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Record(ctx context.Context, e Event) error { return f(ctx, e) }

// Nop discards every event.
var Nop Sink = SinkFunc(func(context.Context, Event) error { return nil })
