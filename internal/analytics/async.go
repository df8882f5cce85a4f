package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/peermatch/matcher/internal/logger"
	"github.com/peermatch/matcher/internal/metrics"
)

const (
	DefaultBufferSize   = 1024
	defaultWriteTimeout = 2 * time.Second
)

// Async buffers events in memory and hands them to the wrapped sink from a
// single background goroutine. Record never blocks; when the buffer is full
// or the writer has been closed the event is dropped and counted.
type Async struct {
	sink   Sink
	events chan Event
	log    *logger.Logger

	mu     sync.RWMutex // guards closed and the close of events
	closed bool
	wg     sync.WaitGroup
}

// NewAsync wraps sink. Call Start before recording and Close on shutdown.
func NewAsync(sink Sink, bufferSize int, log *logger.Logger) *Async {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Async{
		sink:   sink,
		events: make(chan Event, bufferSize),
		log:    log.Component("analytics"),
	}
}

// Record enqueues e. It only returns nil and is safe to call after Close.
func (a *Async) Record(_ context.Context, e Event) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		metrics.AnalyticsDropped.WithLabelValues("closed").Inc()
		a.log.Debug("analytics closed, dropping event", "user_id", e.UserID)
		return nil
	}
	select {
	case a.events <- e:
	default:
		metrics.AnalyticsDropped.WithLabelValues("buffer_full").Inc()
		a.log.Warn("analytics buffer full, dropping event", "user_id", e.UserID)
	}
	return nil
}

// Start launches the writer goroutine.
func (a *Async) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		for e := range a.events {
			a.write(e)
		}
	}()
}

func (a *Async) write(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultWriteTimeout)
	defer cancel()
	if err := a.sink.Record(ctx, e); err != nil {
		metrics.AnalyticsDropped.WithLabelValues("sink_error").Inc()
		a.log.Warn("record analytics event", "user_id", e.UserID, "error", err)
	}
}

// Close stops accepting events and waits until the buffer is drained.
// Events recorded afterwards are dropped.
func (a *Async) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()
	a.wg.Wait()
}
