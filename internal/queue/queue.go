package queue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/roach88/tilesync/internal/dataset"
)

// Updater applies one event to a dataset. Implemented by *engine.Engine.
type Updater interface {
	Apply(ctx context.Context, ds *dataset.Dataset, ev dataset.Event) error
}

// Gauge receives the pending event count after every change.
// Satisfied by prometheus.Gauge.
type Gauge interface {
	Set(float64)
}

// Queue is a dataset's FIFO of pending update events and the worker loop
// that drains it.
//
// Thread-safety: Enqueue, Len and Close may be called from any goroutine.
// Run must be called at most once.
type Queue struct {
	ds      *dataset.Dataset
	updater Updater
	depth   Gauge

	mu     sync.Mutex
	events []dataset.Event
	closed bool
	signal chan struct{} // buffered, size 1
	idle   chan struct{} // closed by Run on return
}

// Option configures a Queue.
type Option func(*Queue)

// WithDepthGauge reports the pending event count to g.
func WithDepthGauge(g Gauge) Option {
	return func(q *Queue) {
		q.depth = g
	}
}

// New creates an empty queue for ds.
func New(ds *dataset.Dataset, updater Updater, opts ...Option) *Queue {
	q := &Queue{
		ds:      ds,
		updater: updater,
		events:  make([]dataset.Event, 0, 8),
		signal:  make(chan struct{}, 1),
		idle:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Dataset returns the dataset this queue serves.
func (q *Queue) Dataset() *dataset.Dataset {
	return q.ds
}

// Enqueue adds ev to the back of the queue and returns immediately.
// Returns false if the queue is closed.
func (q *Queue) Enqueue(ev dataset.Event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	if q.ds.Coalesce && len(q.events) > 0 {
		if q.events[0] != ev {
			ev = dataset.Bulk()
		}
		q.events[0] = ev
		q.events = q.events[:1]
	} else {
		q.events = append(q.events, ev)
	}
	q.reportDepth()

	// Non-blocking: the buffer of 1 coalesces multiple signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// tryDequeue removes the front event without blocking.
func (q *Queue) tryDequeue() (dataset.Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return dataset.Event{}, false
	}

	ev := q.events[0]
	if len(q.events) == 1 {
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}
	q.reportDepth()

	return ev, true
}

// reportDepth must be called with mu held.
func (q *Queue) reportDepth() {
	if q.depth != nil {
		q.depth.Set(float64(len(q.events)))
	}
}

// Len returns the number of pending events, excluding the one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close stops accepting events. Run returns once the in-flight update, if
// any, finishes. Pending events are discarded.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Done is closed when Run returns.
func (q *Queue) Done() <-chan struct{} {
	return q.idle
}

// Run drains the queue until ctx is cancelled or the queue is closed.
//
// The in-flight update is never interrupted: it runs on a context that
// keeps ctx's values but not its cancellation.
func (q *Queue) Run(ctx context.Context) error {
	defer close(q.idle)
	slog.Debug("queue starting", "dataset", q.ds.Name, "channel", q.ds.Channel)

	for {
		if q.isClosed() {
			slog.Debug("queue stopping: closed", "dataset", q.ds.Name)
			return nil
		}

		if ev, ok := q.tryDequeue(); ok {
			q.process(ctx, ev)
			if !q.debounce(ctx) {
				slog.Debug("queue stopping: context cancelled", "dataset", q.ds.Name)
				return ctx.Err()
			}
			continue
		}

		select {
		case <-ctx.Done():
			slog.Debug("queue stopping: context cancelled", "dataset", q.ds.Name)
			q.Close()
			return ctx.Err()
		case <-q.signal:
			// Loop back to tryDequeue. A closed signal channel fires
			// immediately and the closed check above ends the loop.
		}
	}
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// process runs one update. Errors and panics are logged, never returned.
func (q *Queue) process(ctx context.Context, ev dataset.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("update panicked",
				"dataset", q.ds.Name,
				"event", ev.String(),
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := q.updater.Apply(context.WithoutCancel(ctx), q.ds, ev); err != nil {
		slog.Error("update failed",
			"dataset", q.ds.Name,
			"channel", q.ds.Channel,
			"event", ev.String(),
			"error", err,
		)
	}
}

// debounce idles for the dataset's debounce window. Returns false if ctx
// was cancelled while waiting.
func (q *Queue) debounce(ctx context.Context) bool {
	if q.ds.DebounceWait <= 0 {
		if ctx.Err() != nil {
			q.Close()
			return false
		}
		return true
	}

	t := time.NewTimer(q.ds.DebounceWait)
	defer t.Stop()

	select {
	case <-ctx.Done():
		q.Close()
		return false
	case <-t.C:
		return true
	}
}
