package cache

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/types"
)

// DefaultErrorWindow is how close two transport errors must be for the
// second one to close the cache.
const DefaultErrorWindow = 100 * time.Millisecond

// Clock abstracts time for the failure window and throughput measurements.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type outcome[T any] struct {
	value T
	err   error
}

// request is a queued read. Q carries variant-specific query data.
type request[Q, T any] struct {
	id          string
	rng         types.Range
	query       Q
	requestedAt time.Time
	done        chan outcome[T]
}

func newRequest[Q, T any](rng types.Range, query Q, now time.Time) *request[Q, T] {
	return &request[Q, T]{
		id:          uuid.NewString(),
		rng:         rng,
		query:       query,
		requestedAt: now,
		done:        make(chan outcome[T], 1),
	}
}

// wait blocks until the request settles or ctx is done. The request stays
// queued when ctx ends first.
func (r *request[Q, T]) wait(ctx context.Context, component string) (T, error) {
	select {
	case out := <-r.done:
		return out.value, out.err
	case <-ctx.Done():
		var zero T
		return zero, errors.Wrap(errors.ErrCodeOperationCanceled, "stopped waiting for read", ctx.Err()).
			WithComponent(component).
			WithOperation("read").
			WithRequestID(r.id)
	}
}

// requestQueue holds unsatisfied reads in arrival order.
type requestQueue[Q, T any] struct {
	items []*request[Q, T]
}

func (q *requestQueue[Q, T]) push(r *request[Q, T]) {
	q.items = append(q.items, r)
}

func (q *requestQueue[Q, T]) len() int { return len(q.items) }

func (q *requestQueue[Q, T]) oldest() *request[Q, T] {
	if len(q.items) == 0 {
		return nil
	}
	return q.items[0]
}

// resolveSatisfied settles every request for which extract succeeds,
// regardless of its position, and returns the settled requests.
func (q *requestQueue[Q, T]) resolveSatisfied(extract func(*request[Q, T]) (T, bool)) []*request[Q, T] {
	var resolved []*request[Q, T]
	remaining := q.items[:0]
	for _, r := range q.items {
		value, ok := extract(r)
		if !ok {
			remaining = append(remaining, r)
			continue
		}
		r.done <- outcome[T]{value: value}
		resolved = append(resolved, r)
	}
	for i := len(remaining); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = remaining
	return resolved
}

// rejectOldest fails the oldest request with err.
func (q *requestQueue[Q, T]) rejectOldest(err error) {
	if len(q.items) == 0 {
		return
	}
	q.items[0].done <- outcome[T]{err: err}
	q.items[0] = nil
	q.items = q.items[1:]
}

// rejectAll fails every queued request with err and returns how many there were.
func (q *requestQueue[Q, T]) rejectAll(err error) int {
	n := len(q.items)
	for _, r := range q.items {
		r.done <- outcome[T]{err: err}
	}
	q.items = nil
	return n
}

// failureWindow tracks transport errors. A second error within window of
// the previous one is fatal.
type failureWindow struct {
	window time.Duration
	last   time.Time
	seen   bool
}

func (w *failureWindow) record(now time.Time) bool {
	fatal := w.seen && now.Sub(w.last) <= w.window
	w.last = now
	w.seen = true
	return fatal
}

// progressOf converts a resident set into fractions of total.
func progressOf(ranges []types.Range, total uint64) types.Progress {
	p := types.Progress{Ranges: make([]types.FractionRange, 0, len(ranges))}
	if total == 0 {
		return p
	}
	for _, r := range ranges {
		p.Ranges = append(p.Ranges, types.FractionRange{
			Start: float64(r.Start) / float64(total),
			End:   float64(r.End) / float64(total),
		})
	}
	return p
}

// throughput returns bytes per second, or false when nothing was measured.
func throughput(bytes uint64, elapsed time.Duration) (float64, bool) {
	if bytes == 0 || elapsed <= 0 {
		return 0, false
	}
	return float64(bytes) / elapsed.Seconds(), true
}
