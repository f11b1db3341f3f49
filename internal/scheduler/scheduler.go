// Package scheduler decides which range a cache should fetch next.
package scheduler

import (
	"fmt"

	"github.com/objectfs/streamcache/internal/interval"
	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/types"
)

// Input is a snapshot of the controller state the decision depends on.
type Input struct {
	// Current is the remaining range of the active connection, if any.
	Current *types.Range
	// PendingRead is the range of the oldest unsatisfied read request, if any.
	PendingRead *types.Range
	// Resident is the set of ranges held in the store.
	Resident []types.Range
	// LastSatisfiedEnd is the end of the most recently resolved read, if any.
	LastSatisfiedEnd *uint64
	// CacheLimit is the store capacity in units.
	CacheLimit uint64
	// ResourceSize is the total number of units in the resource.
	ResourceSize uint64
	// ContinueThreshold is how far ahead of the needed data an active
	// connection may be positioned before it is replaced.
	ContinueThreshold uint64
}

// Unlimited reports whether the cache can hold the whole resource.
func (in Input) Unlimited() bool {
	return in.CacheLimit >= in.ResourceSize
}

// DecideNextFetch returns the range a new connection should cover. The
// boolean is false when the active connection should continue unchanged or
// when there is nothing worth fetching.
//
// A pending read wider than CacheLimit fails with ErrRequestTooLarge. A
// pending read that is already fully resident panics: such a request should
// have been resolved before the scheduler ran.
func DecideNextFetch(in Input) (types.Range, bool, error) {
	if in.PendingRead != nil {
		return decideForRead(in)
	}
	return decideReadAhead(in)
}

func decideForRead(in Input) (types.Range, bool, error) {
	pending := *in.PendingRead
	if pending.Width() > in.CacheLimit {
		return types.Range{}, false, errors.NewError(errors.ErrCodeRequestTooLarge,
			"pending read is wider than the cache").
			WithComponent("scheduler").
			WithDetail("width", pending.Width()).
			WithDetail("cache_limit", in.CacheLimit)
	}
	if pending.Start > pending.End || pending.End > in.ResourceSize {
		return types.Range{}, false, errors.NewError(errors.ErrCodeInvalidRange,
			"pending read lies outside the resource").
			WithComponent("scheduler").
			WithDetail("range", pending.String()).
			WithDetail("resource_size", in.ResourceSize)
	}

	missing := interval.Missing(pending, in.Resident)
	if len(missing) == 0 {
		panic(fmt.Sprintf("scheduler: pending read %s is already resident", pending))
	}

	if !shouldReplace(in.Current, missing, in.ContinueThreshold) {
		return types.Range{}, false, nil
	}

	first := missing[0]
	switch {
	case in.Unlimited():
		// Run from the gap to the next resident boundary.
		tail := interval.Missing(types.Range{Start: first.Start, End: in.ResourceSize}, in.Resident)
		return tail[0], true, nil
	case first.End == pending.End:
		end := pending.Start + in.CacheLimit
		if end > in.ResourceSize {
			end = in.ResourceSize
		}
		return types.Range{Start: first.Start, End: end}, true, nil
	default:
		return first, true, nil
	}
}

func shouldReplace(current *types.Range, missing []types.Range, threshold uint64) bool {
	if current == nil {
		return true
	}
	if !interval.IsOverlapping(missing, []types.Range{*current}) {
		return true
	}
	return current.Start+threshold < missing[0].Start
}

func decideReadAhead(in Input) (types.Range, bool, error) {
	if in.Current != nil {
		return types.Range{}, false, nil
	}

	var target types.Range
	switch {
	case in.Unlimited():
		target = types.Range{Start: 0, End: in.ResourceSize}
	case in.LastSatisfiedEnd != nil:
		start := *in.LastSatisfiedEnd
		end := start + in.CacheLimit
		if end > in.ResourceSize {
			end = in.ResourceSize
		}
		target = types.Range{Start: start, End: end}
	default:
		return types.Range{}, false, nil
	}

	missing := interval.Missing(target, in.Resident)
	if len(missing) == 0 {
		return types.Range{}, false, nil
	}
	return missing[0], true, nil
}
