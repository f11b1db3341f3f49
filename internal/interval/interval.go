// Package interval implements arithmetic over half-open unit ranges.
//
// Every function treats its inputs as read-only and returns fresh slices.
package interval

import (
	"sort"

	"github.com/objectfs/streamcache/pkg/types"
)

// Normalize sorts ranges by start and merges members that touch or overlap.
// Empty ranges are dropped.
func Normalize(ranges []types.Range) []types.Range {
	sorted := make([]types.Range, 0, len(ranges))
	for _, r := range ranges {
		if !r.IsEmpty() {
			sorted = append(sorted, r)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	merged := sorted[:0]
	for _, r := range sorted {
		if n := len(merged); n > 0 && r.Start <= merged[n-1].End {
			if r.End > merged[n-1].End {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// Intersect clips ranges to bounds and returns the result sorted and merged.
func Intersect(bounds types.Range, ranges []types.Range) []types.Range {
	clipped := make([]types.Range, 0, len(ranges))
	for _, r := range ranges {
		if c := bounds.Intersect(r); !c.IsEmpty() {
			clipped = append(clipped, c)
		}
	}
	return Normalize(clipped)
}

// Missing returns the parts of bounds not covered by any member of ranges,
// sorted and disjoint. It is computed as the complement of the intersection
// so that members extending past bounds never leak outside it.
func Missing(bounds types.Range, ranges []types.Range) []types.Range {
	if bounds.IsEmpty() {
		return nil
	}

	var missing []types.Range
	cursor := bounds.Start
	for _, r := range Intersect(bounds, ranges) {
		if r.Start > cursor {
			missing = append(missing, types.Range{Start: cursor, End: r.Start})
		}
		cursor = r.End
	}
	if cursor < bounds.End {
		missing = append(missing, types.Range{Start: cursor, End: bounds.End})
	}
	return missing
}

// IsOverlapping reports whether any member of a shares a unit with any member of b.
func IsOverlapping(a, b []types.Range) bool {
	for _, x := range a {
		for _, y := range b {
			if x.Overlaps(y) {
				return true
			}
		}
	}
	return false
}

// Contains reports whether r is fully covered by ranges. An empty r is
// always covered.
func Contains(ranges []types.Range, r types.Range) bool {
	return len(Missing(r, ranges)) == 0
}

// MergeIntoDisjoint inserts r into a most-recent-first list of disjoint
// ranges. Every member touching or overlapping r is folded into it and the
// merged range is placed at the front; the others keep their relative order.
func MergeIntoDisjoint(r types.Range, existing []types.Range) []types.Range {
	merged := r
	rest := existing
	for {
		kept := make([]types.Range, 0, len(rest))
		grew := false
		for _, e := range rest {
			if e.Start <= merged.End && merged.Start <= e.End {
				if e.Start < merged.Start {
					merged.Start = e.Start
				}
				if e.End > merged.End {
					merged.End = e.End
				}
				grew = true
				continue
			}
			kept = append(kept, e)
		}
		rest = kept
		// A member skipped before merged grew may touch it now.
		if !grew {
			break
		}
	}
	return append([]types.Range{merged}, rest...)
}

// Width returns the total number of units covered by disjoint ranges.
func Width(ranges []types.Range) uint64 {
	var total uint64
	for _, r := range ranges {
		total += r.Width()
	}
	return total
}
