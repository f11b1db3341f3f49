// Package eviction decides which resident units a cache keeps once its
// byte budget is exceeded.
package eviction

import (
	"github.com/objectfs/streamcache/pkg/types"
)

// SelectUnitsToRetain walks recent ranges from most to least recent and,
// within each range, unit indices from end-1 down to start. Every
// downloaded unit (non-nil size) it meets is retained. The walk stops as soon
// as more than minimumUnitsToKeep units are retained and their total size
// exceeds maxBytes; the range being walked is then cut to begin at the last
// unit reached and every older range is dropped.
//
// The returned ranges replace the caller's history. Units absent from the
// returned set are the caller's to free.
func SelectUnitsToRetain(recent []types.Range, unitSizes []*uint64, minimumUnitsToKeep, maxBytes uint64) (map[uint64]struct{}, []types.Range) {
	retain := make(map[uint64]struct{})
	var total uint64

	for i, r := range recent {
		for unit := r.End; unit > r.Start; {
			unit--
			if unit >= uint64(len(unitSizes)) || unitSizes[unit] == nil {
				continue
			}
			if _, ok := retain[unit]; ok {
				continue
			}
			retain[unit] = struct{}{}
			total += *unitSizes[unit]

			if uint64(len(retain)) > minimumUnitsToKeep && total > maxBytes {
				trimmed := make([]types.Range, 0, i+1)
				trimmed = append(trimmed, recent[:i]...)
				trimmed = append(trimmed, types.Range{Start: unit, End: r.End})
				return retain, trimmed
			}
		}
	}
	return retain, recent
}

// LRUVictim returns the first entry of order, listed least recently used
// first, that is not protected.
func LRUVictim(order []uint64, protected func(uint64) bool) (uint64, bool) {
	for _, idx := range order {
		if protected == nil || !protected(idx) {
			return idx, true
		}
	}
	return 0, false
}
