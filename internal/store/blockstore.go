package store

import (
	"fmt"
	"sort"
	"time"

	"github.com/objectfs/streamcache/pkg/types"
)

// BlockStore holds records for a fixed number of time blocks. A block is
// present for a set of partitions only when every one of them has been
// loaded. It is not safe for concurrent use.
type BlockStore struct {
	blocks []*timeBlock
}

type timeBlock struct {
	partitions map[string][]types.Record
	size       uint64
}

// NewBlockStore creates a store with count empty blocks.
func NewBlockStore(count int) *BlockStore {
	return &BlockStore{blocks: make([]*timeBlock, count)}
}

// Len returns the number of blocks.
func (s *BlockStore) Len() int { return len(s.blocks) }

// Present reports whether block holds data and every partition has been
// loaded for it.
func (s *BlockStore) Present(block uint64, partitions []string) bool {
	return s.blocks[block] != nil && len(s.MissingPartitions(block, partitions)) == 0
}

// MissingPartitions returns the partitions not yet loaded for block, in
// the order given.
func (s *BlockStore) MissingPartitions(block uint64, partitions []string) []string {
	b := s.blocks[block]
	if b == nil {
		return append([]string(nil), partitions...)
	}
	var missing []string
	for _, p := range partitions {
		if _, ok := b.partitions[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// ResidentRanges returns the maximal runs of blocks present for partitions.
func (s *BlockStore) ResidentRanges(partitions []string) []types.Range {
	var ranges []types.Range
	for i := range s.blocks {
		if !s.Present(uint64(i), partitions) {
			continue
		}
		idx := uint64(i)
		if n := len(ranges); n > 0 && ranges[n-1].End == idx {
			ranges[n-1].End = idx + 1
			continue
		}
		ranges = append(ranges, types.Range{Start: idx, End: idx + 1})
	}
	return ranges
}

// Write stores the records of partitions for block. Every listed partition
// becomes loaded even if it has no records. Loading a partition twice is a
// bookkeeping error and panics.
func (s *BlockStore) Write(block uint64, partitions []string, records []types.Record) {
	b := s.blocks[block]
	if b == nil {
		b = &timeBlock{partitions: make(map[string][]types.Record)}
		s.blocks[block] = b
	}

	for _, p := range partitions {
		if _, ok := b.partitions[p]; ok {
			panic(fmt.Sprintf("store: partition %q already loaded for block %d", p, block))
		}
		b.partitions[p] = nil
	}
	for _, rec := range records {
		list, ok := b.partitions[rec.Partition]
		if !ok {
			continue
		}
		b.partitions[rec.Partition] = append(list, rec)
		b.size += rec.Size()
	}
}

// Records returns the records of partitions with timestamps in [start, end]
// from the blocks in blockRange, ordered by timestamp.
func (s *BlockStore) Records(blockRange types.Range, partitions []string, start, end time.Time) []types.Record {
	var out []types.Record
	for i := blockRange.Start; i < blockRange.End && i < uint64(len(s.blocks)); i++ {
		b := s.blocks[i]
		if b == nil {
			continue
		}
		for _, p := range partitions {
			for _, rec := range b.partitions[p] {
				if rec.Timestamp.Before(start) || rec.Timestamp.After(end) {
					continue
				}
				out = append(out, rec)
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// UnitSizes returns the byte size of every block, nil for blocks with no
// partition loaded.
func (s *BlockStore) UnitSizes() []*uint64 {
	sizes := make([]*uint64, len(s.blocks))
	for i, b := range s.blocks {
		if b == nil {
			continue
		}
		size := b.size
		sizes[i] = &size
	}
	return sizes
}

// RetainOnly drops every loaded block not in keep and returns how many
// were dropped.
func (s *BlockStore) RetainOnly(keep map[uint64]struct{}) int {
	dropped := 0
	for i, b := range s.blocks {
		if b == nil {
			continue
		}
		if _, ok := keep[uint64(i)]; ok {
			continue
		}
		s.blocks[i] = nil
		dropped++
	}
	return dropped
}

// ResidentBytes returns the summed size of all loaded blocks.
func (s *BlockStore) ResidentBytes() uint64 {
	var total uint64
	for _, b := range s.blocks {
		if b != nil {
			total += b.size
		}
	}
	return total
}
