package store

import (
	"container/list"
	"fmt"

	"github.com/objectfs/streamcache/internal/eviction"
	"github.com/objectfs/streamcache/internal/interval"
	"github.com/objectfs/streamcache/pkg/types"
)

// DefaultBlockSize is the allocation unit of a ByteStore.
const DefaultBlockSize = 1 << 20

// ByteStore holds sparse byte ranges of a resource in fixed-size blocks.
// Blocks are allocated on first write and evicted least recently used first
// once MaxBlocks is reached. It is not safe for concurrent use.
type ByteStore struct {
	size      uint64
	blockSize uint64
	maxBlocks int

	blocks    map[uint64]*byteBlock
	evictList *list.List // front is most recently used

	residentBytes uint64
	evicted       uint64
}

type byteBlock struct {
	index   uint64
	data    []byte
	filled  []types.Range // absolute offsets, sorted and merged
	element *list.Element
}

// NewByteStore creates a store for a resource of size bytes that keeps
// enough blocks for limit bytes plus two blocks of slack, so a protected
// range of limit bytes at any alignment never blocks allocation.
func NewByteStore(size, limit, blockSize uint64) *ByteStore {
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if limit > size {
		limit = size
	}
	maxBlocks := int((limit+blockSize-1)/blockSize) + 2

	return &ByteStore{
		size:      size,
		blockSize: blockSize,
		maxBlocks: maxBlocks,
		blocks:    make(map[uint64]*byteBlock),
		evictList: list.New(),
	}
}

// Size returns the resource size the store addresses.
func (s *ByteStore) Size() uint64 { return s.size }

// BlockSize returns the allocation unit in bytes.
func (s *ByteStore) BlockSize() uint64 { return s.blockSize }

// MaxBlocks returns the block budget.
func (s *ByteStore) MaxBlocks() int { return s.maxBlocks }

// Blocks returns the number of allocated blocks.
func (s *ByteStore) Blocks() int { return len(s.blocks) }

// ResidentBytes returns the number of bytes held.
func (s *ByteStore) ResidentBytes() uint64 { return s.residentBytes }

// EvictedBlocks returns the number of blocks evicted since creation.
func (s *ByteStore) EvictedBlocks() uint64 { return s.evicted }

// Write copies data at offset, allocating blocks as needed. Blocks
// overlapping protect or the written range are never chosen as victims.
// Rewriting bytes already held is allowed. It returns the number of blocks
// evicted to make room.
func (s *ByteStore) Write(offset uint64, data []byte, protect types.Range) int {
	end := offset + uint64(len(data))
	if end > s.size {
		panic(fmt.Sprintf("store: write [%d,%d) beyond resource size %d", offset, end, s.size))
	}
	written := types.Range{Start: offset, End: end}

	evicted := 0
	for pos := offset; pos < end; {
		index := pos / s.blockSize
		blockStart := index * s.blockSize
		blockEnd := blockStart + s.blockSize
		if blockEnd > s.size {
			blockEnd = s.size
		}
		chunkEnd := end
		if chunkEnd > blockEnd {
			chunkEnd = blockEnd
		}

		b, ok := s.blocks[index]
		if !ok {
			evicted += s.makeRoom(protect, written)
			b = &byteBlock{index: index, data: make([]byte, blockEnd-blockStart)}
			b.element = s.evictList.PushFront(b)
			s.blocks[index] = b
		} else {
			s.evictList.MoveToFront(b.element)
		}

		copy(b.data[pos-blockStart:], data[pos-offset:chunkEnd-offset])

		before := interval.Width(b.filled)
		b.filled = interval.Normalize(append(b.filled, types.Range{Start: pos, End: chunkEnd}))
		s.residentBytes += interval.Width(b.filled) - before

		pos = chunkEnd
	}
	return evicted
}

// makeRoom evicts unprotected blocks until one more block fits. The budget
// is soft: when every block is protected the store grows past it.
func (s *ByteStore) makeRoom(protect, written types.Range) int {
	evicted := 0
	for len(s.blocks) >= s.maxBlocks {
		victim := s.lruVictim(protect, written)
		if victim == nil {
			break
		}
		s.removeBlock(victim)
		evicted++
	}
	return evicted
}

func (s *ByteStore) lruVictim(protect, written types.Range) *byteBlock {
	order := make([]uint64, 0, s.evictList.Len())
	for e := s.evictList.Back(); e != nil; e = e.Prev() {
		order = append(order, e.Value.(*byteBlock).index)
	}
	index, ok := eviction.LRUVictim(order, func(index uint64) bool {
		r := s.blockRange(index)
		return r.Overlaps(protect) || r.Overlaps(written)
	})
	if !ok {
		return nil
	}
	return s.blocks[index]
}

func (s *ByteStore) removeBlock(b *byteBlock) {
	s.evictList.Remove(b.element)
	delete(s.blocks, b.index)
	s.residentBytes -= interval.Width(b.filled)
	s.evicted++
}

func (s *ByteStore) blockRange(index uint64) types.Range {
	start := index * s.blockSize
	end := start + s.blockSize
	if end > s.size {
		end = s.size
	}
	return types.Range{Start: start, End: end}
}

// Ranges returns the resident set, derived from block contents.
func (s *ByteStore) Ranges() []types.Range {
	var all []types.Range
	for _, b := range s.blocks {
		all = append(all, b.filled...)
	}
	return interval.Normalize(all)
}

// HasData reports whether every byte of r is resident.
func (s *ByteStore) HasData(r types.Range) bool {
	if r.IsEmpty() {
		return true
	}
	for index := r.Start / s.blockSize; index*s.blockSize < r.End; index++ {
		b, ok := s.blocks[index]
		if !ok {
			return false
		}
		if !interval.Contains(b.filled, r.Intersect(s.blockRange(index))) {
			return false
		}
	}
	return true
}

// Slice copies the bytes of r out of the store and marks the blocks as
// recently used. It returns false if any byte of r is missing.
func (s *ByteStore) Slice(r types.Range) ([]byte, bool) {
	if !s.HasData(r) {
		return nil, false
	}

	out := make([]byte, r.Width())
	for index := r.Start / s.blockSize; index*s.blockSize < r.End; index++ {
		b := s.blocks[index]
		part := r.Intersect(s.blockRange(index))
		blockStart := index * s.blockSize
		copy(out[part.Start-r.Start:], b.data[part.Start-blockStart:part.End-blockStart])
		s.evictList.MoveToFront(b.element)
	}
	return out, true
}

// Clear drops every block.
func (s *ByteStore) Clear() {
	s.blocks = make(map[uint64]*byteBlock)
	s.evictList.Init()
	s.residentBytes = 0
}
