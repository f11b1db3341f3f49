package store

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/streamcache/pkg/types"
)

func pattern(offset, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte((offset + i) % 251)
	}
	return out
}

func TestByteStore_WriteAndSlice(t *testing.T) {
	s := NewByteStore(100, 100, 16)

	s.Write(10, pattern(10, 30), types.Range{})
	assert.Equal(t, []types.Range{{Start: 10, End: 40}}, s.Ranges())
	assert.Equal(t, uint64(30), s.ResidentBytes())
	assert.Equal(t, 3, s.Blocks(), "bytes 10..40 span blocks 0, 1 and 2")

	assert.True(t, s.HasData(types.Range{Start: 12, End: 40}))
	assert.False(t, s.HasData(types.Range{Start: 5, End: 20}))
	assert.True(t, s.HasData(types.Range{Start: 50, End: 50}))

	data, ok := s.Slice(types.Range{Start: 15, End: 35})
	require.True(t, ok)
	assert.True(t, bytes.Equal(pattern(15, 20), data))

	_, ok = s.Slice(types.Range{Start: 35, End: 45})
	assert.False(t, ok)
}

func TestByteStore_OverwriteKeepsAccounting(t *testing.T) {
	s := NewByteStore(64, 64, 16)

	s.Write(0, pattern(0, 20), types.Range{})
	s.Write(10, pattern(10, 20), types.Range{})

	assert.Equal(t, []types.Range{{Start: 0, End: 30}}, s.Ranges())
	assert.Equal(t, uint64(30), s.ResidentBytes())

	data, ok := s.Slice(types.Range{Start: 0, End: 30})
	require.True(t, ok)
	assert.Equal(t, pattern(0, 30), data)
}

func TestByteStore_LastBlockShort(t *testing.T) {
	s := NewByteStore(20, 20, 16)
	s.Write(0, pattern(0, 20), types.Range{})

	assert.Equal(t, []types.Range{{Start: 0, End: 20}}, s.Ranges())
	assert.Panics(t, func() { s.Write(15, pattern(15, 10), types.Range{}) })
}

func TestByteStore_EvictsLeastRecentlyUsed(t *testing.T) {
	// limit of 32 bytes with 16 byte blocks keeps 4 blocks
	s := NewByteStore(160, 32, 16)
	require.Equal(t, 4, s.MaxBlocks())

	for i := 0; i < 4; i++ {
		s.Write(uint64(i*16), pattern(i*16, 16), types.Range{})
	}
	// touch block 0 so block 1 becomes the oldest
	_, ok := s.Slice(types.Range{Start: 0, End: 4})
	require.True(t, ok)

	evicted := s.Write(64, pattern(64, 16), types.Range{})
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 4, s.Blocks())
	assert.False(t, s.HasData(types.Range{Start: 16, End: 32}))
	assert.True(t, s.HasData(types.Range{Start: 0, End: 16}))
	assert.Equal(t, uint64(1), s.EvictedBlocks())
	assert.Equal(t, uint64(64), s.ResidentBytes())
}

func TestByteStore_ProtectedRangeSurvives(t *testing.T) {
	s := NewByteStore(160, 32, 16)
	for i := 0; i < 4; i++ {
		s.Write(uint64(i*16), pattern(i*16, 16), types.Range{})
	}

	// blocks 0 and 1 are the oldest but protected
	s.Write(64, pattern(64, 16), types.Range{Start: 0, End: 32})

	assert.True(t, s.HasData(types.Range{Start: 0, End: 32}))
	assert.False(t, s.HasData(types.Range{Start: 32, End: 48}))
}

func TestByteStore_SoftLimitWhenAllProtected(t *testing.T) {
	s := NewByteStore(160, 16, 16)
	require.Equal(t, 3, s.MaxBlocks())

	for i := 0; i < 3; i++ {
		s.Write(uint64(i*16), pattern(i*16, 16), types.Range{})
	}
	s.Write(48, pattern(48, 16), types.Range{Start: 0, End: 48})

	assert.Equal(t, 4, s.Blocks())
	assert.True(t, s.HasData(types.Range{Start: 0, End: 64}))
}

func TestByteStore_Clear(t *testing.T) {
	s := NewByteStore(64, 64, 16)
	s.Write(0, pattern(0, 40), types.Range{})
	s.Clear()

	assert.Empty(t, s.Ranges())
	assert.Zero(t, s.ResidentBytes())
	assert.Zero(t, s.Blocks())
}

func rec(partition string, ts int64, data string) types.Record {
	return types.Record{Partition: partition, Timestamp: time.Unix(0, ts), Data: []byte(data)}
}

func TestBlockStore_Presence(t *testing.T) {
	s := NewBlockStore(6)
	both := []string{"a", "b"}

	s.Write(1, []string{"a"}, []types.Record{rec("a", 10, "x")})
	assert.True(t, s.Present(1, []string{"a"}))
	assert.False(t, s.Present(1, both))
	assert.Equal(t, []string{"b"}, s.MissingPartitions(1, both))
	assert.Equal(t, both, s.MissingPartitions(0, both))

	s.Write(1, []string{"b"}, nil)
	s.Write(2, both, nil)
	s.Write(4, both, nil)
	assert.Equal(t, []types.Range{{Start: 1, End: 3}, {Start: 4, End: 5}}, s.ResidentRanges(both))
	assert.Equal(t, []types.Range{{Start: 1, End: 3}, {Start: 4, End: 5}}, s.ResidentRanges([]string{"a"}))
}

func TestBlockStore_DoubleWritePanics(t *testing.T) {
	s := NewBlockStore(2)
	s.Write(0, []string{"a"}, nil)
	assert.Panics(t, func() { s.Write(0, []string{"a"}, nil) })
}

func TestBlockStore_Records(t *testing.T) {
	s := NewBlockStore(3)
	s.Write(0, []string{"a", "b"}, []types.Record{
		rec("b", 5, "b5"),
		rec("a", 3, "a3"),
		rec("c", 4, "ignored"),
	})
	s.Write(1, []string{"a", "b"}, []types.Record{
		rec("a", 12, "a12"),
		rec("b", 10, "b10"),
	})

	got := s.Records(types.Range{Start: 0, End: 2}, []string{"a", "b"}, time.Unix(0, 4), time.Unix(0, 12))
	require.Len(t, got, 3)
	assert.Equal(t, "b5", string(got[0].Data))
	assert.Equal(t, "b10", string(got[1].Data))
	assert.Equal(t, "a12", string(got[2].Data), "end is inclusive")

	onlyA := s.Records(types.Range{Start: 0, End: 3}, []string{"a"}, time.Unix(0, 0), time.Unix(0, 100))
	assert.Len(t, onlyA, 2)
}

func TestBlockStore_SizesAndRetain(t *testing.T) {
	s := NewBlockStore(4)
	s.Write(0, []string{"a"}, []types.Record{rec("a", 1, "12345")})
	s.Write(2, []string{"a"}, []types.Record{rec("a", 2, "1")})

	sizes := s.UnitSizes()
	require.Len(t, sizes, 4)
	require.NotNil(t, sizes[0])
	assert.Equal(t, uint64(6), *sizes[0])
	assert.Nil(t, sizes[1])
	assert.Equal(t, uint64(2), *sizes[2])
	assert.Equal(t, uint64(8), s.ResidentBytes())

	dropped := s.RetainOnly(map[uint64]struct{}{2: {}})
	assert.Equal(t, 1, dropped)
	assert.False(t, s.Present(0, []string{"a"}))
	assert.Equal(t, uint64(2), s.ResidentBytes())
}
