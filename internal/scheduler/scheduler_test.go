package scheduler

import (
	stderr "errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/streamcache/internal/interval"
	"github.com/objectfs/streamcache/pkg/errors"
	"github.com/objectfs/streamcache/pkg/types"
)

func rng(start, end uint64) *types.Range {
	return &types.Range{Start: start, End: end}
}

func u64(v uint64) *uint64 { return &v }

func TestDecideNextFetch_PendingRead(t *testing.T) {
	tests := []struct {
		name   string
		input  Input
		want   types.Range
		create bool
	}{
		{
			name: "unlimited cache fetches to end of resource",
			input: Input{
				PendingRead:  rng(0, 10),
				CacheLimit:   100,
				ResourceSize: 100,
			},
			want:   types.Range{Start: 0, End: 100},
			create: true,
		},
		{
			name: "unlimited cache stops at next resident boundary",
			input: Input{
				PendingRead:  rng(10, 20),
				Resident:     []types.Range{{Start: 0, End: 12}, {Start: 60, End: 70}},
				CacheLimit:   100,
				ResourceSize: 100,
			},
			want:   types.Range{Start: 12, End: 60},
			create: true,
		},
		{
			name: "gap reaching request end reads ahead",
			input: Input{
				PendingRead:  rng(100, 200),
				Resident:     []types.Range{{Start: 100, End: 150}},
				CacheLimit:   500,
				ResourceSize: 10000,
			},
			want:   types.Range{Start: 150, End: 600},
			create: true,
		},
		{
			name: "read-ahead clipped to resource size",
			input: Input{
				PendingRead:  rng(900, 950),
				CacheLimit:   500,
				ResourceSize: 1000,
			},
			want:   types.Range{Start: 900, End: 1000},
			create: true,
		},
		{
			name: "inner gap fetched exactly",
			input: Input{
				PendingRead:  rng(100, 200),
				Resident:     []types.Range{{Start: 150, End: 200}},
				CacheLimit:   500,
				ResourceSize: 10000,
			},
			want:   types.Range{Start: 100, End: 150},
			create: true,
		},
		{
			name: "active connection covering the gap continues",
			input: Input{
				Current:           rng(100, 600),
				PendingRead:       rng(100, 200),
				CacheLimit:        500,
				ResourceSize:      10000,
				ContinueThreshold: 50,
			},
		},
		{
			name: "active connection within threshold continues",
			input: Input{
				Current:           rng(120, 600),
				PendingRead:       rng(150, 200),
				CacheLimit:        500,
				ResourceSize:      10000,
				ContinueThreshold: 50,
			},
		},
		{
			name: "active connection too far behind is replaced",
			input: Input{
				Current:           rng(100, 600),
				PendingRead:       rng(300, 400),
				CacheLimit:        500,
				ResourceSize:      10000,
				ContinueThreshold: 50,
			},
			want:   types.Range{Start: 300, End: 800},
			create: true,
		},
		{
			name: "irrelevant connection is replaced",
			input: Input{
				Current:           rng(5000, 5500),
				PendingRead:       rng(100, 200),
				CacheLimit:        500,
				ResourceSize:      10000,
				ContinueThreshold: 50,
			},
			want:   types.Range{Start: 100, End: 600},
			create: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, create, err := DecideNextFetch(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.create, create)
			if tt.create {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestDecideNextFetch_RequestTooLarge(t *testing.T) {
	_, _, err := DecideNextFetch(Input{
		PendingRead:  rng(0, 600),
		CacheLimit:   500,
		ResourceSize: 10000,
	})
	require.Error(t, err)
	assert.True(t, stderr.Is(err, errors.ErrRequestTooLarge))
}

func TestDecideNextFetch_PendingBeyondResource(t *testing.T) {
	for _, tc := range []struct {
		name    string
		pending *types.Range
	}{
		{"end past size", rng(90, 110)},
		{"inverted", &types.Range{Start: 50, End: 40}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, create, err := DecideNextFetch(Input{
				PendingRead:  tc.pending,
				CacheLimit:   1 << 62,
				ResourceSize: 100,
			})
			require.Error(t, err)
			assert.False(t, create)
			assert.True(t, stderr.Is(err, errors.ErrInvalidRange))
		})
	}
}

func TestDecideNextFetch_ResidentPendingPanics(t *testing.T) {
	assert.Panics(t, func() {
		_, _, _ = DecideNextFetch(Input{
			PendingRead:  rng(0, 10),
			Resident:     []types.Range{{Start: 0, End: 20}},
			CacheLimit:   100,
			ResourceSize: 1000,
		})
	})
}

func TestDecideNextFetch_Idle(t *testing.T) {
	tests := []struct {
		name   string
		input  Input
		want   types.Range
		create bool
	}{
		{
			name:   "unlimited downloads everything",
			input:  Input{CacheLimit: 100, ResourceSize: 100},
			want:   types.Range{Start: 0, End: 100},
			create: true,
		},
		{
			name: "unlimited skips resident prefix",
			input: Input{
				Resident:     []types.Range{{Start: 0, End: 40}},
				CacheLimit:   100,
				ResourceSize: 100,
			},
			want:   types.Range{Start: 40, End: 100},
			create: true,
		},
		{
			name: "reads ahead from last satisfied end",
			input: Input{
				Resident:         []types.Range{{Start: 0, End: 250}},
				LastSatisfiedEnd: u64(200),
				CacheLimit:       500,
				ResourceSize:     10000,
			},
			want:   types.Range{Start: 250, End: 700},
			create: true,
		},
		{
			name:  "no history means no read-ahead",
			input: Input{CacheLimit: 500, ResourceSize: 10000},
		},
		{
			name: "target already resident",
			input: Input{
				Resident:         []types.Range{{Start: 0, End: 10000}},
				LastSatisfiedEnd: u64(200),
				CacheLimit:       500,
				ResourceSize:     10000,
			},
		},
		{
			name: "active connection left untouched",
			input: Input{
				Current:      rng(50, 100),
				CacheLimit:   100,
				ResourceSize: 100,
			},
		},
		{
			name: "last satisfied end at resource end",
			input: Input{
				LastSatisfiedEnd: u64(10000),
				CacheLimit:       500,
				ResourceSize:     10000,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, create, err := DecideNextFetch(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.create, create)
			if tt.create {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

// TestDecideNextFetch_NeverFetchesResident checks that a returned range is
// never fully contained in the resident set.
func TestDecideNextFetch_NeverFetchesResident(t *testing.T) {
	random := rand.New(rand.NewSource(7))
	const size = 400

	for i := 0; i < 1000; i++ {
		var resident []types.Range
		for cursor := uint64(random.Intn(20)); cursor < size; {
			end := cursor + uint64(random.Intn(30)+1)
			if end > size {
				end = size
			}
			resident = append(resident, types.Range{Start: cursor, End: end})
			cursor = end + uint64(random.Intn(30)+1)
		}

		in := Input{
			Resident:          resident,
			CacheLimit:        uint64(random.Intn(size) + 50),
			ResourceSize:      size,
			ContinueThreshold: uint64(random.Intn(20)),
		}
		if random.Intn(2) == 0 {
			start := uint64(random.Intn(size - 50))
			pending := types.Range{Start: start, End: start + uint64(random.Intn(50)+1)}
			if interval.Contains(resident, pending) {
				continue
			}
			in.PendingRead = &pending
		} else if random.Intn(2) == 0 {
			in.LastSatisfiedEnd = u64(uint64(random.Intn(size)))
		}
		if random.Intn(3) == 0 {
			start := uint64(random.Intn(size - 10))
			in.Current = rng(start, start+10)
		}

		got, create, err := DecideNextFetch(in)
		require.NoError(t, err)
		if !create {
			continue
		}
		assert.False(t, got.IsEmpty(), "input %+v", in)
		assert.LessOrEqual(t, got.End, uint64(size))
		assert.False(t, interval.Contains(resident, got), "fetch %s already resident", got)
	}
}
