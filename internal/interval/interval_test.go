package interval

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/objectfs/streamcache/pkg/types"
)

func r(start, end uint64) types.Range {
	return types.Range{Start: start, End: end}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input []types.Range
		want  []types.Range
	}{
		{"empty", nil, []types.Range{}},
		{"drops empty members", []types.Range{r(3, 3), r(1, 2)}, []types.Range{r(1, 2)}},
		{"sorts", []types.Range{r(5, 6), r(1, 2)}, []types.Range{r(1, 2), r(5, 6)}},
		{"merges touching", []types.Range{r(0, 5), r(5, 10)}, []types.Range{r(0, 10)}},
		{"merges overlapping", []types.Range{r(4, 8), r(0, 5), r(7, 9)}, []types.Range{r(0, 9)}},
		{"contained member", []types.Range{r(0, 10), r(2, 3)}, []types.Range{r(0, 10)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.input))
		})
	}
}

func TestMissing(t *testing.T) {
	tests := []struct {
		name     string
		bounds   types.Range
		resident []types.Range
		want     []types.Range
	}{
		{"nothing resident", r(0, 10), nil, []types.Range{r(0, 10)}},
		{"fully resident", r(2, 8), []types.Range{r(0, 10)}, nil},
		{"gap in the middle", r(0, 10), []types.Range{r(0, 3), r(6, 10)}, []types.Range{r(3, 6)}},
		{"edges missing", r(0, 10), []types.Range{r(3, 6)}, []types.Range{r(0, 3), r(6, 10)}},
		{"unsorted input", r(0, 10), []types.Range{r(6, 8), r(1, 2)}, []types.Range{r(0, 1), r(2, 6), r(8, 10)}},
		{"members exceed bounds", r(5, 15), []types.Range{r(0, 7), r(12, 30)}, []types.Range{r(7, 12)}},
		{"members outside bounds", r(5, 10), []types.Range{r(0, 5), r(10, 20)}, []types.Range{r(5, 10)}},
		{"empty bounds", r(4, 4), nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Missing(tt.bounds, tt.resident))
		})
	}
}

func TestIntersect(t *testing.T) {
	got := Intersect(r(5, 15), []types.Range{r(12, 30), r(0, 7), r(8, 9)})
	assert.Equal(t, []types.Range{r(5, 7), r(8, 9), r(12, 15)}, got)
}

func TestIsOverlapping(t *testing.T) {
	assert.True(t, IsOverlapping([]types.Range{r(0, 5)}, []types.Range{r(10, 12), r(4, 6)}))
	assert.False(t, IsOverlapping([]types.Range{r(0, 5)}, []types.Range{r(5, 10)}), "touching is not overlapping")
	assert.False(t, IsOverlapping(nil, []types.Range{r(0, 1)}))
}

func TestContains(t *testing.T) {
	resident := []types.Range{r(0, 5), r(5, 10), r(20, 30)}
	assert.True(t, Contains(resident, r(2, 9)))
	assert.True(t, Contains(resident, r(3, 3)))
	assert.False(t, Contains(resident, r(8, 21)))
}

func TestMergeIntoDisjoint(t *testing.T) {
	tests := []struct {
		name     string
		insert   types.Range
		existing []types.Range
		want     []types.Range
	}{
		{"into empty", r(0, 5), nil, []types.Range{r(0, 5)}},
		{"disjoint moves to front", r(20, 25), []types.Range{r(0, 5), r(10, 15)}, []types.Range{r(20, 25), r(0, 5), r(10, 15)}},
		{"touching merges", r(5, 10), []types.Range{r(0, 5), r(30, 40)}, []types.Range{r(0, 10), r(30, 40)}},
		{"bridges two members", r(5, 10), []types.Range{r(30, 40), r(10, 15), r(0, 5)}, []types.Range{r(0, 15), r(30, 40)}},
		{"overlap keeps order of others", r(12, 13), []types.Range{r(50, 60), r(10, 15), r(0, 5)}, []types.Range{r(10, 15), r(50, 60), r(0, 5)}},
		{"cascading merge", r(3, 4), []types.Range{r(10, 15), r(0, 10)}, []types.Range{r(0, 15)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			existing := append([]types.Range(nil), tt.existing...)
			assert.Equal(t, tt.want, MergeIntoDisjoint(tt.insert, tt.existing))
			assert.Equal(t, existing, tt.existing, "input must not be modified")
		})
	}
}

// randomDisjoint returns a sorted set of disjoint, non-touching ranges inside [0, limit).
func randomDisjoint(rng *rand.Rand, limit uint64) []types.Range {
	var out []types.Range
	cursor := uint64(rng.Intn(5))
	for cursor < limit {
		width := uint64(rng.Intn(10) + 1)
		end := cursor + width
		if end > limit {
			end = limit
		}
		out = append(out, r(cursor, end))
		cursor = end + uint64(rng.Intn(10)+1)
	}
	return out
}

func TestMissingReconstructsBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 500; i++ {
		resident := randomDisjoint(rng, 120)
		start := uint64(rng.Intn(100))
		bounds := r(start, start+uint64(rng.Intn(40)))

		missing := Missing(bounds, resident)
		covered := Intersect(bounds, resident)

		for j := 1; j < len(missing); j++ {
			require.Less(t, missing[j-1].End, missing[j].Start, "missing must be sorted and disjoint")
		}
		assert.False(t, IsOverlapping(missing, covered))
		assert.Equal(t, bounds.Width(), Width(missing)+Width(covered))

		union := Normalize(append(append([]types.Range{}, missing...), covered...))
		if bounds.IsEmpty() {
			assert.Empty(t, union)
		} else {
			assert.Equal(t, []types.Range{bounds}, union)
		}
	}
}
