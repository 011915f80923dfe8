package vectormath

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_unitLength(t *testing.T) {
	v := Rich{3, 4, 0}
	n := Normalize(v)
	assert.InDelta(t, 1.0, Magnitude(n), 1e-6)
	// original untouched
	assert.Equal(t, Rich{3, 4, 0}, v)
}

func TestNormalize_zeroVectorUnchanged(t *testing.T) {
	v := Fast{0, 0, 0}
	n := Normalize(v)
	assert.Equal(t, v, n)
}

func TestCosineFast_selfSimilarity(t *testing.T) {
	vectors := []Rich{
		{1, 2, 3},
		{-0.5, 0.25, 9},
		{0.001, 0, 42},
	}
	for _, v := range vectors {
		n := Normalize(v)
		assert.InDelta(t, 1.0, CosineFast(n, n), 1e-5)
	}
}

func TestCosineFast_symmetric(t *testing.T) {
	a := Normalize(Rich{1, 0, 2})
	b := Normalize(Rich{0, 3, 1})
	assert.InDelta(t, CosineFast(a, b), CosineFast(b, a), 1e-9)
}

func TestCosineFast_dimensionMismatchScoresZero(t *testing.T) {
	a := Rich{1, 0}
	b := Rich{1, 0, 0}
	assert.Equal(t, 0.0, CosineFast(a, b))
	assert.Equal(t, 0.0, CosineFull(a, b))
}

func TestCosineFull_zeroMagnitudeGuard(t *testing.T) {
	a := Fast{0, 0, 0}
	b := Fast{1, 2, 3}
	assert.Equal(t, 0.0, CosineFull(a, b))
}

func TestCosineFull_orthogonalAndOpposite(t *testing.T) {
	assert.InDelta(t, 0.0, CosineFull(Rich{1, 0}, Rich{0, 1}), 1e-6)
	assert.InDelta(t, -1.0, CosineFull(Rich{1, 0}, Rich{-1, 0}), 1e-6)
}

func TestFindMostSimilar(t *testing.T) {
	query := Rich{1, 0, 0}
	candidates := []Rich{
		{0, 1, 0},
		{0.9, 0.1, 0},
		{0.5, 0.5, 0},
	}
	idx, score := FindMostSimilar(query, candidates)
	assert.Equal(t, 1, idx)
	assert.Greater(t, score, 0.9)
}

func TestFindMostSimilar_tieKeepsFirstSeen(t *testing.T) {
	query := Rich{1, 0}
	candidates := []Rich{{2, 0}, {3, 0}} // both cosine 1.0
	idx, score := FindMostSimilar(query, candidates)
	assert.Equal(t, 0, idx)
	assert.InDelta(t, 1.0, score, 1e-6)
}

func TestFindMostSimilar_empty(t *testing.T) {
	idx, score := FindMostSimilar(Rich{1}, nil)
	assert.Equal(t, -1, idx)
	assert.Equal(t, 0.0, score)
}

func TestFindAboveThreshold_sortedDesc(t *testing.T) {
	query := Fast{1, 0}
	candidates := []Fast{
		{0.2, 1},   // low
		{1, 0},     // 1.0
		{0.7, 0.7}, // ~0.707
	}
	matches := FindAboveThreshold(query, candidates, 0.5)
	if assert.Len(t, matches, 2) {
		assert.Equal(t, 1, matches[0].Index)
		assert.Equal(t, 2, matches[1].Index)
		assert.True(t, matches[0].Score >= matches[1].Score)
	}
}

func TestFindAboveThreshold_inclusiveBoundary(t *testing.T) {
	query := Fast{1, 0}
	candidates := []Fast{{1, 0}}
	matches := FindAboveThreshold(query, candidates, 1.0)
	assert.Len(t, matches, 1)
}

func TestMagnitude(t *testing.T) {
	assert.InDelta(t, 5.0, Magnitude(Rich{3, 4}), 1e-6)
	assert.Equal(t, 0.0, Magnitude(Rich{}))
	assert.InDelta(t, math.Sqrt(3), Magnitude(Fast{1, 1, 1}), 1e-6)
}
