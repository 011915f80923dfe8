// Package vectormath provides similarity primitives over dense float32
// vectors. The two embedding tiers are distinct types so that a rich
// vector can never be compared against a fast vector: the similarity
// functions are generic over a single tier and mixing tiers does not
// compile.
package vectormath

import (
	"math"

	"github.com/viterin/vek/vek32"
	"go.uber.org/zap"
)

// Rich is the high-dimensionality embedding tier (1536 dims by default).
type Rich []float32

// Fast is the low-dimensionality embedding tier (384 dims by default).
type Fast []float32

// Vector constrains similarity functions to a single embedding tier.
type Vector interface {
	~[]float32
}

var logger = zap.NewNop()

// SetLogger installs a logger for dimension-mismatch warnings.
func SetLogger(l *zap.Logger) {
	if l != nil {
		logger = l
	}
}

// Magnitude returns the Euclidean norm of v.
func Magnitude[T Vector](v T) float64 {
	if len(v) == 0 {
		return 0
	}
	return float64(vek32.Norm([]float32(v)))
}

// Normalize returns a unit-length copy of v. A zero vector is returned
// unchanged; that is a degenerate input, not an error, so callers never
// have to guard a save operation against it.
func Normalize[T Vector](v T) T {
	n := Magnitude(v)
	if n == 0 {
		return v
	}
	out := make(T, len(v))
	copy(out, v)
	vek32.DivNumber_Inplace([]float32(out), float32(n))
	return out
}

// CosineFast returns the raw dot product of a and b. Both inputs must
// already be unit-normalized; no sqrt or division is performed. A
// dimension mismatch is logged and scored 0 so a bad candidate degrades
// recall instead of crashing a save.
func CosineFast[T Vector](a, b T) float64 {
	if len(a) == 0 || len(a) != len(b) {
		logger.Warn("cosine dimension mismatch", zap.Int("a", len(a)), zap.Int("b", len(b)))
		return 0
	}
	return float64(vek32.Dot([]float32(a), []float32(b)))
}

// CosineFull computes cosine similarity without assuming normalized
// inputs. Zero-magnitude inputs score 0.
func CosineFull[T Vector](a, b T) float64 {
	if len(a) == 0 || len(a) != len(b) {
		logger.Warn("cosine dimension mismatch", zap.Int("a", len(a)), zap.Int("b", len(b)))
		return 0
	}
	sim := float64(vek32.CosineSimilarity([]float32(a), []float32(b)))
	if math.IsNaN(sim) {
		return 0
	}
	return sim
}

// Match pairs a candidate index with its similarity score.
type Match struct {
	Index int
	Score float64
}

// FindMostSimilar scans candidates linearly and returns the index and
// score of the best match by CosineFull. Ties keep the first-seen
// candidate. Returns (-1, 0) for an empty candidate list.
func FindMostSimilar[T Vector](query T, candidates []T) (int, float64) {
	best := -1
	bestScore := 0.0
	for i, c := range candidates {
		score := CosineFull(query, c)
		if best == -1 || score > bestScore {
			best = i
			bestScore = score
		}
	}
	return best, bestScore
}

// FindAboveThreshold returns every candidate scoring at or above
// threshold, sorted descending by score. Equal scores keep candidate
// order (stable).
func FindAboveThreshold[T Vector](query T, candidates []T, threshold float64) []Match {
	var out []Match
	for i, c := range candidates {
		score := CosineFull(query, c)
		if score >= threshold {
			out = append(out, Match{Index: i, Score: score})
		}
	}
	// insertion sort keeps first-seen order among equal scores
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Score > out[j-1].Score; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
