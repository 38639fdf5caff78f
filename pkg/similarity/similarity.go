// Package similarity scores pairs of entities by embedding direction and,
// optionally, revenue scale.
package similarity

import (
	"fmt"
	"math"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
)

const weightTolerance = 1e-9

// Scorer computes pairwise similarity in [0,1].
//
// The embedding term is cosine similarity rescaled from [-1,1] to [0,1].
// When RevenueWeight is positive and both entities carry a revenue bucket,
// the score blends in 1 - |bucket_a - bucket_b| / 99. When either bucket is
// missing the revenue weight moves onto the embedding term.
type Scorer struct {
	EmbeddingWeight float64
	RevenueWeight   float64
}

// NewScorer returns a Scorer with the given weights after validation.
func NewScorer(embeddingWeight, revenueWeight float64) (Scorer, error) {
	s := Scorer{EmbeddingWeight: embeddingWeight, RevenueWeight: revenueWeight}
	if err := s.Validate(); err != nil {
		return Scorer{}, err
	}
	return s, nil
}

// Default returns the embedding-only scorer.
func Default() Scorer {
	return Scorer{EmbeddingWeight: 1, RevenueWeight: 0}
}

// Validate checks both weights lie in [0,1] and their sum in (0,1].
func (s Scorer) Validate() error {
	if math.IsNaN(s.EmbeddingWeight) || s.EmbeddingWeight < 0 || s.EmbeddingWeight > 1 {
		return common.InvalidConfig("embedding weight %v outside [0,1]", s.EmbeddingWeight)
	}
	if math.IsNaN(s.RevenueWeight) || s.RevenueWeight < 0 || s.RevenueWeight > 1 {
		return common.InvalidConfig("revenue weight %v outside [0,1]", s.RevenueWeight)
	}
	sum := s.EmbeddingWeight + s.RevenueWeight
	if sum <= 0 || sum > 1+weightTolerance {
		return common.InvalidConfig("weights must sum to a value in (0,1], got %v", sum)
	}
	return nil
}

// UsesRevenue reports whether scores depend on revenue buckets.
func (s Scorer) UsesRevenue() bool {
	return s.RevenueWeight > 0
}

// Score returns the similarity of a and b.
func (s Scorer) Score(a, b *common.Entity) (float64, error) {
	if !a.HasEmbedding() {
		return 0, common.MissingEmbedding(a.ID)
	}
	if !b.HasEmbedding() {
		return 0, common.MissingEmbedding(b.ID)
	}
	cos, err := Cosine(a.Embedding, b.Embedding)
	if err != nil {
		return 0, fmt.Errorf("score %q/%q: %w", a.ID, b.ID, err)
	}
	return s.Combine(Rescale(cos), a.RevenueBucket, b.RevenueBucket), nil
}

// Combine blends an embedding score already in [0,1] with the revenue term.
func (s Scorer) Combine(embeddingScore float64, bucketA, bucketB *int) float64 {
	if s.RevenueWeight <= 0 || bucketA == nil || bucketB == nil {
		return clamp((s.EmbeddingWeight + s.RevenueWeight) * embeddingScore)
	}
	diff := math.Abs(float64(*bucketA - *bucketB))
	revenue := 1 - diff/99
	return clamp(s.EmbeddingWeight*embeddingScore + s.RevenueWeight*revenue)
}

// EmbeddingFloor returns the smallest embedding score that can still reach
// threshold under s for any pair of revenue buckets. ok is false when every
// embedding score might qualify.
func (s Scorer) EmbeddingFloor(threshold float64) (floor float64, ok bool) {
	if s.EmbeddingWeight <= 0 {
		return 0, false
	}
	floor = (threshold - s.RevenueWeight) / s.EmbeddingWeight
	if floor <= 0 {
		return 0, false
	}
	return floor, true
}

// Cosine returns the cosine similarity of a and b in [-1,1].
func Cosine(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", common.ErrDimensionMismatch, len(a), len(b))
	}
	var dot, normA, normB float64
	for i := range a {
		ai := float64(a[i])
		bi := float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0, nil
	}
	return math.Max(-1, math.Min(1, dot/denom)), nil
}

// CosineDistance returns 1 - cosine similarity, in [0,2].
func CosineDistance(a, b []float32) (float64, error) {
	cos, err := Cosine(a, b)
	if err != nil {
		return 0, err
	}
	return 1 - cos, nil
}

// Rescale maps a cosine similarity from [-1,1] onto [0,1].
func Rescale(cos float64) float64 {
	return clamp((cos + 1) / 2)
}

// FromDistance converts a cosine distance into the rescaled embedding score.
func FromDistance(distance float64) float64 {
	return Rescale(1 - distance)
}

// MaxDistance is the largest cosine distance whose rescaled score still
// reaches threshold.
func MaxDistance(threshold float64) float64 {
	return 2 * (1 - threshold)
}

// Normalize returns a unit-length copy of v, or nil for a zero vector.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return nil
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Dot returns the dot product of two equal-length vectors.
func Dot(a, b []float32) float64 {
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
