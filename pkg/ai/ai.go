// Package ai provides the embedding providers used to enrich entity
// descriptions with vectors.
package ai

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// ModelMetrics contains performance metrics from AI model operations.
type ModelMetrics struct {
	InputTokens    int     `json:"input_tokens"`
	OutputTokens   int     `json:"output_tokens"`
	TotalTokens    int     `json:"total_tokens"`
	DurationMs     int64   `json:"duration_ms"`
	WallClockMs    int64   `json:"wall_clock_ms"`
	TokenPerSecond float32 `json:"tokens_per_second"`
}

// Embedder turns text into a fixed-length vector. Empty input yields an
// all-zero vector of the configured dimension.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error)
	ResetMetrics()
	GetMetrics() ModelMetrics
}

// BatchEmbedder is implemented by providers that accept several inputs per
// request.
type BatchEmbedder interface {
	GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error)
}

// GenerateEmbeddings embeds inputs in order. Providers implementing
// BatchEmbedder are called once per chunk of batchSize inputs; other
// providers are called per input with at most parallel requests in flight.
func GenerateEmbeddings(ctx context.Context, e Embedder, inputs [][]byte, batchSize, parallel int) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = len(inputs)
	}
	if parallel <= 0 {
		parallel = 1
	}

	out := make([][]float32, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallel)

	if b, ok := e.(BatchEmbedder); ok {
		for start := 0; start < len(inputs); start += batchSize {
			end := min(start+batchSize, len(inputs))
			g.Go(func() error {
				res, err := b.GenerateEmbeddings(gctx, inputs[start:end])
				if err != nil {
					return err
				}
				if len(res) != end-start {
					return fmt.Errorf("embedding result size mismatch: got %d want %d", len(res), end-start)
				}
				copy(out[start:end], res)
				return nil
			})
		}
	} else {
		for i := range inputs {
			g.Go(func() error {
				vec, err := e.GenerateEmbedding(gctx, inputs[i])
				if err != nil {
					return err
				}
				out[i] = vec
				return nil
			})
		}
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
