package openai

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/ai"

	"github.com/openai/openai-go/v3"
)

const defaultDimensions = 1536

var _ ai.BatchEmbedder = (*EmbeddingClient)(nil)

// GenerateEmbedding embeds a single description.
func (c *EmbeddingClient) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	res, err := c.GenerateEmbeddings(ctx, [][]byte{input})
	if err != nil {
		return nil, err
	}
	return res[0], nil
}

// GenerateEmbeddings embeds all inputs with one request. Blank inputs get a
// zero vector without reaching the API, so callers treat them as missing.
func (c *EmbeddingClient) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	req := splitBlank(inputs, c.dim)
	if len(req.texts) == 0 {
		return req.out, nil
	}

	vectors, err := c.embed(ctx, req.texts)
	if err != nil {
		return nil, err
	}
	for i, v := range vectors {
		req.out[req.positions[i]] = v
	}
	return req.out, nil
}

// batchRequest maps the non-blank inputs sent to the API back to their
// position in the caller's slice.
type batchRequest struct {
	positions []int
	texts     []string
	out       [][]float32
}

func splitBlank(inputs [][]byte, dim int) batchRequest {
	req := batchRequest{out: make([][]float32, len(inputs))}
	for i, in := range inputs {
		if len(bytes.TrimSpace(in)) == 0 {
			req.out[i] = make([]float32, dim)
			continue
		}
		req.positions = append(req.positions, i)
		req.texts = append(req.texts, string(in))
	}
	return req
}

// fitDimensions truncates or zero-pads v to dim values.
func fitDimensions(v []float64, dim int) []float32 {
	out := make([]float32, dim)
	for i := range min(dim, len(v)) {
		out[i] = float32(v[i])
	}
	return out
}

func (c *EmbeddingClient) embed(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(c.timeoutMin)*time.Minute)
	defer cancel()

	if err := c.embeddingLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.embeddingLock.Release(1)

	start := time.Now()
	res, err := c.Client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: c.model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	c.Record(ai.ModelMetrics{
		InputTokens: int(res.Usage.PromptTokens),
		TotalTokens: int(res.Usage.TotalTokens),
		DurationMs:  time.Since(start).Milliseconds(),
	})

	// The API may answer out of order; Index is authoritative.
	out := make([][]float32, len(texts))
	for _, d := range res.Data {
		if d.Index < 0 || int(d.Index) >= len(texts) || out[d.Index] != nil {
			return nil, fmt.Errorf("embedding response has invalid index %d", d.Index)
		}
		out[d.Index] = fitDimensions(d.Embedding, c.dim)
	}
	for i, v := range out {
		if v == nil {
			return nil, fmt.Errorf("embedding response is missing index %d of %d", i, len(texts))
		}
	}
	return out, nil
}
