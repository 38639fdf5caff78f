package engine

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/internal/util"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/ai"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"
)

// Embed generates embeddings for up to limit entities that have a
// description but no embedding. Vectors become searchable with the next
// community run, which rebuilds the index.
func (e *Engine) Embed(ctx context.Context, limit int, opts ...RunOption) (*common.EmbedReport, error) {
	if e.embedder == nil {
		return nil, common.InvalidConfig("no embedding provider configured")
	}
	return runBatch(ctx, e, KindEmbed, opts, func(ctx context.Context) (*common.EmbedReport, error) {
		return e.embed(ctx, limit)
	})
}

func (e *Engine) embed(ctx context.Context, limit int) (*common.EmbedReport, error) {
	started := time.Now()
	cfg := e.cfg.Embed

	entities, err := e.entities.ListMissingEmbeddings(ctx, limit)
	if err != nil {
		return nil, err
	}
	report := &common.EmbedReport{Kind: KindEmbed, Requested: len(entities), StartedAt: started}
	if len(entities) == 0 {
		report.Duration = time.Since(started)
		return report, nil
	}

	inputs := make([][]byte, len(entities))
	for i, ent := range entities {
		text, err := ai.TruncateTokens(util.SanitizeText(ent.Description), cfg.MaxTokens)
		if err != nil {
			return nil, err
		}
		inputs[i] = []byte(text)
	}

	e.embedder.ResetMetrics()
	vectors, err := ai.GenerateEmbeddings(ctx, e.embedder, inputs, cfg.BatchSize, cfg.Parallel)
	if err != nil {
		return nil, err
	}

	embeddings := make(map[string][]float32, len(vectors))
	for i, vec := range vectors {
		probe := common.Entity{Embedding: vec}
		if !probe.HasEmbedding() {
			report.Skipped++
			continue
		}
		embeddings[entities[i].ID] = vec
	}
	if err := e.entities.SaveEmbeddings(ctx, embeddings); err != nil {
		return nil, err
	}

	report.Embedded = len(embeddings)
	report.Duration = time.Since(started)
	usage := e.embedder.GetMetrics()
	logger.Info("[Engine][Embed] Saved embeddings",
		"requested", report.Requested,
		"embedded", report.Embedded,
		"skipped", report.Skipped,
		"tokens", usage.TotalTokens,
		"duration", report.Duration,
	)
	e.archiveReport(ctx, KindEmbed, started.UTC().Format("20060102T150405Z"), report)
	return report, nil
}
