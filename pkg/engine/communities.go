package engine

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/community"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/snapshot"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore"
)

// RecomputeCommunities partitions the whole embedded population and
// publishes the new partition together with a fresh vector index. Nothing
// is published or persisted when any step fails or ctx is cancelled.
func (e *Engine) RecomputeCommunities(ctx context.Context, opts ...RunOption) (*common.RunReport, error) {
	return runBatch(ctx, e, KindCommunities, opts, e.recomputeCommunities)
}

func (e *Engine) recomputeCommunities(ctx context.Context) (*common.RunReport, error) {
	started := time.Now()
	cfg := e.cfg.Community

	entities, err := e.entities.ListWithEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	points := make([]vectorstore.Point, 0, len(entities))
	for i := range entities {
		if entities[i].HasEmbedding() {
			points = append(points, vectorstore.Point{ID: entities[i].ID, Vector: entities[i].Embedding})
		}
	}
	logger.Info("[Engine][RecomputeCommunities] Building similarity graph", "entities", len(points))

	sg, err := community.BuildSimilarityGraph(ctx, entities, e.cfg.Scorer, community.BuildOptions{
		Threshold:       cfg.EdgeThreshold,
		MaxEdgesPerNode: cfg.MaxEdgesPerNode,
	})
	if err != nil {
		return nil, err
	}
	res, err := community.Detect(ctx, sg.Graph, community.Options{
		Algorithm:  cfg.Algorithm,
		Resolution: cfg.Resolution,
		MaxLevels:  cfg.MaxLevels,
	})
	if err != nil {
		return nil, err
	}

	assignment := community.Assign(sg, res)
	prev := e.holder.Current()
	relabeled := 0
	if cfg.StableLabels {
		assignment, relabeled = community.Relabel(prev.Communities, assignment)
	}

	indexVersion, index, err := e.buildIndex(ctx, points)
	if err != nil {
		return nil, err
	}
	published := false
	defer func() {
		if !published {
			e.dropIndex(indexVersion)
		}
	}()

	if ci, ok := index.(vectorstore.CommunityIndexer); ok {
		if err := ci.SetCommunities(ctx, assignment); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.entities.ReplaceCommunities(ctx, assignment); err != nil {
		return nil, err
	}

	snap, err := e.holder.Update(func(next *snapshot.Snapshot) error {
		next.Index = index
		next.IndexVersion = indexVersion
		next.Members = members(points)
		next.Communities = assignment
		next.Industries = industries(entities)
		return nil
	})
	if err != nil {
		return nil, err
	}
	published = true
	e.published(snap, prev.IndexVersion)

	algorithm := cfg.Algorithm
	if algorithm == "" {
		algorithm = community.Leiden
	}
	report := &common.RunReport{
		Kind:        KindCommunities,
		Algorithm:   string(algorithm),
		Version:     snap.Version,
		Nodes:       sg.N(),
		Edges:       sg.Edges(),
		Communities: res.Communities,
		Modularity:  res.Modularity,
		Levels:      res.Levels,
		Relabeled:   relabeled,
		StartedAt:   started,
		Duration:    time.Since(started),
	}
	logger.Info("[Engine][RecomputeCommunities] Published snapshot",
		"version", snap.Version,
		"nodes", report.Nodes,
		"edges", report.Edges,
		"communities", report.Communities,
		"modularity", report.Modularity,
		"duration", report.Duration,
	)
	e.archiveReport(ctx, KindCommunities, snap.Version, report)
	return report, nil
}
