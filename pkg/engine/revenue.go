package engine

import (
	"context"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/revenue"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/snapshot"
)

// ComputeBuckets recomputes the revenue percentile bucket of the whole
// population, persists it and publishes it. Entities that lost their USD
// revenue lose their bucket.
func (e *Engine) ComputeBuckets(ctx context.Context, opts ...RunOption) (*common.BucketReport, error) {
	return runBatch(ctx, e, KindRevenue, opts, e.computeBuckets)
}

func (e *Engine) computeBuckets(ctx context.Context) (*common.BucketReport, error) {
	started := time.Now()

	entities, err := e.entities.ListWithUSDRevenue(ctx)
	if err != nil {
		return nil, err
	}
	buckets := revenue.ComputeBuckets(entities)
	cleared := revenue.Cleared(e.holder.Current().Buckets, buckets)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := e.entities.ReplaceRevenueBuckets(ctx, buckets); err != nil {
		return nil, err
	}

	snap, err := e.holder.Update(func(next *snapshot.Snapshot) error {
		next.Buckets = buckets
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.published(snap, "")

	report := &common.BucketReport{
		Kind:      KindRevenue,
		Version:   snap.Version,
		Assigned:  len(buckets),
		Cleared:   len(cleared),
		Buckets:   buckets,
		StartedAt: started,
		Duration:  time.Since(started),
	}
	logger.Info("[Engine][ComputeBuckets] Published snapshot",
		"version", snap.Version, "assigned", report.Assigned, "cleared", report.Cleared, "duration", report.Duration)
	e.archiveReport(ctx, KindRevenue, snap.Version, report)
	return report, nil
}
