package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/similarity"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/snapshot"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore"
)

// distanceSlack widens the pushed-down distance cutoff so that float
// rounding in the backend never drops a candidate the exact score keeps.
const distanceSlack = 1e-9

// SimilarQuery selects the candidates of FindSimilar.
type SimilarQuery struct {
	TargetID   string
	Threshold  float64
	MaxResults int
	// FilterCommunity restricts candidates to the target's community.
	FilterCommunity bool
	// Industry restricts candidates to one industry code when set.
	Industry string
	// Scorer overrides the configured scorer.
	Scorer *similarity.Scorer
}

func (e *Engine) validateSimilar(q SimilarQuery) (similarity.Scorer, error) {
	if q.TargetID == "" {
		return similarity.Scorer{}, common.InvalidConfig("target id is empty")
	}
	if math.IsNaN(q.Threshold) || q.Threshold < 0 || q.Threshold > 1 {
		return similarity.Scorer{}, common.InvalidConfig("threshold %v outside [0,1]", q.Threshold)
	}
	if q.MaxResults < 1 || q.MaxResults > e.cfg.MaxResultsCap {
		return similarity.Scorer{}, common.InvalidConfig("max results %d outside [1,%d]", q.MaxResults, e.cfg.MaxResultsCap)
	}
	scorer := e.cfg.Scorer
	if q.Scorer != nil {
		scorer = *q.Scorer
		if err := scorer.Validate(); err != nil {
			return similarity.Scorer{}, err
		}
	}
	return scorer, nil
}

// FindSimilar ranks the entities most similar to q.TargetID in the current
// snapshot, by score descending and then candidate id ascending. The target
// itself is never a candidate and every result scores at least q.Threshold.
func (e *Engine) FindSimilar(ctx context.Context, q SimilarQuery) (*common.SimilarityPage, error) {
	start := time.Now()
	page, err := e.findSimilar(ctx, e.holder.Current(), q)
	e.metrics.observeQuery("similar", start, err)
	return page, err
}

func (e *Engine) findSimilar(ctx context.Context, snap *snapshot.Snapshot, q SimilarQuery) (*common.SimilarityPage, error) {
	scorer, err := e.validateSimilar(q)
	if err != nil {
		return nil, err
	}
	if !snap.Has(q.TargetID) {
		return nil, e.unindexed(ctx, q.TargetID)
	}

	key := fmt.Sprintf("%s|%s|%v|%d|%t|%s|%v|%v",
		snap.Version, q.TargetID, q.Threshold, q.MaxResults, q.FilterCommunity, q.Industry,
		scorer.EmbeddingWeight, scorer.RevenueWeight)
	if e.cache != nil {
		if page, ok := e.cache.Get(key); ok {
			e.metrics.cacheHit("similar")
			return clonePage(page), nil
		}
	}

	page, err := e.rank(ctx, snap, q, scorer)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Add(key, clonePage(page))
	}
	return page, nil
}

// unindexed classifies a target missing from the snapshot index.
func (e *Engine) unindexed(ctx context.Context, id string) error {
	if _, err := e.entities.Get(ctx, id); err != nil {
		return err
	}
	return common.MissingEmbedding(id)
}

func (e *Engine) rank(ctx context.Context, snap *snapshot.Snapshot, q SimilarQuery, scorer similarity.Scorer) (*common.SimilarityPage, error) {
	page := &common.SimilarityPage{SnapshotVersion: snap.Version, Results: []common.SimilarityResult{}}

	vec, err := snap.Index.Vector(ctx, q.TargetID)
	if errors.Is(err, vectorstore.ErrNotFound) {
		return nil, common.MissingEmbedding(q.TargetID)
	}
	if err != nil {
		return nil, err
	}

	targetCommunity := snap.Community(q.TargetID)
	filter := vectorstore.Filter{ExcludeIDs: []string{q.TargetID}}
	var allow []func(string) bool
	if q.FilterCommunity {
		if targetCommunity == nil {
			return page, nil
		}
		filter.CommunityID = targetCommunity
		if _, ok := snap.Index.(vectorstore.CommunityIndexer); !ok {
			c := *targetCommunity
			allow = append(allow, func(id string) bool {
				got, ok := snap.Communities[id]
				return ok && got == c
			})
		}
	}
	if q.Industry != "" {
		allow = append(allow, func(id string) bool { return snap.Industries[id] == q.Industry })
	}
	if len(allow) > 0 {
		filter.Allow = func(id string) bool {
			for _, fn := range allow {
				if !fn(id) {
					return false
				}
			}
			return true
		}
	}
	if floor, ok := scorer.EmbeddingFloor(q.Threshold); ok {
		filter.MaxDistance = common.Ptr(similarity.MaxDistance(floor) + distanceSlack)
	}

	// Without the revenue term the score falls with distance, so the k
	// nearest are the k best. With it every candidate past the cutoff
	// has to be scored.
	k := q.MaxResults
	if scorer.UsesRevenue() {
		k = 0
	}
	matches, err := snap.Index.QueryNearest(ctx, vec, k, filter)
	if err != nil {
		return nil, err
	}

	targetBucket := snap.Bucket(q.TargetID)
	for _, m := range matches {
		if m.ID == q.TargetID {
			continue
		}
		score := scorer.Combine(similarity.FromDistance(m.Distance), targetBucket, snap.Bucket(m.ID))
		if score < q.Threshold {
			continue
		}
		candidateCommunity := snap.Community(m.ID)
		page.Results = append(page.Results, common.SimilarityResult{
			TargetID:      q.TargetID,
			CandidateID:   m.ID,
			Score:         score,
			SameCommunity: targetCommunity != nil && candidateCommunity != nil && *targetCommunity == *candidateCommunity,
		})
	}
	sort.Slice(page.Results, func(i, j int) bool {
		a, b := page.Results[i], page.Results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.CandidateID < b.CandidateID
	})
	if len(page.Results) > q.MaxResults {
		page.Results = page.Results[:q.MaxResults]
	}
	return page, nil
}

func clonePage(p *common.SimilarityPage) *common.SimilarityPage {
	out := *p
	out.Results = slices.Clone(p.Results)
	return &out
}
