package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/anomaly"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/snapshot"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/store"

	"golang.org/x/sync/errgroup"
)

// PeerScope selects how the peers of an anomaly query are derived.
type PeerScope string

const (
	// ScopeCommunity compares against every other member of the target's
	// community.
	ScopeCommunity PeerScope = "community"
	// ScopeSimilar compares against the most similar entities.
	ScopeSimilar PeerScope = "similar"
	// ScopeSegment compares against a caller-specified list of entities.
	ScopeSegment PeerScope = "segment"
)

const (
	DefaultSimilarPeers        = 10
	DefaultSimilarityThreshold = 0.5
)

// AnomalyQuery selects the filing of the target and its peers.
type AnomalyQuery struct {
	TargetID     string
	FormType     string
	FiscalYear   *int
	FilingPeriod string

	Scope   PeerScope
	Segment []string

	// NPeers, SimilarityThreshold and FilterCommunity apply to ScopeSimilar.
	NPeers              int
	SimilarityThreshold *float64
	FilterCommunity     bool

	// Options overrides the configured thresholds.
	Options *anomaly.Options
}

// DetectAnomalies compares the reporting tags of the target with those of
// its peers. Only peers with a recorded tag set for the same filing
// selection are counted.
func (e *Engine) DetectAnomalies(ctx context.Context, q AnomalyQuery) (*common.AnomalyReport, error) {
	start := time.Now()
	report, err := e.detectAnomalies(ctx, e.holder.Current(), q)
	e.metrics.observeQuery("anomalies", start, err)
	return report, err
}

func (e *Engine) detectAnomalies(ctx context.Context, snap *snapshot.Snapshot, q AnomalyQuery) (*common.AnomalyReport, error) {
	if q.TargetID == "" {
		return nil, common.InvalidConfig("target id is empty")
	}
	if q.FormType == "" {
		return nil, common.InvalidConfig("form type is empty")
	}
	opts := e.cfg.Anomaly
	if q.Options != nil {
		opts = *q.Options
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if q.Scope == "" {
		q.Scope = ScopeCommunity
	}

	if !snap.Has(q.TargetID) {
		if _, err := e.entities.Get(ctx, q.TargetID); err != nil {
			return nil, err
		}
	}

	tq := store.TagQuery{FormType: q.FormType, FiscalYear: q.FiscalYear, FilingPeriod: q.FilingPeriod}
	targetTags, err := e.tags.GetTags(ctx, q.TargetID, tq)
	if err != nil {
		return nil, err
	}
	if len(targetTags) == 0 {
		return nil, fmt.Errorf("%w: %q has no %s tags", common.ErrNoTagSet, q.TargetID, q.FormType)
	}

	candidates, err := e.peerCandidates(ctx, snap, q)
	if err != nil {
		return nil, err
	}
	peers, err := e.fetchPeerTags(ctx, candidates, tq)
	if err != nil {
		return nil, err
	}

	report, err := anomaly.Detect(anomaly.NewTagSet(targetTags...), peers, opts)
	if err != nil {
		return nil, err
	}
	report.SnapshotVersion = snap.Version
	report.Summary.TargetID = q.TargetID
	report.Summary.FormType = q.FormType
	report.Summary.FiscalYear = q.FiscalYear
	report.Summary.FilingPeriod = q.FilingPeriod
	return report, nil
}

// peerCandidates returns the ids to compare against, without the target.
func (e *Engine) peerCandidates(ctx context.Context, snap *snapshot.Snapshot, q AnomalyQuery) ([]string, error) {
	var ids []string
	switch q.Scope {
	case ScopeCommunity:
		c := snap.Community(q.TargetID)
		if c == nil {
			return nil, nil
		}
		ids = snap.CommunityMembers(*c)
	case ScopeSegment:
		if len(q.Segment) == 0 {
			return nil, common.InvalidConfig("segment scope needs at least one peer id")
		}
		ids = q.Segment
	case ScopeSimilar:
		threshold := DefaultSimilarityThreshold
		if q.SimilarityThreshold != nil {
			threshold = *q.SimilarityThreshold
		}
		n := q.NPeers
		if n == 0 {
			n = DefaultSimilarPeers
		}
		page, err := e.findSimilar(ctx, snap, SimilarQuery{
			TargetID:        q.TargetID,
			Threshold:       threshold,
			MaxResults:      n,
			FilterCommunity: q.FilterCommunity,
		})
		if err != nil {
			return nil, err
		}
		for _, r := range page.Results {
			ids = append(ids, r.CandidateID)
		}
	default:
		return nil, common.InvalidConfig("unknown peer scope %q", q.Scope)
	}

	seen := map[string]struct{}{q.TargetID: {}}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// fetchPeerTags loads the tag sets of ids concurrently and keeps the peers
// that have one.
func (e *Engine) fetchPeerTags(ctx context.Context, ids []string, tq store.TagQuery) ([]anomaly.Peer, error) {
	sets := make([][]string, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.PeerFetchers)
	for i, id := range ids {
		g.Go(func() error {
			tags, err := e.tags.GetTags(gctx, id, tq)
			if err != nil {
				return err
			}
			sets[i] = tags
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	peers := make([]anomaly.Peer, 0, len(ids))
	for i, id := range ids {
		if len(sets[i]) == 0 {
			continue
		}
		peers = append(peers, anomaly.Peer{ID: id, Tags: anomaly.NewTagSet(sets[i]...)})
	}
	return peers, nil
}
