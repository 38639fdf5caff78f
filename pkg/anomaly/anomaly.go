// Package anomaly compares the reporting tags of an entity with those of its
// peers and flags tags that are unusually absent or unusually present.
package anomaly

import (
	"math"
	"sort"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
)

// TagSet is a set of reporting tags.
type TagSet map[string]struct{}

// NewTagSet builds a TagSet from a list of tags.
func NewTagSet(tags ...string) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

// Has reports whether tag is in the set.
func (s TagSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

// Peer is the tag set recorded for one peer entity.
type Peer struct {
	ID   string
	Tags TagSet
}

// Options controls the flagging thresholds.
type Options struct {
	// CommonFraction is the peer frequency at or above which a tag the
	// target lacks is reported missing.
	CommonFraction float64
	// RareFraction is the peer frequency at or below which a tag the target
	// carries is reported extra.
	RareFraction float64
	MinPeers     int

	// UseConfidenceIntervals compares Wilson score interval bounds instead
	// of point frequencies: the lower bound for missing tags and the upper
	// bound for extra tags.
	UseConfidenceIntervals bool
	ConfidenceLevel        float64

	// MaxTags caps each flagged list. Zero keeps every flag.
	MaxTags int
}

// DefaultOptions returns the default thresholds.
func DefaultOptions() Options {
	return Options{
		CommonFraction:  0.6,
		RareFraction:    0.1,
		MinPeers:        3,
		ConfidenceLevel: 0.95,
		MaxTags:         50,
	}
}

// Validate rejects out-of-range thresholds.
func (o Options) Validate() error {
	if math.IsNaN(o.CommonFraction) || o.CommonFraction < 0 || o.CommonFraction > 1 {
		return common.InvalidConfig("common fraction %v outside [0,1]", o.CommonFraction)
	}
	if math.IsNaN(o.RareFraction) || o.RareFraction < 0 || o.RareFraction > 1 {
		return common.InvalidConfig("rare fraction %v outside [0,1]", o.RareFraction)
	}
	if o.MinPeers < 1 {
		return common.InvalidConfig("minimum peers must be at least 1, got %d", o.MinPeers)
	}
	if o.UseConfidenceIntervals && (o.ConfidenceLevel <= 0 || o.ConfidenceLevel >= 1) {
		return common.InvalidConfig("confidence level %v outside (0,1)", o.ConfidenceLevel)
	}
	if o.MaxTags < 0 {
		return common.InvalidConfig("max tags must not be negative")
	}
	return nil
}

// Detect flags the tags of target relative to peers. Peers should already be
// restricted to entities with a recorded tag set for the same form type.
// It fails with ErrInsufficientPeers when fewer than opts.MinPeers are given.
func Detect(target TagSet, peers []Peer, opts Options) (*common.AnomalyReport, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	n := len(peers)
	if n < opts.MinPeers {
		return nil, &InsufficientPeersError{Have: n, Need: opts.MinPeers}
	}

	counts := make(map[string]int)
	peerIDs := make([]string, 0, n)
	for _, p := range peers {
		peerIDs = append(peerIDs, p.ID)
		for tag := range p.Tags {
			counts[tag]++
		}
	}

	z := 0.0
	if opts.UseConfidenceIntervals {
		z = ZScore(opts.ConfidenceLevel)
	}

	missing := make([]common.TagFlag, 0)
	for tag, count := range counts {
		if target.Has(tag) {
			continue
		}
		freq := float64(count) / float64(n)
		bound := freq
		if opts.UseConfidenceIntervals {
			bound, _ = WilsonInterval(count, n, z)
		}
		if bound >= opts.CommonFraction {
			missing = append(missing, common.TagFlag{
				Tag:           tag,
				PeerFrequency: freq,
				PeerCount:     count,
				Bound:         bound,
				Severity:      bound - opts.CommonFraction,
			})
		}
	}

	extra := make([]common.TagFlag, 0)
	for tag := range target {
		count := counts[tag]
		freq := float64(count) / float64(n)
		bound := freq
		if opts.UseConfidenceIntervals {
			_, bound = WilsonInterval(count, n, z)
		}
		if bound <= opts.RareFraction {
			extra = append(extra, common.TagFlag{
				Tag:           tag,
				PeerFrequency: freq,
				PeerCount:     count,
				Bound:         bound,
				Severity:      opts.RareFraction - bound,
			})
		}
	}

	missing = rank(missing, opts.MaxTags)
	extra = rank(extra, opts.MaxTags)

	sort.Strings(peerIDs)
	summary := common.AnomalySummary{
		PeerIDs:        peerIDs,
		NPeers:         n,
		TargetTagCount: len(target),
		MissingCount:   len(missing),
		ExtraCount:     len(extra),
		CommonFraction: opts.CommonFraction,
		RareFraction:   opts.RareFraction,
	}
	if opts.UseConfidenceIntervals {
		summary.ConfidenceLevel = common.Ptr(opts.ConfidenceLevel)
	}
	return &common.AnomalyReport{Missing: missing, Extra: extra, Summary: summary}, nil
}

func rank(flags []common.TagFlag, limit int) []common.TagFlag {
	sort.Slice(flags, func(i, j int) bool {
		if flags[i].Severity != flags[j].Severity {
			return flags[i].Severity > flags[j].Severity
		}
		return flags[i].Tag < flags[j].Tag
	})
	if limit > 0 && len(flags) > limit {
		flags = flags[:limit]
	}
	return flags
}
