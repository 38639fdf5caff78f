package common

import "time"

// Jurisdiction identifies the registry scheme an entity identifier belongs to.
type Jurisdiction string

const (
	JurisdictionUS Jurisdiction = "US"
	JurisdictionEU Jurisdiction = "EU"
	JurisdictionUK Jurisdiction = "UK"
)

// Entity represents a public company in the comparison population.
//
// The identifier is scoped by jurisdiction (a numeric CIK for US filers, an
// alphanumeric LEI elsewhere) and never changes once assigned. Embedding is
// nil until the entity has been enriched. RevenueBucket and CommunityID are
// derived by batch runs and stay nil until computed, so "not yet computed"
// is never confused with a computed zero.
type Entity struct {
	ID           string       `json:"id"`
	Jurisdiction Jurisdiction `json:"jurisdiction,omitempty"`
	Name         string       `json:"name,omitempty"`
	IndustryCode string       `json:"industry_code,omitempty"`
	Description  string       `json:"description,omitempty"`

	Embedding []float32 `json:"-"`

	RevenueUSD    *float64 `json:"revenue_usd,omitempty"`
	RevenueBucket *int     `json:"revenue_bucket,omitempty"`
	CommunityID   *int64   `json:"community_id,omitempty"`
}

// HasEmbedding reports whether the entity carries a usable vector. An
// all-zero vector is what the embedding clients emit for empty input, so it
// counts as missing.
func (e *Entity) HasEmbedding() bool {
	for _, v := range e.Embedding {
		if v != 0 {
			return true
		}
	}
	return false
}

// Derived holds the batch-computed attributes written back to an entity.
type Derived struct {
	CommunityID   *int64
	RevenueBucket *int
}

// SimilarityResult is one ranked candidate of a similarity query.
type SimilarityResult struct {
	TargetID      string  `json:"target_id"`
	CandidateID   string  `json:"candidate_id"`
	Score         float64 `json:"score"`
	SameCommunity bool    `json:"same_community"`
}

// SimilarityPage is the ordered result of a similarity query together with
// the snapshot version it was computed from.
type SimilarityPage struct {
	SnapshotVersion string             `json:"snapshot_version"`
	Results         []SimilarityResult `json:"results"`
}

// TagFlag is a reporting tag flagged by anomaly detection.
//
// PeerFrequency is the observed share of peers carrying the tag. Bound is the
// Wilson interval bound that triggered the flag when confidence intervals are
// enabled, and equals PeerFrequency otherwise.
type TagFlag struct {
	Tag           string  `json:"tag"`
	PeerFrequency float64 `json:"peer_frequency"`
	PeerCount     int     `json:"peer_count"`
	Bound         float64 `json:"bound"`
	Severity      float64 `json:"severity"`
}

// AnomalySummary describes the context an anomaly report was computed in.
type AnomalySummary struct {
	TargetID        string   `json:"target_id"`
	FormType        string   `json:"form_type"`
	FiscalYear      *int     `json:"fiscal_year,omitempty"`
	FilingPeriod    string   `json:"filing_period,omitempty"`
	PeerIDs         []string `json:"peer_ids"`
	NPeers          int      `json:"n_peers"`
	TargetTagCount  int      `json:"total_target_tags"`
	MissingCount    int      `json:"n_missing_tags"`
	ExtraCount      int      `json:"n_extra_tags"`
	CommonFraction  float64  `json:"common_fraction"`
	RareFraction    float64  `json:"rare_fraction"`
	ConfidenceLevel *float64 `json:"confidence_level,omitempty"`
}

// AnomalyReport lists the tags common among peers but absent in the target
// (Missing) and the tags present in the target but rare among peers (Extra).
type AnomalyReport struct {
	SnapshotVersion string         `json:"snapshot_version,omitempty"`
	Missing         []TagFlag      `json:"missing"`
	Extra           []TagFlag      `json:"extra"`
	Summary         AnomalySummary `json:"summary"`
}

// RunReport summarizes a community detection batch run.
type RunReport struct {
	Kind        string        `json:"kind"`
	Algorithm   string        `json:"algorithm"`
	Version     string        `json:"version"`
	Nodes       int           `json:"nodes"`
	Edges       int           `json:"edges"`
	Communities int           `json:"communities"`
	Modularity  float64       `json:"modularity"`
	Levels      int           `json:"levels"`
	Relabeled   int           `json:"relabeled"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
}

// BucketReport summarizes a revenue normalization batch run.
type BucketReport struct {
	Kind      string         `json:"kind"`
	Version   string         `json:"version"`
	Assigned  int            `json:"assigned"`
	Cleared   int            `json:"cleared"`
	Buckets   map[string]int `json:"buckets,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// EmbedReport summarizes an embedding backfill run.
type EmbedReport struct {
	Kind      string        `json:"kind"`
	Requested int           `json:"requested"`
	Embedded  int           `json:"embedded"`
	Skipped   int           `json:"skipped"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}
