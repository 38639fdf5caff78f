// Package engine wires the similarity, community, revenue and anomaly
// packages to the repositories and the versioned vector index. Batch runs
// publish their results through a snapshot.Holder; per-request operations
// read the current snapshot and never wait for a batch run.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/ai"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/anomaly"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/community"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/similarity"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/snapshot"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/store"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore"
	vmemory "github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore/memory"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultMaxResultsCap = 1000
	DefaultCacheSize     = 1024
	DefaultLockTTL       = 5 * time.Minute
	DefaultPeerFetchers  = 8
)

// CommunityConfig tunes the community detection batch run.
type CommunityConfig struct {
	Algorithm community.Algorithm
	// EdgeThreshold is the score a pair must exceed to become an edge.
	EdgeThreshold   float64
	Resolution      float64
	MaxLevels       int
	MaxEdgesPerNode int
	// StableLabels renames new communities after the previous run's
	// communities they overlap most.
	StableLabels bool
}

// EmbedConfig tunes the embedding backfill.
type EmbedConfig struct {
	MaxTokens int
	BatchSize int
	Parallel  int
}

type Config struct {
	Scorer    similarity.Scorer
	Community CommunityConfig
	Anomaly   anomaly.Options
	Embed     EmbedConfig

	// CacheSize bounds the similarity result cache; zero disables it.
	CacheSize      int
	LockTTL        time.Duration
	MaxResultsCap  int
	IndexBatchSize int
	PeerFetchers   int
}

// DefaultConfig returns the embedding-only scorer, Leiden at threshold 0.5
// and the default anomaly thresholds.
func DefaultConfig() Config {
	return Config{
		Scorer: similarity.Default(),
		Community: CommunityConfig{
			Algorithm:     community.Leiden,
			EdgeThreshold: 0.5,
			Resolution:    1,
		},
		Anomaly: anomaly.DefaultOptions(),
		Embed: EmbedConfig{
			MaxTokens: 8191,
			BatchSize: 64,
			Parallel:  1,
		},
		CacheSize:     DefaultCacheSize,
		LockTTL:       DefaultLockTTL,
		MaxResultsCap: DefaultMaxResultsCap,
		PeerFetchers:  DefaultPeerFetchers,
	}
}

// Validate wraps every violation in common.ErrInvalidConfiguration.
func (c Config) Validate() error {
	if err := c.Scorer.Validate(); err != nil {
		return err
	}
	if t := c.Community.EdgeThreshold; t < 0 || t > 1 {
		return common.InvalidConfig("community edge threshold %v outside [0,1]", t)
	}
	if c.Community.MaxEdgesPerNode < 0 {
		return common.InvalidConfig("max edges per node must not be negative")
	}
	opts := community.Options{
		Algorithm:  c.Community.Algorithm,
		Resolution: c.Community.Resolution,
		MaxLevels:  c.Community.MaxLevels,
	}
	if err := opts.Validate(); err != nil {
		return common.InvalidConfig("%v", err)
	}
	if err := c.Anomaly.Validate(); err != nil {
		return err
	}
	if c.MaxResultsCap <= 0 {
		return common.InvalidConfig("max results cap must be positive")
	}
	if c.CacheSize < 0 {
		return common.InvalidConfig("cache size must not be negative")
	}
	return nil
}

// ReportArchive stores the report of a published batch run.
type ReportArchive interface {
	Archive(ctx context.Context, kind, version string, report any) error
}

// Engine is safe for concurrent use.
type Engine struct {
	cfg Config

	entities store.EntityRepository
	tags     store.TagRepository
	versions vectorstore.Versions

	holder   *snapshot.Holder
	locker   leaselock.Locker
	cache    *lru.Cache[string, *common.SimilarityPage]
	metrics  *Metrics
	archive  ReportArchive
	embedder ai.Embedder

	runs map[string]chan struct{}

	retireMu sync.Mutex
	retired  []string
}

type Option func(*Engine)

// WithLocker serializes batch runs across processes. The default only
// serializes within the process.
func WithLocker(l leaselock.Locker) Option {
	return func(e *Engine) {
		e.locker = l
	}
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

func WithArchive(a ReportArchive) Option {
	return func(e *Engine) {
		e.archive = a
	}
}

// WithEmbedder enables the embedding backfill.
func WithEmbedder(em ai.Embedder) Option {
	return func(e *Engine) {
		e.embedder = em
	}
}

// New creates an engine with an empty snapshot. Call Load to publish the
// persisted state.
func New(
	cfg Config,
	entities store.EntityRepository,
	tags store.TagRepository,
	versions vectorstore.Versions,
	opts ...Option,
) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.PeerFetchers <= 0 {
		cfg.PeerFetchers = DefaultPeerFetchers
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}

	e := &Engine{
		cfg:      cfg,
		entities: entities,
		tags:     tags,
		versions: versions,
		holder:   snapshot.NewHolder(vmemory.New(0), ""),
		locker:   leaselock.NewLocal(),
		runs: map[string]chan struct{}{
			KindCommunities: make(chan struct{}, 1),
			KindRevenue:     make(chan struct{}, 1),
			KindEmbed:       make(chan struct{}, 1),
		},
	}
	for _, opt := range opts {
		opt(e)
	}

	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, *common.SimilarityPage](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create result cache: %w", err)
		}
		e.cache = cache
	}
	return e, nil
}

// Config returns the configuration the engine was created with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Snapshot returns the currently published snapshot.
func (e *Engine) Snapshot() *snapshot.Snapshot {
	return e.holder.Current()
}

// Load indexes every embedded entity with its persisted community and
// bucket and publishes the result. Servers call it at startup and on each
// refresh tick to pick up runs finished by a worker.
func (e *Engine) Load(ctx context.Context) (*snapshot.Snapshot, error) {
	release, err := e.acquire(ctx, KindCommunities, true)
	if err != nil {
		return nil, err
	}
	defer release()

	entities, err := e.entities.ListWithEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	priced, err := e.entities.ListWithUSDRevenue(ctx)
	if err != nil {
		return nil, err
	}

	communities := make(map[string]int64)
	points := make([]vectorstore.Point, 0, len(entities))
	for i := range entities {
		ent := &entities[i]
		if !ent.HasEmbedding() {
			continue
		}
		if ent.CommunityID != nil {
			communities[ent.ID] = *ent.CommunityID
		}
		points = append(points, vectorstore.Point{ID: ent.ID, Vector: ent.Embedding, CommunityID: ent.CommunityID})
	}
	buckets := make(map[string]int)
	for _, ent := range priced {
		if ent.RevenueBucket != nil {
			buckets[ent.ID] = *ent.RevenueBucket
		}
	}

	indexVersion, index, err := e.buildIndex(ctx, points)
	if err != nil {
		return nil, err
	}

	prev := e.holder.Current()
	snap, err := e.holder.Update(func(next *snapshot.Snapshot) error {
		next.Index = index
		next.IndexVersion = indexVersion
		next.Members = members(points)
		next.Communities = communities
		next.Buckets = buckets
		next.Industries = industries(entities)
		return nil
	})
	if err != nil {
		e.dropIndex(indexVersion)
		return nil, err
	}
	e.published(snap, prev.IndexVersion)

	logger.Info("[Engine][Load] Published snapshot",
		"version", snap.Version, "entities", snap.Size(), "communities", len(communities), "buckets", len(buckets))
	return snap, nil
}

// buildIndex opens a fresh index version and fills it with points. On error
// the version is dropped again.
func (e *Engine) buildIndex(ctx context.Context, points []vectorstore.Point) (string, vectorstore.Store, error) {
	version, err := snapshot.NewVersion()
	if err != nil {
		return "", nil, err
	}
	index, err := e.versions.Open(ctx, version)
	if err != nil {
		return "", nil, err
	}
	if err := vectorstore.UpsertAll(ctx, index, points, e.cfg.IndexBatchSize); err != nil {
		e.dropIndex(version)
		return "", nil, err
	}
	return version, index, nil
}

func (e *Engine) dropIndex(version string) {
	if version == "" {
		return
	}
	if err := e.versions.Drop(context.Background(), version); err != nil {
		logger.Warn("[Engine] Failed to drop index version", "version", version, "err", err)
	}
}

// published purges the result cache, records the snapshot metrics and
// retires the replaced index version. One replaced version is kept alive
// for readers still holding the previous snapshot.
func (e *Engine) published(snap *snapshot.Snapshot, replacedIndex string) {
	if e.cache != nil {
		e.cache.Purge()
	}
	e.metrics.observeSnapshot(snap)

	if replacedIndex == "" || replacedIndex == snap.IndexVersion {
		return
	}
	e.retireMu.Lock()
	e.retired = append(e.retired, replacedIndex)
	var drop []string
	if len(e.retired) > 1 {
		drop = e.retired[:len(e.retired)-1]
		e.retired = e.retired[len(e.retired)-1:]
	}
	e.retireMu.Unlock()

	for _, v := range drop {
		e.dropIndex(v)
	}
}

func (e *Engine) archiveReport(ctx context.Context, kind, version string, report any) {
	if e.archive == nil {
		return
	}
	if err := e.archive.Archive(ctx, kind, version, report); err != nil {
		logger.Warn("[Engine] Failed to archive run report", "kind", kind, "version", version, "err", err)
	}
}

func members(points []vectorstore.Point) map[string]struct{} {
	out := make(map[string]struct{}, len(points))
	for _, p := range points {
		out[p.ID] = struct{}{}
	}
	return out
}

func industries(entities []common.Entity) map[string]string {
	out := make(map[string]string)
	for _, ent := range entities {
		if ent.IndustryCode != "" {
			out[ent.ID] = ent.IndustryCode
		}
	}
	return out
}
