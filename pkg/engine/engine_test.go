package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	smemory "github.com/OFFIS-RIT/peerscope/backend/pkg/store/memory"
	vmemory "github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore/memory"
)

func entity(id string, vec ...float32) common.Entity {
	return common.Entity{ID: id, Name: id, Embedding: vec}
}

// twoClusters holds three entities pointing right and two pointing left.
func twoClusters() []common.Entity {
	return []common.Entity{
		entity("a1", 1, 0.1),
		entity("a2", 1, 0),
		entity("a3", 1, -0.1),
		entity("b1", -1, 0.1),
		entity("b2", -1, -0.1),
	}
}

type fixture struct {
	engine   *Engine
	repo     *smemory.Store
	versions *vmemory.Versions
}

func newFixture(t *testing.T, cfg Config, entities []common.Entity, opts ...Option) *fixture {
	t.Helper()
	repo := smemory.New(entities...)
	versions := vmemory.NewVersions(0)
	e, err := New(cfg, repo, repo, versions, opts...)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	return &fixture{engine: e, repo: repo, versions: versions}
}

func (f *fixture) recompute(t *testing.T) *common.RunReport {
	t.Helper()
	report, err := f.engine.RecomputeCommunities(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	return report
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"default", func(*Config) {}, true},
		{"bad weights", func(c *Config) { c.Scorer.RevenueWeight = 0.5 }, false},
		{"edge threshold", func(c *Config) { c.Community.EdgeThreshold = 1.5 }, false},
		{"algorithm", func(c *Config) { c.Community.Algorithm = "spectral" }, false},
		{"anomaly", func(c *Config) { c.Anomaly.MinPeers = 0 }, false},
		{"results cap", func(c *Config) { c.MaxResultsCap = 0 }, false},
		{"cache disabled", func(c *Config) { c.CacheSize = 0 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("expected nil error, got %v", err)
			}
			if !tt.ok && !errors.Is(err, common.ErrInvalidConfiguration) {
				t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}

func TestRecomputeCommunitiesFindsClusters(t *testing.T) {
	f := newFixture(t, DefaultConfig(), twoClusters())
	report := f.recompute(t)

	if report.Communities != 2 || report.Nodes != 5 {
		t.Fatalf("expected 2 communities over 5 nodes, got %+v", report)
	}
	snap := f.engine.Snapshot()
	if snap.Version != report.Version {
		t.Fatalf("expected report version %q to be published, got %q", report.Version, snap.Version)
	}
	c := snap.Communities
	if c["a1"] != c["a2"] || c["a2"] != c["a3"] || c["b1"] != c["b2"] || c["a1"] == c["b1"] {
		t.Fatalf("expected {a1 a2 a3} and {b1 b2}, got %v", c)
	}

	stored, err := f.repo.Get(context.Background(), "b2")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if stored.CommunityID == nil || *stored.CommunityID != c["b2"] {
		t.Fatalf("expected persisted community %d, got %v", c["b2"], stored.CommunityID)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultConfig(), twoClusters())
	f.recompute(t)
	first := f.engine.Snapshot().Communities
	f.recompute(t)
	second := f.engine.Snapshot().Communities

	for _, pair := range [][2]string{{"a1", "a2"}, {"a1", "a3"}, {"b1", "b2"}, {"a1", "b1"}} {
		same1 := first[pair[0]] == first[pair[1]]
		same2 := second[pair[0]] == second[pair[1]]
		if same1 != same2 {
			t.Fatalf("expected composition of %v to be stable, got %v then %v", pair, first, second)
		}
	}
}

func TestRecomputeWithoutEdgesYieldsSingletons(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Community.EdgeThreshold = 1
	f := newFixture(t, cfg, twoClusters())
	report := f.recompute(t)
	if report.Communities != 5 || report.Edges != 0 {
		t.Fatalf("expected 5 singleton communities and no edges, got %+v", report)
	}
}

func TestRecomputeKeepsOnePreviousIndex(t *testing.T) {
	f := newFixture(t, DefaultConfig(), twoClusters())
	for range 3 {
		f.recompute(t)
	}
	if got := f.versions.Count(); got != 2 {
		t.Fatalf("expected the current and one previous index, got %d", got)
	}
}

func TestStableLabelsKeepPreviousIDs(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Community.StableLabels = true
	f := newFixture(t, cfg, twoClusters())
	f.recompute(t)
	first := f.engine.Snapshot().Communities

	report := f.recompute(t)
	second := f.engine.Snapshot().Communities
	if report.Relabeled != 2 {
		t.Fatalf("expected 2 relabeled communities, got %d", report.Relabeled)
	}
	for id, c := range first {
		if second[id] != c {
			t.Fatalf("expected %s to keep community %d, got %d", id, c, second[id])
		}
	}
}

type failingRepo struct {
	*smemory.Store
	replaceErr error
}

func (r *failingRepo) ReplaceCommunities(context.Context, map[string]int64) error {
	return r.replaceErr
}

func (r *failingRepo) ReplaceRevenueBuckets(context.Context, map[string]int) error {
	return r.replaceErr
}

func TestFailedRunPublishesNothing(t *testing.T) {
	repo := &failingRepo{Store: smemory.New(twoClusters()...), replaceErr: common.StoreError("replace", errors.New("connection reset"))}
	versions := vmemory.NewVersions(0)
	e, err := New(DefaultConfig(), repo, repo, versions)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	before := e.Snapshot()

	if _, err := e.RecomputeCommunities(context.Background()); !errors.Is(err, common.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := e.ComputeBuckets(context.Background()); !errors.Is(err, common.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if e.Snapshot() != before {
		t.Fatal("expected the previous snapshot to stay published")
	}
	if versions.Count() != 0 {
		t.Fatalf("expected the unpublished index to be dropped, got %d versions", versions.Count())
	}
}

func TestCancelledRunPublishesNothing(t *testing.T) {
	f := newFixture(t, DefaultConfig(), twoClusters())
	before := f.engine.Snapshot()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.engine.RecomputeCommunities(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if f.engine.Snapshot() != before {
		t.Fatal("expected the previous snapshot to stay published")
	}
}

type blockingRepo struct {
	*smemory.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *blockingRepo) ListWithEmbeddings(ctx context.Context) ([]common.Entity, error) {
	r.once.Do(func() { close(r.entered) })
	<-r.release
	return r.Store.ListWithEmbeddings(ctx)
}

func TestConcurrentRunIsRejected(t *testing.T) {
	repo := &blockingRepo{
		Store:   smemory.New(twoClusters()...),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	e, err := New(DefaultConfig(), repo, repo, vmemory.NewVersions(0))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := e.RecomputeCommunities(context.Background())
		done <- err
	}()
	<-repo.entered

	if _, err := e.RecomputeCommunities(context.Background()); !errors.Is(err, common.ErrBatchInProgress) {
		t.Fatalf("expected ErrBatchInProgress, got %v", err)
	}
	if _, err := e.ComputeBuckets(context.Background()); err != nil {
		t.Fatalf("expected a different kind to run, got %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := e.RecomputeCommunities(ctx, WaitForLease()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected a queued run to give up with its context, got %v", err)
	}

	close(repo.release)
	if err := <-done; err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if _, err := e.RecomputeCommunities(context.Background()); err != nil {
		t.Fatalf("expected a run after release to succeed, got %v", err)
	}
}

func TestComputeBuckets(t *testing.T) {
	entities := twoClusters()
	for i := range entities {
		entities[i].RevenueUSD = common.Ptr(float64(i+1) * 1000)
	}
	f := newFixture(t, DefaultConfig(), entities)

	report, err := f.engine.ComputeBuckets(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if report.Assigned != 5 || report.Cleared != 0 {
		t.Fatalf("expected 5 assigned and none cleared, got %+v", report)
	}
	snap := f.engine.Snapshot()
	if *snap.Bucket("a1") != 20 || *snap.Bucket("b2") != 100 {
		t.Fatalf("expected buckets 20 and 100, got %v", snap.Buckets)
	}

	b2, _ := f.repo.Get(context.Background(), "b2")
	b2.RevenueUSD = nil
	f.repo.Put(*b2)

	report, err = f.engine.ComputeBuckets(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if report.Assigned != 4 || report.Cleared != 1 {
		t.Fatalf("expected 4 assigned and 1 cleared, got %+v", report)
	}
	if f.engine.Snapshot().Bucket("b2") != nil {
		t.Fatal("expected the bucket of b2 to be cleared")
	}
	stored, _ := f.repo.Get(context.Background(), "b2")
	if stored.RevenueBucket != nil {
		t.Fatalf("expected persisted bucket cleared, got %v", *stored.RevenueBucket)
	}
}

func TestLoadPublishesPersistedState(t *testing.T) {
	entities := twoClusters()
	entities[0].CommunityID = common.Ptr(int64(7))
	entities[0].RevenueUSD = common.Ptr(10.0)
	entities[0].RevenueBucket = common.Ptr(42)
	entities[0].IndustryCode = "3571"
	f := newFixture(t, DefaultConfig(), entities)

	snap, err := f.engine.Load(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if snap.Size() != 5 {
		t.Fatalf("expected 5 indexed entities, got %d", snap.Size())
	}
	if c := snap.Community("a1"); c == nil || *c != 7 {
		t.Fatalf("expected community 7, got %v", c)
	}
	if b := snap.Bucket("a1"); b == nil || *b != 42 {
		t.Fatalf("expected bucket 42, got %v", b)
	}
	if snap.Industries["a1"] != "3571" {
		t.Fatalf("expected industry 3571, got %q", snap.Industries["a1"])
	}
}

type recordingArchive struct {
	mu    sync.Mutex
	kinds []string
	fail  bool
}

func (a *recordingArchive) Archive(_ context.Context, kind, version string, _ any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.kinds = append(a.kinds, kind+":"+version)
	if a.fail {
		return errors.New("bucket unavailable")
	}
	return nil
}

func TestReportsAreArchived(t *testing.T) {
	archive := &recordingArchive{fail: true}
	f := newFixture(t, DefaultConfig(), twoClusters(), WithArchive(archive))

	report := f.recompute(t)
	if len(archive.kinds) != 1 || archive.kinds[0] != KindCommunities+":"+report.Version {
		t.Fatalf("expected the community report to be archived, got %v", archive.kinds)
	}
}
