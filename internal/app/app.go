// Package app wires the configured backends into an engine. The server, the
// worker and the CLI all start from here.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/OFFIS-RIT/peerscope/backend/internal/config"
	"github.com/OFFIS-RIT/peerscope/backend/internal/database"
	"github.com/OFFIS-RIT/peerscope/backend/internal/storage"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/ai"
	oai "github.com/OFFIS-RIT/peerscope/backend/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/peerscope/backend/pkg/ai/openai"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/engine"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger/console"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/store"
	smemory "github.com/OFFIS-RIT/peerscope/backend/pkg/store/memory"
	pgstore "github.com/OFFIS-RIT/peerscope/backend/pkg/store/pgx"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore"
	vmemory "github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore/memory"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore/postgres"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore/qdrant"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ServiceName = "peerscope"

// InitLogger installs the console logger.
func InitLogger(cfg config.LogConfig) {
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  cfg.Debug,
		Format: cfg.Format,
	})
	logger.Init(consoleLogger)
}

// App holds the engine and the resources it was built on.
type App struct {
	Config  config.Config
	Engine  *engine.Engine
	Metrics *engine.Metrics
	Pool    *pgxpool.Pool
	Reports *storage.ReportArchive

	closers []func()
}

// Option adjusts how New builds the app.
type Option func(*options)

type options struct {
	skipLoad bool
}

// WithoutLoad skips publishing the persisted state, for commands that only
// run a batch job.
func WithoutLoad() Option {
	return func(o *options) {
		o.skipLoad = true
	}
}

// New validates cfg, opens every backend and loads the persisted snapshot.
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		a.Pool = pool
		a.closers = append(a.closers, pool.Close)
	}

	entities, tags, err := a.repositories(cfg)
	if err != nil {
		return nil, err
	}
	versions, err := a.vectors(cfg)
	if err != nil {
		return nil, err
	}

	a.Metrics = engine.NewMetrics(ServiceName, true)
	engineOpts := []engine.Option{engine.WithMetrics(a.Metrics)}
	if a.Pool != nil {
		engineOpts = append(engineOpts, engine.WithLocker(leaselock.New(a.Pool)))
	}
	if cfg.S3.Bucket != "" {
		client, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			return nil, err
		}
		a.Reports = storage.NewReportArchive(client, cfg.S3.Bucket)
		if cfg.S3.Archive {
			engineOpts = append(engineOpts, engine.WithArchive(a.Reports))
		}
	}
	if cfg.AI.Enabled() {
		embedder, err := NewEmbedder(cfg.AI)
		if err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, engine.WithEmbedder(embedder))
	}

	eng, err := engine.New(cfg.Engine, entities, tags, versions, engineOpts...)
	if err != nil {
		return nil, err
	}
	a.Engine = eng

	if !o.skipLoad {
		if _, err := eng.Load(ctx); err != nil {
			return nil, fmt.Errorf("failed to load snapshot: %w", err)
		}
	}
	ok = true
	return a, nil
}

func (a *App) repositories(cfg config.Config) (store.EntityRepository, store.TagRepository, error) {
	if a.Pool != nil {
		repo := pgstore.NewEntityDBStorageWithConnection(a.Pool)
		return repo, repo, nil
	}
	f, err := os.Open(cfg.FixturePath)
	if err != nil {
		return nil, nil, common.InvalidConfig("cannot open entity fixture: %v", err)
	}
	defer f.Close()
	repo, err := smemory.Load(f)
	if err != nil {
		return nil, nil, common.InvalidConfig("%v", err)
	}
	logger.Info("[App] Loaded entity fixture", "path", cfg.FixturePath)
	return repo, repo, nil
}

func (a *App) vectors(cfg config.Config) (vectorstore.Versions, error) {
	switch cfg.Vector.Backend {
	case config.VectorPgvector:
		return postgres.NewVersions(a.Pool, cfg.Vector.Table), nil
	case config.VectorQdrant:
		client, err := qdrant.NewClient(cfg.Vector.Qdrant)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		return qdrant.NewVersions(client, cfg.Vector.Qdrant), nil
	default:
		return vmemory.NewVersions(cfg.Vector.Dim), nil
	}
}

// NewEmbedder returns the configured embedding provider.
func NewEmbedder(cfg config.AIConfig) (ai.Embedder, error) {
	switch cfg.Adapter {
	case config.AdapterOllama:
		client, err := oai.NewEmbeddingClient(oai.NewEmbeddingClientParams{
			Model:                 cfg.Model,
			Dimensions:            cfg.Dim,
			BaseURL:               cfg.URL,
			ApiKey:                cfg.Key,
			MaxConcurrentRequests: cfg.Parallel,
		})
		if err != nil {
			return nil, common.InvalidConfig("ollama client: %v", err)
		}
		return client, nil
	default:
		return gai.NewEmbeddingClient(gai.NewEmbeddingClientParams{
			Model:                 cfg.Model,
			BaseURL:               cfg.URL,
			APIKey:                cfg.Key,
			Dimensions:            cfg.Dim,
			MaxConcurrentRequests: cfg.Parallel,
		}), nil
	}
}

// Close releases the backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
