package app

import (
	"context"
	"errors"
	"testing"

	"github.com/OFFIS-RIT/peerscope/backend/internal/config"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/engine"
)

func fixtureConfig() config.Config {
	return config.Config{
		FixturePath: "testdata/entities.json",
		Vector:      config.VectorConfig{Backend: config.VectorMemory, Dim: 3},
		Engine:      engine.DefaultConfig(),
	}
}

func TestNewLoadsFixtureSnapshot(t *testing.T) {
	a, err := New(context.Background(), fixtureConfig())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	defer a.Close()

	snap := a.Engine.Snapshot()
	if snap.Size() != 5 {
		t.Fatalf("expected 5 indexed entities, got %d", snap.Size())
	}
	if a.Pool != nil || a.Reports != nil {
		t.Fatal("expected no database pool and no report archive")
	}

	report, err := a.Engine.RecomputeCommunities(context.Background())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if report.Communities != 2 {
		t.Fatalf("expected 2 communities, got %d", report.Communities)
	}
}

func TestNewWithoutLoad(t *testing.T) {
	a, err := New(context.Background(), fixtureConfig(), WithoutLoad())
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	defer a.Close()
	if a.Engine.Snapshot().Size() != 0 {
		t.Fatalf("expected empty snapshot, got %d", a.Engine.Snapshot().Size())
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{name: "missing fixture", mutate: func(c *config.Config) { c.FixturePath = "testdata/nope.json" }},
		{name: "invalid engine", mutate: func(c *config.Config) { c.Engine.MaxResultsCap = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := fixtureConfig()
			tt.mutate(&cfg)
			_, err := New(context.Background(), cfg)
			if !errors.Is(err, common.ErrInvalidConfiguration) {
				t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
			}
		})
	}
}

func TestNewEmbedder(t *testing.T) {
	e, err := NewEmbedder(config.AIConfig{Adapter: config.AdapterOllama, Model: "nomic-embed-text", Dim: 3, URL: "http://localhost:11434"})
	if err != nil || e == nil {
		t.Fatalf("expected ollama embedder, got %v, %v", e, err)
	}
	e, err = NewEmbedder(config.AIConfig{Adapter: config.AdapterOpenAI, Model: "text-embedding-3-small", Dim: 3, Key: "k"})
	if err != nil || e == nil {
		t.Fatalf("expected openai embedder, got %v, %v", e, err)
	}
}
