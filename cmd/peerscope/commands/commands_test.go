package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/peerscope/backend/internal/config"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/engine"
)

func useFixture(t *testing.T) {
	t.Helper()
	prev := loadConfig
	loadConfig = func() config.Config {
		return config.Config{
			FixturePath: "testdata/entities.json",
			Vector:      config.VectorConfig{Backend: config.VectorMemory, Dim: 3},
			Engine:      engine.DefaultConfig(),
		}
	}
	t.Cleanup(func() { loadConfig = prev })
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()
	if cmd.Use != "peerscope" {
		t.Fatalf("expected use peerscope, got %q", cmd.Use)
	}

	want := []string{"migrate", "normalize-revenue", "recompute-communities", "embed", "similar", "anomalies", "enqueue"}
	for _, name := range want {
		sub, _, err := cmd.Find([]string{name})
		if err != nil || sub.Name() != name {
			t.Fatalf("expected subcommand %q, got %v", name, err)
		}
	}

	if f := cmd.PersistentFlags().Lookup("format"); f == nil || f.DefValue != "text" {
		t.Fatalf("expected --format defaulting to text, got %v", f)
	}
}

func TestRecomputeCommunities(t *testing.T) {
	useFixture(t)

	out, err := run(t, "recompute-communities", "--format", "json")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	var report common.RunReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("expected JSON report, got %q", out)
	}
	if report.Communities != 2 || report.Nodes != 5 {
		t.Fatalf("expected 5 nodes in 2 communities, got %+v", report)
	}
}

func TestNormalizeRevenue(t *testing.T) {
	useFixture(t)

	out, err := run(t, "normalize-revenue", "--force")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !strings.Contains(out, "ASSIGNED") {
		t.Fatalf("expected a table, got %q", out)
	}

	out, err = run(t, "normalize-revenue", "--format", "json")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	var report common.BucketReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("expected JSON report, got %q", out)
	}
	if report.Assigned != 6 {
		t.Fatalf("expected 6 buckets, got %d", report.Assigned)
	}
}

func TestSimilar(t *testing.T) {
	useFixture(t)

	out, err := run(t, "similar", "0000320193", "--format", "json")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	var page common.SimilarityPage
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("expected JSON page, got %q", out)
	}
	if len(page.Results) != 2 || page.Results[0].CandidateID != "0001018724" || page.Results[1].CandidateID != "0000789019" {
		t.Fatalf("expected [0001018724 0000789019], got %+v", page.Results)
	}

	out, err = run(t, "similar", "0000320193", "--threshold", "0.999")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if !strings.Contains(out, "No entities") {
		t.Fatalf("expected empty message, got %q", out)
	}

	tests := []struct {
		name string
		args []string
		want error
	}{
		{"unknown entity", []string{"similar", "nope"}, common.ErrEntityNotFound},
		{"no embedding", []string{"similar", "0000050863"}, common.ErrMissingEmbedding},
		{"bad threshold", []string{"similar", "0000320193", "--threshold", "2"}, common.ErrInvalidConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestAnomalies(t *testing.T) {
	useFixture(t)

	t.Run("form type is required", func(t *testing.T) {
		if _, err := run(t, "anomalies", "0000320193"); err == nil {
			t.Fatal("expected error, got nil")
		}
	})

	t.Run("unknown scope", func(t *testing.T) {
		_, err := run(t, "anomalies", "0000320193", "--form-type", "10-K", "--scope", "galaxy")
		if err == nil || !strings.Contains(err.Error(), "unknown scope") {
			t.Fatalf("expected unknown scope error, got %v", err)
		}
	})

	t.Run("no community yet", func(t *testing.T) {
		_, err := run(t, "anomalies", "0000320193", "--form-type", "10-K")
		if !errors.Is(err, common.ErrInsufficientPeers) {
			t.Fatalf("expected ErrInsufficientPeers, got %v", err)
		}
	})

	t.Run("segment", func(t *testing.T) {
		out, err := run(t, "anomalies", "0000320193", "--form-type", "10-K",
			"--scope", "segment", "--peers", "0000789019,0001018724", "--min-peers", "2")
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
		if !strings.Contains(out, "2 tags against 2 peers") {
			t.Fatalf("expected summary line, got %q", out)
		}
	})
}

func TestEmbedWithoutAdapter(t *testing.T) {
	useFixture(t)

	if _, err := run(t, "embed", "--limit", "-1"); err == nil {
		t.Fatal("expected error for negative limit, got nil")
	}
	if _, err := run(t, "embed"); !errors.Is(err, common.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestCommandsNeedBackends(t *testing.T) {
	useFixture(t)

	tests := []struct {
		name string
		args []string
	}{
		{"migrate without database", []string{"migrate"}},
		{"enqueue without broker", []string{"enqueue", "communities"}},
		{"enqueue unknown kind", []string{"enqueue", "rebuild"}},
		{"unknown format", []string{"similar", "0000320193", "--format", "yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := run(t, tt.args...); err == nil {
				t.Fatal("expected error, got nil")
			}
		})
	}
}
