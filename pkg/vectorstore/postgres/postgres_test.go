package postgres

import (
	"context"
	"strings"
	"testing"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore"
)

func openStore(t *testing.T, table string) *Store {
	t.Helper()
	s, err := NewVersions(nil, table).Open(context.Background(), "v1")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	return s.(*Store)
}

func TestNearestQuery(t *testing.T) {
	s := openStore(t, "")
	tests := []struct {
		name     string
		k        int
		filter   vectorstore.Filter
		contains []string
		absent   []string
		args     int
	}{
		{
			name:     "no filter",
			k:        10,
			contains: []string{`FROM "entity_vectors"`, "snapshot_version = $1", "ORDER BY distance, entity_id", "LIMIT $3"},
			absent:   []string{"community_id", "ANY"},
			args:     3,
		},
		{
			name: "all push-downs",
			k:    5,
			filter: vectorstore.Filter{
				CommunityID: common.Ptr(int64(4)),
				ExcludeIDs:  []string{"a"},
				MaxDistance: common.Ptr(0.4),
			},
			contains: []string{"community_id = $3", "NOT (entity_id = ANY($4))", "embedding <=> $2 <= $5", "LIMIT $6"},
			args:     6,
		},
		{
			name:     "allow predicate keeps limit in process",
			k:        5,
			filter:   vectorstore.Filter{Allow: func(string) bool { return true }},
			contains: []string{"ORDER BY distance, entity_id"},
			absent:   []string{"LIMIT"},
			args:     2,
		},
		{
			name:   "unbounded",
			k:      0,
			absent: []string{"LIMIT"},
			args:   2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := s.nearestQuery([]float32{1, 0}, tt.k, tt.filter)
			for _, want := range tt.contains {
				if !strings.Contains(sql, want) {
					t.Fatalf("expected %q in %q", want, sql)
				}
			}
			for _, unwanted := range tt.absent {
				if strings.Contains(sql, unwanted) {
					t.Fatalf("expected no %q in %q", unwanted, sql)
				}
			}
			if len(args) != tt.args {
				t.Fatalf("expected %d args, got %d", tt.args, len(args))
			}
			if args[0] != "v1" {
				t.Fatalf("expected version as first arg, got %v", args[0])
			}
		})
	}
}

func TestTableNameIsQuoted(t *testing.T) {
	s := openStore(t, `weird"name`)
	sql, _ := s.nearestQuery([]float32{1}, 1, vectorstore.Filter{})
	if !strings.Contains(sql, `FROM "weird""name"`) {
		t.Fatalf("expected quoted identifier, got %q", sql)
	}
}

func TestOpenRejectsEmptyVersion(t *testing.T) {
	if _, err := NewVersions(nil, "").Open(context.Background(), ""); err == nil {
		t.Fatal("expected error, got nil")
	}
}
