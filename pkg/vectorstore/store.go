// Package vectorstore defines the nearest-neighbour index the similarity
// search reads from. Distances are cosine distances (1 - cosine similarity)
// in every backend.
package vectorstore

import (
	"context"
	"errors"
	"slices"
	"sort"
)

// ErrNotFound is returned by Vector for an id that was never upserted.
var ErrNotFound = errors.New("vector not found")

const defaultBatchSize = 500

// Point is an entity vector together with the payload the stores can filter on.
type Point struct {
	ID          string
	Vector      []float32
	CommunityID *int64
}

// Match is one neighbour returned by QueryNearest.
type Match struct {
	ID       string
	Distance float64
}

// Filter restricts the candidates of a query.
//
// CommunityID, ExcludeIDs and MaxDistance are pushed down to the backend
// where it supports them. Allow is always evaluated in process, before the
// result is truncated to k.
type Filter struct {
	CommunityID *int64
	ExcludeIDs  []string
	MaxDistance *float64
	Allow       func(id string) bool
}

// Accept applies the id and distance conditions of f to m. Community
// membership is left to the backend.
func (f Filter) Accept(m Match) bool {
	if slices.Contains(f.ExcludeIDs, m.ID) {
		return false
	}
	if f.MaxDistance != nil && m.Distance > *f.MaxDistance {
		return false
	}
	if f.Allow != nil && !f.Allow(m.ID) {
		return false
	}
	return true
}

// Store is a single versioned vector index.
type Store interface {
	// Upsert inserts or replaces points. Upserting the same point twice
	// leaves the store unchanged.
	Upsert(ctx context.Context, points ...Point) error
	// Vector returns the stored vector for id, or ErrNotFound.
	Vector(ctx context.Context, id string) ([]float32, error)
	// QueryNearest returns up to k matches ordered by distance ascending,
	// ties by id ascending. k <= 0 returns every accepted match.
	QueryNearest(ctx context.Context, vector []float32, k int, filter Filter) ([]Match, error)
}

// CommunityIndexer is implemented by stores that can push a community filter
// down to the backend.
type CommunityIndexer interface {
	SetCommunities(ctx context.Context, communities map[string]int64) error
}

// Versions opens and drops the per-snapshot indexes of a backend.
type Versions interface {
	Open(ctx context.Context, version string) (Store, error)
	Drop(ctx context.Context, version string) error
}

// UpsertAll writes points in batches of batchSize.
func UpsertAll(ctx context.Context, s Store, points []Point, batchSize int) error {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	for batch := range slices.Chunk(points, batchSize) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Upsert(ctx, batch...); err != nil {
			return err
		}
	}
	return nil
}

// SortMatches orders matches by distance ascending, then by id.
func SortMatches(matches []Match) {
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].ID < matches[j].ID
	})
}

// Truncate returns at most k matches; k <= 0 keeps all.
func Truncate(matches []Match, k int) []Match {
	if k > 0 && len(matches) > k {
		return matches[:k]
	}
	return matches
}
