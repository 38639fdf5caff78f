// Package memory is an exact, in-process vector index used for tests, the
// CLI and small populations.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/similarity"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore"
)

type point struct {
	vector    []float32
	unit      []float32
	community *int64
}

// Store keeps every vector in memory and answers queries by exhaustive scan.
type Store struct {
	mu     sync.RWMutex
	dim    int
	points map[string]*point
}

// New creates an empty store. A dimension of zero is fixed by the first upsert.
func New(dim int) *Store {
	return &Store{dim: dim, points: make(map[string]*point)}
}

func (s *Store) Upsert(ctx context.Context, points ...vectorstore.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("vector id is empty")
		}
		if s.dim == 0 {
			s.dim = len(p.Vector)
		}
		if len(p.Vector) != s.dim {
			return fmt.Errorf("%w: %q has %d dimensions, store has %d", common.ErrDimensionMismatch, p.ID, len(p.Vector), s.dim)
		}
	}
	for _, p := range points {
		s.points[p.ID] = &point{
			vector:    slices.Clone(p.Vector),
			unit:      similarity.Normalize(p.Vector),
			community: p.CommunityID,
		}
	}
	return nil
}

func (s *Store) Vector(ctx context.Context, id string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.points[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", vectorstore.ErrNotFound, id)
	}
	return slices.Clone(p.vector), nil
}

func (s *Store) QueryNearest(ctx context.Context, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dim != 0 && len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, store has %d", common.ErrDimensionMismatch, len(vector), s.dim)
	}
	q := similarity.Normalize(vector)

	matches := make([]vectorstore.Match, 0)
	for id, p := range s.points {
		if filter.CommunityID != nil && (p.community == nil || *p.community != *filter.CommunityID) {
			continue
		}
		distance := 1.0
		if q != nil && p.unit != nil {
			distance = 1 - similarity.Dot(q, p.unit)
		}
		m := vectorstore.Match{ID: id, Distance: distance}
		if !filter.Accept(m) {
			continue
		}
		matches = append(matches, m)
	}
	vectorstore.SortMatches(matches)
	return vectorstore.Truncate(matches, k), nil
}

// SetCommunities replaces the community payload of every stored point.
// Points absent from communities lose their community.
func (s *Store) SetCommunities(ctx context.Context, communities map[string]int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, p := range s.points {
		if c, ok := communities[id]; ok {
			p.community = common.Ptr(c)
		} else {
			p.community = nil
		}
	}
	return nil
}

// Len returns the number of stored points.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

// Versions keeps one Store per snapshot version.
type Versions struct {
	mu       sync.Mutex
	dim      int
	versions map[string]*Store
}

func NewVersions(dim int) *Versions {
	return &Versions{dim: dim, versions: make(map[string]*Store)}
}

func (v *Versions) Open(ctx context.Context, version string) (vectorstore.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	s, ok := v.versions[version]
	if !ok {
		s = New(v.dim)
		v.versions[version] = s
	}
	return s, nil
}

func (v *Versions) Drop(_ context.Context, version string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.versions, version)
	return nil
}

// Count returns the number of open versions.
func (v *Versions) Count() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.versions)
}
