// Package memory implements the entity and tag repositories in process.
// The CLI uses it with JSON fixtures, and the engine tests run against it.
package memory

import (
	"context"
	"fmt"
	"io"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/OFFIS-RIT/peerscope/backend/internal/util"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/store"
)

// TagRow is one reporting tag of one filing.
type TagRow struct {
	EntityID     string `json:"entity_id"`
	FiscalYear   int    `json:"fiscal_year"`
	FormType     string `json:"form_type"`
	FilingPeriod string `json:"filing_period,omitempty"`
	Tag          string `json:"tag"`
}

// Store keeps entities and tag rows behind a read/write mutex.
type Store struct {
	mu       sync.RWMutex
	entities map[string]common.Entity
	tags     []TagRow
}

func New(entities ...common.Entity) *Store {
	s := &Store{entities: make(map[string]common.Entity, len(entities))}
	for _, e := range entities {
		s.entities[e.ID] = cloneEntity(e)
	}
	return s
}

// Fixture is the JSON layout accepted by Load.
type Fixture struct {
	Entities []fixtureEntity `json:"entities"`
	Tags     []TagRow        `json:"tags"`
}

type fixtureEntity struct {
	common.Entity
	Embedding []float32 `json:"embedding,omitempty"`
}

// Load reads a fixture document into a new Store. Hand-edited fixtures with
// trailing commas or single quotes are repaired before decoding.
func Load(r io.Reader) (*Store, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	var f Fixture
	if err := util.UnmarshalFlexible(string(raw), &f); err != nil {
		return nil, fmt.Errorf("failed to decode fixture: %w", err)
	}
	s := New()
	for _, fe := range f.Entities {
		e := fe.Entity
		e.Embedding = fe.Embedding
		s.Put(e)
	}
	s.tags = append(s.tags, f.Tags...)
	return s, nil
}

// Put inserts or replaces an entity.
func (s *Store) Put(e common.Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entities[e.ID] = cloneEntity(e)
}

// AddTags records tags for one filing.
func (s *Store) AddTags(entityID string, fiscalYear int, formType, filingPeriod string, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tags {
		s.tags = append(s.tags, TagRow{
			EntityID:     entityID,
			FiscalYear:   fiscalYear,
			FormType:     formType,
			FilingPeriod: filingPeriod,
			Tag:          t,
		})
	}
}

func (s *Store) Get(ctx context.Context, id string) (*common.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, common.NotFound(id)
	}
	out := cloneEntity(e)
	return &out, nil
}

func (s *Store) filter(ctx context.Context, keep func(e *common.Entity) bool) ([]common.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]common.Entity, 0)
	for _, e := range s.entities {
		if keep(&e) {
			out = append(out, cloneEntity(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListWithEmbeddings(ctx context.Context) ([]common.Entity, error) {
	return s.filter(ctx, func(e *common.Entity) bool { return len(e.Embedding) > 0 })
}

func (s *Store) ListWithUSDRevenue(ctx context.Context) ([]common.Entity, error) {
	out, err := s.filter(ctx, func(e *common.Entity) bool {
		return e.RevenueUSD != nil && !math.IsNaN(*e.RevenueUSD)
	})
	for i := range out {
		out[i].Embedding = nil
	}
	return out, err
}

func (s *Store) ListMissingEmbeddings(ctx context.Context, limit int) ([]common.Entity, error) {
	out, err := s.filter(ctx, func(e *common.Entity) bool {
		return len(e.Embedding) == 0 && e.Description != ""
	})
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) SaveDerived(ctx context.Context, id string, derived common.Derived) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return common.NotFound(id)
	}
	if derived.CommunityID != nil {
		e.CommunityID = common.Ptr(*derived.CommunityID)
	}
	if derived.RevenueBucket != nil {
		e.RevenueBucket = common.Ptr(*derived.RevenueBucket)
	}
	s.entities[id] = e
	return nil
}

func (s *Store) ReplaceCommunities(ctx context.Context, communities map[string]int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entities {
		e.CommunityID = nil
		if c, ok := communities[id]; ok {
			e.CommunityID = common.Ptr(c)
		}
		s.entities[id] = e
	}
	return nil
}

func (s *Store) ReplaceRevenueBuckets(ctx context.Context, buckets map[string]int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entities {
		e.RevenueBucket = nil
		if b, ok := buckets[id]; ok {
			e.RevenueBucket = common.Ptr(b)
		}
		s.entities[id] = e
	}
	return nil
}

func (s *Store) SaveEmbeddings(ctx context.Context, embeddings map[string][]float32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range embeddings {
		e, ok := s.entities[id]
		if !ok {
			return common.NotFound(id)
		}
		e.Embedding = slices.Clone(v)
		s.entities[id] = e
	}
	return nil
}

func (s *Store) GetTags(ctx context.Context, entityID string, q store.TagQuery) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	year := q.FiscalYear
	if year == nil {
		for _, r := range s.tags {
			if r.EntityID == entityID && r.FormType == q.FormType && (year == nil || r.FiscalYear > *year) {
				year = common.Ptr(r.FiscalYear)
			}
		}
		if year == nil {
			return []string{}, nil
		}
	}

	var tags []string
	for _, r := range s.tags {
		if r.EntityID != entityID || r.FormType != q.FormType || r.FiscalYear != *year {
			continue
		}
		if q.FilingPeriod != "" && r.FilingPeriod != q.FilingPeriod {
			continue
		}
		tags = append(tags, r.Tag)
	}
	sort.Strings(tags)
	if len(tags) == 0 {
		return []string{}, nil
	}
	return slices.Compact(tags), nil
}

func cloneEntity(e common.Entity) common.Entity {
	e.Embedding = slices.Clone(e.Embedding)
	if e.RevenueUSD != nil {
		e.RevenueUSD = common.Ptr(*e.RevenueUSD)
	}
	if e.RevenueBucket != nil {
		e.RevenueBucket = common.Ptr(*e.RevenueBucket)
	}
	if e.CommunityID != nil {
		e.CommunityID = common.Ptr(*e.CommunityID)
	}
	return e
}
