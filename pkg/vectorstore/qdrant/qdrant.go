// Package qdrant stores each snapshot version in its own Qdrant collection.
// Entity ids are mapped to deterministic UUID point ids and kept in the
// payload together with the community id, which makes the community filter
// a payload condition evaluated by Qdrant.
package qdrant

import (
	"context"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

const (
	payloadEntityID    = "entity_id"
	payloadCommunityID = "community_id"

	DefaultPrefix = "entity_vectors"
)

// namespace seeds the UUIDv5 point ids.
var namespace = uuid.MustParse("9b6f0d0e-5c1a-4f0e-9a57-3c1d2b7e8f41")

type api interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Get(ctx context.Context, request *qdrant.GetPoints) ([]*qdrant.RetrievedPoint, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Count(ctx context.Context, request *qdrant.CountPoints) (uint64, error)
	SetPayload(ctx context.Context, request *qdrant.SetPayloadPoints) (*qdrant.UpdateResult, error)
}

type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
	Prefix string
	Dim    int
}

// NewClient connects to Qdrant over gRPC.
func NewClient(cfg Config) (*qdrant.Client, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}
	return client, nil
}

// Versions manages one collection per snapshot version.
type Versions struct {
	api    api
	prefix string
	dim    int
}

func NewVersions(client *qdrant.Client, cfg Config) *Versions {
	return newVersions(client, cfg)
}

func newVersions(a api, cfg Config) *Versions {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Versions{api: a, prefix: prefix, dim: cfg.Dim}
}

func (v *Versions) collection(version string) string {
	return v.prefix + "_" + strings.ToLower(version)
}

func (v *Versions) Open(ctx context.Context, version string) (vectorstore.Store, error) {
	if version == "" {
		return nil, fmt.Errorf("snapshot version is empty")
	}
	if v.dim <= 0 {
		return nil, common.InvalidConfig("qdrant vector dimension must be positive, got %d", v.dim)
	}
	name := v.collection(version)

	exists, err := v.api.CollectionExists(ctx, name)
	if err != nil {
		return nil, common.StoreError("qdrant collection exists", err)
	}
	if !exists {
		err = v.api.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: name,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(v.dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, common.StoreError("qdrant create collection", err)
		}
		_, err = v.api.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			FieldName:      payloadCommunityID,
			FieldType:      qdrant.FieldType_FieldTypeInteger.Enum(),
		})
		if err != nil {
			return nil, common.StoreError("qdrant community index", err)
		}
		logger.Debug("[Vectors][Open] Created qdrant collection", "collection", name, "dim", v.dim)
	}
	return &Store{api: v.api, collection: name}, nil
}

func (v *Versions) Drop(ctx context.Context, version string) error {
	name := v.collection(version)
	exists, err := v.api.CollectionExists(ctx, name)
	if err != nil {
		return common.StoreError("qdrant collection exists", err)
	}
	if !exists {
		return nil
	}
	if err := v.api.DeleteCollection(ctx, name); err != nil {
		return common.StoreError("qdrant delete collection", err)
	}
	logger.Debug("[Vectors][Drop] Deleted qdrant collection", "collection", name)
	return nil
}

// Store is one snapshot collection.
type Store struct {
	api        api
	collection string
}

func (s *Store) Upsert(ctx context.Context, points ...vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("vector id is empty")
		}
		structs = append(structs, &qdrant.PointStruct{
			Id:      pointID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(payload(p)),
		})
	}
	_, err := s.api.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         structs,
	})
	return common.StoreError("qdrant upsert", err)
}

func (s *Store) Vector(ctx context.Context, id string) ([]float32, error) {
	points, err := s.api.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{pointID(id)},
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, common.StoreError("qdrant get", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %q", vectorstore.ErrNotFound, id)
	}
	out := points[0].GetVectors().GetVector()
	if dense := out.GetDense(); dense != nil {
		return dense.GetData(), nil
	}
	return out.GetData(), nil
}

func (s *Store) QueryNearest(ctx context.Context, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	limit := uint64(max(k, 0))
	if k <= 0 || filter.Allow != nil {
		n, err := s.api.Count(ctx, &qdrant.CountPoints{CollectionName: s.collection, Exact: qdrant.PtrOf(true)})
		if err != nil {
			return nil, common.StoreError("qdrant count", err)
		}
		limit = max(limit, n)
	}
	if limit == 0 {
		return []vectorstore.Match{}, nil
	}

	req := &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         buildFilter(filter),
		Limit:          qdrant.PtrOf(limit),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter.MaxDistance != nil {
		req.ScoreThreshold = qdrant.PtrOf(float32(1 - *filter.MaxDistance))
	}
	scored, err := s.api.Query(ctx, req)
	if err != nil {
		return nil, common.StoreError("qdrant query", err)
	}
	matches := toMatches(scored, filter)
	vectorstore.SortMatches(matches)
	return vectorstore.Truncate(matches, k), nil
}

// SetCommunities writes the community payload, one request per community.
func (s *Store) SetCommunities(ctx context.Context, communities map[string]int64) error {
	members := make(map[int64][]*qdrant.PointId)
	for id, c := range communities {
		members[c] = append(members[c], pointID(id))
	}
	for c, ids := range members {
		_, err := s.api.SetPayload(ctx, &qdrant.SetPayloadPoints{
			CollectionName: s.collection,
			Wait:           qdrant.PtrOf(true),
			Payload:        qdrant.NewValueMap(map[string]any{payloadCommunityID: c}),
			PointsSelector: qdrant.NewPointsSelector(ids...),
		})
		if err != nil {
			return common.StoreError("qdrant set payload", err)
		}
	}
	return nil
}

func pointID(entityID string) *qdrant.PointId {
	return qdrant.NewID(uuid.NewSHA1(namespace, []byte(entityID)).String())
}

func payload(p vectorstore.Point) map[string]any {
	m := map[string]any{payloadEntityID: p.ID}
	if p.CommunityID != nil {
		m[payloadCommunityID] = *p.CommunityID
	}
	return m
}

func buildFilter(f vectorstore.Filter) *qdrant.Filter {
	var must, mustNot []*qdrant.Condition
	if f.CommunityID != nil {
		must = append(must, qdrant.NewMatchInt(payloadCommunityID, *f.CommunityID))
	}
	if len(f.ExcludeIDs) > 0 {
		ids := make([]*qdrant.PointId, 0, len(f.ExcludeIDs))
		for _, id := range f.ExcludeIDs {
			ids = append(ids, pointID(id))
		}
		mustNot = append(mustNot, qdrant.NewHasID(ids...))
	}
	if len(must) == 0 && len(mustNot) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must, MustNot: mustNot}
}

// toMatches converts cosine scores to distances and applies the in-process
// part of the filter.
func toMatches(scored []*qdrant.ScoredPoint, f vectorstore.Filter) []vectorstore.Match {
	out := make([]vectorstore.Match, 0, len(scored))
	for _, p := range scored {
		id := p.GetPayload()[payloadEntityID].GetStringValue()
		if id == "" {
			continue
		}
		m := vectorstore.Match{ID: id, Distance: 1 - float64(p.GetScore())}
		if !f.Accept(m) {
			continue
		}
		out = append(out, m)
	}
	return out
}
