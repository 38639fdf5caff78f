// Package postgres stores snapshot vectors in a Postgres table with the
// pgvector extension. Every snapshot version is a set of rows keyed by
// snapshot_version, so an old version stays queryable until it is dropped.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

const DefaultTable = "entity_vectors"

type dbConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Versions opens per-version views onto a single vector table.
type Versions struct {
	db    dbConn
	table string
}

// NewVersions uses table, or DefaultTable when empty. The pool must have the
// pgvector types registered.
func NewVersions(db dbConn, table string) *Versions {
	if table == "" {
		table = DefaultTable
	}
	return &Versions{db: db, table: table}
}

func (v *Versions) Open(_ context.Context, version string) (vectorstore.Store, error) {
	if version == "" {
		return nil, fmt.Errorf("snapshot version is empty")
	}
	return &Store{db: v.db, table: pq.QuoteIdentifier(v.table), version: version}, nil
}

func (v *Versions) Drop(ctx context.Context, version string) error {
	sql := fmt.Sprintf("DELETE FROM %s WHERE snapshot_version = $1", pq.QuoteIdentifier(v.table))
	tag, err := v.db.Exec(ctx, sql, version)
	if err != nil {
		return common.StoreError("drop vector version", err)
	}
	logger.Debug("[Vectors][Drop] Dropped snapshot vectors", "version", version, "rows", tag.RowsAffected())
	return nil
}

// Store is the view of one snapshot version.
type Store struct {
	db      dbConn
	table   string
	version string
}

func (s *Store) Upsert(ctx context.Context, points ...vectorstore.Point) error {
	if len(points) == 0 {
		return nil
	}
	ids := make([]string, 0, len(points))
	embeddings := make([]pgvector.Vector, 0, len(points))
	communities := make([]*int64, 0, len(points))
	for _, p := range points {
		if p.ID == "" {
			return fmt.Errorf("vector id is empty")
		}
		ids = append(ids, p.ID)
		embeddings = append(embeddings, pgvector.NewVector(p.Vector))
		communities = append(communities, p.CommunityID)
	}

	sql := fmt.Sprintf(`
		INSERT INTO %s (snapshot_version, entity_id, embedding, community_id)
		SELECT $1, u.entity_id, u.embedding, u.community_id
		FROM unnest($2::text[], $3::vector[], $4::bigint[]) AS u(entity_id, embedding, community_id)
		ON CONFLICT (snapshot_version, entity_id) DO UPDATE
		SET embedding = EXCLUDED.embedding, community_id = EXCLUDED.community_id`, s.table)
	if _, err := s.db.Exec(ctx, sql, s.version, ids, embeddings, communities); err != nil {
		return common.StoreError("upsert vectors", err)
	}
	return nil
}

func (s *Store) Vector(ctx context.Context, id string) ([]float32, error) {
	sql := fmt.Sprintf("SELECT embedding FROM %s WHERE snapshot_version = $1 AND entity_id = $2", s.table)
	var v pgvector.Vector
	if err := s.db.QueryRow(ctx, sql, s.version, id).Scan(&v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", vectorstore.ErrNotFound, id)
		}
		return nil, common.StoreError("get vector", err)
	}
	return v.Slice(), nil
}

func (s *Store) QueryNearest(ctx context.Context, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	sql, args := s.nearestQuery(vector, k, filter)
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, common.StoreError("query nearest", err)
	}
	defer rows.Close()

	matches := make([]vectorstore.Match, 0)
	for rows.Next() {
		var m vectorstore.Match
		if err := rows.Scan(&m.ID, &m.Distance); err != nil {
			return nil, common.StoreError("scan nearest", err)
		}
		if filter.Allow != nil && !filter.Allow(m.ID) {
			continue
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, common.StoreError("query nearest", err)
	}
	return vectorstore.Truncate(matches, k), nil
}

// nearestQuery builds the ordered distance query. The limit is only pushed
// down when no in-process predicate has to run first.
func (s *Store) nearestQuery(vector []float32, k int, filter vectorstore.Filter) (string, []any) {
	args := []any{s.version, pgvector.NewVector(vector)}
	where := []string{"snapshot_version = $1"}

	if filter.CommunityID != nil {
		args = append(args, *filter.CommunityID)
		where = append(where, fmt.Sprintf("community_id = $%d", len(args)))
	}
	if len(filter.ExcludeIDs) > 0 {
		args = append(args, filter.ExcludeIDs)
		where = append(where, fmt.Sprintf("NOT (entity_id = ANY($%d))", len(args)))
	}
	if filter.MaxDistance != nil {
		args = append(args, *filter.MaxDistance)
		where = append(where, fmt.Sprintf("embedding <=> $2 <= $%d", len(args)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT entity_id, embedding <=> $2 AS distance FROM %s WHERE %s ORDER BY distance, entity_id",
		s.table, strings.Join(where, " AND "))
	if k > 0 && filter.Allow == nil {
		args = append(args, k)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	return b.String(), args
}

func (s *Store) SetCommunities(ctx context.Context, communities map[string]int64) error {
	ids := make([]string, 0, len(communities))
	values := make([]int64, 0, len(communities))
	for id, c := range communities {
		ids = append(ids, id)
		values = append(values, c)
	}

	clearSQL := fmt.Sprintf("UPDATE %s SET community_id = NULL WHERE snapshot_version = $1", s.table)
	set := fmt.Sprintf(`
		UPDATE %s AS t SET community_id = u.community_id
		FROM unnest($2::text[], $3::bigint[]) AS u(entity_id, community_id)
		WHERE t.snapshot_version = $1 AND t.entity_id = u.entity_id`, s.table)

	if _, err := s.db.Exec(ctx, clearSQL, s.version); err != nil {
		return common.StoreError("clear vector communities", err)
	}
	if _, err := s.db.Exec(ctx, set, s.version, ids, values); err != nil {
		return common.StoreError("set vector communities", err)
	}
	return nil
}
