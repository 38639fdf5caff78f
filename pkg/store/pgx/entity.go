package pgx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"
	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const selectEntity = `
	SELECT id, jurisdiction, name, COALESCE(industry_code, ''), COALESCE(description, ''),
	       %s, revenue_usd, revenue_bucket, community_id
	FROM entities`

func entityQuery(withEmbedding bool, where string) string {
	col := "NULL::vector"
	if withEmbedding {
		col = "embedding"
	}
	q := fmt.Sprintf(selectEntity, col)
	if where != "" {
		q += " WHERE " + where
	}
	return q
}

func scanEntity(row pgxv5.Row) (common.Entity, error) {
	var (
		e          common.Entity
		embedding  *pgvector.Vector
		bucket     *int32
		revenueUSD *float64
		community  *int64
	)
	err := row.Scan(
		&e.ID, &e.Jurisdiction, &e.Name, &e.IndustryCode, &e.Description,
		&embedding, &revenueUSD, &bucket, &community,
	)
	if err != nil {
		return e, err
	}
	if embedding != nil {
		e.Embedding = embedding.Slice()
	}
	if bucket != nil {
		e.RevenueBucket = common.Ptr(int(*bucket))
	}
	e.RevenueUSD = revenueUSD
	e.CommunityID = community
	return e, nil
}

func (s *EntityDBStorage) Get(ctx context.Context, id string) (*common.Entity, error) {
	e, err := scanEntity(s.conn.QueryRow(ctx, entityQuery(true, "id = $1"), id))
	if err != nil {
		if errors.Is(err, pgxv5.ErrNoRows) {
			return nil, common.NotFound(id)
		}
		return nil, common.StoreError("get entity", err)
	}
	return &e, nil
}

func (s *EntityDBStorage) list(ctx context.Context, op string, sql string, args ...any) ([]common.Entity, error) {
	rows, err := s.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, common.StoreError(op, err)
	}
	defer rows.Close()

	out := make([]common.Entity, 0)
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, common.StoreError(op, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, common.StoreError(op, err)
	}
	return out, nil
}

func (s *EntityDBStorage) ListWithEmbeddings(ctx context.Context) ([]common.Entity, error) {
	return s.list(ctx, "list entities with embeddings",
		entityQuery(true, "embedding IS NOT NULL")+" ORDER BY id")
}

func (s *EntityDBStorage) ListWithUSDRevenue(ctx context.Context) ([]common.Entity, error) {
	return s.list(ctx, "list entities with revenue",
		entityQuery(false, "revenue_usd IS NOT NULL AND revenue_usd = revenue_usd")+" ORDER BY id")
}

func (s *EntityDBStorage) ListMissingEmbeddings(ctx context.Context, limit int) ([]common.Entity, error) {
	if limit <= 0 {
		limit = 1000
	}
	return s.list(ctx, "list entities without embeddings",
		entityQuery(false, "embedding IS NULL AND COALESCE(description, '') <> ''")+" ORDER BY id LIMIT $1", limit)
}

// SaveDerived writes the non-nil fields of derived onto one entity.
func (s *EntityDBStorage) SaveDerived(ctx context.Context, id string, derived common.Derived) error {
	sql, args := derivedUpdate(id, derived)
	if sql == "" {
		return nil
	}
	tag, err := s.conn.Exec(ctx, sql, args...)
	if err != nil {
		return common.StoreError("save derived", err)
	}
	if tag.RowsAffected() == 0 {
		return common.NotFound(id)
	}
	return nil
}

func derivedUpdate(id string, derived common.Derived) (string, []any) {
	args := []any{id}
	var set []string
	if derived.CommunityID != nil {
		args = append(args, *derived.CommunityID)
		set = append(set, fmt.Sprintf("community_id = $%d", len(args)))
	}
	if derived.RevenueBucket != nil {
		args = append(args, *derived.RevenueBucket)
		set = append(set, fmt.Sprintf("revenue_bucket = $%d", len(args)))
	}
	if len(set) == 0 {
		return "", nil
	}
	set = append(set, "updated_at = now()")
	return "UPDATE entities SET " + strings.Join(set, ", ") + " WHERE id = $1", args
}

func (s *EntityDBStorage) ReplaceCommunities(ctx context.Context, communities map[string]int64) error {
	ids, values := sortedPairs(communities)
	return replaceColumn(ctx, s, "community_id", "bigint", ids, values)
}

func (s *EntityDBStorage) ReplaceRevenueBuckets(ctx context.Context, buckets map[string]int) error {
	ids, values := sortedPairs(buckets)
	return replaceColumn(ctx, s, "revenue_bucket", "int", ids, values)
}

// replaceColumn clears column for the whole population and sets the given
// values, all in one transaction.
func replaceColumn[V any](
	ctx context.Context,
	s *EntityDBStorage,
	column, pgType string,
	ids []string,
	values []V,
) error {
	op := "replace " + column
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return common.StoreError(op, err)
	}
	defer tx.Rollback(ctx)

	clearSQL := fmt.Sprintf("UPDATE entities SET %[1]s = NULL, updated_at = now() WHERE %[1]s IS NOT NULL", column)
	if _, err := tx.Exec(ctx, clearSQL); err != nil {
		return common.StoreError(op, err)
	}

	setSQL := fmt.Sprintf(`
		UPDATE entities AS e SET %[1]s = u.value, updated_at = now()
		FROM unnest($1::text[], $2::%[2]s[]) AS u(id, value)
		WHERE e.id = u.id`, column, pgType)
	for start := 0; start < len(ids); start += s.chunkSize {
		end := min(start+s.chunkSize, len(ids))
		logger.Debug("[Store][Replace] Writing chunk", "column", column, "from", start, "to", end)
		if _, err := tx.Exec(ctx, setSQL, ids[start:end], values[start:end]); err != nil {
			return common.StoreError(op, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return common.StoreError(op, err)
	}
	return nil
}

func (s *EntityDBStorage) SaveEmbeddings(ctx context.Context, embeddings map[string][]float32) error {
	ids := make([]string, 0, len(embeddings))
	for id := range embeddings {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	const sql = `
		UPDATE entities AS e SET embedding = u.embedding, updated_at = now()
		FROM unnest($1::text[], $2::vector[]) AS u(id, embedding)
		WHERE e.id = u.id`
	for chunk := range slices.Chunk(ids, s.chunkSize) {
		vectors := make([]pgvector.Vector, 0, len(chunk))
		for _, id := range chunk {
			vectors = append(vectors, pgvector.NewVector(embeddings[id]))
		}
		if _, err := s.conn.Exec(ctx, sql, chunk, vectors); err != nil {
			return common.StoreError("save embeddings", err)
		}
	}
	return nil
}

func sortedPairs[V any](m map[string]V) ([]string, []V) {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	values := make([]V, len(ids))
	for i, id := range ids {
		values[i] = m[id]
	}
	return ids, values
}
