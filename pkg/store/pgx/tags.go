package pgx

import (
	"context"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/store"
)

const selectTags = `
	SELECT DISTINCT tag FROM entity_tags
	WHERE entity_id = $1
	  AND form_type = $2
	  AND fiscal_year = COALESCE($3::int, (
	      SELECT max(fiscal_year) FROM entity_tags WHERE entity_id = $1 AND form_type = $2))
	  AND ($4 = '' OR filing_period = $4)
	ORDER BY tag`

func (s *EntityDBStorage) GetTags(ctx context.Context, entityID string, q store.TagQuery) ([]string, error) {
	rows, err := s.conn.Query(ctx, selectTags, entityID, q.FormType, q.FiscalYear, q.FilingPeriod)
	if err != nil {
		return nil, common.StoreError("get tags", err)
	}
	defer rows.Close()

	tags := make([]string, 0)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, common.StoreError("scan tags", err)
		}
		tags = append(tags, tag)
	}
	if err := rows.Err(); err != nil {
		return nil, common.StoreError("get tags", err)
	}
	return tags, nil
}
