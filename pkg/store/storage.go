package store

import (
	"context"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
)

// EntityRepository persists entities and their batch-derived attributes.
// Implementations return common.ErrEntityNotFound for unknown ids and wrap
// backend failures as common.ErrStoreUnavailable.
type EntityRepository interface {
	Get(ctx context.Context, id string) (*common.Entity, error)
	// ListWithEmbeddings returns every entity with a stored embedding,
	// ordered by id, including its current derived attributes.
	ListWithEmbeddings(ctx context.Context) ([]common.Entity, error)
	// ListWithUSDRevenue returns every entity with a known USD revenue,
	// ordered by id. Embeddings are not loaded.
	ListWithUSDRevenue(ctx context.Context) ([]common.Entity, error)

	SaveDerived(ctx context.Context, id string, derived common.Derived) error
	// ReplaceCommunities clears the community of every entity and assigns
	// the given ones in a single transaction.
	ReplaceCommunities(ctx context.Context, communities map[string]int64) error
	// ReplaceRevenueBuckets clears the bucket of every entity and assigns
	// the given ones in a single transaction.
	ReplaceRevenueBuckets(ctx context.Context, buckets map[string]int) error

	// ListMissingEmbeddings returns up to limit entities that have a
	// description but no embedding.
	ListMissingEmbeddings(ctx context.Context, limit int) ([]common.Entity, error)
	SaveEmbeddings(ctx context.Context, embeddings map[string][]float32) error
}

// TagQuery selects the filing whose reporting tags are returned. A nil
// FiscalYear selects the latest fiscal year recorded for the form type; an
// empty FilingPeriod matches every period.
type TagQuery struct {
	FormType     string
	FiscalYear   *int
	FilingPeriod string
}

// TagRepository reads reporting-tag sets.
type TagRepository interface {
	// GetTags returns the distinct tags of the selected filing, sorted. An
	// entity without a matching filing yields an empty slice.
	GetTags(ctx context.Context, entityID string, q TagQuery) ([]string, error)
}
