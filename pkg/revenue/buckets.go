// Package revenue ranks entities by USD revenue into percentile buckets.
package revenue

import (
	"math"
	"sort"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
)

const (
	MinBucket = 1
	MaxBucket = 100
)

// ComputeBuckets assigns every entity with a known, finite USD revenue the
// bucket ceil(100 * rank / count), where rank is the 1-based position after
// sorting by revenue ascending and then by id. Entities without revenue are
// left out of the result.
func ComputeBuckets(entities []common.Entity) map[string]int {
	type ranked struct {
		id      string
		revenue float64
	}
	rows := make([]ranked, 0, len(entities))
	for i := range entities {
		r := entities[i].RevenueUSD
		if r == nil || math.IsNaN(*r) || math.IsInf(*r, 0) {
			continue
		}
		rows = append(rows, ranked{id: entities[i].ID, revenue: *r})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].revenue != rows[j].revenue {
			return rows[i].revenue < rows[j].revenue
		}
		return rows[i].id < rows[j].id
	})

	out := make(map[string]int, len(rows))
	count := len(rows)
	for i, row := range rows {
		out[row.id] = Bucket(i+1, count)
	}
	return out
}

// Bucket returns the percentile bucket of a 1-based rank within count entities.
func Bucket(rank, count int) int {
	if count <= 0 {
		return MinBucket
	}
	b := (MaxBucket*rank + count - 1) / count
	return max(MinBucket, min(MaxBucket, b))
}

// Cleared returns the ids that currently hold a bucket but are absent from
// next, i.e. the buckets a recompute will clear.
func Cleared(current map[string]int, next map[string]int) []string {
	var out []string
	for id := range current {
		if _, ok := next[id]; !ok {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
