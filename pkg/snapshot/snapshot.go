// Package snapshot holds the published, immutable view of the batch-derived
// state that per-request operations read from.
package snapshot

import (
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/vectorstore"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Snapshot is never modified after publication. Maps must be treated as
// read-only by every reader.
type Snapshot struct {
	Version   string
	Seq       uint64
	CreatedAt time.Time

	// Index holds the vectors of every member; IndexVersion names it in
	// the vector backend.
	Index        vectorstore.Store
	IndexVersion string

	// Members are the ids present in Index.
	Members     map[string]struct{}
	Communities map[string]int64
	Buckets     map[string]int
	Industries  map[string]string
}

// Size returns the number of indexed entities.
func (s *Snapshot) Size() int {
	return len(s.Members)
}

// Has reports whether id is indexed in this snapshot.
func (s *Snapshot) Has(id string) bool {
	_, ok := s.Members[id]
	return ok
}

// Community returns the community of id, or nil.
func (s *Snapshot) Community(id string) *int64 {
	if c, ok := s.Communities[id]; ok {
		return common.Ptr(c)
	}
	return nil
}

// Bucket returns the revenue bucket of id, or nil.
func (s *Snapshot) Bucket(id string) *int {
	if b, ok := s.Buckets[id]; ok {
		return common.Ptr(b)
	}
	return nil
}

// CommunityMembers returns the indexed ids that belong to community c.
func (s *Snapshot) CommunityMembers(c int64) []string {
	var out []string
	for id, cid := range s.Communities {
		if cid == c {
			out = append(out, id)
		}
	}
	return out
}

func (s *Snapshot) clone() *Snapshot {
	next := *s
	return &next
}

// Holder publishes snapshots atomically. Readers never block; publishers
// are serialized so that independent batch kinds can each replace their
// own fields without losing the other's.
type Holder struct {
	current atomic.Pointer[Snapshot]
	mu      sync.Mutex
}

// NewHolder starts with an empty snapshot backed by index.
func NewHolder(index vectorstore.Store, indexVersion string) *Holder {
	h := &Holder{}
	h.current.Store(&Snapshot{
		Version:      "empty",
		CreatedAt:    time.Now(),
		Index:        index,
		IndexVersion: indexVersion,
		Members:      map[string]struct{}{},
		Communities:  map[string]int64{},
		Buckets:      map[string]int{},
		Industries:   map[string]string{},
	})
	return h
}

// Current returns the latest published snapshot.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Update builds the next snapshot from a copy of the current one and
// publishes it if fn succeeds. fn must replace, not mutate, the maps it
// changes. On error nothing is published.
func (h *Holder) Update(fn func(next *Snapshot) error) (*Snapshot, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.current.Load()
	next := prev.clone()
	if err := fn(next); err != nil {
		return nil, err
	}

	version, err := NewVersion()
	if err != nil {
		return nil, err
	}
	next.Version = version
	next.Seq = prev.Seq + 1
	next.CreatedAt = time.Now()

	h.current.Store(next)
	return next, nil
}

// NewVersion returns a fresh version token.
func NewVersion() (string, error) {
	id, err := gonanoid.Generate("0123456789abcdefghijklmnopqrstuvwxyz", 16)
	if err != nil {
		return "", fmt.Errorf("failed to generate snapshot version: %w", err)
	}
	return id, nil
}

// CopyMap returns a shallow copy of m that a publisher may modify.
func CopyMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	maps.Copy(out, m)
	return out
}
