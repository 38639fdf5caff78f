package routes

import (
	"net/http"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

type snapshotResponse struct {
	Version      string    `json:"version"`
	Seq          uint64    `json:"seq"`
	PublishedAt  time.Time `json:"published_at"`
	IndexVersion string    `json:"index_version,omitempty"`
	Entities     int       `json:"entities"`
	Communities  int       `json:"communities"`
	Assigned     int       `json:"community_members"`
	Buckets      int       `json:"revenue_buckets"`
}

// GetSnapshotHandler describes the currently published snapshot.
func GetSnapshotHandler(c echo.Context) error {
	snap := c.(*middleware.AppContext).App.Engine.Snapshot()

	distinct := make(map[int64]struct{}, len(snap.Communities))
	for _, cid := range snap.Communities {
		distinct[cid] = struct{}{}
	}

	return c.JSON(http.StatusOK, snapshotResponse{
		Version:      snap.Version,
		Seq:          snap.Seq,
		PublishedAt:  snap.CreatedAt,
		IndexVersion: snap.IndexVersion,
		Entities:     snap.Size(),
		Communities:  len(distinct),
		Assigned:     len(snap.Communities),
		Buckets:      len(snap.Buckets),
	})
}
