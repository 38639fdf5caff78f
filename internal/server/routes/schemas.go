package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/ai"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"

	"github.com/labstack/echo/v4"
)

var schemaTypes = map[string]any{
	"similarity_page": common.SimilarityPage{},
	"anomaly_report":  common.AnomalyReport{},
	"run_report":      common.RunReport{},
	"bucket_report":   common.BucketReport{},
	"embed_report":    common.EmbedReport{},
	"snapshot":        snapshotResponse{},
}

// GetSchemaHandler publishes the JSON Schema of a response type.
func GetSchemaHandler(c echo.Context) error {
	value, ok := schemaTypes[c.Param("name")]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Unknown schema"})
	}
	return c.JSON(http.StatusOK, ai.GenerateSchema(value))
}
