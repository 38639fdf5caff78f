package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/peerscope/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/engine"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/similarity"

	"github.com/labstack/echo/v4"
)

// GetSimilarHandler ranks the entities most similar to :id.
func GetSimilarHandler(c echo.Context) error {
	type similarParams struct {
		ID              string  `param:"id" validate:"required"`
		Threshold       float64 `query:"threshold" validate:"min=0,max=1"`
		MaxResults      int     `query:"max_results" validate:"min=1"`
		FilterCommunity bool    `query:"filter_community"`
		Industry        string  `query:"industry"`
		EmbeddingWeight float64 `query:"embedding_weight" validate:"min=0,max=1"`
		RevenueWeight   float64 `query:"revenue_weight" validate:"min=0,max=1"`
	}

	eng := c.(*middleware.AppContext).App.Engine
	scorer := eng.Config().Scorer

	data := &similarParams{
		Threshold:       engine.DefaultSimilarityThreshold,
		MaxResults:      engine.DefaultSimilarPeers,
		EmbeddingWeight: scorer.EmbeddingWeight,
		RevenueWeight:   scorer.RevenueWeight,
	}
	if err := c.Bind(data); err != nil {
		return badRequest(c)
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c)
	}

	page, err := eng.FindSimilar(c.Request().Context(), engine.SimilarQuery{
		TargetID:        data.ID,
		Threshold:       data.Threshold,
		MaxResults:      data.MaxResults,
		FilterCommunity: data.FilterCommunity,
		Industry:        data.Industry,
		Scorer: &similarity.Scorer{
			EmbeddingWeight: data.EmbeddingWeight,
			RevenueWeight:   data.RevenueWeight,
		},
	})
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, page)
}
