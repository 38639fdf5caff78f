package routes

import (
	"net/http"
	"strings"

	"github.com/OFFIS-RIT/peerscope/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/engine"

	"github.com/labstack/echo/v4"
)

// GetAnomaliesHandler compares the reporting tags of :id with its peers.
func GetAnomaliesHandler(c echo.Context) error {
	type anomalyParams struct {
		ID           string `param:"id" validate:"required"`
		FormType     string `query:"form_type" validate:"required"`
		FiscalYear   int    `query:"fiscal_year" validate:"min=0"`
		FilingPeriod string `query:"filing_period"`

		Scope               string  `query:"scope" validate:"oneof=community similar segment"`
		Peers               string  `query:"peers"`
		NPeers              int     `query:"n_peers" validate:"min=1"`
		SimilarityThreshold float64 `query:"similarity_threshold" validate:"min=0,max=1"`
		FilterCommunity     bool    `query:"filter_community"`

		CommonFraction      float64 `query:"common_fraction" validate:"min=0,max=1"`
		RareFraction        float64 `query:"rare_fraction" validate:"min=0,max=1"`
		MinPeers            int     `query:"min_peers" validate:"min=1"`
		ConfidenceIntervals bool    `query:"confidence_intervals"`
		ConfidenceLevel     float64 `query:"confidence_level" validate:"gt=0,lt=1"`
		MaxTags             int     `query:"max_tags" validate:"min=0"`
	}

	eng := c.(*middleware.AppContext).App.Engine
	defaults := eng.Config().Anomaly

	data := &anomalyParams{
		Scope:               string(engine.ScopeCommunity),
		NPeers:              engine.DefaultSimilarPeers,
		SimilarityThreshold: engine.DefaultSimilarityThreshold,
		CommonFraction:      defaults.CommonFraction,
		RareFraction:        defaults.RareFraction,
		MinPeers:            defaults.MinPeers,
		ConfidenceIntervals: defaults.UseConfidenceIntervals,
		ConfidenceLevel:     defaults.ConfidenceLevel,
		MaxTags:             defaults.MaxTags,
	}
	if err := c.Bind(data); err != nil {
		return badRequest(c)
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c)
	}

	opts := defaults
	opts.CommonFraction = data.CommonFraction
	opts.RareFraction = data.RareFraction
	opts.MinPeers = data.MinPeers
	opts.UseConfidenceIntervals = data.ConfidenceIntervals
	opts.ConfidenceLevel = data.ConfidenceLevel
	opts.MaxTags = data.MaxTags

	q := engine.AnomalyQuery{
		TargetID:            data.ID,
		FormType:            data.FormType,
		FilingPeriod:        data.FilingPeriod,
		Scope:               engine.PeerScope(data.Scope),
		Segment:             splitIDs(data.Peers),
		NPeers:              data.NPeers,
		SimilarityThreshold: common.Ptr(data.SimilarityThreshold),
		FilterCommunity:     data.FilterCommunity,
		Options:             &opts,
	}
	if data.FiscalYear > 0 {
		q.FiscalYear = common.Ptr(data.FiscalYear)
	}

	report, err := eng.DetectAnomalies(c.Request().Context(), q)
	if err != nil {
		return errorResponse(c, err)
	}

	return c.JSON(http.StatusOK, report)
}

func splitIDs(raw string) []string {
	var ids []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
