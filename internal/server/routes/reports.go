package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/peerscope/backend/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

func archiveDisabled(c echo.Context) error {
	return c.JSON(http.StatusNotFound, map[string]string{"error": "Report archive is not configured"})
}

// ListReportsHandler lists the archived run versions of :kind.
func ListReportsHandler(c echo.Context) error {
	reports := c.(*middleware.AppContext).App.Reports
	if reports == nil {
		return archiveDisabled(c)
	}
	kind := c.Param("kind")

	versions, err := reports.List(c.Request().Context(), kind)
	if err != nil {
		return errorResponse(c, err)
	}
	if versions == nil {
		versions = []string{}
	}
	return c.JSON(http.StatusOK, map[string]any{"kind": kind, "versions": versions})
}

// GetReportHandler returns one archived run report as stored.
func GetReportHandler(c echo.Context) error {
	reports := c.(*middleware.AppContext).App.Reports
	if reports == nil {
		return archiveDisabled(c)
	}

	raw, err := reports.Get(c.Request().Context(), c.Param("kind"), c.Param("version"))
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSONBlob(http.StatusOK, raw)
}
