package server

import (
	"github.com/OFFIS-RIT/peerscope/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/peerscope/backend/internal/server/routes"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/engine"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, metrics *engine.Metrics) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})
	if metrics != nil {
		e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	}

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Query routes
	apiRoutes.GET("/entities/:id/similar", routes.GetSimilarHandler)
	apiRoutes.GET("/entities/:id/anomalies", routes.GetAnomaliesHandler)
	apiRoutes.GET("/snapshot", routes.GetSnapshotHandler)
	apiRoutes.GET("/schemas/:name", routes.GetSchemaHandler)

	// Batch routes
	apiRoutes.POST("/jobs/:kind", routes.RunJobHandler, middleware.RequirePermission(middleware.PermissionBatchRun))
	apiRoutes.GET("/reports/:kind", routes.ListReportsHandler,
		middleware.RequireAnyPermission(middleware.PermissionReportsView, middleware.PermissionBatchRun))
	apiRoutes.GET("/reports/:kind/:version", routes.GetReportHandler,
		middleware.RequireAnyPermission(middleware.PermissionReportsView, middleware.PermissionBatchRun))
}
