package routes

import (
	"errors"
	"net/http"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/common"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"

	"github.com/labstack/echo/v4"
)

// ErrorStatus maps an engine error kind to its HTTP status.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, common.ErrEntityNotFound), errors.Is(err, common.ErrNoTagSet):
		return http.StatusNotFound
	case errors.Is(err, common.ErrMissingEmbedding), errors.Is(err, common.ErrInsufficientPeers):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrInvalidConfiguration), errors.Is(err, common.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, common.ErrBatchInProgress):
		return http.StatusConflict
	case errors.Is(err, common.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func errorResponse(c echo.Context, err error) error {
	status := ErrorStatus(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		logger.Error("[Server] Request failed", "path", c.Path(), "status", status, "err", err)
		if status == http.StatusInternalServerError {
			msg = "Internal server error"
		}
	}
	return c.JSON(status, map[string]string{"error": msg})
}

func badRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request params"})
}
