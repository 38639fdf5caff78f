package routes

import (
	"net/http"

	"github.com/OFFIS-RIT/peerscope/backend/internal/queue"
	"github.com/OFFIS-RIT/peerscope/backend/internal/server/middleware"

	"github.com/labstack/echo/v4"
)

type jobResponse struct {
	Message       string `json:"message"`
	Kind          string `json:"kind"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Queue         string `json:"queue,omitempty"`
	Report        any    `json:"report,omitempty"`
}

// RunJobHandler enqueues a batch job, or runs it inline with ?sync=true or
// when no broker is configured.
func RunJobHandler(c echo.Context) error {
	type jobParams struct {
		Kind  string `param:"kind" validate:"required,oneof=communities revenue embed"`
		Sync  bool   `query:"sync"`
		Wait  bool   `query:"wait"`
		Limit int    `query:"limit" validate:"min=0"`
	}

	data := new(jobParams)
	if err := (&echo.DefaultBinder{}).BindPathParams(c, data); err != nil {
		return badRequest(c)
	}
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, data); err != nil {
		return badRequest(c)
	}
	if err := c.Validate(data); err != nil {
		return badRequest(c)
	}

	cc := c.(*middleware.AppContext)
	msg := queue.JobMsg{
		Kind:        data.Kind,
		Limit:       data.Limit,
		Wait:        data.Wait,
		RequestedBy: cc.User.UserID,
	}

	if data.Sync || cc.App.Queue == nil {
		report, err := queue.RunJob(c.Request().Context(), cc.App.Engine, msg)
		if err != nil {
			return errorResponse(c, err)
		}
		return c.JSON(http.StatusOK, jobResponse{
			Message: "Job completed",
			Kind:    data.Kind,
			Report:  report,
		})
	}

	queueName, err := queue.QueueFor(data.Kind)
	if err != nil {
		return errorResponse(c, err)
	}
	id, err := queue.Enqueue(c.Request().Context(), cc.App.Queue, msg)
	if err != nil {
		return errorResponse(c, err)
	}
	return c.JSON(http.StatusAccepted, jobResponse{
		Message:       "Job queued",
		Kind:          data.Kind,
		CorrelationID: id,
		Queue:         queueName,
	})
}
