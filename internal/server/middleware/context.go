package middleware

import (
	"context"

	"github.com/OFFIS-RIT/peerscope/backend/pkg/engine"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"
)

type AppUser struct {
	UserID      int32
	Role        string
	Permissions []string
}

// Publisher is the part of an AMQP channel the job routes need.
type Publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
}

// ReportReader serves archived run reports.
type ReportReader interface {
	Get(ctx context.Context, kind, version string) ([]byte, error)
	List(ctx context.Context, kind string) ([]string, error)
}

type App struct {
	Engine *engine.Engine
	// Queue is nil when no broker is configured; jobs then only run inline.
	Queue   Publisher
	Reports ReportReader
	// Keyfunc verifies bearer JWTs. Nil disables JWT auth.
	Keyfunc        jwt.Keyfunc
	MasterAPIKey   string
	MasterUserID   int32
	MasterUserRole string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
