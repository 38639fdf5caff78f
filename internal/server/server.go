package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/peerscope/backend/internal/app"
	"github.com/OFFIS-RIT/peerscope/backend/internal/config"
	"github.com/OFFIS-RIT/peerscope/backend/internal/database"
	"github.com/OFFIS-RIT/peerscope/backend/internal/queue"
	mid "github.com/OFFIS-RIT/peerscope/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/engine"
	"github.com/OFFIS-RIT/peerscope/backend/pkg/logger"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New builds the echo instance serving application.
func New(application *mid.App, metrics *engine.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(application))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e, metrics)
	return e
}

// Init runs the HTTP server until SIGINT or SIGTERM.
func Init(cfg config.Config) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DatabaseURL != "" {
		if err := database.Migrate(cfg.DatabaseURL); err != nil {
			logger.Fatal("Failed to migrate database", "err", err)
		}
	}

	a, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal("Failed to start engine", "err", err)
	}
	defer a.Close()

	application := &mid.App{
		Engine:         a.Engine,
		MasterAPIKey:   cfg.Auth.MasterAPIKey,
		MasterUserID:   cfg.Auth.MasterUserID,
		MasterUserRole: cfg.Auth.MasterUserRole,
	}
	if a.Reports != nil {
		application.Reports = a.Reports
	}

	if cfg.Auth.URL != "" {
		k, err := keyfunc.NewDefault([]string{cfg.Auth.URL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		application.Keyfunc = k.Keyfunc
	}

	if cfg.Queue.Enabled() {
		conn, err := queue.Init(ctx, cfg.Queue)
		if err != nil {
			logger.Fatal("Failed to connect to queue", "err", err)
		}
		defer conn.Close()
		ch, err := conn.Channel()
		if err != nil {
			logger.Fatal("Failed to open channel", "err", err)
		}
		defer ch.Close()
		if err := queue.SetupQueues(ch, queue.Queues); err != nil {
			logger.Fatal("Failed to declare queues", "err", err)
		}
		application.Queue = ch
	}

	e := New(application, a.Metrics)

	if cfg.SnapshotRefresh > 0 {
		go refreshSnapshots(ctx, a.Engine, cfg.SnapshotRefresh)
	}

	go func() {
		logger.Info("Starting server", "port", cfg.Port, "snapshot", a.Engine.Snapshot().Version)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}

// refreshSnapshots reloads the persisted state until ctx is done.
func refreshSnapshots(ctx context.Context, eng *engine.Engine, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := eng.Load(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("[Server] Snapshot refresh failed", "err", err)
			}
		}
	}
}
