package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/autumn-ma/django-culture/internal/config"
	"github.com/autumn-ma/django-culture/internal/observability"
)

// App bundles the assembled service: configuration, the shared logger, the
// HTTP server, and the telemetry runtime that must be flushed on shutdown.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Server  *http.Server
	Runtime *observability.Runtime
}

func New(cfg *config.Config, logger *slog.Logger, server *http.Server, runtime *observability.Runtime) *App {
	return &App{Config: cfg, Logger: logger, Server: server, Runtime: runtime}
}

// Shutdown stops the HTTP server and flushes telemetry.
func (a *App) Shutdown(ctx context.Context) {
	if err := a.Server.Shutdown(ctx); err != nil {
		a.Logger.Warn("http server shutdown", "error", err)
	}
	if a.Runtime != nil {
		if err := a.Runtime.Shutdown(ctx); err != nil {
			a.Logger.Warn("telemetry shutdown", "error", err)
		}
	}
}
