package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/napstar/Voting-App/internal/adapter/httpserver"
	"github.com/napstar/Voting-App/internal/adapter/metrics"
	"github.com/napstar/Voting-App/internal/adapter/websocket"
	"github.com/napstar/Voting-App/internal/app"
	"github.com/napstar/Voting-App/internal/broadcast"
	"github.com/napstar/Voting-App/internal/platform/config"
	"github.com/napstar/Voting-App/internal/platform/logging"
	"github.com/napstar/Voting-App/internal/platform/version"
	"github.com/napstar/Voting-App/internal/poll"
	"github.com/prometheus/client_golang/prometheus"
)

const shutdownTimeout = 10 * time.Second

func runGracefulShutdown(srv *httpserver.Server, hub *broadcast.Hub) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Hijacked WebSocket connections are not closed by the HTTP server.
		hub.Stop()

		close(done)
	}()

	return done
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func main() {
	cfg := setupConfig()

	logCloser := logging.InitLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	err := run(cfg, clockwork.NewRealClock())

	// os.Exit skips deferred calls, so the log file is closed here.
	_ = logCloser.Close()
	if err != nil {
		os.Exit(1)
	}
}

// run serves the poll until a shutdown signal arrives. Errors are logged before
// they are returned.
func run(cfg *config.Config, clock clockwork.Clock) error {
	slog.Info("Application starting", append([]any{"env", cfg.AppEnv, "port", cfg.Port}, version.Get().LogAttrs()...)...)

	state, err := poll.New(cfg.PollQuestion, cfg.Options())
	if err != nil {
		slog.Error("Invalid poll definition", "error", err)
		return err
	}
	slog.Info("Poll ready", "question", state.Question(), "options", state.Options())

	var (
		registry  *prometheus.Registry
		voteMets  *metrics.VoteMetrics
		wsMetrics *metrics.WebSocketMetrics
	)
	if cfg.MetricsEnabled {
		registry = metrics.NewRegistry()
		voteMets = metrics.NewVoteMetrics(registry)
		wsMetrics = metrics.NewWebSocketMetrics(registry)
	}

	hub := broadcast.NewHub(state, clock,
		broadcast.WithSendBuffer(cfg.WSSendBuffer),
		broadcast.WithMetrics(wsMetrics),
	)
	processor := app.NewVoteProcessor(state, hub, voteMets, clock)

	limits := websocket.NewConnectionLimits(cfg.MaxWebSocketConnections, cfg.MaxConnectionsPerIP, cfg.WSConnectRate, cfg.WSConnectBurst, clock)
	checkOrigin := websocket.NewCheckOrigin(cfg.AppURL, !cfg.IsProduction())
	wsHandler := websocket.NewHandler(hub, limits, checkOrigin, wsMetrics, clock)

	healthChecks := []httpserver.HealthCheck{
		{Name: "hub", Check: func(context.Context) error {
			if !hub.Accepting() {
				return broadcast.ErrHubStopped
			}
			return nil
		}},
	}

	srv := httpserver.NewServer(cfg, processor, state, wsHandler.Handle, registry, healthChecks, clock)

	done := runGracefulShutdown(srv, hub)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		hub.Stop()
		return err
	}

	<-done
	slog.Info("Shutdown complete")
	return nil
}
