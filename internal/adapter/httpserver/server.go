package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/napstar/Voting-App/internal/adapter/metrics"
	"github.com/napstar/Voting-App/internal/domain"
	"github.com/napstar/Voting-App/internal/platform/config"
	"github.com/prometheus/client_golang/prometheus"
)

type voteService interface {
	HandleVote(ctx context.Context, req domain.VoteRequest) (domain.VoteResult, error)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	clock  clockwork.Clock

	votes     voteService
	snapshots domain.SnapshotSource

	websocketHandler echo.HandlerFunc

	registry     *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	healthChecks []HealthCheck
	startTime    time.Time
}

// NewServer wires the HTTP surface. registry may be nil, in which case no
// HTTP metrics are recorded and /metrics is not served.
func NewServer(
	cfg *config.Config,
	votes voteService,
	snapshots domain.SnapshotSource,
	websocketHandler echo.HandlerFunc,
	registry *prometheus.Registry,
	healthChecks []HealthCheck,
	clock clockwork.Clock,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:             e,
		config:           cfg,
		clock:            clock,
		votes:            votes,
		snapshots:        snapshots,
		websocketHandler: websocketHandler,
		registry:         registry,
		healthChecks:     healthChecks,
		startTime:        clock.Now(),
	}
	if registry != nil {
		srv.httpMetrics = metrics.NewHTTPMetrics(registry)
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
