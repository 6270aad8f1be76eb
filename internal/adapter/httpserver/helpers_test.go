package httpserver

import (
	"context"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/napstar/Voting-App/internal/domain"
	"github.com/napstar/Voting-App/internal/platform/config"
	"github.com/prometheus/client_golang/prometheus"
)

type mockVoteService struct {
	mu       sync.Mutex
	requests []domain.VoteRequest
	result   domain.VoteResult
	err      error
}

func (m *mockVoteService) HandleVote(_ context.Context, req domain.VoteRequest) (domain.VoteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	return m.result, m.err
}

func (m *mockVoteService) getRequests() []domain.VoteRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.VoteRequest(nil), m.requests...)
}

type staticSnapshots struct {
	snapshot domain.Snapshot
}

func (s staticSnapshots) Snapshot() domain.Snapshot { return s.snapshot }

type testServerOptions struct {
	cfg          *config.Config
	votes        voteService
	snapshots    domain.SnapshotSource
	websocket    echo.HandlerFunc
	registry     *prometheus.Registry
	healthChecks []HealthCheck
	clock        clockwork.Clock
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:         config.EnvDevelopment,
		Port:           "3000",
		StaticDir:      "does-not-exist",
		MetricsEnabled: true,
		VoteRateLimit:  1000,
		VoteRateBurst:  1000,
	}
}

func newTestServer(t *testing.T, opts ...func(*testServerOptions)) *Server {
	t.Helper()

	o := &testServerOptions{
		cfg:       testConfig(),
		votes:     &mockVoteService{},
		snapshots: staticSnapshots{},
		websocket: func(c echo.Context) error { return echo.ErrNotImplemented },
		clock:     clockwork.NewFakeClock(),
	}
	for _, opt := range opts {
		opt(o)
	}

	return NewServer(o.cfg, o.votes, o.snapshots, o.websocket, o.registry, o.healthChecks, o.clock)
}

func withVotes(v voteService) func(*testServerOptions) {
	return func(o *testServerOptions) { o.votes = v }
}

func withSnapshots(s domain.SnapshotSource) func(*testServerOptions) {
	return func(o *testServerOptions) { o.snapshots = s }
}

func withHealthChecks(checks ...HealthCheck) func(*testServerOptions) {
	return func(o *testServerOptions) { o.healthChecks = checks }
}

func withRegistry(reg *prometheus.Registry) func(*testServerOptions) {
	return func(o *testServerOptions) { o.registry = reg }
}

func withConfig(mutate func(*config.Config)) func(*testServerOptions) {
	return func(o *testServerOptions) { mutate(o.cfg) }
}

func withClock(clock clockwork.Clock) func(*testServerOptions) {
	return func(o *testServerOptions) { o.clock = clock }
}

func withWebSocket(h echo.HandlerFunc) func(*testServerOptions) {
	return func(o *testServerOptions) { o.websocket = h }
}
