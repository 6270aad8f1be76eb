package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/napstar/Voting-App/internal/adapter/metrics"
	"github.com/napstar/Voting-App/internal/domain"
)

var (
	ErrHubStopped    = errors.New("hub stopped")
	ErrUnknownHandle = errors.New("connection not registered")
)

const shutdownReason = "Server shutting down"

var _ domain.Publisher = (*Hub)(nil)

// Option configures a Hub.
type Option func(*Hub)

// WithSendBuffer sets the per-connection outbound queue length.
// When a client's queue is full the oldest pending update is replaced.
func WithSendBuffer(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithPingInterval overrides how often idle connections are pinged.
func WithPingInterval(d time.Duration) Option {
	return func(h *Hub) {
		if d > 0 {
			h.pingInterval = d
		}
	}
}

// WithMetrics records connection and delivery metrics.
func WithMetrics(m *metrics.WebSocketMetrics) Option {
	return func(h *Hub) { h.wsMetrics = m }
}

// Hub delivers poll snapshots to every registered observer.
type Hub struct {
	// mu orders Publish, Attach and SendSnapshot against each other.
	// It is never held across network I/O.
	mu      sync.Mutex
	stopped bool

	source   domain.SnapshotSource
	registry *Registry
	clock    clockwork.Clock

	sendBuffer   int
	pingInterval time.Duration
	wsMetrics    *metrics.WebSocketMetrics
}

// NewHub creates a hub. source provides the snapshot sent to each new connection.
func NewHub(source domain.SnapshotSource, clock clockwork.Clock, opts ...Option) *Hub {
	h := &Hub{
		source:       source,
		registry:     NewRegistry(),
		clock:        clock,
		sendBuffer:   messageBufferSize,
		pingInterval: pingInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Attach registers a new connection and queues the current snapshot as its first message.
// Holding the hub lock across both steps means any concurrent Publish lands either
// entirely before (already reflected in the snapshot) or entirely after (delivered
// to this connection too, unless the snapshot already covered it).
func (h *Hub) Attach(t Transport) (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return Handle{}, ErrHubStopped
	}

	snapshot := h.source.Snapshot()
	data, err := encode(snapshot)
	if err != nil {
		return Handle{}, err
	}

	c := newClient()
	handle := c.handle
	c.writer = newClientWriter(t, h.clock, h.sendBuffer, h.pingInterval, func(err error) {
		h.handleSendFailure(handle, err)
	})
	h.registry.Register(c)
	if h.wsMetrics != nil {
		h.wsMetrics.ActiveConnections.Inc()
	}

	h.deliverLocked(c, snapshot.Version, data)

	slog.Debug("Client registered", "client_id", c.handle.String(), "total_clients", h.registry.Len())
	return c.handle, nil
}

// Detach removes a connection. Calling it more than once is harmless.
func (h *Hub) Detach(handle Handle) {
	if h.remove(handle) {
		slog.Debug("Client unregistered", "client_id", handle.String(), "remaining_clients", h.registry.Len())
	}
}

// Publish encodes snapshot once and queues it for every registered connection.
// Connections that already received this or a newer version are skipped.
func (h *Hub) Publish(ctx context.Context, snapshot domain.Snapshot) error {
	data, err := encode(snapshot)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.stopped {
		return ErrHubStopped
	}

	recipients := 0
	h.registry.ForEach(func(c *Client) {
		if h.deliverLocked(c, snapshot.Version, data) {
			recipients++
		}
	})

	slog.DebugContext(ctx, "Poll update published", "version", snapshot.Version, "recipients", recipients)
	return nil
}

// SendSnapshot queues snapshot for a single connection, subject to the same
// version ordering as Publish.
func (h *Hub) SendSnapshot(handle Handle, snapshot domain.Snapshot) error {
	data, err := encode(snapshot)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.registry.Get(handle)
	if !ok {
		return ErrUnknownHandle
	}
	h.deliverLocked(c, snapshot.Version, data)
	return nil
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	return h.registry.Len()
}

// Accepting reports whether the hub still takes new connections.
func (h *Hub) Accepting() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.stopped
}

// Stop closes every connection with a close frame and rejects further Attach calls.
func (h *Hub) Stop() {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	h.stopped = true

	var clients []*Client
	h.registry.ForEach(func(c *Client) {
		if removed, ok := h.registry.Unregister(c.handle); ok {
			clients = append(clients, removed)
		}
	})
	h.mu.Unlock()

	slog.Info("Hub shutting down", "total_clients", len(clients))

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.writer.stopGraceful(shutdownReason)
		}()
	}
	wg.Wait()

	if h.wsMetrics != nil {
		h.wsMetrics.ActiveConnections.Sub(float64(len(clients)))
	}
	slog.Info("Hub shutdown complete", "disconnected_clients", len(clients))
}

// deliverLocked queues data for c. Must be called with h.mu held.
func (h *Hub) deliverLocked(c *Client, version uint64, data []byte) bool {
	if c.delivered && version <= c.sentVersion {
		if h.wsMetrics != nil {
			h.wsMetrics.MessagesDropped.Inc()
		}
		return false
	}

	if discarded := c.writer.enqueue(data); discarded > 0 {
		slog.Debug("Client lagging, replaced pending update", "client_id", c.handle.String(), "discarded", discarded)
		if h.wsMetrics != nil {
			h.wsMetrics.MessagesCoalesced.Add(float64(discarded))
		}
	}

	c.delivered = true
	c.sentVersion = version
	if h.wsMetrics != nil {
		h.wsMetrics.MessagesPublished.Inc()
	}
	return true
}

func (h *Hub) handleSendFailure(handle Handle, err error) {
	if !h.remove(handle) {
		return
	}
	slog.Debug("Client send failed, unregistered", "client_id", handle.String(), "error", err)
	if h.wsMetrics != nil {
		h.wsMetrics.SendFailures.Inc()
	}
}

// remove unregisters handle and stops its writer. Returns false if it was already gone.
func (h *Hub) remove(handle Handle) bool {
	c, ok := h.registry.Unregister(handle)
	if !ok {
		return false
	}
	c.writer.stop()
	if h.wsMetrics != nil {
		h.wsMetrics.ActiveConnections.Dec()
	}
	return true
}

func encode(snapshot domain.Snapshot) ([]byte, error) {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, fmt.Errorf("marshal poll snapshot: %w", err)
	}
	return data, nil
}
