package broadcast

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Handle identifies a registered connection.
type Handle uuid.UUID

func (h Handle) String() string { return uuid.UUID(h).String() }

// ConnState is the lifecycle state of an observer connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Client is one observer connection.
type Client struct {
	handle Handle
	writer *clientWriter
	state  atomic.Int32

	// Guarded by Hub.mu.
	delivered   bool
	sentVersion uint64
}

func newClient() *Client {
	return &Client{handle: Handle(uuid.New())}
}

func (c *Client) Handle() Handle { return c.handle }

func (c *Client) State() ConnState { return ConnState(c.state.Load()) }

// Registry is the live set of observer connections.
// A client is in the registry if and only if its state is StateOpen.
type Registry struct {
	mu      sync.RWMutex
	clients map[Handle]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[Handle]*Client)}
}

// Register adds c and moves it to StateOpen.
func (r *Registry) Register(c *Client) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	c.state.Store(int32(StateOpen))
	r.clients[c.handle] = c
	return c.handle
}

// Unregister removes the client and moves it to StateClosed. Only the call that
// actually removed the entry gets ok=true; later calls are no-ops.
func (r *Registry) Unregister(h Handle) (*Client, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, exists := r.clients[h]
	if !exists {
		return nil, false
	}
	delete(r.clients, h)
	c.state.Store(int32(StateClosed))
	return c, true
}

// Get returns the registered client for h.
func (r *Registry) Get(h Handle) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, exists := r.clients[h]
	return c, exists
}

// ForEach calls fn once for every client registered when ForEach was called.
// fn runs without the registry lock and may Register or Unregister freely;
// clients closed in the meantime are skipped.
func (r *Registry) ForEach(fn func(*Client)) {
	r.mu.RLock()
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		if c.State() != StateOpen {
			continue
		}
		fn(c)
	}
}

// Len returns the number of registered clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}
