package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/napstar/Voting-App/internal/adapter/metrics"
	"github.com/napstar/Voting-App/internal/poll"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type wireSnapshot struct {
	Question string         `json:"question"`
	Options  map[string]int `json:"options"`
}

func (w wireSnapshot) total() int {
	n := 0
	for _, c := range w.Options {
		n += c
	}
	return n
}

func decodeSnapshot(t *testing.T, msg string) wireSnapshot {
	t.Helper()
	var w wireSnapshot
	require.NoError(t, json.Unmarshal([]byte(msg), &w))
	return w
}

func newTestPoll(t *testing.T) *poll.State {
	t.Helper()
	state, err := poll.New("Favorite language?", []string{"javascript", "python", "rust"})
	require.NoError(t, err)
	return state
}

func newTestHub(t *testing.T, state *poll.State, opts ...Option) *Hub {
	t.Helper()
	h := NewHub(state, clockwork.NewFakeClock(), opts...)
	t.Cleanup(h.Stop)
	return h
}

func vote(t *testing.T, state *poll.State, option string) {
	t.Helper()
	_, ok := state.ApplyVote(option)
	require.True(t, ok)
}

func TestAttach_SendsCurrentSnapshot(t *testing.T) {
	state := newTestPoll(t)
	vote(t, state, "rust")
	hub := newTestHub(t, state)

	ft := newFakeTransport()
	_, err := hub.Attach(ft)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return ft.messageCount() == 1 }, time.Second, 5*time.Millisecond)

	got := decodeSnapshot(t, ft.getMessages()[0])
	assert.Equal(t, "Favorite language?", got.Question)
	assert.Equal(t, map[string]int{"javascript": 0, "python": 0, "rust": 1}, got.Options)
	assert.Equal(t, 1, hub.ClientCount())
}

func TestAttach_WireShapeHasNoVersion(t *testing.T) {
	state := newTestPoll(t)
	hub := newTestHub(t, state)

	ft := newFakeTransport()
	_, err := hub.Attach(ft)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ft.messageCount() == 1 }, time.Second, 5*time.Millisecond)

	var raw map[string]any
	require.NoError(t, json.Unmarshal([]byte(ft.getMessages()[0]), &raw))
	assert.Len(t, raw, 2)
	assert.Contains(t, raw, "question")
	assert.Contains(t, raw, "options")
}

func TestPublish_ReachesEveryClientWithSamePayload(t *testing.T) {
	state := newTestPoll(t)
	hub := newTestHub(t, state)

	transports := make([]*fakeTransport, 5)
	for i := range transports {
		transports[i] = newFakeTransport()
		_, err := hub.Attach(transports[i])
		require.NoError(t, err)
	}

	vote(t, state, "python")
	require.NoError(t, hub.Publish(context.Background(), state.Snapshot()))

	for _, ft := range transports {
		require.Eventually(t, func() bool { return ft.messageCount() == 2 }, time.Second, 5*time.Millisecond)
	}

	want := transports[0].getMessages()[1]
	for _, ft := range transports[1:] {
		assert.Equal(t, want, ft.getMessages()[1])
	}
	assert.Equal(t, 1, decodeSnapshot(t, want).Options["python"])
}

func TestPublish_WithNoClients(t *testing.T) {
	state := newTestPoll(t)
	hub := newTestHub(t, state)

	vote(t, state, "python")
	assert.NoError(t, hub.Publish(context.Background(), state.Snapshot()))
}

func TestPublish_FailingClientDoesNotAffectOthers(t *testing.T) {
	state := newTestPoll(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewWebSocketMetrics(reg)
	hub := newTestHub(t, state, WithMetrics(m))

	bad := newFakeTransport()
	good := newFakeTransport()
	_, err := hub.Attach(bad)
	require.NoError(t, err)
	_, err = hub.Attach(good)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return bad.messageCount() == 1 && good.messageCount() == 1
	}, time.Second, 5*time.Millisecond)

	bad.setFailWrites(true)
	vote(t, state, "javascript")
	require.NoError(t, hub.Publish(context.Background(), state.Snapshot()))

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, bad.isClosed())
	require.Eventually(t, func() bool { return good.messageCount() == 2 }, time.Second, 5*time.Millisecond)

	vote(t, state, "javascript")
	require.NoError(t, hub.Publish(context.Background(), state.Snapshot()))
	require.Eventually(t, func() bool { return good.messageCount() == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, decodeSnapshot(t, good.getMessages()[2]).Options["javascript"])

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SendFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
}

func TestPublish_LaggingClientKeepsLatestState(t *testing.T) {
	state := newTestPoll(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewWebSocketMetrics(reg)
	hub := newTestHub(t, state, WithSendBuffer(2), WithMetrics(m))

	lagging := newBlockingTransport()
	_, err := hub.Attach(lagging)
	require.NoError(t, err)

	const burst = 40
	for range burst {
		vote(t, state, "rust")
		require.NoError(t, hub.Publish(context.Background(), state.Snapshot()))
	}

	assert.Equal(t, 1, hub.ClientCount())
	assert.False(t, lagging.isClosed())
	assert.Positive(t, testutil.ToFloat64(m.MessagesCoalesced))

	lagging.unblock()

	require.Eventually(t, func() bool {
		msgs := lagging.getMessages()
		return len(msgs) > 0 && decodeSnapshot(t, msgs[len(msgs)-1]).total() == burst
	}, time.Second, 5*time.Millisecond)

	msgs := lagging.getMessages()
	assert.LessOrEqual(t, len(msgs), 3, "one in-flight write plus a full queue")
	for i := 1; i < len(msgs); i++ {
		assert.Greater(t, decodeSnapshot(t, msgs[i]).total(), decodeSnapshot(t, msgs[i-1]).total())
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveConnections))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SendFailures))
}

func TestAttach_DuringBurstStillReceivesState(t *testing.T) {
	state := newTestPoll(t)
	hub := newTestHub(t, state, WithSendBuffer(1))

	lagging := newBlockingTransport()
	for i := range 20 {
		vote(t, state, "python")
		require.NoError(t, hub.Publish(context.Background(), state.Snapshot()))
		if i == 5 {
			_, err := hub.Attach(lagging)
			require.NoError(t, err)
		}
	}

	assert.Equal(t, 1, hub.ClientCount())
	lagging.unblock()

	require.Eventually(t, func() bool {
		msgs := lagging.getMessages()
		return len(msgs) > 0 && decodeSnapshot(t, msgs[len(msgs)-1]).Options["python"] == 20
	}, time.Second, 5*time.Millisecond)
	assert.False(t, lagging.isClosed())
}

func TestPublish_SkipsVersionAlreadyDelivered(t *testing.T) {
	state := newTestPoll(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewWebSocketMetrics(reg)
	hub := newTestHub(t, state, WithMetrics(m))

	vote(t, state, "rust")
	ft := newFakeTransport()
	_, err := hub.Attach(ft)
	require.NoError(t, err)

	// The vote landed before Attach, so its snapshot already covers it.
	require.NoError(t, hub.Publish(context.Background(), state.Snapshot()))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesDropped))
	require.Eventually(t, func() bool { return ft.messageCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return ft.messageCount() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestPublish_IgnoresOutOfOrderSnapshot(t *testing.T) {
	state := newTestPoll(t)
	hub := newTestHub(t, state)

	ft := newFakeTransport()
	_, err := hub.Attach(ft)
	require.NoError(t, err)

	vote(t, state, "python")
	older := state.Snapshot()
	vote(t, state, "python")
	newer := state.Snapshot()

	require.NoError(t, hub.Publish(context.Background(), newer))
	require.NoError(t, hub.Publish(context.Background(), older))

	require.Eventually(t, func() bool { return ft.messageCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Never(t, func() bool { return ft.messageCount() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
	assert.Equal(t, 2, decodeSnapshot(t, ft.getMessages()[1]).Options["python"])
}

func TestSendSnapshot(t *testing.T) {
	state := newTestPoll(t)
	hub := newTestHub(t, state)

	ft := newFakeTransport()
	handle, err := hub.Attach(ft)
	require.NoError(t, err)

	vote(t, state, "javascript")
	snap := state.Snapshot()
	require.NoError(t, hub.SendSnapshot(handle, snap))
	require.Eventually(t, func() bool { return ft.messageCount() == 2 }, time.Second, 5*time.Millisecond)

	// A later broadcast of the same version is not repeated.
	require.NoError(t, hub.Publish(context.Background(), snap))
	assert.Never(t, func() bool { return ft.messageCount() > 2 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestSendSnapshot_UnknownHandle(t *testing.T) {
	state := newTestPoll(t)
	hub := newTestHub(t, state)

	err := hub.SendSnapshot(Handle{}, state.Snapshot())
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestDetach_IsIdempotent(t *testing.T) {
	state := newTestPoll(t)
	reg := prometheus.NewRegistry()
	m := metrics.NewWebSocketMetrics(reg)
	hub := newTestHub(t, state, WithMetrics(m))

	ft := newFakeTransport()
	handle, err := hub.Attach(ft)
	require.NoError(t, err)

	hub.Detach(handle)
	hub.Detach(handle)

	assert.Equal(t, 0, hub.ClientCount())
	assert.True(t, ft.isClosed())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveConnections))
	assert.ErrorIs(t, hub.SendSnapshot(handle, state.Snapshot()), ErrUnknownHandle)
}

func TestDetach_ClosedClientReceivesNothingMore(t *testing.T) {
	state := newTestPoll(t)
	hub := newTestHub(t, state)

	ft := newFakeTransport()
	handle, err := hub.Attach(ft)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ft.messageCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Detach(handle)
	vote(t, state, "rust")
	require.NoError(t, hub.Publish(context.Background(), state.Snapshot()))

	assert.Never(t, func() bool { return ft.messageCount() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestStop_SendsCloseFramesAndRejectsNewWork(t *testing.T) {
	state := newTestPoll(t)
	hub := NewHub(state, clockwork.NewFakeClock())

	transports := make([]*fakeTransport, 3)
	for i := range transports {
		transports[i] = newFakeTransport()
		_, err := hub.Attach(transports[i])
		require.NoError(t, err)
	}

	hub.Stop()

	for _, ft := range transports {
		assert.Equal(t, 1, ft.closeFrameCount())
		assert.True(t, ft.isClosed())
		ft.mu.Lock()
		want := websocket.FormatCloseMessage(websocket.CloseNormalClosure, shutdownReason)
		assert.Equal(t, want, ft.closeFrames[0])
		ft.mu.Unlock()
	}

	assert.False(t, hub.Accepting())
	assert.Equal(t, 0, hub.ClientCount())

	_, err := hub.Attach(newFakeTransport())
	assert.ErrorIs(t, err, ErrHubStopped)
	assert.ErrorIs(t, hub.Publish(context.Background(), state.Snapshot()), ErrHubStopped)

	// Second call is a no-op.
	hub.Stop()
}

func TestWriter_PingsOnInterval(t *testing.T) {
	state := newTestPoll(t)
	clock := clockwork.NewFakeClock()
	hub := NewHub(state, clock, WithPingInterval(time.Second))
	t.Cleanup(hub.Stop)

	ft := newFakeTransport()
	_, err := hub.Attach(ft)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return ft.getPings() == 1 }, time.Second, 5*time.Millisecond)

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return ft.getPings() == 2 }, time.Second, 5*time.Millisecond)
}

func TestHub_ConcurrentVotesAndConnections(t *testing.T) {
	state := newTestPoll(t)
	hub := newTestHub(t, state, WithSendBuffer(1024))
	options := []string{"javascript", "python", "rust"}

	steady := newFakeTransport()
	_, err := hub.Attach(steady)
	require.NoError(t, err)

	const voters, votesEach = 10, 50
	var wg sync.WaitGroup

	for i := range voters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range votesEach {
				_, ok := state.ApplyVote(options[(i+j)%len(options)])
				assert.True(t, ok)
				assert.NoError(t, hub.Publish(context.Background(), state.Snapshot()))
			}
		}()
	}

	var churnMu sync.Mutex
	var churned []*fakeTransport
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				ft := newFakeTransport()
				h, err := hub.Attach(ft)
				if !assert.NoError(t, err) {
					return
				}
				churnMu.Lock()
				churned = append(churned, ft)
				churnMu.Unlock()
				hub.Detach(h)
			}
		}()
	}
	wg.Wait()

	const total = voters * votesEach
	require.Eventually(t, func() bool {
		msgs := steady.getMessages()
		return len(msgs) > 0 && decodeSnapshot(t, msgs[len(msgs)-1]).total() == total
	}, 2*time.Second, 10*time.Millisecond)

	assertStrictlyIncreasing(t, steady.getMessages())
	for _, ft := range churned {
		assertStrictlyIncreasing(t, ft.getMessages())
	}
}

func assertStrictlyIncreasing(t *testing.T, msgs []string) {
	t.Helper()
	prev := -1
	for _, msg := range msgs {
		cur := decodeSnapshot(t, msg).total()
		assert.Greater(t, cur, prev, "observer saw a stale or repeated state")
		prev = cur
	}
}

func TestHub_RealWebSocketConnection(t *testing.T) {
	state := newTestPoll(t)
	hub := NewHub(state, clockwork.NewRealClock())
	serverConn, clientConn := newTestConnPair(t)

	_, err := hub.Attach(serverConn)
	require.NoError(t, err)

	read := func() wireSnapshot {
		require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
		msgType, data, err := clientConn.ReadMessage()
		require.NoError(t, err)
		require.Equal(t, websocket.TextMessage, msgType)
		return decodeSnapshot(t, string(data))
	}

	initial := read()
	assert.Equal(t, 0, initial.total())

	vote(t, state, "javascript")
	require.NoError(t, hub.Publish(context.Background(), state.Snapshot()))
	assert.Equal(t, 1, read().Options["javascript"])

	hub.Stop()

	require.NoError(t, clientConn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = clientConn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, shutdownReason, closeErr.Text)
}
