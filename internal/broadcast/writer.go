package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeDeadline     = 5 * time.Second
	pingInterval      = 30 * time.Second
	messageBufferSize = 16
)

// Transport is the sending half of an observer connection. *websocket.Conn satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// clientWriter is the only goroutine that writes to its transport.
type clientWriter struct {
	transport    Transport
	clock        clockwork.Clock
	pingInterval time.Duration
	sendChannel  chan []byte
	doneChannel  chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
	onFailure    func(error)
}

func newClientWriter(transport Transport, clock clockwork.Clock, bufferSize int, pingEvery time.Duration, onFailure func(error)) *clientWriter {
	cw := &clientWriter{
		transport:    transport,
		clock:        clock,
		pingInterval: pingEvery,
		sendChannel:  make(chan []byte, bufferSize),
		doneChannel:  make(chan struct{}),
		onFailure:    onFailure,
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	ticker := cw.clock.NewTicker(cw.pingInterval)
	defer ticker.Stop()
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.sendChannel:
			cw.updateWriteDeadline()
			if err := cw.transport.WriteMessage(websocket.TextMessage, msg); err != nil {
				cw.fail(err)
				return
			}
		case <-ticker.Chan():
			cw.updateWriteDeadline()
			if err := cw.transport.WriteMessage(websocket.PingMessage, nil); err != nil {
				cw.fail(err)
				return
			}
		case <-cw.doneChannel:
			return
		}
	}
}

// fail reports a write error unless the writer is already being stopped,
// in which case the error is the expected result of closing the transport.
func (cw *clientWriter) fail(err error) {
	select {
	case <-cw.doneChannel:
		return
	default:
	}
	if cw.onFailure != nil {
		cw.onFailure(err)
	}
}

// enqueue hands data to the writer goroutine without blocking. Every message is a
// full poll state, so when the queue is full the oldest pending one is discarded
// to make room. Returns the number of discarded messages. Callers must not
// enqueue to the same writer concurrently.
func (cw *clientWriter) enqueue(data []byte) int {
	discarded := 0
	for {
		select {
		case cw.sendChannel <- data:
			return discarded
		default:
		}
		select {
		case <-cw.sendChannel:
			discarded++
		default:
		}
	}
}

// stop closes the transport without waiting for the writer goroutine.
// Safe to call from the writer goroutine itself.
func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
		_ = cw.transport.Close()
	})
}

// stopGraceful sends a close frame with reason before closing.
func (cw *clientWriter) stopGraceful(reason string) {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)

		// The close frame must not race a write from the run goroutine.
		cw.wg.Wait()

		closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
		cw.updateWriteDeadline()
		_ = cw.transport.WriteMessage(websocket.CloseMessage, closeMsg)
		_ = cw.transport.Close()
	})
}

func (cw *clientWriter) updateWriteDeadline() {
	_ = cw.transport.SetWriteDeadline(cw.clock.Now().Add(writeDeadline))
}
