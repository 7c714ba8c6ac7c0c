package broadcast

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/domain"
)

// Transport is the write side of a client socket. *websocket.Conn satisfies it.
// Close and WriteControl may be called concurrently with WriteMessage.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// State is a step of the connection lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateSubscribed
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateSubscribed:
		return "subscribed"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type closeFrame struct {
	code   int
	reason string
}

// Connection wraps one client transport with a bounded outbound queue drained
// by its own writer goroutine.
type Connection struct {
	id           uuid.UUID
	remoteAddr   string
	transport    Transport
	clock        clockwork.Clock
	writeTimeout time.Duration

	send    chan []byte
	ping    chan struct{}
	done    chan struct{}
	stopped chan struct{}

	state     atomic.Int32
	lastSeen  atomic.Int64
	closeOnce sync.Once
	frame     *closeFrame

	// onWriteError is set by the Broadcaster before the writer starts.
	onWriteError func(*Connection, error)
}

type ConnectionOptions struct {
	RemoteAddr   string
	QueueSize    int
	WriteTimeout time.Duration
	Clock        clockwork.Clock
}

func newConnection(transport Transport, opts ConnectionOptions) *Connection {
	if opts.QueueSize < 1 {
		opts.QueueSize = 16
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}

	c := &Connection{
		id:           uuid.New(),
		remoteAddr:   opts.RemoteAddr,
		transport:    transport,
		clock:        opts.Clock,
		writeTimeout: opts.WriteTimeout,
		send:         make(chan []byte, opts.QueueSize),
		ping:         make(chan struct{}, 1),
		done:         make(chan struct{}),
		stopped:      make(chan struct{}),
	}
	c.Touch()
	return c
}

func (c *Connection) ID() uuid.UUID      { return c.id }
func (c *Connection) RemoteAddr() string { return c.remoteAddr }
func (c *Connection) State() State       { return State(c.state.Load()) }

// Done is closed once the connection starts closing.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Stopped is closed once the writer goroutine has released the transport.
func (c *Connection) Stopped() <-chan struct{} { return c.stopped }

// Touch records client activity for the heartbeat monitor.
func (c *Connection) Touch() {
	c.lastSeen.Store(c.clock.Now().UnixNano())
}

func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

func (c *Connection) transition(from, to State) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// markSubscribed moves Open to Subscribed; a room switch keeps Subscribed.
func (c *Connection) markSubscribed() bool {
	return c.transition(StateOpen, StateSubscribed) || c.State() == StateSubscribed
}

// markOpen moves Subscribed back to Open after an unsubscribe.
func (c *Connection) markOpen() {
	c.transition(StateSubscribed, StateOpen)
}

// beginClose moves any live state to Closing. Only the first caller wins.
func (c *Connection) beginClose() bool {
	for {
		s := c.State()
		if s >= StateClosing {
			return false
		}
		if c.transition(s, StateClosing) {
			return true
		}
	}
}

func (c *Connection) isClosing() bool {
	return c.State() >= StateClosing
}

// Enqueue queues msg without blocking.
func (c *Connection) Enqueue(msg []byte) error {
	if c.isClosing() {
		return domain.ErrConnectionClosed
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Ping asks the writer to send a ping frame. Coalesces with a pending ping.
func (c *Connection) Ping() {
	select {
	case c.ping <- struct{}{}:
	default:
	}
}

// start launches the writer goroutine and opens the connection.
func (c *Connection) start() {
	c.transition(StateConnecting, StateOpen)
	go c.writeLoop()
}

func (c *Connection) writeLoop() {
	defer close(c.stopped)

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.fail(err)
				return
			}
		case <-c.ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.fail(err)
				return
			}
		case <-c.done:
			c.finish()
			return
		}
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.transport.SetWriteDeadline(c.clock.Now().Add(c.writeTimeout))
	return c.transport.WriteMessage(messageType, data)
}

func (c *Connection) fail(err error) {
	if !c.isClosing() && c.onWriteError != nil {
		c.onWriteError(c, err)
	}
	c.abort()
	_ = c.transport.Close()
	c.state.Store(int32(StateClosed))
}

// finish runs on the writer goroutine after done is closed. A graceful close
// flushes what is already queued before the close frame.
func (c *Connection) finish() {
	defer func() {
		_ = c.transport.Close()
		c.state.Store(int32(StateClosed))
	}()

	if c.frame == nil {
		return
	}

drain:
	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}
		default:
			break drain
		}
	}

	payload := websocket.FormatCloseMessage(c.frame.code, c.frame.reason)
	_ = c.transport.WriteControl(websocket.CloseMessage, payload, c.clock.Now().Add(c.writeTimeout))
}

// close sends queued messages and a close frame with code, then releases the transport.
func (c *Connection) close(code int, reason string) {
	c.closeOnce.Do(func() {
		c.beginClose()
		c.frame = &closeFrame{code: code, reason: reason}
		close(c.done)
	})
}

// abort drops the transport without a close frame so the client sees an
// abnormal closure and reconnects.
func (c *Connection) abort() {
	c.closeOnce.Do(func() {
		c.beginClose()
		close(c.done)
		_ = c.transport.Close()
	})
}
