package broadcast

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/stretchr/testify/require"
)

var errTransportClosed = errors.New("use of closed network connection")

// fakeTransport records frames. With block set, text writes wait until Close.
type fakeTransport struct {
	mu         sync.Mutex
	texts      [][]byte
	pings      int
	closeCode  int
	closeText  string
	closed     bool
	failWrites bool
	block      bool
	closedCh   chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{closedCh: make(chan struct{})}
}

func (f *fakeTransport) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	block, fail, closed := f.block, f.failWrites, f.closed
	f.mu.Unlock()

	if closed || fail {
		return errTransportClosed
	}
	if block && messageType == websocket.TextMessage {
		<-f.closedCh
		return errTransportClosed
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	switch messageType {
	case websocket.TextMessage:
		f.texts = append(f.texts, append([]byte(nil), data...))
	case websocket.PingMessage:
		f.pings++
	}
	return nil
}

func (f *fakeTransport) WriteControl(messageType int, data []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errTransportClosed
	}
	if messageType == websocket.CloseMessage && len(data) >= 2 {
		f.closeCode = int(data[0])<<8 | int(data[1])
		f.closeText = string(data[2:])
	}
	return nil
}

func (f *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.closedCh)
	}
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) closeFrame() (int, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closeCode, f.closeText
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

type received struct {
	Type   string `json:"type"`
	Count  int    `json:"count"`
	Seq    int    `json:"seq"`
	PollID string `json:"poll_id"`
}

// messages decodes every text frame, optionally keeping only one type.
func (f *fakeTransport) messages(t *testing.T, only string) []received {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []received
	for _, raw := range f.texts {
		var m received
		require.NoError(t, json.Unmarshal(raw, &m))
		if only == "" || m.Type == only {
			out = append(out, m)
		}
	}
	return out
}

func (f *fakeTransport) waitFor(t *testing.T, only string, n int) []received {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(f.messages(t, only)) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d %q messages", n, only)
	return f.messages(t, only)
}

func newTestBroadcaster(t *testing.T, queueSize int) (*Broadcaster, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	b := NewBroadcaster(NewRegistry(), clock, Config{QueueSize: queueSize, WriteTimeout: time.Second}, nil)
	return b, clock
}

func openConn(t *testing.T, b *Broadcaster, room domain.RoomKey) (*Connection, *fakeTransport) {
	t.Helper()
	tr := newFakeTransport()
	conn, err := b.Open(tr, "127.0.0.1:1234")
	require.NoError(t, err)
	t.Cleanup(func() { b.Disconnect(conn, "test_cleanup") })
	if room != "" {
		require.NoError(t, b.Subscribe(conn, room))
	}
	return conn, tr
}

func testMessage(t *testing.T, typ string, seq int) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{"type": typ, "seq": seq})
	require.NoError(t, err)
	return data
}

func waitStopped(t *testing.T, conn *Connection) {
	t.Helper()
	select {
	case <-conn.Stopped():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection %s writer did not stop", conn.ID())
	}
}
