package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/livepoll/internal/adapter/websocket"
	"github.com/pscheid92/livepoll/internal/app"
	"github.com/pscheid92/livepoll/internal/broadcast"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type liveStack struct {
	srv         *httptest.Server
	broadcaster *broadcast.Broadcaster
	router      *app.Router
}

func newLiveStack(t *testing.T) *liveStack {
	t.Helper()

	clock := clockwork.NewRealClock()
	b := broadcast.NewBroadcaster(broadcast.NewRegistry(), clock, broadcast.Config{QueueSize: 8, WriteTimeout: time.Second}, nil)
	cache := app.NewSnapshotCache(time.Minute, clock, nil)
	router := app.NewRouter(b, cache, nil, clock, nil)
	limits := websocket.NewConnectionLimits(websocket.LimitsConfig{MaxConnections: 10, MaxPerIP: 10, RatePerIP: 100, BurstPerIP: 100}, clock)
	ws := websocket.NewHandler(b, router, limits, websocket.NewCheckOrigin("", true), nil)

	server := NewServer(testConfig(), Dependencies{
		Events:      router,
		WebSocket:   ws,
		Connections: b,
		Cache:       cache,
		Clock:       clock,
	})
	srv := httptest.NewServer(server.Handler())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = b.Stop(ctx)
		srv.Close()
	})
	return &liveStack{srv: srv, broadcaster: b, router: router}
}

func (s *liveStack) dial(t *testing.T, path string) *gorillaws.Conn {
	t.Helper()
	conn, resp, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(s.srv.URL, "http")+path, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessageOfType(t *testing.T, conn *gorillaws.Conn, msgType string) map[string]any {
	t.Helper()
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, data, err := conn.ReadMessage()
		require.NoError(t, err)
		var msg map[string]any
		require.NoError(t, json.Unmarshal(data, &msg))
		if msg["type"] == msgType {
			return msg
		}
	}
}

func TestSocketRoutes_IngestReachesSubscribers(t *testing.T) {
	stack := newLiveStack(t)

	lobby := stack.dial(t, "/ws")
	readMessageOfType(t, lobby, domain.MessageConnectionCount)

	created := `{"type":"poll_created","poll":{"id":"pizza","question":"Pizza?","options":[{"id":"yes","value":"Yes","vote":0},{"id":"no","value":"No","vote":0}]}}`
	resp, err := http.Post(stack.srv.URL+"/internal/events", "application/json", strings.NewReader(created))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	newPoll := readMessageOfType(t, lobby, domain.MessageNewPoll)
	assert.Equal(t, "pizza", newPoll["poll"].(map[string]any)["id"])

	voter := stack.dial(t, "/ws/pizza")
	readMessageOfType(t, voter, domain.MessagePollData)

	vote := `{"type":"vote_cast","poll_id":"pizza","option_id":"yes","options":[{"id":"yes","value":"Yes","vote":1},{"id":"no","value":"No","vote":0}]}`
	resp, err = http.Post(stack.srv.URL+"/internal/events", "application/json", strings.NewReader(vote))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	update := readMessageOfType(t, voter, domain.MessageVoteUpdate)
	assert.Equal(t, float64(1), update["new_vote_count"])
}

func TestSocketRoutes_RejectsForeignOrigin(t *testing.T) {
	stack := newLiveStack(t)

	header := http.Header{}
	header.Set("Origin", "https://evil.example.com")
	_, resp, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(stack.srv.URL, "http")+"/ws", header)

	require.ErrorIs(t, err, gorillaws.ErrBadHandshake)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestStats_ReportsConnections(t *testing.T) {
	stack := newLiveStack(t)

	conn := stack.dial(t, "/ws/pizza")
	readMessageOfType(t, conn, domain.MessageConnectionCount)

	resp, err := http.Get(stack.srv.URL + "/stats")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats statsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stats))
	require.NotNil(t, stats.Connections)
	assert.Equal(t, 1, stats.Connections.Connections)
	assert.Equal(t, 1, stats.Connections.Registry.Rooms)
	require.NotNil(t, stats.Limits)
	assert.Equal(t, int64(1), stats.Limits.Connections)
	require.NotNil(t, stats.CachedPolls)
	assert.Equal(t, 0, *stats.CachedPolls)
}
