package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/energizer-project/lobbymaster/internal/config"
	"github.com/energizer-project/lobbymaster/internal/db"
	"github.com/energizer-project/lobbymaster/internal/events"
	"github.com/energizer-project/lobbymaster/internal/ledger"
	"github.com/energizer-project/lobbymaster/internal/master"
	"github.com/energizer-project/lobbymaster/internal/registry"
)

type nopSender struct{}

func (nopSender) Send([]byte, string) error { return nil }

// loopCoordinator runs Do inline, which is what the real loop does from the
// caller's point of view.
type loopCoordinator struct {
	d *master.Dispatcher
}

func (c *loopCoordinator) Snapshot() master.Snapshot { return c.d.Snapshot() }

func (c *loopCoordinator) Do(ctx context.Context, fn func(d *master.Dispatcher)) error {
	fn(c.d)
	return nil
}

func newTestServer(t *testing.T, mutate func(cfg *config.Config), journal JournalReader) (*Server, *loopCoordinator) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	coord := &loopCoordinator{d: master.NewDispatcher(registry.New(), ledger.New(), nopSender{}, nil)}
	s := NewServer(cfg, coord, journal, BuildInfo{Version: "test", Session: "s1", StartedAt: time.Now()})
	return s, coord
}

func seed(d *master.Dispatcher) {
	ctx := context.Background()
	// The pool hands out the most recently registered host first.
	d.Handle(ctx, []byte("stser eu"), "10.0.0.2:5000")
	d.Handle(ctx, []byte("stser eu"), "10.0.0.1:5000")
	d.Handle(ctx, []byte("stlob eu:m1"), "10.0.0.50:6000")
	d.Handle(ctx, []byte("slack eu:m1"), "10.0.0.1:5000")
	d.Handle(ctx, []byte("pslis p1"), "10.0.0.3:7000")
	d.Handle(ctx, []byte("pjoin p1:eu:m1"), "10.0.0.3:7000")
	d.Handle(ctx, []byte("pjack p1:10.0.0.3:7000:eu:m1"), "10.0.0.1:5000")
}

func do(t *testing.T, s *Server, method, path string) (int, map[string]interface{}) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	s.Handler().ServeHTTP(w, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return w.Code, body
}

func TestPublicRoutes(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	code, body := do(t, s, http.MethodGet, "/api/public/ping")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "lobbymaster", body["service"])
	assert.Equal(t, "test", body["version"])

	code, body = do(t, s, http.MethodGet, "/api/public/info")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "s1", body["session"])
	m := body["master"].(map[string]interface{})
	assert.Equal(t, "0.0.0.0:8484", m["addr"])
	assert.EqualValues(t, 3, m["retry_budget"])
}

func TestMonitorRoutes(t *testing.T) {
	s, coord := newTestServer(t, nil, nil)
	seed(coord.d)

	code, body := do(t, s, http.MethodGet, "/api/monitor/status")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["regions"])
	assert.EqualValues(t, 1, body["idle_hosts"])
	assert.EqualValues(t, 1, body["lobbies"])
	assert.EqualValues(t, 1, body["players_in_lobby"])
	assert.EqualValues(t, 0, body["pending"])

	_, body = do(t, s, http.MethodGet, "/api/monitor/regions")
	assert.EqualValues(t, 1, body["total"])
	region := body["regions"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, []interface{}{"10.0.0.2:5000"}, region["idle_hosts"])

	_, body = do(t, s, http.MethodGet, "/api/monitor/lobbies?region=eu")
	assert.EqualValues(t, 1, body["total"])
	_, body = do(t, s, http.MethodGet, "/api/monitor/lobbies?region=us")
	assert.EqualValues(t, 0, body["total"])

	code, body = do(t, s, http.MethodGet, "/api/monitor/lobbies/eu/m1")
	assert.Equal(t, http.StatusOK, code)
	lobby := body["lobby"].(map[string]interface{})
	assert.Equal(t, "10.0.0.1:5000", lobby["host"])
	assert.Equal(t, []interface{}{"p1"}, lobby["roster"])
	assert.NotContains(t, body, "history")

	code, _ = do(t, s, http.MethodGet, "/api/monitor/lobbies/eu/nope")
	assert.Equal(t, http.StatusNotFound, code)

	_, body = do(t, s, http.MethodGet, "/api/monitor/players")
	assert.EqualValues(t, 1, body["total"])

	coord.d.Handle(context.Background(), []byte("stlob eu:m2"), "10.0.0.50:6000")
	_, body = do(t, s, http.MethodGet, "/api/monitor/pending")
	assert.EqualValues(t, 1, body["total"])
}

func TestJournalRoutes(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	code, _ := do(t, s, http.MethodGet, "/api/monitor/journal")
	assert.Equal(t, http.StatusServiceUnavailable, code)

	j, err := db.NewJournal(":memory:", "s1")
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	ctx := context.Background()
	require.NoError(t, j.Record(ctx, events.Event{
		Type:    events.EventLobbyCreated,
		Time:    time.Now(),
		Payload: events.LobbyPayload{Region: "eu", Lobby: "m1", Host: "10.0.0.1:5000"},
	}))
	require.NoError(t, j.Record(ctx, events.Event{
		Type:    events.EventPlayerJoined,
		Time:    time.Now(),
		Payload: events.PlayerPayload{PlayerID: "p1", Endpoint: "10.0.0.3:7000", Lobby: "eu:m1"},
	}))

	s, coord := newTestServer(t, nil, j)
	seed(coord.d)

	code, body := do(t, s, http.MethodGet, "/api/monitor/journal?limit=1")
	assert.Equal(t, http.StatusOK, code)
	assert.Len(t, body["entries"], 1)
	counts := body["session_counts"].(map[string]interface{})
	assert.EqualValues(t, 1, counts["lobby_created"])

	code, _ = do(t, s, http.MethodGet, "/api/monitor/journal?limit=zero")
	assert.Equal(t, http.StatusBadRequest, code)

	_, body = do(t, s, http.MethodGet, "/api/monitor/lobbies/eu/m1")
	assert.Len(t, body["history"], 2)
}

func TestControlRoutes(t *testing.T) {
	s, coord := newTestServer(t, nil, nil)
	seed(coord.d)

	code, body := do(t, s, http.MethodPost, "/api/control/close/eu/m1")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []interface{}{"p1"}, body["evicted"])

	code, _ = do(t, s, http.MethodPost, "/api/control/close/eu/m1")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, s, http.MethodPost, "/api/control/clear")
	assert.Equal(t, http.StatusOK, code)
	assert.Empty(t, coord.Snapshot().Regions)
	assert.Empty(t, coord.Snapshot().Players)
}

func TestControlAllowlist(t *testing.T) {
	// httptest requests come from 192.0.2.1.
	s, coord := newTestServer(t, func(cfg *config.Config) {
		cfg.API.ControlAllowlist = []string{"127.0.0.1", "10.0.0.0/8"}
	}, nil)
	seed(coord.d)

	code, _ := do(t, s, http.MethodPost, "/api/control/clear")
	assert.Equal(t, http.StatusForbidden, code)
	assert.Len(t, coord.Snapshot().Lobbies, 1)

	code, _ = do(t, s, http.MethodGet, "/api/monitor/status")
	assert.Equal(t, http.StatusOK, code)

	s, _ = newTestServer(t, func(cfg *config.Config) {
		cfg.API.ControlAllowlist = []string{"192.0.2.0/24"}
	}, nil)
	code, _ = do(t, s, http.MethodPost, "/api/control/clear")
	assert.Equal(t, http.StatusOK, code)
}

func TestNoRoute(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	code, _ := do(t, s, http.MethodGet, "/api/unknown")
	assert.Equal(t, http.StatusNotFound, code)
	code, _ = do(t, s, http.MethodGet, "/")
	assert.Equal(t, http.StatusOK, code)
}

func TestRateLimiter(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(2)
	rl.now = func() time.Time { return now }

	for i := 0; i < 4; i++ {
		assert.True(t, rl.Allow("a"), "request %d within burst", i)
	}
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"), "buckets are per key")

	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))

	assert.True(t, NewRateLimiter(0).Allow("a"))
}

func TestSecurityHeaders(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/public/ping", nil))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "lobbymaster", w.Header().Get("Server"))
}
