package hub

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkotelev/nearchat/internal/access"
	"github.com/vkotelev/nearchat/internal/models"
	"github.com/vkotelev/nearchat/internal/token"
)

var testSecret = []byte("hub-test-secret")

type fakeVersions struct {
	versions map[uint]int
}

func (f *fakeVersions) FindUserTokenVersion(_ context.Context, userID uint) (int, error) {
	v, ok := f.versions[userID]
	if !ok {
		return 0, context.Canceled
	}
	return v, nil
}

type fakeGuard struct {
	result access.Result
}

func (f *fakeGuard) Check(_ context.Context, _, _ uint) (access.Result, error) {
	return f.result, nil
}

type hubEnv struct {
	hub    *Hub
	server *httptest.Server
}

func newHubEnv(t *testing.T, guard Checker, versions TokenVersions) *hubEnv {
	t.Helper()

	h := NewHub(testSecret, versions, guard, slog.New(slog.DiscardHandler))

	e := echo.New()
	e.GET("/ws/chats/:id", h.Handle)

	server := httptest.NewServer(e)
	t.Cleanup(server.Close)

	return &hubEnv{hub: h, server: server}
}

func (env *hubEnv) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(env.server.URL, "http") + path
}

func issueToken(t *testing.T, userID uint, ver int) string {
	t.Helper()
	tok, err := token.Issue(map[string]any{"ver": ver}, testSecret, token.Options{
		Subject: strconv.FormatUint(uint64(userID), 10),
		TTL:     time.Minute,
	})
	require.NoError(t, err)
	return tok
}

func dial(t *testing.T, env *hubEnv, path, bearer string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	if bearer != "" {
		header.Set("Authorization", "Bearer "+bearer)
	}
	ws, resp, err := websocket.DefaultDialer.Dial(env.wsURL(path), header)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func expectClose(t *testing.T, ws *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := ws.ReadMessage()
		if err == nil {
			continue
		}
		closeErr, ok := err.(*websocket.CloseError)
		require.True(t, ok, "expected close error, got %v", err)
		assert.Equal(t, code, closeErr.Code)
		return
	}
}

func readEvent(t *testing.T, ws *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, ws.ReadJSON(&ev))
	return ev
}

func TestHandle_AdmitsAndAcknowledges(t *testing.T) {
	env := newHubEnv(t,
		&fakeGuard{result: access.Result{Allowed: true, PeerID: 2}},
		&fakeVersions{versions: map[uint]int{1: 0}},
	)

	ws := dial(t, env, "/ws/chats/1", issueToken(t, 1, 0))

	ev := readEvent(t, ws)
	assert.Equal(t, "connected", ev.Type)

	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHandle_BearerFromQueryParam(t *testing.T) {
	env := newHubEnv(t,
		&fakeGuard{result: access.Result{Allowed: true}},
		&fakeVersions{versions: map[uint]int{1: 0}},
	)

	ws := dial(t, env, "/ws/chats/1?authorization="+issueToken(t, 1, 0), "")

	ev := readEvent(t, ws)
	assert.Equal(t, "connected", ev.Type)
}

func TestHandle_InvalidChatID(t *testing.T) {
	env := newHubEnv(t,
		&fakeGuard{result: access.Result{Allowed: true}},
		&fakeVersions{versions: map[uint]int{1: 0}},
	)

	ws := dial(t, env, "/ws/chats/zero", issueToken(t, 1, 0))
	expectClose(t, ws, CloseInvalidChatID)

	ws = dial(t, env, "/ws/chats/0", issueToken(t, 1, 0))
	expectClose(t, ws, CloseInvalidChatID)
}

func TestHandle_Unauthorized(t *testing.T) {
	env := newHubEnv(t,
		&fakeGuard{result: access.Result{Allowed: true}},
		&fakeVersions{versions: map[uint]int{1: 1}},
	)

	// no credential at all
	ws := dial(t, env, "/ws/chats/1", "")
	expectClose(t, ws, CloseUnauthorized)

	// garbage token
	ws = dial(t, env, "/ws/chats/1", "not.a.token")
	expectClose(t, ws, CloseUnauthorized)

	// valid signature but stale token version (revoked by logout)
	ws = dial(t, env, "/ws/chats/1", issueToken(t, 1, 0))
	expectClose(t, ws, CloseUnauthorized)
}

func TestHandle_GuardVerdictCodes(t *testing.T) {
	tests := []struct {
		name   string
		result access.Result
		code   int
	}{
		{name: "not found", result: access.Result{Reason: access.ReasonNotFound}, code: CloseChatNotFound},
		{name: "forbidden", result: access.Result{Reason: access.ReasonForbidden}, code: CloseForbidden},
		{name: "blocked", result: access.Result{Reason: access.ReasonBlocked}, code: CloseForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newHubEnv(t,
				&fakeGuard{result: tt.result},
				&fakeVersions{versions: map[uint]int{1: 0}},
			)

			ws := dial(t, env, "/ws/chats/1", issueToken(t, 1, 0))
			expectClose(t, ws, tt.code)
		})
	}
}

func TestBroadcast_FiltersByChat(t *testing.T) {
	env := newHubEnv(t,
		&fakeGuard{result: access.Result{Allowed: true}},
		&fakeVersions{versions: map[uint]int{1: 0, 2: 0, 3: 0}},
	)

	a := dial(t, env, "/ws/chats/1", issueToken(t, 1, 0))
	b := dial(t, env, "/ws/chats/1", issueToken(t, 2, 0))
	other := dial(t, env, "/ws/chats/2", issueToken(t, 3, 0))

	require.Equal(t, "connected", readEvent(t, a).Type)
	require.Equal(t, "connected", readEvent(t, b).Type)
	require.Equal(t, "connected", readEvent(t, other).Type)

	require.Eventually(t, func() bool { return env.hub.Len() == 3 }, time.Second, 10*time.Millisecond)

	env.hub.Broadcast(1, models.Message{ID: 10, ChatID: 1, UserID: 1, Content: "hi"})

	for _, ws := range []*websocket.Conn{a, b} {
		ev := readEvent(t, ws)
		assert.Equal(t, "message", ev.Type)
	}

	// the chat-2 connection must not have received the chat-1 push:
	// the next frame it sees is its own chat's message
	env.hub.Broadcast(2, models.Message{ID: 11, ChatID: 2, UserID: 3, Content: "yo"})
	ev := readEvent(t, other)
	require.Equal(t, "message", ev.Type)
	data, ok := ev.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(11), data["id"])
}

func TestBroadcast_FailedPushEvictsOnlyThatConnection(t *testing.T) {
	env := newHubEnv(t,
		&fakeGuard{result: access.Result{Allowed: true}},
		&fakeVersions{versions: map[uint]int{1: 0, 2: 0}},
	)

	healthy := dial(t, env, "/ws/chats/1", issueToken(t, 1, 0))
	broken := dial(t, env, "/ws/chats/1", issueToken(t, 2, 0))

	require.Equal(t, "connected", readEvent(t, healthy).Type)
	require.Equal(t, "connected", readEvent(t, broken).Type)
	require.Eventually(t, func() bool { return env.hub.Len() == 2 }, time.Second, 10*time.Millisecond)

	// kill the second connection's transport server-side so the next
	// push write fails deterministically
	for _, conn := range env.hub.snapshot() {
		if conn.userID == 2 {
			conn.ws.Close()
		}
	}

	env.hub.Broadcast(1, models.Message{ID: 20, ChatID: 1, UserID: 1, Content: "still here"})

	ev := readEvent(t, healthy)
	assert.Equal(t, "message", ev.Type)

	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHeartbeat_EvictsSilentConnection(t *testing.T) {
	env := newHubEnv(t,
		&fakeGuard{result: access.Result{Allowed: true}},
		&fakeVersions{versions: map[uint]int{1: 0, 2: 0}},
	)

	responder := dial(t, env, "/ws/chats/1", issueToken(t, 1, 0))
	silent := dial(t, env, "/ws/chats/1", issueToken(t, 2, 0))

	require.Equal(t, "connected", readEvent(t, responder).Type)
	require.Equal(t, "connected", readEvent(t, silent).Type)
	require.Eventually(t, func() bool { return env.hub.Len() == 2 }, time.Second, 10*time.Millisecond)

	// the responder keeps reading, which lets the client's default
	// ping handler answer with pongs; the silent one never reads
	go func() {
		for {
			if _, _, err := responder.ReadMessage(); err != nil {
				return
			}
		}
	}()

	env.hub.sweep() // marks both stale, pings both

	// give the responder's pong time to arrive
	require.Eventually(t, func() bool {
		for _, conn := range env.hub.snapshot() {
			if conn.userID == 1 && conn.alive.Load() {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	env.hub.sweep() // evicts the silent connection only

	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, time.Second, 10*time.Millisecond)
	remaining := env.hub.snapshot()
	require.Len(t, remaining, 1)
	assert.Equal(t, uint(1), remaining[0].userID)
}

func TestHandle_DisconnectReleasesSlot(t *testing.T) {
	env := newHubEnv(t,
		&fakeGuard{result: access.Result{Allowed: true}},
		&fakeVersions{versions: map[uint]int{1: 0}},
	)

	ws := dial(t, env, "/ws/chats/1", issueToken(t, 1, 0))
	require.Equal(t, "connected", readEvent(t, ws).Type)
	require.Eventually(t, func() bool { return env.hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	ws.Close()

	require.Eventually(t, func() bool { return env.hub.Len() == 0 }, time.Second, 10*time.Millisecond)
}
