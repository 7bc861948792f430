// Package hub owns the live websocket connections for the push
// transport: it authenticates each connect against the token codec
// and the access guard, tracks liveness with a ping/pong sweep, and
// fans chat events out to the sockets entitled to see them.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/vkotelev/nearchat/internal/access"
	"github.com/vkotelev/nearchat/internal/models"
	"github.com/vkotelev/nearchat/internal/token"
)

// Close codes sent on failed admission. Clients branch on these to
// tell "retry with a fresh token" from "the chat is gone" from "you
// no longer have access".
const (
	CloseInvalidChatID = 4000
	CloseUnauthorized  = 4001
	CloseForbidden     = 4003
	CloseChatNotFound  = 4004
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1 << 16
)

type Event struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// TokenVersions is the storage lookup used to compare a token's "ver"
// claim against the account's current counter.
type TokenVersions interface {
	FindUserTokenVersion(ctx context.Context, userID uint) (int, error)
}

type Checker interface {
	Check(ctx context.Context, chatID, userID uint) (access.Result, error)
}

type Hub struct {
	Secret   []byte
	Versions TokenVersions
	Guard    Checker
	Log      *slog.Logger

	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*Conn]struct{}
}

func NewHub(secret []byte, versions TokenVersions, guard Checker, log *slog.Logger) *Hub {
	return &Hub{
		Secret:   secret,
		Versions: versions,
		Guard:    guard,
		Log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		conns: make(map[*Conn]struct{}),
	}
}

// Handle upgrades the request and runs the admission sequence:
// chat id validation, token verification, token-version compare,
// access guard. Every rejection closes with its own code.
func (h *Hub) Handle(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}

	ctx := c.Request().Context()

	chatID, err := parseChatID(c.Param("id"))
	if err != nil {
		closeWith(ws, CloseInvalidChatID, "invalid chat id")
		return nil
	}

	userID, ok := h.authenticate(ctx, c.Request())
	if !ok {
		closeWith(ws, CloseUnauthorized, "unauthorized")
		return nil
	}

	res, err := h.Guard.Check(ctx, chatID, userID)
	if err != nil {
		h.Log.Error("ws_access_check_failed", "chat_id", chatID, "user_id", userID, "error", err)
		closeWith(ws, CloseChatNotFound, "chat unavailable")
		return nil
	}
	if !res.Allowed {
		switch res.Reason {
		case access.ReasonNotFound:
			closeWith(ws, CloseChatNotFound, "chat not found")
		default:
			closeWith(ws, CloseForbidden, "access denied")
		}
		return nil
	}

	conn := newConn(ws, chatID, userID)
	h.register(conn)
	h.Log.Info("ws_connected", "conn_id", conn.id, "chat_id", chatID, "user_id", userID)

	if err := conn.writeEvent(Event{Type: "connected"}); err != nil {
		h.closeAndEvict(conn)
		return nil
	}

	conn.readLoop()
	h.closeAndEvict(conn)
	h.Log.Info("ws_disconnected", "conn_id", conn.id, "chat_id", chatID, "user_id", userID)
	return nil
}

// authenticate extracts the bearer credential (Authorization header
// first, same-named query parameter as the fallback), verifies it and
// compares the embedded token version with the account's counter.
func (h *Hub) authenticate(ctx context.Context, r *http.Request) (uint, bool) {
	raw := bearerToken(r)
	if raw == "" {
		return 0, false
	}

	claims, err := token.Verify(raw, h.Secret)
	if err != nil {
		return 0, false
	}

	sub, _ := claims["sub"].(string)
	userID64, err := strconv.ParseUint(sub, 10, 64)
	if err != nil || userID64 == 0 {
		return 0, false
	}
	userID := uint(userID64)

	ver, ok := token.NumericClaim(claims, "ver")
	if !ok {
		return 0, false
	}
	current, err := h.Versions.FindUserTokenVersion(ctx, userID)
	if err != nil || int64(current) != ver {
		return 0, false
	}

	return userID, true
}

// Broadcast pushes a persisted message to every live connection of
// its chat. A failed write evicts that one connection and never
// aborts delivery to the rest.
func (h *Hub) Broadcast(chatID uint, msg models.Message) {
	payload, err := json.Marshal(Event{Type: "message", Data: msg})
	if err != nil {
		h.Log.Error("broadcast_marshal_failed", "chat_id", chatID, "error", err)
		return
	}

	for _, conn := range h.snapshot() {
		if conn.chatID != chatID {
			continue
		}
		if err := conn.writeRaw(payload); err != nil {
			h.Log.Warn("broadcast_push_failed", "conn_id", conn.id, "chat_id", chatID, "error", err)
			h.closeAndEvict(conn)
		}
	}
}

// RunHeartbeat pings every live connection once per interval and
// evicts the ones that did not pong since the previous sweep.
func (h *Hub) RunHeartbeat(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	for _, conn := range h.snapshot() {
		if !conn.alive.Swap(false) {
			h.Log.Info("ws_heartbeat_timeout", "conn_id", conn.id, "chat_id", conn.chatID, "user_id", conn.userID)
			h.closeAndEvict(conn)
			continue
		}
		if err := conn.ping(); err != nil {
			h.closeAndEvict(conn)
		}
	}
}

func (h *Hub) register(conn *Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) closeAndEvict(conn *Conn) {
	h.mu.Lock()
	_, present := h.conns[conn]
	delete(h.conns, conn)
	h.mu.Unlock()

	if present {
		conn.close()
	}
}

func (h *Hub) snapshot() []*Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := make([]*Conn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Len reports the number of live connections.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func parseChatID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("invalid chat id")
	}
	return uint(id), nil
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get(echo.HeaderAuthorization)
	if header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("authorization")
}

func closeWith(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(writeWait)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}
