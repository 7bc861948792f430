package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v9"
	"github.com/labstack/echo/v4"

	"github.com/vkotelev/nearchat/internal/access"
	"github.com/vkotelev/nearchat/internal/hub"
	"github.com/vkotelev/nearchat/internal/logging"
	"github.com/vkotelev/nearchat/internal/middleware"
	"github.com/vkotelev/nearchat/internal/mykafka"
	"github.com/vkotelev/nearchat/internal/repo"
	"github.com/vkotelev/nearchat/internal/service/search"
	"github.com/vkotelev/nearchat/internal/util"
)

type ChatHandler struct {
	Store    *repo.Store
	Guard    *access.Guard
	Hub      *hub.Hub
	ES       *elasticsearch.Client
	Index    string
	Producer *mykafka.Producer
}

func (h *ChatHandler) CreateChat(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "chat_create")
	userID := middleware.UserID(c)

	var req struct {
		PeerID uint `json:"peer_id"`
	}
	if err := c.Bind(&req); err != nil || req.PeerID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "peer_id is required")
	}
	if req.PeerID == userID {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot chat with yourself")
	}

	blocked, err := h.Store.IsBlockedEitherDirection(ctx, userID, req.PeerID)
	if err != nil {
		l.Error("chat_create_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	if blocked {
		l.Warn("chat_create_denied", "status", 403, "reason", "blocked", "peer_id", req.PeerID)
		return echo.NewHTTPError(http.StatusForbidden, "chat is not available")
	}

	chat, created, err := h.Store.FindOrCreateChat(ctx, userID, req.PeerID)
	if err != nil {
		l.Error("chat_create_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	if created {
		h.publish(ctx, chat.ID, map[string]interface{}{
			"type":    "chat_created",
			"chat_id": chat.ID,
			"users":   []uint{userID, req.PeerID},
		})
	}

	l.Info("chat_create_success", "status", 200, "chat_id", chat.ID, "created", created)
	return c.JSON(http.StatusOK, chat)
}

func (h *ChatHandler) ListMessages(c echo.Context) error {
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	chatID, err := chatIDParam(c)
	if err != nil {
		return err
	}
	if err := h.authorize(ctx, c, chatID, userID); err != nil {
		return err
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	msgs, err := h.Store.ListMessages(ctx, chatID, limit)
	if err != nil {
		logging.FromContext(ctx).Error("messages_list_failed", "chat_id", chatID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, echo.Map{"messages": msgs})
}

func (h *ChatHandler) PostMessage(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "message_post")
	userID := middleware.UserID(c)

	chatID, err := chatIDParam(c)
	if err != nil {
		return err
	}

	var req struct {
		Content string `json:"content"`
	}
	if err := c.Bind(&req); err != nil || req.Content == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	if err := h.authorize(ctx, c, chatID, userID); err != nil {
		return err
	}

	msg, err := h.Store.CreateMessage(ctx, chatID, userID, req.Content)
	if err != nil {
		l.Error("message_post_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	if h.ES != nil {
		if err := search.IndexMessage(ctx, h.ES, h.Index, msg); err != nil {
			l.Warn("message_index_failed", "message_id", msg.ID, "error", err)
		}
	}

	h.publish(ctx, chatID, map[string]interface{}{
		"type":       "message_created",
		"chat_id":    chatID,
		"message_id": msg.ID,
		"user_id":    userID,
	})

	h.Hub.Broadcast(chatID, msg)

	l.Info("message_post_success", "status", 200, "chat_id", chatID, "message_id", msg.ID)
	return c.JSON(http.StatusOK, msg)
}

func (h *ChatHandler) SearchMessages(c echo.Context) error {
	ctx := c.Request().Context()
	userID := middleware.UserID(c)

	chatID, err := chatIDParam(c)
	if err != nil {
		return err
	}
	if err := h.authorize(ctx, c, chatID, userID); err != nil {
		return err
	}

	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("size"))
	from, size := util.Calculate(page, size)

	total, msgs, err := search.Search(ctx, h.ES, h.Index, chatID, q, from, size)
	if err != nil {
		logging.FromContext(ctx).Error("message_search_failed", "chat_id", chatID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	return c.JSON(http.StatusOK, echo.Map{"total": total, "messages": msgs})
}

// authorize maps guard verdicts onto HTTP statuses: not_found → 404,
// forbidden and blocked → 403.
func (h *ChatHandler) authorize(ctx context.Context, c echo.Context, chatID, userID uint) error {
	res, err := h.Guard.Check(ctx, chatID, userID)
	if err != nil {
		logging.FromContext(ctx).Error("access_check_failed", "chat_id", chatID, "user_id", userID, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
	if res.Allowed {
		return nil
	}
	switch res.Reason {
	case access.ReasonNotFound:
		return echo.NewHTTPError(http.StatusNotFound, "chat not found")
	default:
		return echo.NewHTTPError(http.StatusForbidden, "access denied")
	}
}

func (h *ChatHandler) publish(ctx context.Context, chatID uint, event map[string]interface{}) {
	if h.Producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, "chat_events", fmt.Sprint(chatID), event); err != nil {
		logging.FromContext(ctx).Error("kafka_publish_failed", "topic", "chat_events", "error", err)
	}
}

func chatIDParam(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid chat id")
	}
	return uint(id), nil
}
