package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vkotelev/nearchat/internal/hash"
	"github.com/vkotelev/nearchat/internal/logging"
	"github.com/vkotelev/nearchat/internal/middleware"
	"github.com/vkotelev/nearchat/internal/models"
	"github.com/vkotelev/nearchat/internal/mykafka"
	"github.com/vkotelev/nearchat/internal/repo"
	"github.com/vkotelev/nearchat/internal/token"
)

type AuthHandler struct {
	Store         *repo.Store
	JWTSecret     []byte
	RefreshSecret []byte
	Issuer        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Producer      *mykafka.Producer
}

type tokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (h *AuthHandler) Register(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_register")

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("register_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Username == "" || req.Password == "" {
		l.Warn("register_error", "status", 400, "reason", "empty credentials")
		return echo.NewHTTPError(http.StatusBadRequest, "username and password are required")
	}

	if _, err := h.Store.FindUserByUsername(ctx, req.Username); err == nil {
		l.Warn("register_failed", "status", 409, "reason", "user_exists")
		return echo.NewHTTPError(http.StatusConflict, "user already exists")
	} else if !errors.Is(err, repo.ErrNotFound) {
		l.Error("register_failed", "status", 500, "reason", "db_error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	pwHash, err := hash.HashPassword(req.Password)
	if err != nil {
		l.Error("register_failed", "status", 500, "reason", "cannot hash the password", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	user, err := h.Store.CreateUser(ctx, req.Username, pwHash)
	if err != nil {
		l.Error("register_failed", "status", 500, "reason", "db_error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	h.publish(ctx, "user_events", user.ID, map[string]interface{}{
		"type":     "user_registered",
		"user_id":  user.ID,
		"username": user.Username,
	})

	pair, err := h.issuePair(user)
	if err != nil {
		l.Error("register_failed", "status", 500, "reason", "token_issue", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	l.Info("register_success", "status", 200, "user_id", user.ID)
	return c.JSON(http.StatusOK, echo.Map{
		"id": user.ID, "username": user.Username,
		"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken,
	})
}

func (h *AuthHandler) Login(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_login")

	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.Bind(&req); err != nil {
		l.Warn("login_error", "status", 400, "error", err)
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	user, err := h.Store.FindUserByUsername(ctx, req.Username)
	if err != nil || !hash.CheckPassword(user.PasswordHash, req.Password) {
		l.Warn("login_failed", "status", 401, "reason", "invalid username or password")
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid username or password")
	}

	pair, err := h.issuePair(user)
	if err != nil {
		l.Error("login_failed", "status", 500, "reason", "token_issue", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	l.Info("login_success", "status", 200, "user_id", user.ID)
	return c.JSON(http.StatusOK, pair)
}

func (h *AuthHandler) Refresh(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_refresh")

	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}

	claims, err := token.Verify(req.RefreshToken, h.RefreshSecret)
	if err != nil {
		l.Warn("refresh_failed", "status", 401, "error", err)
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token")
	}

	sub, _ := claims["sub"].(string)
	userID64, err := strconv.ParseUint(sub, 10, 64)
	if err != nil || userID64 == 0 {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token")
	}

	ver, ok := token.NumericClaim(claims, "ver")
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid refresh token")
	}
	current, err := h.Store.FindUserTokenVersion(ctx, uint(userID64))
	if err != nil || int64(current) != ver {
		l.Warn("refresh_failed", "status", 401, "reason", "token revoked")
		return echo.NewHTTPError(http.StatusUnauthorized, "token revoked")
	}

	user := models.User{ID: uint(userID64), TokenVersion: current}
	pair, err := h.issuePair(user)
	if err != nil {
		l.Error("refresh_failed", "status", 500, "reason", "token_issue", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	l.Info("refresh_success", "status", 200, "user_id", user.ID)
	return c.JSON(http.StatusOK, pair)
}

// Logout bumps the account's token version, which invalidates every
// outstanding access and refresh token at once.
func (h *AuthHandler) Logout(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_logout")

	userID := middleware.UserID(c)
	if err := h.Store.BumpTokenVersion(ctx, userID); err != nil {
		l.Error("logout_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	h.publish(ctx, "user_events", userID, map[string]interface{}{
		"type":    "user_logged_out",
		"user_id": userID,
	})

	l.Info("logout_success", "status", 200, "user_id", userID)
	return c.NoContent(http.StatusNoContent)
}

// DeleteMe removes the account and cascades every chat it
// participates in, mirroring the expiry-delete path.
func (h *AuthHandler) DeleteMe(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "auth_delete_me")

	userID := middleware.UserID(c)
	if err := h.Store.DeleteUserCascade(ctx, userID); err != nil {
		l.Error("delete_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	h.publish(ctx, "user_events", userID, map[string]interface{}{
		"type":    "user_deleted",
		"user_id": userID,
	})

	l.Info("delete_success", "status", 204, "user_id", userID)
	return c.NoContent(http.StatusNoContent)
}

func (h *AuthHandler) issuePair(user models.User) (tokenPair, error) {
	subject := strconv.FormatUint(uint64(user.ID), 10)

	accessToken, err := token.Issue(map[string]any{"ver": user.TokenVersion}, h.JWTSecret, token.Options{
		Subject: subject,
		Issuer:  h.Issuer,
		TTL:     h.AccessTTL,
	})
	if err != nil {
		return tokenPair{}, err
	}

	refreshToken, err := token.Issue(map[string]any{"ver": user.TokenVersion}, h.RefreshSecret, token.Options{
		Subject: subject,
		Issuer:  h.Issuer,
		TTL:     h.RefreshTTL,
	})
	if err != nil {
		return tokenPair{}, err
	}

	return tokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (h *AuthHandler) publish(ctx context.Context, topic string, key uint, event map[string]interface{}) {
	if h.Producer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.Producer.PublishEvent(ctx, topic, fmt.Sprint(key), event); err != nil {
		logging.FromContext(ctx).Error("kafka_publish_failed", "topic", topic, "error", err)
	}
}
