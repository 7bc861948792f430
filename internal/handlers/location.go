package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/vkotelev/nearchat/internal/logging"
	"github.com/vkotelev/nearchat/internal/middleware"
	"github.com/vkotelev/nearchat/internal/repo"
)

type LocationHandler struct {
	Store *repo.Store
}

// Update records the caller's latest location sample; the reconciler
// picks it up on its next tick.
func (h *LocationHandler) Update(c echo.Context) error {
	ctx := c.Request().Context()
	l := logging.FromContext(ctx).With("handler", "location_update")
	userID := middleware.UserID(c)

	var req struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid body")
	}
	if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
		return echo.NewHTTPError(http.StatusBadRequest, "coordinates out of range")
	}

	if err := h.Store.SaveLocation(ctx, userID, req.Latitude, req.Longitude, time.Now().UTC()); err != nil {
		l.Error("location_update_failed", "status", 500, "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}

	l.Info("location_update_success", "status", 204, "user_id", userID)
	return c.NoContent(http.StatusNoContent)
}
