package middleware

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/vkotelev/nearchat/internal/token"
)

const userIDKey = "auth_user_id"

type TokenVersions interface {
	FindUserTokenVersion(ctx context.Context, userID uint) (int, error)
}

// Auth guards the REST surface with the same checks the hub applies
// on connect: verify the bearer token, then compare its "ver" claim
// with the account's current token version.
type Auth struct {
	Secret   []byte
	Versions TokenVersions
}

func NewAuth(secret []byte, versions TokenVersions) *Auth {
	return &Auth{Secret: secret, Versions: versions}
}

func (a *Auth) RequireAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := bearerToken(c)
		if raw == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
		}

		claims, err := token.Verify(raw, a.Secret)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}

		sub, _ := claims["sub"].(string)
		userID64, err := strconv.ParseUint(sub, 10, 64)
		if err != nil || userID64 == 0 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		userID := uint(userID64)

		ver, ok := token.NumericClaim(claims, "ver")
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}
		current, err := a.Versions.FindUserTokenVersion(c.Request().Context(), userID)
		if err != nil || int64(current) != ver {
			return echo.NewHTTPError(http.StatusUnauthorized, "token revoked")
		}

		c.Set(userIDKey, userID)
		return next(c)
	}
}

// UserID returns the authenticated user set by RequireAuth, or zero
// when the request was not authenticated.
func UserID(c echo.Context) uint {
	if id, ok := c.Get(userIDKey).(uint); ok {
		return id
	}
	return 0
}

func bearerToken(c echo.Context) string {
	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.QueryParam("authorization")
}
