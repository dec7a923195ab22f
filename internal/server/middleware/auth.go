package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

const masterUserID = "master"

// AuthMiddleware verifies the bearer token when an identity provider is
// configured and records the caller. Without one every request passes
// anonymously and handlers fall back to the user_id in the body.
func AuthMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ac := c.(*AppContext)
		app := ac.App
		if app.Key == nil && app.MasterAPIKey == "" {
			return next(c)
		}

		authHeader := c.Request().Header.Get("Authorization")
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		}

		if app.MasterAPIKey != "" && token == app.MasterAPIKey {
			ac.User = &AppUser{UserID: masterUserID, Role: "admin"}
			return next(c)
		}
		if app.Key == nil {
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		}

		parsed, err := jwt.Parse(token, app.Key.Keyfunc)
		if err != nil || !parsed.Valid {
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		}
		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
		}

		userID, ok := claimUserID(claims)
		if !ok {
			return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Invalid user ID"})
		}
		role := "user"
		if r, ok := claims["role"].(string); ok && r != "" {
			role = r
		}
		ac.User = &AppUser{UserID: userID, Role: role}
		return next(c)
	}
}

// claimUserID reads the "id" claim, string or number, then "sub".
func claimUserID(claims jwt.MapClaims) (string, bool) {
	switch id := claims["id"].(type) {
	case string:
		if id != "" {
			return id, true
		}
	case float64:
		return strconv.FormatInt(int64(id), 10), true
	}
	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, true
	}
	return "", false
}

// RequireAdmin rejects callers without the admin role. It passes every
// request when no identity provider is configured.
func RequireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ac := c.(*AppContext)
		if ac.App.Key == nil && ac.App.MasterAPIKey == "" {
			return next(c)
		}
		if ac.User == nil || ac.User.Role != "admin" {
			return c.JSON(http.StatusForbidden, map[string]string{"message": "Forbidden"})
		}
		return next(c)
	}
}
