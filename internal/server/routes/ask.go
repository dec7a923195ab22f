package routes

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/indaga/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
	"github.com/OFFIS-RIT/indaga/backend/pkg/router"
	"github.com/OFFIS-RIT/indaga/backend/pkg/structured"
)

// AskHandler answers one user turn. A verified caller identity replaces
// the user_id sent in the body.
func AskHandler(c echo.Context) error {
	ac := c.(*middleware.AppContext)
	req := new(router.Request)
	if err := c.Bind(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}
	if ac.User != nil {
		req.UserID = ac.User.UserID
	}
	if err := c.Validate(req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "question and user_id are required"})
	}

	ans, err := ac.App.Router.Dispatch(c.Request().Context(), *req)
	if err != nil {
		if errors.Is(err, structured.ErrRelational) {
			logger.Error("[Router] structured query failed", "err", err)
			return c.JSON(http.StatusInternalServerError, map[string]any{
				"message": "Structured query failed",
				"answer":  ans,
			})
		}
		if c.Request().Context().Err() != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"message": "Request cancelled"})
		}
		logger.Error("[Router] dispatch failed", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	return c.JSON(http.StatusOK, ans)
}
