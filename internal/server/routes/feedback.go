package routes

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/indaga/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
	pgxstore "github.com/OFFIS-RIT/indaga/backend/pkg/store/pgx"
)

func FeedbackHandler(c echo.Context) error {
	type feedbackBody struct {
		QueryID   int64          `json:"query_id" validate:"required,min=1"`
		AnswerID  int64          `json:"answer_id"`
		Rating    int            `json:"rating" validate:"required,min=1,max=5"`
		Comment   string         `json:"comment"`
		PerAspect map[string]int `json:"per_aspect" validate:"omitempty,dive,min=1,max=5"`
	}

	body := new(feedbackBody)
	if err := c.Bind(body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}
	if err := c.Validate(body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "query_id and a rating between 1 and 5 are required"})
	}

	id, err := c.(*middleware.AppContext).App.Feedback.RecordFeedback(c.Request().Context(), common.FeedbackRecord{
		QueryID:   body.QueryID,
		AnswerID:  body.AnswerID,
		Rating:    body.Rating,
		Comment:   body.Comment,
		PerAspect: body.PerAspect,
	})
	if errors.Is(err, pgxstore.ErrNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "Query not found"})
	}
	if err != nil {
		logger.Error("[RAG] failed to store feedback", "query_id", body.QueryID, "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	return c.JSON(http.StatusCreated, map[string]int64{"feedback_id": id})
}

// ReviewHandler lists the questions whose answers are chronically rated low.
func ReviewHandler(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	rows, err := c.(*middleware.AppContext).App.Feedback.LowSatisfaction(c.Request().Context(), limit)
	if err != nil {
		logger.Error("[RAG] failed to list low satisfaction queries", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	if rows == nil {
		rows = []common.LowSatisfaction{}
	}
	return c.JSON(http.StatusOK, rows)
}

// InvalidateCacheHandler drops the cached answers whose question starts
// with ?prefix=. An empty prefix clears the whole cache.
func InvalidateCacheHandler(c echo.Context) error {
	n, err := c.(*middleware.AppContext).App.Feedback.InvalidateCache(c.Request().Context(), c.QueryParam("prefix"))
	if err != nil {
		logger.Error("[RAG] failed to invalidate cache", "err", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
	}
	return c.JSON(http.StatusOK, map[string]int{"invalidated": n})
}
