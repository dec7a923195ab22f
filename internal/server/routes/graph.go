package routes

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/indaga/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/indaga/backend/pkg/graph"
)

func GraphHandler(c echo.Context) error {
	type graphBody struct {
		Entities []string `json:"entities" validate:"required,min=1"`
		MaxNodes int      `json:"max_nodes" validate:"omitempty,min=1"`
	}

	body := new(graphBody)
	if err := c.Bind(body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Invalid request body"})
	}
	if err := c.Validate(body); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "entities is required"})
	}

	g := c.(*middleware.AppContext).App.Graph.Build(c.Request().Context(), body.Entities, body.MaxNodes)
	return c.JSON(http.StatusOK, g)
}

func MostConnectedHandler(c echo.Context) error {
	g := c.(*middleware.AppContext).App.Graph.MostConnected(c.Request().Context(), limitParam(c))
	return c.JSON(http.StatusOK, g)
}

func GeographicHandler(c echo.Context) error {
	department, municipality := c.QueryParam("department"), c.QueryParam("municipality")
	if department == "" && municipality == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "department or municipality is required"})
	}
	g := c.(*middleware.AppContext).App.Graph.Geographic(c.Request().Context(), department, municipality, limitParam(c))
	return c.JSON(http.StatusOK, g)
}

func DocumentGraphHandler(c echo.Context) error {
	id := c.Param("document_id")
	if id == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "document_id is required"})
	}
	g := c.(*middleware.AppContext).App.Graph.DocumentGraph(c.Request().Context(), id, limitParam(c))
	return c.JSON(http.StatusOK, g)
}

// limitParam reads ?limit=, leaving the adapter default in place when it is
// missing or invalid.
func limitParam(c echo.Context) int {
	n, err := strconv.Atoi(c.QueryParam("limit"))
	if err != nil || n <= 0 {
		return graph.DefaultMaxNodes
	}
	return n
}
