package server

import (
	"github.com/OFFIS-RIT/indaga/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/indaga/backend/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	apiRoutes.POST("/ask", routes.AskHandler)

	// Feedback and answer cache
	apiRoutes.POST("/feedback", routes.FeedbackHandler)
	apiRoutes.GET("/feedback/review", routes.ReviewHandler, middleware.RequireAdmin)
	apiRoutes.DELETE("/cache", routes.InvalidateCacheHandler, middleware.RequireAdmin)

	// Graph routes
	apiRoutes.POST("/graph", routes.GraphHandler)
	apiRoutes.GET("/graph/most-connected", routes.MostConnectedHandler)
	apiRoutes.GET("/graph/geographic", routes.GeographicHandler)
	apiRoutes.GET("/graph/documents/:document_id", routes.DocumentGraphHandler)
}
