package middleware

import (
	"context"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/labstack/echo/v4"

	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/router"
)

// AppUser is the caller identity taken from a verified token.
type AppUser struct {
	UserID string
	Role   string
}

type Asker interface {
	Dispatch(ctx context.Context, req router.Request) (common.Answer, error)
}

type Feedback interface {
	RecordFeedback(ctx context.Context, f common.FeedbackRecord) (int64, error)
	LowSatisfaction(ctx context.Context, limit int) ([]common.LowSatisfaction, error)
	InvalidateCache(ctx context.Context, prefix string) (int, error)
}

type Graph interface {
	Build(ctx context.Context, entities []string, maxNodes int) common.SubGraph
	MostConnected(ctx context.Context, maxNodes int) common.SubGraph
	Geographic(ctx context.Context, department, municipality string, maxNodes int) common.SubGraph
	DocumentGraph(ctx context.Context, documentID string, maxNodes int) common.SubGraph
}

// App holds the services shared by every request. Key is nil when no
// identity provider is configured.
type App struct {
	Router       Asker
	Feedback     Feedback
	Graph        Graph
	Key          keyfunc.Keyfunc
	MasterAPIKey string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, app, nil})
		}
	}
}
