package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/internal/aiclient"
	mid "github.com/OFFIS-RIT/indaga/backend/internal/server/middleware"
	"github.com/OFFIS-RIT/indaga/backend/internal/storage"
	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/ai"
	"github.com/OFFIS-RIT/indaga/backend/pkg/cache"
	"github.com/OFFIS-RIT/indaga/backend/pkg/conversation"
	"github.com/OFFIS-RIT/indaga/backend/pkg/graph"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
	"github.com/OFFIS-RIT/indaga/backend/pkg/rag"
	"github.com/OFFIS-RIT/indaga/backend/pkg/retrieval"
	"github.com/OFFIS-RIT/indaga/backend/pkg/router"
	pgxstore "github.com/OFFIS-RIT/indaga/backend/pkg/store/pgx"
	"github.com/OFFIS-RIT/indaga/backend/pkg/structured"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// New returns an echo instance with the API routes bound to app.
func New(app *mid.App) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = &CustomValidator{validator: validator.New()}

	e.Use(mid.AppContextMiddleware(app))
	e.Use(middleware.CORS())
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit("1M"))

	RegisterRoutes(e)
	return e
}

func Init() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if util.GetEnvBool("MIGRATE_ON_START", true) {
		if err := storage.Migrate(); err != nil {
			logger.Fatal("Failed to apply migrations", "err", err)
		}
	}

	pool, err := storage.NewPool(ctx)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer pool.Close()

	llm, err := aiclient.FromEnv()
	if err != nil {
		logger.Fatal("Failed to create AI client", "err", err)
	}
	policy := ai.DefaultRetryPolicy()
	lex := lexicon.Default()
	st := pgxstore.New(pool, lex)

	var answers cache.AnswerCache = cache.NewMemoryCache()
	var sessions conversation.SessionStore = conversation.NewMemoryStore()
	rdb, err := storage.NewRedisClient(ctx)
	if err != nil {
		logger.Warn("Redis unavailable, using in-memory cache and sessions", "err", err)
	}
	if rdb != nil {
		defer rdb.Close()
		answers = cache.NewRedisCache(rdb)
		sessions = conversation.NewRedisStore(rdb, util.GetEnvDuration("SESSION_TTL", 24*time.Hour))
	}

	orch := rag.New(rag.Deps{
		LLM:       llm,
		Policy:    policy,
		Retriever: retrieval.New(llm, policy, st, retrieval.ConfigFromEnv()),
		Cache:     answers,
		Views:     st,
		Records:   st,
		Lexicon:   lex,
	}, rag.OptionsFromEnv())
	manager := conversation.NewManager(sessions, lex, util.GetEnvInt("SESSION_MAX_TURNS", conversation.DefaultMaxTurns))
	rt := router.New(lex, manager, structured.NewService(pool, lex), orch)

	var triples graph.Triples
	neo, err := graph.NewNeo4jClient(ctx, graph.Neo4jParamsFromEnv())
	if err != nil {
		logger.Warn("Neo4j unavailable, predefined subgraphs use the relational store", "err", err)
	}
	if neo != nil {
		defer neo.Close(context.Background())
		triples = neo
	}

	app := &mid.App{
		Router:       rt,
		Feedback:     orch,
		Graph:        graph.New(st, triples, lex),
		MasterAPIKey: util.GetEnv("MASTER_API_KEY"),
	}
	if authURL := util.GetEnv("AUTH_URL"); authURL != "" {
		k, err := keyfunc.NewDefault([]string{authURL + "/jwks"})
		if err != nil {
			logger.Fatal("Failed to load jwks keys", "err", err)
		}
		app.Key = k
	}

	e := New(app)

	go func() {
		port := util.GetEnvString("PORT", "8080")
		logger.Info("Starting server", "port", port)
		if err := e.Start(":" + port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
