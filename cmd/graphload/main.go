// Command graphload copies documents, entity mentions and extracted
// relations into the Neo4j property graph.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/internal/storage"
	"github.com/OFFIS-RIT/indaga/backend/internal/timing"
	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/graph"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger/console"
	pgxstore "github.com/OFFIS-RIT/indaga/backend/pkg/store/pgx"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Prefix: "graphload",
	}))

	params := graph.Neo4jParamsFromEnv()
	if params.URI == "" {
		logger.Fatal("NEO4J_URI is not set")
	}
	neo, err := graph.NewNeo4jClient(ctx, params)
	if err != nil {
		logger.Fatal("Failed to connect to Neo4j", "err", err)
	}
	defer neo.Close(context.Background())

	pool, err := storage.NewPool(ctx)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pool.Close()

	lex := lexicon.Default()
	start := time.Now()
	loader := graph.NewLoader(pgxstore.New(pool, lex), neo, lex, util.GetEnvInt("GRAPHLOAD_BATCH", 200))
	stats, err := loader.Load(ctx)
	if err != nil {
		logger.Fatal("Graph load failed", "documents", stats.Documents, "relations", stats.Relations, "err", err)
	}
	logger.Info("Graph load done", "duration", timing.Clock(time.Since(start)))
}
