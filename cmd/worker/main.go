package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/internal/aiclient"
	"github.com/OFFIS-RIT/indaga/backend/internal/queue"
	"github.com/OFFIS-RIT/indaga/backend/internal/storage"
	"github.com/OFFIS-RIT/indaga/backend/internal/timing"
	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/ai"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/extract"
	"github.com/OFFIS-RIT/indaga/backend/pkg/leaselock"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger/console"
	pgxstore "github.com/OFFIS-RIT/indaga/backend/pkg/store/pgx"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Prefix: "worker",
		JSON:   util.GetEnvBool("LOG_JSON", false),
	})
	logger.Init(consoleLogger)
	defer logger.Close()

	llm, err := aiclient.FromEnv()
	if err != nil {
		logger.Fatal("Could not create AI client", "err", err)
	}

	pool, err := storage.NewPool(ctx)
	if err != nil {
		logger.Fatal("Unable to connect to database", "err", err)
	}
	defer pool.Close()

	lex := lexicon.Default()
	st := pgxstore.New(pool, lex)
	extractor := extract.New(llm, ai.DefaultRetryPolicy(), lex, extract.ConfigFromEnv())
	batch := extract.NewBatch(st, st, extractor.Extract, extract.BatchConfigFromEnv(common.MethodLLM))
	handler := queue.NewExtractHandler(batch, leaselock.New(pool))

	conn, err := queue.Init()
	if err != nil {
		logger.Fatal("Failed to connect to RabbitMQ", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, []string{queue.ExtractQueue}); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	// prefetch 1: one document in flight per worker
	if err := ch.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}
	msgs, err := ch.Consume(queue.ExtractQueue, queue.ExtractQueue+"_consumer", false, false, false, false, nil)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.ExtractQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.ExtractQueue)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutdown signal received, exiting...")
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Message channel closed", "queue", queue.ExtractQueue)
				return
			}
			start := time.Now()
			if err := queue.Handle(ctx, ch, msg, queue.ExtractQueue, handler.Process); err == nil {
				logger.Info("Message processed successfully", "queue", queue.ExtractQueue)
			}

			metrics := ai.Metrics(llm)
			logger.Info(
				"AI Metrics",
				"input_tokens", metrics.InputTokens,
				"output_tokens", metrics.OutputTokens,
				"total_tokens", metrics.TotalTokens,
				"chat_calls", metrics.ChatCalls,
				"duration", timing.Clock(time.Duration(metrics.DurationMs)*time.Millisecond),
			)
			logger.Info("Processing time", "duration", timing.Clock(time.Since(start)))
			if r, ok := llm.(ai.MetricsReporter); ok {
				r.ResetMetrics()
			}
		}
	}
}
