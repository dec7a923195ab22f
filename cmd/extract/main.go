// Command extract runs the batch relation extractor over the corpus.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

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
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger/file"
	pgxstore "github.com/OFFIS-RIT/indaga/backend/pkg/store/pgx"

	_ "github.com/lib/pq"
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "extract",
		Short:         "Extract typed relations between the entities of each document",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.LoadEnv()
		},
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Extract relations with the LLM, resuming from the checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, common.MethodLLM)
		},
	}
	heuristicCmd := &cobra.Command{
		Use:   "heuristic",
		Short: "Extract co-mention relations without the LLM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, common.MethodHeuristic)
		},
	}
	for _, c := range []*cobra.Command{runCmd, heuristicCmd} {
		c.Flags().Int("limit", 0, "Stop after this many documents (0 = all)")
		c.Flags().Bool("restart", false, "Ignore the checkpoint and start from the first document")
		rootCmd.AddCommand(c)
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Print the checkpoint and the number of documents left",
		RunE:  runStatus,
	}
	statusCmd.Flags().String("method", string(common.MethodLLM), "Checkpoint to read: llm or heuristic")
	rootCmd.AddCommand(statusCmd)

	enqueueCmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish one extraction job per document for the queue workers",
		RunE:  runEnqueue,
	}
	enqueueCmd.Flags().String("after", "", "Only documents with an id after this one")
	rootCmd.AddCommand(enqueueCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConsole() {
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		Prefix: "extract",
	}))
}

func runBatch(cmd *cobra.Command, method common.ExtractionMethod) error {
	limit, _ := cmd.Flags().GetInt("limit")
	restart, _ := cmd.Flags().GetBool("restart")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	runID, err := extract.NewRunID(start)
	if err != nil {
		return err
	}

	debug := util.GetEnvBool("DEBUG", false)
	runLog, err := file.NewFileLogger(file.FileLoggerParams{
		Dir:      util.GetEnvString("LOG_DIR", "logs"),
		Prefix:   "extract",
		RunID:    runID,
		KeepRuns: util.GetEnvInt("LOG_KEEP_RUNS", 10),
		Debug:    debug,
	})
	if err != nil {
		return err
	}
	logger.Init(console.NewConsoleLogger(console.ConsoleLoggerParams{Debug: debug, Prefix: "extract"}), runLog)
	defer logger.Close()

	if util.GetEnvBool("MIGRATE_ON_START", true) {
		if err := storage.Migrate(); err != nil {
			return err
		}
	}
	pool, err := storage.NewPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	lex := lexicon.Default()
	st := pgxstore.New(pool, lex)

	var fn extract.Func
	switch method {
	case common.MethodHeuristic:
		fn = extract.NewHeuristic(lex, st).Extract
	default:
		llm, err := aiclient.FromEnv()
		if err != nil {
			return err
		}
		fn = extract.New(llm, ai.DefaultRetryPolicy(), lex, extract.ConfigFromEnv()).Extract
	}
	cfg := extract.BatchConfigFromEnv(method)
	batch := extract.NewBatch(st, st, fn, cfg).WithRefresher(st)

	logger.Info("[Extract] run started", "run_id", runID, "method", method, "checkpoint", cfg.Checkpoint, "log", runLog.Path())

	locks := leaselock.New(pool)
	var cp extract.Checkpoint
	err = locks.WithLease(ctx, leaselock.KeyExtractBatch, leaselock.Options{TokenPrefix: runID + "-"}, func(ctx context.Context) error {
		var runErr error
		cp, runErr = batch.Run(ctx, extract.RunOptions{RunID: runID, Limit: limit, Restart: restart})
		return runErr
	})
	if errors.Is(err, leaselock.ErrBusy) {
		if h, ok, ierr := locks.Inspect(ctx, leaselock.KeyExtractBatch); ierr == nil && ok {
			return fmt.Errorf("another extraction run holds the lock (%s until %s)", h.Token, h.ExpiresAt.Format(time.RFC3339))
		}
		return fmt.Errorf("another extraction run holds the lock")
	}

	elapsed := time.Since(start)
	logger.Info("[Extract] run finished",
		"run_id", runID,
		"duration", timing.Clock(elapsed),
		"per_document", timing.PerItem(elapsed, cp.Stats.Processed),
		"err", err,
	)
	archive(context.WithoutCancel(ctx), runID, cfg.Checkpoint, runLog.Path())
	return err
}

// archive copies the checkpoint and run log to object storage when a
// bucket is configured and prunes the oldest archived runs.
func archive(ctx context.Context, runID string, files ...string) {
	client := storage.NewS3Client(ctx)
	if client == nil {
		return
	}
	keys, err := storage.ArchiveRun(ctx, client, runID, files...)
	if err != nil {
		logger.Warn("[Extract] failed to archive run", "run_id", runID, "err", err)
		return
	}
	pruned, err := storage.PruneRuns(ctx, client, util.GetEnvInt("ARCHIVE_KEEP_RUNS", 20))
	if err != nil {
		logger.Warn("[Extract] failed to prune archived runs", "err", err)
	}
	logger.Info("[Extract] run archived", "run_id", runID, "objects", len(keys), "pruned_runs", pruned)
}

func runStatus(cmd *cobra.Command, args []string) error {
	initConsole()
	method, _ := cmd.Flags().GetString("method")
	path := extract.BatchConfigFromEnv(common.ExtractionMethod(method)).Checkpoint

	ctx := cmd.Context()
	var counter extract.RemainingCounter
	pool, err := storage.NewPool(ctx)
	if err != nil {
		logger.Warn("[Extract] database unavailable, remaining count skipped", "err", err)
	} else {
		defer pool.Close()
		counter = pgxstore.New(pool, lexicon.Default())
	}

	report, err := extract.Status(ctx, path, counter)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	initConsole()
	after, _ := cmd.Flags().GetString("after")
	ctx := cmd.Context()

	pool, err := storage.NewPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()
	st := pgxstore.New(pool, lexicon.Default())

	conn, err := queue.Init()
	if err != nil {
		return err
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()
	if err := queue.SetupQueues(ch, []string{queue.ExtractQueue}); err != nil {
		return err
	}

	n := 0
	for {
		docs, err := st.DocumentsAfter(ctx, after, 500)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			break
		}
		for _, d := range docs {
			body, err := queue.EncodeExtract(d.ID)
			if err != nil {
				return err
			}
			if err := queue.PublishFIFO(ch, queue.ExtractQueue, body); err != nil {
				return fmt.Errorf("publish %s: %w", d.ID, err)
			}
			n++
		}
		after = docs[len(docs)-1].ID
	}
	logger.Info("[Extract] documents enqueued", "count", n, "queue", queue.ExtractQueue)
	return nil
}
