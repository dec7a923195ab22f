package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
	"github.com/OFFIS-RIT/indaga/backend/pkg/store"

	"golang.org/x/time/rate"
)

// RelationSink stores extracted relations.
type RelationSink interface {
	InsertRelations(ctx context.Context, rels []common.ExtractedRelation) (int, error)
}

// ViewRefresher rebuilds the aggregations that count relations.
type ViewRefresher interface {
	RefreshViews(ctx context.Context) error
}

// BatchConfig controls a resumable batch run.
type BatchConfig struct {
	Method     common.ExtractionMethod
	Checkpoint string
	PageSize   int
	Interval   time.Duration
}

// BatchConfigFromEnv reads EXTRACT_CHECKPOINT, EXTRACT_PAGE_SIZE and
// EXTRACT_RATE_MS. The heuristic pass keeps its own checkpoint next to the
// LLM one.
func BatchConfigFromEnv(method common.ExtractionMethod) BatchConfig {
	return BatchConfig{
		Method:     method,
		Checkpoint: CheckpointPath(util.GetEnvString("EXTRACT_CHECKPOINT", "data/extract_checkpoint.json"), method),
		PageSize:   util.GetEnvInt("EXTRACT_PAGE_SIZE", 50),
		Interval:   time.Duration(util.GetEnvInt("EXTRACT_RATE_MS", 1000)) * time.Millisecond,
	}
}

// CheckpointPath derives the checkpoint file of method from the base path.
func CheckpointPath(base string, method common.ExtractionMethod) string {
	if method != common.MethodHeuristic {
		return base
	}
	return strings.TrimSuffix(base, ".json") + ".heuristic.json"
}

// Batch walks every document in id order, extracting and committing one
// document at a time. The checkpoint is rewritten after every commit, so an
// interrupted run resumes after the last committed document.
type Batch struct {
	docs      store.DocumentStore
	sink      RelationSink
	extract   Func
	refresher ViewRefresher
	limiter   *rate.Limiter
	cfg       BatchConfig
	now       func() time.Time
}

func NewBatch(docs store.DocumentStore, sink RelationSink, extract Func, cfg BatchConfig) *Batch {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Method == "" {
		cfg.Method = common.MethodLLM
	}
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &Batch{
		docs:    docs,
		sink:    sink,
		extract: extract,
		limiter: rate.NewLimiter(limit, 1),
		cfg:     cfg,
		now:     time.Now,
	}
}

// WithRefresher refreshes r after a run that inserted relations.
func (b *Batch) WithRefresher(r ViewRefresher) *Batch {
	b.refresher = r
	return b
}

// RunOptions bound a single run.
type RunOptions struct {
	RunID   string
	Limit   int
	Restart bool
}

// Run processes documents after the checkpoint until none are left, Limit
// documents were handled or ctx ends. A per-document extraction error is
// logged, counted and skipped. Rate-limit exhaustion and write failures stop
// the run without advancing past the document.
func (b *Batch) Run(ctx context.Context, opts RunOptions) (Checkpoint, error) {
	cp := Checkpoint{}
	if !opts.Restart {
		loaded, err := LoadCheckpoint(b.cfg.Checkpoint)
		if err != nil {
			return cp, err
		}
		cp = loaded
	}
	cp.Method = string(b.cfg.Method)
	cp.RunID = opts.RunID

	logger.Info("[Extract] batch starting", "run", opts.RunID, "method", b.cfg.Method, "after", cp.LastDocumentID, "limit", opts.Limit)

	var run Stats
	err := b.loop(ctx, opts, &cp, &run)
	if run.Relations > 0 && b.refresher != nil {
		if rerr := b.refresher.RefreshViews(context.WithoutCancel(ctx)); rerr != nil {
			logger.Warn("[Extract] refreshing views failed", "err", rerr)
		}
	}
	logger.Info("[Extract] batch finished",
		"run", opts.RunID,
		"processed", run.Processed,
		"relations", run.Relations,
		"empty", run.Empty,
		"failed", run.Failed,
		"last_document", cp.LastDocumentID,
		"err", err,
	)
	return cp, err
}

func (b *Batch) loop(ctx context.Context, opts RunOptions, cp *Checkpoint, run *Stats) error {
	handled := 0
	for {
		docs, err := b.docs.DocumentsAfter(ctx, cp.LastDocumentID, b.cfg.PageSize)
		if err != nil {
			return fmt.Errorf("list documents: %w", err)
		}
		if len(docs) == 0 {
			return nil
		}
		for _, doc := range docs {
			if opts.Limit > 0 && handled >= opts.Limit {
				return nil
			}
			if err := b.limiter.Wait(ctx); err != nil {
				return err
			}

			var step Stats
			rels, err := b.extract(ctx, doc)
			switch {
			case err != nil && ctx.Err() != nil:
				return ctx.Err()
			case errors.Is(err, ErrRateLimited):
				return err
			case err != nil:
				logger.Error("[Extract] document failed", "document", doc.ID, "err", err)
				step.fail(doc.ID)
			default:
				n, err := b.sink.InsertRelations(ctx, rels)
				if err != nil {
					return fmt.Errorf("commit %s: %w", doc.ID, err)
				}
				step.Processed = 1
				step.Relations = n
				if len(rels) == 0 {
					step.Empty = 1
				}
			}

			cp.LastDocumentID = doc.ID
			cp.Timestamp = b.now().UTC()
			cp.Stats.add(step)
			run.add(step)
			if err := SaveCheckpoint(b.cfg.Checkpoint, *cp); err != nil {
				return err
			}
			handled++
		}
	}
}

// One extracts and commits a single document without touching the
// checkpoint. The queue worker uses it.
func (b *Batch) One(ctx context.Context, documentID string) (int, error) {
	doc, err := b.docs.Document(ctx, documentID)
	if err != nil {
		return 0, fmt.Errorf("load document %s: %w", documentID, err)
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	rels, err := b.extract(ctx, doc)
	if err != nil {
		return 0, err
	}
	n, err := b.sink.InsertRelations(ctx, rels)
	if err != nil {
		return 0, fmt.Errorf("commit %s: %w", documentID, err)
	}
	logger.Info("[Extract] document committed", "document", documentID, "method", b.cfg.Method, "relations", n)
	return n, nil
}

// RemainingCounter counts documents after an id.
type RemainingCounter interface {
	CountDocumentsAfter(ctx context.Context, afterID string) (int, error)
}

// StatusReport is the checkpoint plus the documents still to process.
type StatusReport struct {
	Checkpoint Checkpoint `json:"checkpoint"`
	Remaining  int        `json:"remaining"`
}

// Status reads the checkpoint at path. counter may be nil, leaving
// Remaining at -1.
func Status(ctx context.Context, path string, counter RemainingCounter) (StatusReport, error) {
	cp, err := LoadCheckpoint(path)
	if err != nil {
		return StatusReport{}, err
	}
	rep := StatusReport{Checkpoint: cp, Remaining: -1}
	if counter != nil {
		n, err := counter.CountDocumentsAfter(ctx, cp.LastDocumentID)
		if err != nil {
			return rep, err
		}
		rep.Remaining = n
	}
	return rep, nil
}
