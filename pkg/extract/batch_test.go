package extract

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
)

type fakeDocs struct {
	docs []common.Document
}

func (f *fakeDocs) DocumentsAfter(ctx context.Context, afterID string, limit int) ([]common.Document, error) {
	var out []common.Document
	for _, d := range f.docs {
		if d.ID > afterID {
			out = append(out, d)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeDocs) Document(ctx context.Context, id string) (common.Document, error) {
	for _, d := range f.docs {
		if d.ID == id {
			return d, nil
		}
	}
	return common.Document{}, errors.New("not found")
}

func (f *fakeDocs) CountDocumentsAfter(ctx context.Context, afterID string) (int, error) {
	docs, _ := f.DocumentsAfter(ctx, afterID, len(f.docs)+1)
	return len(docs), nil
}

type fakeSink struct {
	rels      []common.ExtractedRelation
	refreshes int
	err       error
}

func (f *fakeSink) InsertRelations(ctx context.Context, rels []common.ExtractedRelation) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.rels = append(f.rels, rels...)
	return len(rels), nil
}

func (f *fakeSink) RefreshViews(ctx context.Context) error {
	f.refreshes++
	return nil
}

func docs(ids ...string) *fakeDocs {
	f := &fakeDocs{}
	for _, id := range ids {
		f.docs = append(f.docs, common.Document{ID: id, AnalyticSummary: "resumen " + id})
	}
	return f
}

func oneRelation(seen *[]string, fail map[string]error) Func {
	return func(ctx context.Context, doc common.Document) ([]common.ExtractedRelation, error) {
		*seen = append(*seen, doc.ID)
		if err := fail[doc.ID]; err != nil {
			return nil, err
		}
		return []common.ExtractedRelation{{Source: "Ana Ruiz", Target: "Juan Ruiz", Kind: "brother", DocumentID: doc.ID, Confidence: 0.9}}, nil
	}
}

func TestBatchResumesFromCheckpoint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	store := docs("a", "b", "c", "d", "e")
	sink := &fakeSink{}
	var seen []string
	b := NewBatch(store, sink, oneRelation(&seen, nil), BatchConfig{Checkpoint: path, PageSize: 2}).WithRefresher(sink)

	cp, err := b.Run(context.Background(), RunOptions{RunID: "r1", Limit: 3})
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if cp.LastDocumentID != "c" || cp.Stats.Processed != 3 {
		t.Fatalf("first run checkpoint = %+v", cp)
	}

	cp, err = b.Run(context.Background(), RunOptions{RunID: "r2"})
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if !slices.Equal(seen, []string{"a", "b", "c", "d", "e"}) {
		t.Fatalf("documents visited = %v", seen)
	}
	if cp.LastDocumentID != "e" || cp.Stats.Processed != 5 || cp.Stats.Relations != 5 || cp.RunID != "r2" {
		t.Fatalf("second run checkpoint = %+v", cp)
	}
	if sink.refreshes != 2 {
		t.Fatalf("views refreshed %d times, want 2", sink.refreshes)
	}

	rep, err := Status(context.Background(), path, store)
	if err != nil || rep.Remaining != 0 || rep.Checkpoint.LastDocumentID != "e" {
		t.Fatalf("Status = %+v, %v", rep, err)
	}
}

func TestBatchSkipsFailedDocuments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	sink := &fakeSink{}
	var seen []string
	b := NewBatch(docs("a", "b", "c"), sink, oneRelation(&seen, map[string]error{"b": errors.New("malformed")}), BatchConfig{Checkpoint: path})

	cp, err := b.Run(context.Background(), RunOptions{})
	if err != nil {
		t.Fatalf("Run error = %v", err)
	}
	if cp.LastDocumentID != "c" || cp.Stats.Failed != 1 || cp.Stats.Processed != 2 || !slices.Equal(cp.Stats.FailedDocs, []string{"b"}) {
		t.Fatalf("checkpoint = %+v", cp)
	}
	if len(sink.rels) != 2 {
		t.Fatalf("committed %d relations, want 2", len(sink.rels))
	}
}

func TestBatchStopsOnRateLimit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	var seen []string
	b := NewBatch(docs("a", "b", "c"), &fakeSink{}, oneRelation(&seen, map[string]error{"b": ErrRateLimited}), BatchConfig{Checkpoint: path})

	_, err := b.Run(context.Background(), RunOptions{})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	cp, _ := LoadCheckpoint(path)
	if cp.LastDocumentID != "a" {
		t.Fatalf("checkpoint advanced past the limited document: %+v", cp)
	}
}

func TestBatchStopsOnWriteFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cp.json")
	var seen []string
	b := NewBatch(docs("a", "b"), &fakeSink{err: errors.New("db down")}, oneRelation(&seen, nil), BatchConfig{Checkpoint: path})

	if _, err := b.Run(context.Background(), RunOptions{}); err == nil {
		t.Fatal("expected write failure")
	}
	if len(seen) != 1 {
		t.Fatalf("kept going after a failed commit: %v", seen)
	}
	cp, _ := LoadCheckpoint(path)
	if cp.LastDocumentID != "" {
		t.Fatalf("checkpoint written for an uncommitted document: %+v", cp)
	}
}

func TestBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var seen []string
	b := NewBatch(docs("a"), &fakeSink{}, oneRelation(&seen, nil), BatchConfig{Checkpoint: filepath.Join(t.TempDir(), "cp.json")})
	if _, err := b.Run(ctx, RunOptions{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBatchOne(t *testing.T) {
	sink := &fakeSink{}
	var seen []string
	b := NewBatch(docs("a", "b"), sink, oneRelation(&seen, nil), BatchConfig{Checkpoint: filepath.Join(t.TempDir(), "cp.json")})
	n, err := b.One(context.Background(), "b")
	if err != nil || n != 1 || sink.rels[0].DocumentID != "b" {
		t.Fatalf("One = %d, %v", n, err)
	}
	if _, err := b.One(context.Background(), "zz"); err == nil {
		t.Fatal("expected missing document error")
	}
}
