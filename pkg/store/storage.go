// Package store defines the persistence interfaces of the engine. The pgx
// subpackage implements them on PostgreSQL.
package store

import (
	"context"

	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
)

// ChunkSearcher backs the semantic retriever.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, text string, embedding []float32, filters common.FilterSet, limit int) ([]common.Chunk, error)
	SearchFullText(ctx context.Context, text string, filters common.FilterSet, limit int) ([]common.Chunk, error)
}

// RecordStore persists query, answer and feedback records.
type RecordStore interface {
	SaveTurn(ctx context.Context, q common.QueryRecord, a common.AnswerRecord) (queryID int64, answerID int64, err error)
	SaveFeedback(ctx context.Context, f common.FeedbackRecord) (int64, error)
	LowSatisfaction(ctx context.Context, maxMean float64, minRatings, limit int) ([]common.LowSatisfaction, error)
}

// ViewStore reads precomputed aggregations.
type ViewStore interface {
	FrequentView(ctx context.Context, view string) (ViewResult, error)
}

// RelationStore reads and writes extracted relations.
type RelationStore interface {
	InsertRelations(ctx context.Context, rels []common.ExtractedRelation) (int, error)
	RelationsForSeeds(ctx context.Context, seeds []string, method common.ExtractionMethod, minConfidence float64, limit int) ([]common.ExtractedRelation, error)
	CoOccurrences(ctx context.Context, seeds []string, limit int) ([]CoOccurrence, error)
	SeedMentions(ctx context.Context, seeds []string, limit int) ([]Mention, error)
}

// DocumentStore pages through documents for batch jobs.
type DocumentStore interface {
	DocumentsAfter(ctx context.Context, afterID string, limit int) ([]common.Document, error)
	Document(ctx context.Context, id string) (common.Document, error)
}

// CoOccurrence is a pair of persons named in the same documents.
type CoOccurrence struct {
	Source          string
	Target          string
	SharedDocuments int
	DocumentIDs     []string
}

// Mention is one document naming a seed person.
type Mention struct {
	Name       string
	Role       common.PersonRole
	DocumentID string
	Filename   string
}

// ViewResult is a materialized aggregation as rows of column values.
type ViewResult struct {
	View    string
	Columns []string
	Rows    [][]any
}

// PlaceMention is a person named in a document that also names the place.
type PlaceMention struct {
	Place      string
	Name       string
	Role       common.PersonRole
	DocumentID string
}
