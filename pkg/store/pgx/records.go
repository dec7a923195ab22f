package pgx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

// SaveTurn persists a query and its answer in one transaction and returns
// their ids. Ids are monotonically increasing.
func (s *Store) SaveTurn(ctx context.Context, q common.QueryRecord, a common.AnswerRecord) (int64, int64, error) {
	sources := a.Sources
	if sources == nil {
		sources = []common.Source{}
	}
	sourcesJSON, err := json.Marshal(sources)
	if err != nil {
		return 0, 0, err
	}
	var payload []byte
	if a.StructuredPayload != nil {
		if payload, err = json.Marshal(a.StructuredPayload); err != nil {
			return 0, 0, err
		}
	}
	var meta []byte
	if len(a.LLMMetadata) > 0 {
		meta = a.LLMMetadata
	}

	var queryID, answerID int64
	err = s.withTx(ctx, func(tx pgxv5.Tx) error {
		err := tx.QueryRow(ctx, `
INSERT INTO queries (user_id, session_id, text, normalized_text, classification, resolution_method, latency_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id`,
			q.UserID, q.SessionID, util.SanitizePostgresText(q.Text), util.Fold(q.Text),
			q.Classification, string(q.ResolutionMethod), q.LatencyMs,
		).Scan(&queryID)
		if err != nil {
			return fmt.Errorf("insert query: %w", err)
		}
		err = tx.QueryRow(ctx, `
INSERT INTO answers (query_id, text, confidence, sources, llm_metadata, structured_payload)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id`,
			queryID, util.SanitizePostgresText(a.Text), a.Confidence, sourcesJSON, meta, payload,
		).Scan(&answerID)
		if err != nil {
			return fmt.Errorf("insert answer: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return queryID, answerID, nil
}

// SaveFeedback records or replaces the single rating of the answer to
// f.QueryID. It returns ErrNotFound when the query has no answer.
func (s *Store) SaveFeedback(ctx context.Context, f common.FeedbackRecord) (int64, error) {
	var perAspect []byte
	if len(f.PerAspect) > 0 {
		var err error
		if perAspect, err = json.Marshal(f.PerAspect); err != nil {
			return 0, err
		}
	}
	var comment *string
	if f.Comment != "" {
		c := util.SanitizePostgresText(f.Comment)
		comment = &c
	}

	var id int64
	err := s.conn.QueryRow(ctx, `
INSERT INTO feedback (query_id, answer_id, rating, comment, per_aspect)
SELECT a.query_id, a.id, $2, $3, $4
FROM answers a
WHERE a.query_id = $1 AND ($5::bigint = 0 OR a.id = $5)
ON CONFLICT (answer_id) DO UPDATE
SET rating = EXCLUDED.rating,
    comment = EXCLUDED.comment,
    per_aspect = EXCLUDED.per_aspect,
    created_at = now()
RETURNING id`, f.QueryID, f.Rating, comment, perAspect, f.AnswerID).Scan(&id)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("insert feedback: %w", err)
	}
	return id, nil
}

// LowSatisfaction groups rated answers by normalized question text and
// returns the groups whose mean rating is at most maxMean over at least
// minRatings ratings, worst first.
func (s *Store) LowSatisfaction(ctx context.Context, maxMean float64, minRatings, limit int) ([]common.LowSatisfaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(ctx, `
SELECT min(q.text), count(f.id), avg(f.rating)::float8, max(q.id), max(f.created_at)
FROM feedback f
JOIN queries q ON q.id = f.query_id
GROUP BY q.normalized_text
HAVING count(f.id) >= $1 AND avg(f.rating) <= $2
ORDER BY avg(f.rating), count(f.id) DESC, min(q.text)
LIMIT $3`, minRatings, maxMean, limit)
	if err != nil {
		return nil, fmt.Errorf("low satisfaction: %w", err)
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.LowSatisfaction, error) {
		var l common.LowSatisfaction
		err := row.Scan(&l.Text, &l.Ratings, &l.MeanRating, &l.LastQueryID, &l.LastRatedAt)
		return l, err
	})
}
