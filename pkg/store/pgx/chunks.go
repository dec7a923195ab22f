package pgx

import (
	"context"
	"fmt"
	"strconv"

	"github.com/OFFIS-RIT/indaga/backend/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
)

const snippetChars = 400

// SearchChunks runs the dense KNN leg and the lexical leg over the chunk
// index and fuses them by reciprocal rank. A nil embedding runs the lexical
// leg alone.
func (s *Store) SearchChunks(
	ctx context.Context,
	text string,
	embedding []float32,
	filters common.FilterSet,
	limit int,
) ([]common.Chunk, error) {
	if limit <= 0 {
		limit = 10
	}
	keywords := queryKeywords(text)

	var a Args
	textArg := a.Add(text)
	fc := BuildFilters(s.lex, filters, &a)
	candidates := a.Add(int(candidateLimit(int32(limit))))

	dense := "SELECT NULL::bigint AS id, NULL::float8 AS distance WHERE false"
	if len(embedding) > 0 {
		vec := a.Add(pgvector.NewVector(embedding))
		dense = fmt.Sprintf(`SELECT c.id, (c.embedding <=> %[1]s)::float8 AS distance
        FROM document_chunks c
        JOIN documents d ON d.id = c.document_id
        WHERE c.embedding IS NOT NULL%[2]s
        ORDER BY c.embedding <=> %[1]s
        LIMIT %[3]s`, vec, fc.And(), candidates)
	}

	sql := fmt.Sprintf(`
WITH q AS (SELECT websearch_to_tsquery('spanish', %[1]s) AS tsq),
dense AS (
    %[2]s
),
lexical AS (
    SELECT c.id, ts_rank_cd(c.content_tsv, q.tsq)::float8 AS rank
    FROM document_chunks c
    JOIN documents d ON d.id = c.document_id
    CROSS JOIN q
    WHERE c.content_tsv @@ q.tsq%[3]s
    ORDER BY rank DESC
    LIMIT %[4]s
)
SELECT c.id, c.document_id, d.filename, coalesce(d.case_number, ''), coalesce(d.document_kind, ''),
       c.page, c.paragraph, c.content, left(coalesce(d.analytic_summary, ''), %[5]d),
       dense.distance, lexical.rank
FROM document_chunks c
JOIN documents d ON d.id = c.document_id
LEFT JOIN dense ON dense.id = c.id
LEFT JOIN lexical ON lexical.id = c.id
WHERE c.id IN (SELECT id FROM dense UNION SELECT id FROM lexical)`,
		textArg, dense, fc.And(), candidates, snippetChars)

	rows, err := s.conn.Query(ctx, sql, a...)
	if err != nil {
		return nil, fmt.Errorf("chunk search: %w", err)
	}
	hits, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (chunkRow, error) {
		var h chunkRow
		c := &h.Chunk
		err := row.Scan(&h.ID, &c.DocumentID, &c.Filename, &c.CaseNumber, &c.DocumentKind,
			&c.Page, &c.Paragraph, &c.Excerpt, &c.AnalyticSnippet, &h.Distance, &h.Rank)
		c.ID = strconv.FormatInt(h.ID, 10)
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("chunk search: %w", err)
	}
	return rerankChunkResults(hits, keywords, int32(limit)), nil
}

// SearchFullText is the keyword fallback over whole documents: full-text
// rank over the analytic summary and extracted text plus trigram word
// similarity against the summary.
func (s *Store) SearchFullText(
	ctx context.Context,
	text string,
	filters common.FilterSet,
	limit int,
) ([]common.Chunk, error) {
	if limit <= 0 {
		limit = 10
	}
	keywords := queryKeywords(text)

	var a Args
	textArg := a.Add(text)
	fc := BuildFilters(s.lex, filters, &a)
	sql := fmt.Sprintf(`
WITH q AS (SELECT websearch_to_tsquery('spanish', %[1]s) AS tsq)
SELECT d.id, d.filename, coalesce(d.case_number, ''), coalesce(d.document_kind, ''),
       ts_headline('spanish', left(coalesce(nullif(d.extracted_text, ''), d.analytic_summary, ''), 20000), q.tsq,
                   'MaxWords=60, MinWords=20, MaxFragments=1'),
       left(coalesce(d.analytic_summary, ''), %[2]d),
       ts_rank(d.search_tsv, q.tsq)::float8 AS rank,
       word_similarity(%[1]s, coalesce(d.analytic_summary, ''))::float8 AS trgm
FROM documents d
CROSS JOIN q
WHERE (d.search_tsv @@ q.tsq OR %[1]s <%% coalesce(d.analytic_summary, ''))%[3]s
ORDER BY rank + trgm DESC, d.id
LIMIT %[4]s`, textArg, snippetChars, fc.And(), a.Add(limit))

	rows, err := s.conn.Query(ctx, sql, a...)
	if err != nil {
		return nil, fmt.Errorf("full-text search: %w", err)
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Chunk, error) {
		var (
			c          common.Chunk
			rank, trgm float64
		)
		err := row.Scan(&c.DocumentID, &c.Filename, &c.CaseNumber, &c.DocumentKind,
			&c.Excerpt, &c.AnalyticSnippet, &rank, &trgm)
		c.ID = "doc:" + c.DocumentID
		c.Similarity = fullTextSimilarity(trgm, keywordMatches(c.Excerpt+" "+c.AnalyticSnippet, keywords), int32(len(keywords)))
		return c, err
	})
}

func fullTextSimilarity(trgm float64, matches, total int32) float64 {
	return clamp01(max(trgm, 0.7*keywordCoverage(matches, total)))
}
