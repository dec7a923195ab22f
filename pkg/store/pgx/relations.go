package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

const insertBatchSize = 500

const insertRelationSQL = `
INSERT INTO extracted_relations (
    source_entity, target_entity, source_normalized, target_normalized,
    relation_kind, document_id, evidence_span, confidence, extraction_method
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT DO NOTHING`

// InsertRelations writes relations in one transaction and returns how many
// rows were new. Relations under the confidence floor and victim_of edges
// pointing at a state institution are never written.
func (s *Store) InsertRelations(ctx context.Context, rels []common.ExtractedRelation) (int, error) {
	keep := make([]common.ExtractedRelation, 0, len(rels))
	for _, r := range rels {
		if r.Confidence < common.MinRelationConfidence {
			continue
		}
		if r.Kind == common.KindVictimOf && s.lex.IsStateInstitution(r.Target) {
			continue
		}
		keep = append(keep, r)
	}
	if len(keep) == 0 {
		return 0, nil
	}

	inserted := 0
	err := s.withTx(ctx, func(tx pgxv5.Tx) error {
		return store.ChunkRange(len(keep), insertBatchSize, func(start, end int) error {
			batch := &pgxv5.Batch{}
			for _, r := range keep[start:end] {
				batch.Queue(insertRelationSQL,
					r.Source, r.Target, util.Fold(r.Source), util.Fold(r.Target),
					r.Kind, r.DocumentID, util.SanitizePostgresText(r.Evidence), r.Confidence, string(r.Method))
			}
			br := tx.SendBatch(ctx, batch)
			for range end - start {
				tag, err := br.Exec()
				if err != nil {
					_ = br.Close()
					return fmt.Errorf("insert relation: %w", err)
				}
				inserted += int(tag.RowsAffected())
			}
			return br.Close()
		})
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// RelationsForSeeds returns relations of the given method and minimum
// confidence with an endpoint matching any seed, accent insensitively.
func (s *Store) RelationsForSeeds(
	ctx context.Context,
	seeds []string,
	method common.ExtractionMethod,
	minConfidence float64,
	limit int,
) ([]common.ExtractedRelation, error) {
	patterns := seedPatterns(seeds)
	if len(patterns) == 0 {
		return []common.ExtractedRelation{}, nil
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.conn.Query(ctx, `
SELECT id, source_entity, target_entity, relation_kind, document_id, evidence_span, confidence::float8, extraction_method
FROM extracted_relations
WHERE extraction_method = $1
  AND confidence >= $2
  AND (source_normalized LIKE ANY($3::text[]) OR target_normalized LIKE ANY($3::text[]))
ORDER BY confidence DESC, id
LIMIT $4`, string(method), minConfidence, patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("relations for seeds: %w", err)
	}
	return pgxv5.CollectRows(rows, scanRelation)
}

// RelationsAfter pages through every relation by id, for the graph loader.
func (s *Store) RelationsAfter(ctx context.Context, afterID int64, limit int) ([]common.ExtractedRelation, error) {
	rows, err := s.conn.Query(ctx, `
SELECT id, source_entity, target_entity, relation_kind, document_id, evidence_span, confidence::float8, extraction_method
FROM extracted_relations
WHERE id > $1
ORDER BY id
LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("relations after: %w", err)
	}
	return pgxv5.CollectRows(rows, scanRelation)
}

func scanRelation(row pgxv5.CollectableRow) (common.ExtractedRelation, error) {
	var (
		r      common.ExtractedRelation
		method string
	)
	err := row.Scan(&r.ID, &r.Source, &r.Target, &r.Kind, &r.DocumentID, &r.Evidence, &r.Confidence, &method)
	r.Method = common.ExtractionMethod(method)
	return r, err
}

// CoOccurrences pairs each seed with the persons named in the same
// documents, weighted by the number of shared documents.
func (s *Store) CoOccurrences(ctx context.Context, seeds []string, limit int) ([]store.CoOccurrence, error) {
	patterns := seedPatterns(seeds)
	if len(patterns) == 0 {
		return []store.CoOccurrence{}, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.Query(ctx, `
WITH seeds AS (
    SELECT p.document_id, p.normalized_name, p.name
    FROM persons p
    WHERE `+Folded("p.name")+` LIKE ANY($1::text[])
)
SELECT min(s.name), min(o.name), count(DISTINCT o.document_id), array_agg(DISTINCT o.document_id)
FROM seeds s
JOIN persons o ON o.document_id = s.document_id AND o.normalized_name <> s.normalized_name
GROUP BY s.normalized_name, o.normalized_name
ORDER BY count(DISTINCT o.document_id) DESC, min(o.name)
LIMIT $2`, patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("co-occurrences: %w", err)
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (store.CoOccurrence, error) {
		var c store.CoOccurrence
		err := row.Scan(&c.Source, &c.Target, &c.SharedDocuments, &c.DocumentIDs)
		return c, err
	})
}

// SeedMentions lists the documents whose person rows match a seed.
func (s *Store) SeedMentions(ctx context.Context, seeds []string, limit int) ([]store.Mention, error) {
	patterns := seedPatterns(seeds)
	if len(patterns) == 0 {
		return []store.Mention{}, nil
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.conn.Query(ctx, `
SELECT min(p.name), p.role, d.id, d.filename
FROM persons p
JOIN documents d ON d.id = p.document_id
WHERE `+Folded("p.name")+` LIKE ANY($1::text[])
GROUP BY p.normalized_name, p.role, d.id, d.filename
ORDER BY d.id
LIMIT $2`, patterns, limit)
	if err != nil {
		return nil, fmt.Errorf("seed mentions: %w", err)
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (store.Mention, error) {
		var (
			m    store.Mention
			role string
		)
		err := row.Scan(&m.Name, &role, &m.DocumentID, &m.Filename)
		m.Role = common.PersonRole(role)
		return m, err
	})
}

func seedPatterns(seeds []string) []string {
	out := make([]string, 0, len(seeds))
	for _, s := range store.DedupeFolded(seeds) {
		out = append(out, LikePattern(s))
	}
	return out
}

// TopRelations returns the relations around the most connected endpoints,
// counting only relations of method with at least minConfidence.
func (s *Store) TopRelations(
	ctx context.Context,
	method common.ExtractionMethod,
	minConfidence float64,
	hubs int,
	limit int,
) ([]common.ExtractedRelation, error) {
	if hubs <= 0 {
		hubs = 10
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.conn.Query(ctx, `
WITH rel AS (
    SELECT * FROM extracted_relations
    WHERE extraction_method = $1 AND confidence >= $2
),
degree AS (
    SELECT name, count(*) AS n
    FROM (
        SELECT source_normalized AS name FROM rel
        UNION ALL
        SELECT target_normalized FROM rel
    ) e
    GROUP BY name
    ORDER BY n DESC, name
    LIMIT $3
)
SELECT r.id, r.source_entity, r.target_entity, r.relation_kind, r.document_id, r.evidence_span,
       r.confidence::float8, r.extraction_method
FROM rel r
WHERE r.source_normalized IN (SELECT name FROM degree)
   OR r.target_normalized IN (SELECT name FROM degree)
ORDER BY r.confidence DESC, r.id
LIMIT $4`, string(method), minConfidence, hubs, limit)
	if err != nil {
		return nil, fmt.Errorf("top relations: %w", err)
	}
	return pgxv5.CollectRows(rows, scanRelation)
}

// PlaceMentions lists the persons named in documents that mention any of
// the place variants.
func (s *Store) PlaceMentions(ctx context.Context, places []string, limit int) ([]store.PlaceMention, error) {
	folded := make([]string, 0, len(places))
	for _, p := range store.DedupeFolded(places) {
		folded = append(folded, util.Fold(p))
	}
	if len(folded) == 0 {
		return []store.PlaceMention{}, nil
	}
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.conn.Query(ctx, `
SELECT min(pl.name), min(p.name), p.role, p.document_id
FROM places pl
JOIN persons p ON p.document_id = pl.document_id
WHERE `+Folded("pl.name")+` = ANY($1::text[])
GROUP BY pl.normalized_name, p.normalized_name, p.role, p.document_id
ORDER BY p.document_id, min(p.name)
LIMIT $2`, folded, limit)
	if err != nil {
		return nil, fmt.Errorf("place mentions: %w", err)
	}
	return pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (store.PlaceMention, error) {
		var (
			m    store.PlaceMention
			role string
		)
		err := row.Scan(&m.Place, &m.Name, &role, &m.DocumentID)
		m.Role = common.PersonRole(role)
		return m, err
	})
}
