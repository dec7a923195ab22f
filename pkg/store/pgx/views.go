package pgx

import (
	"context"
	"fmt"

	"github.com/OFFIS-RIT/indaga/backend/pkg/store"

	pgxv5 "github.com/jackc/pgx/v5"
)

// Materialized views answering frequent questions. Names are never taken
// from user input; unknown views are rejected.
var materializedViews = map[string]string{
	"dashboard_metrics":    "mv_dashboard_metrics",
	"top_entities":         "mv_top_entities",
	"geographic_breakdown": "mv_geographic_breakdown",
	"entity_counts":        "mv_entity_counts",
}

var viewQueries = map[string]string{
	"dashboard_metrics":    `SELECT documents, victims, perpetrators, relations, departments FROM mv_dashboard_metrics`,
	"top_entities":         `SELECT name, role, mentions, documents FROM mv_top_entities ORDER BY mentions DESC, name LIMIT 20`,
	"geographic_breakdown": `SELECT department, documents, victims FROM mv_geographic_breakdown ORDER BY documents DESC, department`,
	"entity_counts":        `SELECT entity_type, total FROM mv_entity_counts ORDER BY entity_type`,
}

// FrequentView reads one precomputed aggregation.
func (s *Store) FrequentView(ctx context.Context, view string) (store.ViewResult, error) {
	sql, ok := viewQueries[view]
	if !ok {
		return store.ViewResult{}, fmt.Errorf("unknown view %q", view)
	}
	rows, err := s.conn.Query(ctx, sql)
	if err != nil {
		return store.ViewResult{}, fmt.Errorf("view %s: %w", view, err)
	}
	defer rows.Close()

	res := store.ViewResult{View: view}
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return store.ViewResult{}, fmt.Errorf("view %s: %w", view, err)
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return store.ViewResult{}, fmt.Errorf("view %s: %w", view, err)
	}
	return res, nil
}

// RefreshViews recomputes every materialized aggregation.
func (s *Store) RefreshViews(ctx context.Context) error {
	for _, name := range []string{"dashboard_metrics", "top_entities", "geographic_breakdown", "entity_counts"} {
		if _, err := s.conn.Exec(ctx, "REFRESH MATERIALIZED VIEW "+pgxv5.Identifier{materializedViews[name]}.Sanitize()); err != nil {
			return fmt.Errorf("refresh %s: %w", name, err)
		}
	}
	return nil
}
