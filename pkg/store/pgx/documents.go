package pgx

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/indaga/backend/pkg/common"

	pgxv5 "github.com/jackc/pgx/v5"
)

const documentSelect = `
SELECT id, filename, coalesce(case_number, ''), coalesce(chamber, ''), coalesce(document_kind, ''),
       production_date, pages, coalesce(file_hash, ''), coalesce(analytic_summary, ''), created_at
FROM documents`

func scanDocument(row pgxv5.CollectableRow) (common.Document, error) {
	var d common.Document
	err := row.Scan(&d.ID, &d.Filename, &d.CaseNumber, &d.Chamber, &d.DocumentKind,
		&d.ProductionDate, &d.Pages, &d.FileHash, &d.AnalyticSummary, &d.CreatedAt)
	return d, err
}

// DocumentsAfter pages through documents in id order, starting after
// afterID. An empty afterID starts at the beginning.
func (s *Store) DocumentsAfter(ctx context.Context, afterID string, limit int) ([]common.Document, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.conn.Query(ctx, documentSelect+`
WHERE id > $1
ORDER BY id
LIMIT $2`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("documents after: %w", err)
	}
	return pgxv5.CollectRows(rows, scanDocument)
}

func (s *Store) Document(ctx context.Context, id string) (common.Document, error) {
	rows, err := s.conn.Query(ctx, documentSelect+`
WHERE id = $1`, id)
	if err != nil {
		return common.Document{}, fmt.Errorf("document: %w", err)
	}
	d, err := pgxv5.CollectExactlyOneRow(rows, scanDocument)
	if errors.Is(err, pgxv5.ErrNoRows) {
		return common.Document{}, ErrNotFound
	}
	return d, err
}

// CountDocumentsAfter reports how many documents remain after afterID.
func (s *Store) CountDocumentsAfter(ctx context.Context, afterID string) (int, error) {
	var n int
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM documents WHERE id > $1`, afterID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}

// DocumentEntities returns the person, organization and place mentions of
// one document.
func (s *Store) DocumentEntities(ctx context.Context, documentID string) ([]common.Person, []common.Organization, []common.Place, error) {
	rows, err := s.conn.Query(ctx, `
SELECT document_id, name, normalized_name, role FROM persons WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("persons: %w", err)
	}
	persons, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Person, error) {
		var (
			p    common.Person
			role string
		)
		err := row.Scan(&p.DocumentID, &p.Name, &p.NormalizedName, &role)
		p.Role = common.PersonRole(role)
		return p, err
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("persons: %w", err)
	}

	rows, err = s.conn.Query(ctx, `
SELECT document_id, name, normalized_name, org_kind FROM organizations WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("organizations: %w", err)
	}
	orgs, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Organization, error) {
		var (
			o    common.Organization
			kind string
		)
		err := row.Scan(&o.DocumentID, &o.Name, &o.NormalizedName, &kind)
		o.Kind = common.OrgKind(kind)
		return o, err
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("organizations: %w", err)
	}

	rows, err = s.conn.Query(ctx, `
SELECT document_id, name, normalized_name, kind FROM places WHERE document_id = $1 ORDER BY id`, documentID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("places: %w", err)
	}
	places, err := pgxv5.CollectRows(rows, func(row pgxv5.CollectableRow) (common.Place, error) {
		var (
			p    common.Place
			kind string
		)
		err := row.Scan(&p.DocumentID, &p.Name, &p.NormalizedName, &kind)
		p.Kind = common.PlaceKind(kind)
		return p, err
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("places: %w", err)
	}
	return persons, orgs, places, nil
}
