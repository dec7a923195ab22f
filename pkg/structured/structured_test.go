package structured

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"

	"github.com/jackc/pgx/v5"
)

// fakeRows replays canned rows through pgx's Rows interface.
type fakeRows struct {
	pgx.Rows
	data [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.data)
}

func (r *fakeRows) Scan(dest ...any) error {
	row := r.data[r.pos-1]
	for i, d := range dest {
		if row[i] == nil {
			continue
		}
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

func (r *fakeRows) Close()     {}
func (r *fakeRows) Err() error { return nil }

type fakeTx struct {
	pgx.Tx
	db *fakeDB
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	t.db.queries = append(t.db.queries, sql)
	t.db.args = append(t.db.args, args)
	if t.db.queryErr != nil {
		return nil, t.db.queryErr
	}
	if len(t.db.results) == 0 {
		return &fakeRows{}, nil
	}
	data := t.db.results[0]
	t.db.results = t.db.results[1:]
	return &fakeRows{data: data}, nil
}

func (t *fakeTx) Commit(ctx context.Context) error   { t.db.committed = true; return nil }
func (t *fakeTx) Rollback(ctx context.Context) error { return nil }

type fakeDB struct {
	beginErr  error
	queryErr  error
	results   [][][]any
	queries   []string
	args      [][]any
	opts      []pgx.TxOptions
	committed bool
}

func (f *fakeDB) BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	f.opts = append(f.opts, opts)
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	return &fakeTx{db: f}, nil
}

func TestNormalizePagination(t *testing.T) {
	s := NewService(&fakeDB{}, lexicon.Default())
	day := func(d int) *time.Time {
		v := time.Date(2020, 1, d, 0, 0, 0, 0, time.UTC)
		return &v
	}
	tests := []struct {
		name         string
		in           common.FilterSet
		page, size   int
		swappedDates bool
	}{
		{"empty defaults", common.FilterSet{}, 1, 20, false},
		{"empty oversized", common.FilterSet{Page: -3, PageSize: 500}, 1, 20, false},
		{"empty small", common.FilterSet{Page: 2, PageSize: 5}, 2, 5, false},
		{"filtered unbounded", common.FilterSet{Department: "Meta"}, 1, 0, false},
		{"filtered negative", common.FilterSet{Department: "Meta", PageSize: -1}, 1, 0, false},
		{"filtered huge", common.FilterSet{Department: "Meta", PageSize: 10000}, 1, MaxPageSize, false},
		{"dates swapped", common.FilterSet{StartDate: day(20), EndDate: day(1)}, 1, 0, true},
	}
	for _, tc := range tests {
		got := s.normalize(tc.in)
		if got.Page != tc.page || got.PageSize != tc.size {
			t.Fatalf("%s: got page=%d size=%d, want %d/%d", tc.name, got.Page, got.PageSize, tc.page, tc.size)
		}
		if tc.swappedDates && !got.StartDate.Before(*got.EndDate) {
			t.Fatalf("%s: dates not swapped", tc.name)
		}
	}
}

func TestRunGeographicListing(t *testing.T) {
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeDB{results: [][][]any{
		{
			{"Ana Matilde Guzmán Borja", 7, 3, []string{"Antioquia"}, []string{"Medellín"}, 2},
			{"Pedro Pérez", 2, 1, []string{"Antioquia"}, []string{}, 2},
		},
		{
			{"doc-1", "sentencia_1.pdf", "110016000253200680281", "Sala de Justicia y Paz", "sentencia", (*time.Time)(nil), 40, "abc", "Antioquia", "Medellín", created, 0},
		},
	}}
	s := NewService(db, lexicon.Default())
	res, err := s.Run(context.Background(), "dame la lista de víctimas en Antioquia", common.FilterSet{Department: "Antioquia"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExecutionKind != ExecGeographic {
		t.Fatalf("execution kind = %q", res.ExecutionKind)
	}
	if len(res.Victims) != 2 || res.Victims[0].Mentions < res.Victims[1].Mentions {
		t.Fatalf("unexpected victims %+v", res.Victims)
	}
	if len(res.Sources) != 1 || res.Sources[0].Department != "Antioquia" {
		t.Fatalf("unexpected sources %+v", res.Sources)
	}
	if !db.committed || db.opts[0].AccessMode != pgx.ReadOnly {
		t.Fatal("query must run in a committed read-only transaction")
	}
	if len(db.opts) != 1 {
		t.Fatalf("expected one transaction per call, got %d", len(db.opts))
	}
	if !strings.Contains(res.AnswerText, "2 víctimas") {
		t.Fatalf("answer text %q", res.AnswerText)
	}
}

func TestRunInfersPlaceFromText(t *testing.T) {
	db := &fakeDB{}
	s := NewService(db, lexicon.Default())
	res, err := s.Run(context.Background(), "víctimas en Antioquia", common.FilterSet{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExecutionKind != ExecGeographic {
		t.Fatalf("expected inferred geographic filter, got %q", res.ExecutionKind)
	}
	if !reflect.DeepEqual(res.AppliedFilters, []string{"department=Antioquia"}) {
		t.Fatalf("applied filters %v", res.AppliedFilters)
	}
}

func TestRunPersonNamesAreNotPlaces(t *testing.T) {
	tests := []struct {
		text, person, department string
	}{
		{"dame la lista de documentos de Piedad Córdoba", "Piedad Córdoba", ""},
		{"lista de víctimas relacionadas con Cesar Pérez", "Cesar Pérez", ""},
		{"cuántos documentos mencionan a Simón Bolívar", "Simón Bolívar", ""},
		{"víctimas en Antioquia relacionadas con Piedad Córdoba", "Piedad Córdoba", "Antioquia"},
		{"víctimas en Valle del Cauca", "", "Valle del Cauca"},
		{"providencias de la Sala de Justicia y Paz en Córdoba", "", "Córdoba"},
	}
	for _, tc := range tests {
		db := &fakeDB{}
		s := NewService(db, lexicon.Default())
		res, err := s.Run(context.Background(), tc.text, common.FilterSet{})
		if err != nil {
			t.Fatalf("%q: Run: %v", tc.text, err)
		}
		var want []string
		if tc.department != "" {
			want = append(want, "department="+tc.department)
		}
		if tc.person != "" {
			want = append(want, "person_name="+tc.person)
		}
		if !reflect.DeepEqual(res.AppliedFilters, want) {
			t.Fatalf("%q: applied filters %v, want %v", tc.text, res.AppliedFilters, want)
		}
	}
}

func TestRunPlaceVariantsQueryAlike(t *testing.T) {
	run := func(text string) *fakeDB {
		db := &fakeDB{}
		if _, err := NewService(db, lexicon.Default()).Run(context.Background(), text, common.FilterSet{}); err != nil {
			t.Fatalf("%q: Run: %v", text, err)
		}
		return db
	}
	base := run("víctimas en Bogotá")
	if len(base.queries) == 0 {
		t.Fatal("no query issued")
	}
	for _, text := range []string{"víctimas en Bogota", "víctimas en BOGOTÁ", "víctimas en Santa Fe de Bogotá"} {
		db := run(text)
		if !reflect.DeepEqual(db.queries, base.queries) || !reflect.DeepEqual(db.args, base.args) {
			t.Fatalf("%q: query differs from canonical spelling\n%v %v\n%v %v", text, db.queries, db.args, base.queries, base.args)
		}
	}
}

func TestRunDefaultListingIsBounded(t *testing.T) {
	db := &fakeDB{}
	s := NewService(db, lexicon.Default())
	res, err := s.Run(context.Background(), "lista de víctimas", common.FilterSet{Page: 0, PageSize: 999})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExecutionKind != ExecDefaultListing || res.PageSize != DefaultPageSize || res.Page != 1 {
		t.Fatalf("unexpected envelope %+v", res)
	}
	if !strings.Contains(db.queries[0], "LIMIT") {
		t.Fatal("default listing must be paginated")
	}
	if res.Victims == nil || res.Sources == nil || res.AppliedFilters == nil {
		t.Fatal("envelope slices must never be nil")
	}
}

func TestRunRelationalError(t *testing.T) {
	driverErr := errors.New(`ERROR: relation "persons" does not exist (SQLSTATE 42P01)`)
	for _, db := range []*fakeDB{{beginErr: driverErr}, {queryErr: driverErr}} {
		s := NewService(db, lexicon.Default())
		res, err := s.Run(context.Background(), "víctimas", common.FilterSet{Department: "Meta"})
		if !errors.Is(err, ErrRelational) {
			t.Fatalf("expected ErrRelational, got %v", err)
		}
		if errors.Is(err, driverErr) || strings.Contains(err.Error(), "SQLSTATE") {
			t.Fatalf("driver error leaked: %v", err)
		}
		if res.ExecutionKind != ExecError || res.Victims == nil || res.Sources == nil {
			t.Fatalf("expected well-formed error envelope, got %+v", res)
		}
	}
}

func TestPersonDossier(t *testing.T) {
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	db := &fakeDB{results: [][][]any{{
		{"doc-2", "auto_2.pdf", "", "", "auto", (*time.Time)(nil), 12, "", "", "", created, 5},
		{"doc-1", "sentencia_1.pdf", "110016000253200680281", "", "sentencia", (*time.Time)(nil), 40, "", "Antioquia", "", created, 2},
	}}}
	s := NewService(db, lexicon.Default())
	res, err := s.PersonDossier(context.Background(), "Oswaldo Olivo", common.FilterSet{})
	if err != nil {
		t.Fatalf("PersonDossier: %v", err)
	}
	if res.ExecutionKind != ExecPersonDossier || res.Total != 2 {
		t.Fatalf("unexpected envelope %+v", res)
	}
	if !strings.Contains(res.AnswerText, "Oswaldo Olivo aparece en 2 documentos (7 menciones") {
		t.Fatalf("answer text %q", res.AnswerText)
	}
	if strings.Contains(db.queries[0], "oswaldo") {
		t.Fatal("person name must be bound")
	}
}

func TestListingTextEmpty(t *testing.T) {
	got := listingText(common.StructuredResult{AppliedFilters: []string{"department=Meta"}})
	if got != "No se encontraron registros para los filtros aplicados (department=Meta)." {
		t.Fatalf("unexpected %q", got)
	}
}
