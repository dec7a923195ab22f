// Package structured answers listing questions (victims, documents, person
// dossiers) with parameterized SQL over the relational store.
package structured

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/OFFIS-RIT/indaga/backend/internal/util"
	"github.com/OFFIS-RIT/indaga/backend/pkg/classify"
	"github.com/OFFIS-RIT/indaga/backend/pkg/common"
	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"
	"github.com/OFFIS-RIT/indaga/backend/pkg/logger"
	pgxstore "github.com/OFFIS-RIT/indaga/backend/pkg/store/pgx"

	"github.com/jackc/pgx/v5"
)

// ErrRelational is returned when the relational store fails. It is the only
// error class the router does not absorb. Driver details are logged, never
// wrapped.
var ErrRelational = errors.New("relational store error")

// Execution kinds reported in StructuredResult.ExecutionKind.
const (
	ExecDefaultListing = "default_listing"
	ExecFiltered       = "filtered"
	ExecGeographic     = "geographic_filtered"
	ExecPersonDossier  = "person_dossier"
	ExecError          = "error"
)

const (
	DefaultPageSize  = 20
	MaxPageSize      = 500
	DefaultSourceCap = 100
)

var nucPattern = regexp.MustCompile(`\b\d{11,23}\b`)

// DB is the part of pgxpool.Pool the service needs.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type Service struct {
	db        DB
	lex       *lexicon.Lexicon
	sourceCap int
}

func NewService(db DB, lex *lexicon.Lexicon) *Service {
	return &Service{db: db, lex: lex, sourceCap: DefaultSourceCap}
}

// WithSourceCap overrides the default cap on listed documents.
func (s *Service) WithSourceCap(n int) *Service {
	if n > 0 {
		s.sourceCap = n
	}
	return s
}

// Run lists victims and source documents matching filters. Places and case
// numbers named in text are used when filters leave them unset.
func (s *Service) Run(ctx context.Context, text string, filters common.FilterSet) (common.StructuredResult, error) {
	f := s.normalize(s.infer(text, filters))

	kind := ExecFiltered
	switch {
	case f.IsEmpty():
		kind = ExecDefaultListing
	case f.Department != "" || f.Municipality != "":
		kind = ExecGeographic
	}

	limit, offset := 0, 0
	if kind == ExecDefaultListing || f.PageSize > 0 {
		limit = f.PageSize
		offset = (f.Page - 1) * f.PageSize
	}

	res := common.StructuredResult{
		ExecutionKind:  kind,
		Victims:        []common.VictimRow{},
		Sources:        []common.DocumentRef{},
		AppliedFilters: []string{},
		Page:           f.Page,
		PageSize:       limit,
	}

	err := s.readOnly(ctx, func(tx pgx.Tx) error {
		var va pgxstore.Args
		fc := pgxstore.BuildFilters(s.lex, f, &va)
		res.AppliedFilters = append(res.AppliedFilters, fc.Applied...)
		rows, err := tx.Query(ctx, victimsSQL(fc, &va, limit, offset), va...)
		if err != nil {
			return err
		}
		total := 0
		victims, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (common.VictimRow, error) {
			var v common.VictimRow
			err := row.Scan(&v.Name, &v.Mentions, &v.Documents, &v.Departments, &v.Municipality, &total)
			return v, err
		})
		if err != nil {
			return err
		}
		res.Victims = victims
		res.Total = total

		var sa pgxstore.Args
		sfc := pgxstore.BuildFilters(s.lex, f, &sa)
		res.Sources, err = queryDocuments(ctx, tx, sourcesSQL(sfc, &sa, s.sourceCap), sa)
		return err
	})
	if err != nil {
		return s.fail(res.AppliedFilters, "victims", err)
	}

	res.AnswerText = listingText(res)
	return res, nil
}

// PersonDossier lists every document mentioning name, most mentions first,
// with full document metadata.
func (s *Service) PersonDossier(ctx context.Context, name string, filters common.FilterSet) (common.StructuredResult, error) {
	f := s.normalize(filters)
	f.PersonName = ""

	res := common.StructuredResult{
		ExecutionKind:  ExecPersonDossier,
		Victims:        []common.VictimRow{},
		Sources:        []common.DocumentRef{},
		AppliedFilters: []string{"person_name=" + name},
	}

	err := s.readOnly(ctx, func(tx pgx.Tx) error {
		var a pgxstore.Args
		fc := pgxstore.BuildFilters(s.lex, f, &a)
		res.AppliedFilters = append(res.AppliedFilters, fc.Applied...)
		docs, err := queryDocuments(ctx, tx, dossierSQL(name, fc, &a, s.sourceCap), a)
		if err != nil {
			return err
		}
		res.Sources = docs
		return nil
	})
	if err != nil {
		return s.fail(res.AppliedFilters, "dossier", err)
	}

	res.Total = len(res.Sources)
	res.AnswerText = dossierText(name, res.Sources)
	return res, nil
}

func (s *Service) readOnly(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Service) fail(applied []string, stage string, err error) (common.StructuredResult, error) {
	logger.Error("[Structured] query failed", "stage", stage, "err", err)
	if applied == nil {
		applied = []string{}
	}
	return common.StructuredResult{
		AnswerText:     "No fue posible ejecutar la consulta estructurada.",
		Victims:        []common.VictimRow{},
		Sources:        []common.DocumentRef{},
		AppliedFilters: applied,
		ExecutionKind:  ExecError,
	}, fmt.Errorf("%w: %s query", ErrRelational, stage)
}

// infer fills unset filters from the question. A person named in it becomes
// the person filter, and the words of that name never count as places, so
// "Piedad Córdoba" does not filter by the department of Córdoba.
func (s *Service) infer(text string, f common.FilterSet) common.FilterSet {
	persons := s.personNames(text)
	if f.PersonName == "" && len(persons) > 0 {
		f.PersonName = persons[0]
	}
	if f.Department == "" && f.Municipality == "" {
		masked := text
		for _, p := range persons {
			masked = strings.ReplaceAll(masked, p, " ; ")
		}
		f.Department, f.Municipality = s.lex.MentionedPlaces(masked)
	}
	if len(f.CaseNumbers) == 0 {
		f.CaseNumbers = nucPattern.FindAllString(text, -1)
	}
	return f
}

// nameConnectors join name words without counting as one.
var nameConnectors = map[string]struct{}{"de": {}, "del": {}, "la": {}, "las": {}, "los": {}}

// personNames returns the proper-noun spans of text that read as a person:
// at least two name words, one of them outside every place name, and not
// the name of an institution or armed group.
func (s *Service) personNames(text string) []string {
	var out []string
	for _, span := range classify.ProperNouns(text) {
		if s.lex.IsKnownPlace(span) || s.lex.NamesBody(span) {
			continue
		}
		words, placeOnly := 0, true
		for _, w := range strings.FieldsFunc(span, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
		}) {
			if _, ok := nameConnectors[util.Fold(w)]; ok {
				continue
			}
			words++
			if !s.lex.IsPlaceWord(w) {
				placeOnly = false
			}
		}
		if words >= 2 && !placeOnly {
			out = append(out, span)
		}
	}
	return out
}

// normalize clamps pagination and swaps inverted date ranges. Invalid
// inputs are logged and corrected, never rejected.
func (s *Service) normalize(f common.FilterSet) common.FilterSet {
	if f.Page < 1 {
		if f.Page != 0 {
			logger.Warn("[Structured] invalid page, clamping", "page", f.Page)
		}
		f.Page = 1
	}
	if f.IsEmpty() {
		if f.PageSize <= 0 || f.PageSize > DefaultPageSize {
			if f.PageSize != 0 {
				logger.Warn("[Structured] page size out of range, clamping", "page_size", f.PageSize)
			}
			f.PageSize = DefaultPageSize
		}
	} else {
		if f.PageSize < 0 {
			logger.Warn("[Structured] negative page size, ignoring", "page_size", f.PageSize)
			f.PageSize = 0
		}
		if f.PageSize > MaxPageSize {
			logger.Warn("[Structured] page size out of range, clamping", "page_size", f.PageSize)
			f.PageSize = MaxPageSize
		}
	}
	if f.StartDate != nil && f.EndDate != nil && f.StartDate.After(*f.EndDate) {
		logger.Warn("[Structured] start date after end date, swapping",
			"start_date", f.StartDate.Format(time.DateOnly), "end_date", f.EndDate.Format(time.DateOnly))
		f.StartDate, f.EndDate = f.EndDate, f.StartDate
	}
	return f
}

func queryDocuments(ctx context.Context, tx pgx.Tx, sql string, a pgxstore.Args) ([]common.DocumentRef, error) {
	rows, err := tx.Query(ctx, sql, a...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (common.DocumentRef, error) {
		var d common.DocumentRef
		err := row.Scan(&d.DocumentID, &d.Filename, &d.CaseNumber, &d.Chamber, &d.DocumentKind,
			&d.ProductionDate, &d.Pages, &d.FileHash, &d.Department, &d.Municipality, &d.CreatedAt, &d.Mentions)
		return d, err
	})
}
