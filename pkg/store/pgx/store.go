package pgx

import (
	"context"
	"errors"

	"github.com/OFFIS-RIT/indaga/backend/pkg/lexicon"

	pgxv5 "github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

type pgxIConn interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgxv5.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgxv5.Row
	Begin(ctx context.Context) (pgxv5.Tx, error)
}

// Store implements the engine's relational persistence on PostgreSQL with
// pgvector, unaccent and pg_trgm.
type Store struct {
	conn pgxIConn
	lex  *lexicon.Lexicon
}

func New(conn pgxIConn, lex *lexicon.Lexicon) *Store {
	return &Store{conn: conn, lex: lex}
}

func (s *Store) withTx(ctx context.Context, fn func(tx pgxv5.Tx) error) error {
	tx, err := s.conn.Begin(ctx)
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
