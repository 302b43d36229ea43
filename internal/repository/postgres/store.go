// Package postgres provides the PostgreSQL-backed implementation of the repository interfaces.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/nadmax/ecotask/internal/repository"
	"github.com/rs/zerolog/log"
)

//go:embed schema.sql
var schema string

// Store implements repository.Store and repository.StatsRepository.
type Store struct {
	db *sql.DB
}

func NewStore(connectionString string) (*Store, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Store{db: db}, nil
}

// Migrate creates the tables and indexes if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	return nil
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				log.Error().Err(rbErr).Msg("failed to roll back transaction")
			}
		}
	}()

	if err = fn(ctx, &tx{q: sqlTx}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return classify(err, "commit transaction")
	}

	return nil
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Postgres error codes the repositories translate.
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	invalidTextRepr     = "22P02"
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds an ILIKE pattern matching search literally anywhere
// in the column.
func containsPattern(search string) string {
	return "%" + likeEscaper.Replace(search) + "%"
}

// referenceFields maps the default foreign key names of schema.sql to request fields.
var referenceFields = map[string]string{
	"projects_owner_id_fkey":       "ownerId",
	"project_members_user_id_fkey": "memberIds",
	"tasks_assignee_id_fkey":       "assigneeId",
	"tasks_project_id_fkey":        "projectId",
}

// classify maps driver errors onto the repository sentinels. Anything that is
// not a data error is reported as ErrUnavailable, which callers may retry.
func classify(err error, subject string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", subject, repository.ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%s: %w: %w", subject, repository.ErrConflict, err)
		case foreignKeyViolation:
			if field, ok := referenceFields[pqErr.Constraint]; ok {
				return fmt.Errorf("%s: %w: %w", subject, &repository.ReferenceError{Field: field}, err)
			}
			return fmt.Errorf("%s: %w: %w", subject, repository.ErrInvalidReference, err)
		case invalidTextRepr:
			// a malformed uuid can never match a row
			return fmt.Errorf("%s: %w", subject, repository.ErrNotFound)
		}
	}

	return fmt.Errorf("%s: %w: %w", subject, repository.ErrUnavailable, err)
}

// classifyDelete treats a foreign key violation as the row still being referenced.
func classifyDelete(err error, subject string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return fmt.Errorf("%s: %w: %w", subject, repository.ErrConflict, err)
	}

	return classify(err, subject)
}

func expectOneRow(res sql.Result, subject string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return classify(err, subject)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", subject, repository.ErrNotFound)
	}

	return nil
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close rows")
	}
}

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}

	return t
}

func nullTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}

	return *t
}

func nullFloatPtr(f *float64) any {
	if f == nil {
		return nil
	}

	return *f
}
