// Package storage persists instrument records and the run history.
//
// The same queries serve SQLite (database/sql over modernc) and PostgreSQL
// (pgxpool). Queries are written with ? placeholders and rebound to $n for
// PostgreSQL. Every write is an upsert on the natural key, so re-ingesting a
// record replaces the existing row.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/instrument-sync/internal/database"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// ErrRunNotFound is returned when no run has the requested id
var ErrRunNotFound = errors.New("run not found")

// Store is the pooled handle shared by every job of a process
type Store struct {
	q       querier
	dialect string
	now     func() time.Time
	log     zerolog.Logger
}

// NewSQLiteStore wraps an opened SQLite database. Closing the store closes db.
func NewSQLiteStore(db *database.DB, log zerolog.Logger) *Store {
	return &Store{
		q:       &sqlQuerier{conn: db.Conn(), db: db.Conn(), closer: db.Close},
		dialect: "sqlite",
		now:     time.Now,
		log:     log.With().Str("component", "store").Str("dialect", "sqlite").Logger(),
	}
}

// NewPostgresStore wraps a pgx pool. Closing the store closes the pool.
func NewPostgresStore(pool *pgxpool.Pool, log zerolog.Logger) *Store {
	return &Store{
		q:       &pgxQuerier{conn: pool, closer: func() error { pool.Close(); return nil }},
		dialect: "postgres",
		now:     time.Now,
		log:     log.With().Str("component", "store").Str("dialect", "postgres").Logger(),
	}
}

// Dialect names the backing database
func (s *Store) Dialect() string {
	return s.dialect
}

// Close releases the underlying pool
func (s *Store) Close() error {
	s.log.Info().Msg("Closing store")
	return s.q.close()
}

// Counts holds row counts per table
type Counts struct {
	Companies    int64 `json:"companies"`
	PriceHistory int64 `json:"price_history"`
	Dividends    int64 `json:"dividends"`
	Splits       int64 `json:"splits"`
	Runs         int64 `json:"runs"`
}

// Counts returns the number of rows in every table
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	targets := []struct {
		table string
		dest  *int64
	}{
		{"companies", &c.Companies},
		{"price_history", &c.PriceHistory},
		{"dividends", &c.Dividends},
		{"splits", &c.Splits},
		{"runs", &c.Runs},
	}
	for _, t := range targets {
		if err := s.q.queryRow(ctx, "SELECT COUNT(*) FROM "+t.table).Scan(t.dest); err != nil {
			return Counts{}, fmt.Errorf("failed to count %s: %w", t.table, err)
		}
	}
	return c, nil
}

// querier is the subset of a connection pool or transaction the store needs
type querier interface {
	exec(ctx context.Context, query string, args ...any) error
	queryRow(ctx context.Context, query string, args ...any) rowScanner
	query(ctx context.Context, query string, args ...any) (rowsScanner, error)
	inTx(ctx context.Context, fn func(q querier) error) error
	close() error
}

type rowScanner interface {
	Scan(dest ...any) error
}

type rowsScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, pgx.ErrNoRows)
}

// database/sql

type sqlConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type sqlQuerier struct {
	conn   sqlConn
	db     *sql.DB // nil inside a transaction
	closer func() error
}

func (q *sqlQuerier) exec(ctx context.Context, query string, args ...any) error {
	_, err := q.conn.ExecContext(ctx, query, args...)
	return err
}

func (q *sqlQuerier) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return q.conn.QueryRowContext(ctx, query, args...)
}

func (q *sqlQuerier) query(ctx context.Context, query string, args ...any) (rowsScanner, error) {
	rows, err := q.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{rows}, nil
}

func (q *sqlQuerier) inTx(ctx context.Context, fn func(q querier) error) error {
	if q.db == nil {
		return fn(q)
	}
	return database.WithTransaction(ctx, q.db, func(tx *sql.Tx) error {
		return fn(&sqlQuerier{conn: tx})
	})
}

func (q *sqlQuerier) close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer()
}

type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() {
	_ = r.Rows.Close()
}

// pgx

type pgxConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type pgxQuerier struct {
	conn   pgxConn
	closer func() error
}

func (q *pgxQuerier) exec(ctx context.Context, query string, args ...any) error {
	_, err := q.conn.Exec(ctx, rebind(query), args...)
	return err
}

func (q *pgxQuerier) queryRow(ctx context.Context, query string, args ...any) rowScanner {
	return q.conn.QueryRow(ctx, rebind(query), args...)
}

func (q *pgxQuerier) query(ctx context.Context, query string, args ...any) (rowsScanner, error) {
	return q.conn.Query(ctx, rebind(query), args...)
}

func (q *pgxQuerier) inTx(ctx context.Context, fn func(q querier) error) error {
	return pgx.BeginFunc(ctx, q.conn, func(tx pgx.Tx) error {
		return fn(&pgxQuerier{conn: tx})
	})
}

func (q *pgxQuerier) close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer()
}

// rebind converts ? placeholders to PostgreSQL's $1, $2, ...
func rebind(query string) string {
	if !strings.Contains(query, "?") {
		return query
	}

	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
