package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS identities (
    addr       BYTEA PRIMARY KEY,
    deveui     BYTEA NOT NULL,
    activation SMALLINT NOT NULL DEFAULT 0,
    class      SMALLINT NOT NULL DEFAULT 0,
    nwkskey    BYTEA NOT NULL,
    appskey    BYTEA NOT NULL,
    version    SMALLINT NOT NULL DEFAULT 0,
    appeui     BYTEA NOT NULL,
    appkey     BYTEA NOT NULL,
    nwkkey     BYTEA NOT NULL,
    devnonce   INTEGER NOT NULL DEFAULT 0,
    joinnonce  INTEGER NOT NULL DEFAULT 0,
    name       BYTEA NOT NULL,
    assigned   TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp()
);
ALTER TABLE identities DROP CONSTRAINT IF EXISTS identities_deveui_key;
ALTER TABLE identities ADD COLUMN IF NOT EXISTS assigned TIMESTAMPTZ NOT NULL DEFAULT clock_timestamp();
CREATE INDEX IF NOT EXISTS identities_deveui_idx ON identities (deveui, assigned DESC);
CREATE TABLE IF NOT EXISTS gateways (
    id      BYTEA PRIMARY KEY,
    address TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS gateways_address_idx ON gateways (address);
`

// PostgresStore holds the connection shared by the identity and gateway services
type PostgresStore struct {
	db   *sql.DB
	tx   *sql.Tx
	refs *atomic.Int32
}

// NewPostgresStore creates a new PostgreSQL store and makes sure the tables exist
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", errors.Join(ErrUnavailable, err))
	}

	s := &PostgresStore{db: db, refs: new(atomic.Int32)}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	tx, err := s.BeginTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.getDB().ExecContext(ctx, schema); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) retain() {
	s.refs.Add(1)
}

// Close closes the database connection once the last service using it is closed
func (s *PostgresStore) Close() error {
	if s.refs.Add(-1) > 0 {
		return nil
	}
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *PostgresStore) BeginTx(ctx context.Context) (*PostgresStore, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{db: s.db, tx: tx, refs: s.refs}, nil
}

// Commit commits the transaction
func (s *PostgresStore) Commit() error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Commit()
}

// Rollback rolls back the transaction
func (s *PostgresStore) Rollback() error {
	if s.tx == nil {
		return nil
	}
	return s.tx.Rollback()
}

// getDB returns tx if in transaction, otherwise db
func (s *PostgresStore) getDB() interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
} {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// SetOption supports "max_open_conns" and "max_idle_conns"
func (s *PostgresStore) SetOption(key, value string) error {
	n, err := strconv.Atoi(value)
	switch key {
	case "max_open_conns":
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.db.SetMaxOpenConns(n)
	case "max_idle_conns":
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.db.SetMaxIdleConns(n)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedOption, key)
	}
	return nil
}

// mapError translates driver errors into storage errors
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, sql.ErrConnDone) {
		return ErrClosed
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return ErrDuplicateKey
		case "22P02", "23502", "23514":
			return fmt.Errorf("%w: %s", ErrInvalidData, pqErr.Message)
		}
		if pqErr.Code.Class() == "08" {
			return fmt.Errorf("%w: %s", ErrUnavailable, pqErr.Message)
		}
	}
	if err.Error() == "sql: database is closed" {
		return ErrClosed
	}
	return err
}
