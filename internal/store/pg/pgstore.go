// Package pg persists the billing model in PostgreSQL behind the same
// interfaces the in-memory implementations satisfy, so callers cannot
// tell the two apart.
package pg

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"deskbill.org/internal/audit"
	"deskbill.org/internal/billing"
	"deskbill.org/internal/directory"
)

// Store implements directory.Service, billing.Service and audit.Trail
// over a shared connection pool.
type Store struct {
	db *sql.DB

	auditMu   sync.Mutex
	lastAudit time.Time
	now       func() time.Time
}

var (
	_ directory.Service = (*Store)(nil)
	_ billing.Service   = (*Store)(nil)
	_ audit.Trail       = (*Store)(nil)
)

// Open connects to PostgreSQL via the pgx stdlib driver.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db), nil
}

// NewStore wraps an existing database handle (tests use sqlmock here).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// storageErr surfaces a driver failure as the package's opaque storage
// sentinel; constraint violations are mapped to typed outcomes first.
func storageErr(kind error, err error) error {
	return fmt.Errorf("%w: %v", kind, err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23503"
}
