// Package pg implements every store port on PostgreSQL via database/sql and
// the pgx stdlib driver.
package pg

import (
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store carries the shared connection pool. Entity-specific views live in
// users.go, tokens.go and authz.go.
type Store struct {
	db *sql.DB
}

// UserStore is the user snapshot view of the pool.
type UserStore struct{ db *sql.DB }

// TokenStore is the refresh token ledger view of the pool.
type TokenStore struct{ db *sql.DB }

// GrantStore is the admin permission grant view of the pool.
type GrantStore struct{ db *sql.DB }

// MembershipStore is the organization membership view of the pool.
type MembershipStore struct{ db *sql.DB }

// OrganizationStore is the tenant view of the pool.
type OrganizationStore struct{ db *sql.DB }

func (s *Store) Users() *UserStore                 { return &UserStore{db: s.db} }
func (s *Store) Tokens() *TokenStore               { return &TokenStore{db: s.db} }
func (s *Store) Grants() *GrantStore               { return &GrantStore{db: s.db} }
func (s *Store) Memberships() *MembershipStore     { return &MembershipStore{db: s.db} }
func (s *Store) Organizations() *OrganizationStore { return &OrganizationStore{db: s.db} }

// Open connects to PostgreSQL with tuned pool defaults.
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
	return &Store{db: db}, nil
}

// NewStore wraps an existing pool (used by tests with sqlmock).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the pool for readiness probes and the migration runner.
func (s *Store) DB() *sql.DB { return s.db }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func fromNullTime(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func fromNullString(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}
