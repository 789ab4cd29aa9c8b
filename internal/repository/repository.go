// Package repository contains the database access layer.
//
// Queries are hand-written SQL in the sqlc style: one constant per statement,
// a params struct per mutating query, and a Queries type that runs against
// either a *sql.DB or a *sql.Tx via the DBTX interface. Services that need
// transactional composition call WithTx.
//
// Invariants (seat ceilings, daily quota, single acceptance) are enforced by
// guarded updates: the WHERE clause encodes the invariant and the caller
// inspects RowsAffected. No query in this package does check-then-act.
package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries provides access to all database queries.
type Queries struct {
	db DBTX
}

// New creates a Queries instance bound to the given database handle.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns a Queries instance bound to the transaction.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// uniqueViolation is the PostgreSQL SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a unique constraint violation.
// Callers use this to turn constraint failures into idempotency decisions
// (duplicate event IDs) or conflict errors (duplicate memberships).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	return false
}
