// Package repository provides data access for persisted document matches.
//
// # Overview
//
// MatchRepository is the persistence gateway of the matching pipeline. It
// stores one row per eprint/publication pair in the docmatch table and reads
// the curated confidence table used by manual additions.
//
// # Thread Safety
//
// All repository implementations are safe for concurrent use by multiple goroutines.
// The underlying pgxpool handles connection pooling and synchronization.
//
// # Error Handling
//
// Methods return domain errors:
//
//   - domain.ErrNotFound: no stored row matches
//   - domain.ErrInvalidInput: a constraint rejected the pair
//
// Other database failures are wrapped with fmt.Errorf and %w.
//
// # Transactions
//
// Repositories accept a DBTX so the same code runs on the pool or inside a
// transaction:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    txRepo := repository.NewPgMatchRepository(tx)
//	    _, err := txRepo.Upsert(ctx, eprint, pub, confidence)
//	    return err
//	})
//
// PgTransactor wraps this pattern for services that only see the interface.
package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/docmatch-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// Transactor runs fn with a MatchRepository bound to a single transaction.
// The transaction commits when fn returns nil and rolls back otherwise.
type Transactor interface {
	InTx(ctx context.Context, fn func(repo MatchRepository) error) error
}

// PgTransactor implements Transactor on top of database.DB.
type PgTransactor struct {
	db *database.DB
}

// Compile-time interface verification.
var _ Transactor = (*PgTransactor)(nil)

// NewPgTransactor creates a Transactor for db.
func NewPgTransactor(db *database.DB) *PgTransactor {
	return &PgTransactor{db: db}
}

// InTx implements Transactor.
func (t *PgTransactor) InTx(ctx context.Context, fn func(repo MatchRepository) error) error {
	return t.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		return fn(NewPgMatchRepository(tx))
	})
}
