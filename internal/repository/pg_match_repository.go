package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/helixir/docmatch-service/internal/domain"
)

// Postgres error codes mapped to domain errors.
const (
	pgCheckViolation   = "23514"
	pgNotNullViolation = "23502"
)

// Compile-time interface verification.
var _ MatchRepository = (*PgMatchRepository)(nil)

// PgMatchRepository is a PostgreSQL implementation of MatchRepository.
type PgMatchRepository struct {
	db DBTX
}

// NewPgMatchRepository creates a new PostgreSQL match repository.
func NewPgMatchRepository(db DBTX) *PgMatchRepository {
	return &PgMatchRepository{db: db}
}

// Get returns the stored match for (a, b). An exact pair sorts first, then
// stronger and newer rows.
func (r *PgMatchRepository) Get(ctx context.Context, a, b string) (*domain.PersistedMatch, error) {
	if a == "" && b == "" {
		return nil, domain.NewValidationError("bibcode", "at least one bibcode is required")
	}

	query := `
		SELECT eprint_bibcode, pub_bibcode, confidence, date
		FROM docmatch
		WHERE eprint_bibcode IN ($1, $2) OR pub_bibcode IN ($1, $2)
		ORDER BY
			((eprint_bibcode = $1 AND pub_bibcode = $2) OR (eprint_bibcode = $2 AND pub_bibcode = $1)) DESC,
			confidence DESC,
			date DESC
		LIMIT 1`

	m, err := scanMatch(r.db.QueryRow(ctx, query, a, b))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("match", a+"/"+b)
		}
		return nil, fmt.Errorf("failed to get match: %w", err)
	}

	return m, nil
}

// Upsert stores the pair. Concurrent writes of the same pair are serialized
// by the primary key conflict.
func (r *PgMatchRepository) Upsert(ctx context.Context, eprint, pub string, confidence float64) (*domain.PersistedMatch, error) {
	if eprint == "" || pub == "" {
		return nil, domain.NewValidationError("bibcode", "eprint and publication bibcodes are required")
	}

	query := `
		INSERT INTO docmatch (eprint_bibcode, pub_bibcode, confidence, date)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (eprint_bibcode, pub_bibcode) DO UPDATE SET
			confidence = EXCLUDED.confidence,
			date = EXCLUDED.date
		RETURNING eprint_bibcode, pub_bibcode, confidence, date`

	m, err := scanMatch(r.db.QueryRow(ctx, query, eprint, pub, confidence))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && (pgErr.Code == pgCheckViolation || pgErr.Code == pgNotNullViolation) {
			return nil, domain.NewValidationError("bibcode", pgErr.Message)
		}
		return nil, domain.NewPersistenceError("save match", err)
	}

	return m, nil
}

// Delete removes the pair in either orientation.
func (r *PgMatchRepository) Delete(ctx context.Context, a, b string) (bool, error) {
	query := `
		DELETE FROM docmatch
		WHERE (eprint_bibcode = $1 AND pub_bibcode = $2)
		   OR (eprint_bibcode = $2 AND pub_bibcode = $1)`

	tag, err := r.db.Exec(ctx, query, a, b)
	if err != nil {
		return false, domain.NewPersistenceError("delete match", err)
	}

	return tag.RowsAffected() > 0, nil
}

// ListByBibcode returns every stored match touching bibcode.
func (r *PgMatchRepository) ListByBibcode(ctx context.Context, bibcode string) ([]*domain.PersistedMatch, error) {
	if bibcode == "" {
		return nil, domain.NewValidationError("bibcode", "bibcode is required")
	}

	query := `
		SELECT eprint_bibcode, pub_bibcode, confidence, date
		FROM docmatch
		WHERE eprint_bibcode = $1 OR pub_bibcode = $1
		ORDER BY confidence DESC, date DESC`

	rows, err := r.db.Query(ctx, query, bibcode)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches: %w", err)
	}
	defer rows.Close()

	matches := make([]*domain.PersistedMatch, 0)
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan match: %w", err)
		}
		matches = append(matches, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating matches: %w", err)
	}

	return matches, nil
}

// LookupConfidence reads the curated confidence for source.
func (r *PgMatchRepository) LookupConfidence(ctx context.Context, source string) (float64, error) {
	query := `SELECT confidence FROM confidence_lookup WHERE source = $1`

	var confidence float64
	if err := r.db.QueryRow(ctx, query, source).Scan(&confidence); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, domain.NewNotFoundError("confidence source", source)
		}
		return 0, fmt.Errorf("failed to look up confidence: %w", err)
	}

	return confidence, nil
}

// scanMatch reads one docmatch row from a pgx.Row or pgx.Rows.
func scanMatch(row pgx.Row) (*domain.PersistedMatch, error) {
	var m domain.PersistedMatch
	if err := row.Scan(&m.EprintBibcode, &m.PubBibcode, &m.Confidence, &m.Date); err != nil {
		return nil, err
	}
	return &m, nil
}
