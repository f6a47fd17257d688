package repository

import (
	"context"

	"github.com/helixir/docmatch-service/internal/domain"
)

// MatchRepository handles persistence of eprint/publication matches.
type MatchRepository interface {
	// Get returns the stored match for the pair (a, b) in either orientation.
	// When no row holds both bibcodes, it returns the strongest row that
	// holds either one, so callers can detect a competing claim.
	// Returns domain.ErrNotFound if no row touches a or b.
	Get(ctx context.Context, a, b string) (*domain.PersistedMatch, error)

	// Upsert stores the pair, replacing the confidence and date of an
	// existing row for the same pair. Returns the stored row.
	Upsert(ctx context.Context, eprint, pub string, confidence float64) (*domain.PersistedMatch, error)

	// Delete removes the pair in either orientation and reports whether a
	// row was removed.
	Delete(ctx context.Context, a, b string) (bool, error)

	// ListByBibcode returns every stored match touching bibcode, strongest
	// first.
	ListByBibcode(ctx context.Context, bibcode string) ([]*domain.PersistedMatch, error)

	// LookupConfidence returns the curated confidence for a named origin
	// such as "ADS" or "publisher".
	// Returns domain.ErrNotFound if the origin is unknown.
	LookupConfidence(ctx context.Context, source string) (float64, error)
}
