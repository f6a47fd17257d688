package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/docmatch-service/internal/domain"
)

var matchColumns = []string{"eprint_bibcode", "pub_bibcode", "confidence", "date"}

const (
	testEprint = "2022arXiv220101234S"
	testPub    = "2022PhRvD.105d4021S"
)

func TestPgMatchRepository_Get(t *testing.T) {
	t.Run("returns the stored pair", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMatchRepository(mock)
		now := time.Now().UTC()

		mock.ExpectQuery(`SELECT eprint_bibcode, pub_bibcode, confidence, date\s+FROM docmatch`).
			WithArgs(testEprint, testPub).
			WillReturnRows(pgxmock.NewRows(matchColumns).AddRow(testEprint, testPub, 0.98, now))

		m, err := repo.Get(context.Background(), testEprint, testPub)
		require.NoError(t, err)
		assert.Equal(t, testEprint, m.EprintBibcode)
		assert.Equal(t, testPub, m.PubBibcode)
		assert.Equal(t, 0.98, m.Confidence)
		assert.Equal(t, now, m.Date)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("accepts either orientation", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMatchRepository(mock)

		mock.ExpectQuery(`FROM docmatch`).
			WithArgs(testPub, testEprint).
			WillReturnRows(pgxmock.NewRows(matchColumns).AddRow(testEprint, testPub, 0.9, time.Now()))

		m, err := repo.Get(context.Background(), testPub, testEprint)
		require.NoError(t, err)
		assert.Equal(t, testEprint, m.Other(testPub))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns not found when nothing is stored", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMatchRepository(mock)

		mock.ExpectQuery(`FROM docmatch`).
			WithArgs(testEprint, testPub).
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.Get(context.Background(), testEprint, testPub)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("wraps query errors", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMatchRepository(mock)

		mock.ExpectQuery(`FROM docmatch`).
			WithArgs(testEprint, testPub).
			WillReturnError(errors.New("connection reset"))

		_, err = repo.Get(context.Background(), testEprint, testPub)
		require.Error(t, err)
		assert.False(t, errors.Is(err, domain.ErrNotFound))
		assert.Contains(t, err.Error(), "failed to get match")
	})

	t.Run("rejects two empty bibcodes", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		_, err = NewPgMatchRepository(mock).Get(context.Background(), "", "")
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgMatchRepository_Upsert(t *testing.T) {
	t.Run("stores the pair", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMatchRepository(mock)
		now := time.Now().UTC()

		mock.ExpectQuery(`INSERT INTO docmatch .* ON CONFLICT \(eprint_bibcode, pub_bibcode\) DO UPDATE`).
			WithArgs(testEprint, testPub, 0.9).
			WillReturnRows(pgxmock.NewRows(matchColumns).AddRow(testEprint, testPub, 0.9, now))

		m, err := repo.Upsert(context.Background(), testEprint, testPub, 0.9)
		require.NoError(t, err)
		assert.Equal(t, 0.9, m.Confidence)
		assert.Equal(t, now, m.Date)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps check violation to invalid input", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMatchRepository(mock)

		pgErr := &pgconn.PgError{Code: "23514", Message: "new row violates check constraint"}
		mock.ExpectQuery(`INSERT INTO docmatch`).
			WithArgs(testEprint, testEprint, 0.9).
			WillReturnError(pgErr)

		_, err = repo.Upsert(context.Background(), testEprint, testEprint, 0.9)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})

	t.Run("other failures are persistence errors", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMatchRepository(mock)

		mock.ExpectQuery(`INSERT INTO docmatch`).
			WithArgs(testEprint, testPub, 0.9).
			WillReturnError(errors.New("disk full"))

		_, err = repo.Upsert(context.Background(), testEprint, testPub, 0.9)
		var perr *domain.PersistenceError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, "save match", perr.Operation)
	})

	t.Run("rejects missing bibcode", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		_, err = NewPgMatchRepository(mock).Upsert(context.Background(), testEprint, "", 0.9)
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgMatchRepository_Delete(t *testing.T) {
	t.Run("reports a removed row", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMatchRepository(mock)

		mock.ExpectExec(`DELETE FROM docmatch`).
			WithArgs(testPub, testEprint).
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		removed, err := repo.Delete(context.Background(), testPub, testEprint)
		require.NoError(t, err)
		assert.True(t, removed)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("reports nothing removed", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMatchRepository(mock)

		mock.ExpectExec(`DELETE FROM docmatch`).
			WithArgs(testEprint, testPub).
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		removed, err := repo.Delete(context.Background(), testEprint, testPub)
		require.NoError(t, err)
		assert.False(t, removed)
	})

	t.Run("wraps exec errors", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMatchRepository(mock)

		mock.ExpectExec(`DELETE FROM docmatch`).
			WithArgs(testEprint, testPub).
			WillReturnError(errors.New("timeout"))

		_, err = repo.Delete(context.Background(), testEprint, testPub)
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "delete match")
	})
}

func TestPgMatchRepository_ListByBibcode(t *testing.T) {
	t.Run("returns rows strongest first", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMatchRepository(mock)
		now := time.Now().UTC()

		mock.ExpectQuery(`FROM docmatch\s+WHERE eprint_bibcode = \$1 OR pub_bibcode = \$1\s+ORDER BY confidence DESC`).
			WithArgs(testEprint).
			WillReturnRows(pgxmock.NewRows(matchColumns).
				AddRow(testEprint, testPub, 0.95, now).
				AddRow(testEprint, "2022ApJ...930...12S", 0.6, now))

		matches, err := repo.ListByBibcode(context.Background(), testEprint)
		require.NoError(t, err)
		require.Len(t, matches, 2)
		assert.Equal(t, testPub, matches[0].PubBibcode)
		assert.Equal(t, 0.6, matches[1].Confidence)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("returns empty slice", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMatchRepository(mock)

		mock.ExpectQuery(`FROM docmatch`).
			WithArgs(testPub).
			WillReturnRows(pgxmock.NewRows(matchColumns))

		matches, err := repo.ListByBibcode(context.Background(), testPub)
		require.NoError(t, err)
		assert.NotNil(t, matches)
		assert.Empty(t, matches)
	})

	t.Run("rejects empty bibcode", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		_, err = NewPgMatchRepository(mock).ListByBibcode(context.Background(), "")
		assert.True(t, errors.Is(err, domain.ErrInvalidInput))
	})
}

func TestPgMatchRepository_LookupConfidence(t *testing.T) {
	t.Run("returns curated value", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMatchRepository(mock)

		mock.ExpectQuery(`SELECT confidence FROM confidence_lookup WHERE source = \$1`).
			WithArgs("publisher").
			WillReturnRows(pgxmock.NewRows([]string{"confidence"}).AddRow(1.1))

		conf, err := repo.LookupConfidence(context.Background(), "publisher")
		require.NoError(t, err)
		assert.Equal(t, 1.1, conf)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown source is not found", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		repo := NewPgMatchRepository(mock)

		mock.ExpectQuery(`FROM confidence_lookup`).
			WithArgs("rumour").
			WillReturnError(pgx.ErrNoRows)

		_, err = repo.LookupConfidence(context.Background(), "rumour")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	})
}
