package docmatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/helixir/docmatch-service/internal/domain"
	"github.com/helixir/docmatch-service/internal/repository"
)

// Add stores caller-curated pairs in one transaction. Each record carries
// its confidence directly or names a source in the confidence lookup table.
func (s *Service) Add(ctx context.Context, records []domain.MatchRecord) (string, error) {
	if err := validateRecords(s.validate, records, msgNoAddRecords); err != nil {
		return "", err
	}
	s.logger.Info().Int("count", len(records)).Msg("received request to populate db")

	var saved []domain.PersistedMatch
	err := s.inTx(ctx, func(repo repository.MatchRepository) error {
		saved = saved[:0]
		for _, rec := range records {
			confidence, err := s.recordConfidence(ctx, repo, rec)
			if err != nil {
				return err
			}

			eprint, pub := s.classifier.Classify(rec.SourceBibcode, rec.MatchedBibcode, "")
			if eprint == "" || pub == "" {
				return domain.NewValidationError("records", fmt.Sprintf(
					"unable to tell which of %s and %s is the eprint", rec.SourceBibcode, rec.MatchedBibcode))
			}

			m, err := repo.Upsert(ctx, eprint, pub, confidence)
			if err != nil {
				return err
			}
			saved = append(saved, *m)
		}
		return nil
	})
	if err != nil {
		if !isValidation(err) {
			s.metrics.RecordMatchSaveFailed()
		}
		s.logger.Error().Err(err).Int("count", len(records)).Msg("failed to populate db")
		return "", err
	}

	for _, m := range saved {
		s.metrics.RecordMatchSaved()
		s.publishSaved(ctx, m)
	}
	s.logger.Info().Int("count", len(saved)).Msg("completed request to populate db")
	return msgAdded, nil
}

// Delete removes the given pairs in one transaction and reports how many
// were found.
func (s *Service) Delete(ctx context.Context, records []domain.MatchRecord) (string, error) {
	if err := validateRecords(s.validate, records, msgNoDeleteRecords); err != nil {
		return "", err
	}
	s.logger.Info().Int("count", len(records)).Msg("received request to delete from db")

	var removed []domain.MatchRecord
	err := s.inTx(ctx, func(repo repository.MatchRepository) error {
		removed = removed[:0]
		for _, rec := range records {
			ok, err := repo.Delete(ctx, rec.SourceBibcode, rec.MatchedBibcode)
			if err != nil {
				return err
			}
			if ok {
				removed = append(removed, rec)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Int("count", len(records)).Msg("failed to delete from db")
		return "", err
	}

	s.metrics.RecordMatchesDeleted(len(removed))
	if s.publisher != nil {
		for _, rec := range removed {
			if err := s.publisher.PublishMatchRemoved(ctx, rec.SourceBibcode, rec.MatchedBibcode); err != nil {
				s.logger.Warn().Err(err).Str("source_bibcode", rec.SourceBibcode).Msg("failed to publish match removed event")
			}
		}
	}

	s.logger.Info().Int("count", len(removed)).Msg("completed request to delete from db")
	return fmt.Sprintf("removed %d records of %d requested", len(removed), len(records)), nil
}

// List returns the stored matches touching bibcode, strongest first.
func (s *Service) List(ctx context.Context, bibcode string) ([]*domain.PersistedMatch, error) {
	return s.repo.ListByBibcode(ctx, bibcode)
}

// HandleMessage decodes a queued match request and processes it with
// saving enabled. It is the handler of the batch request listener.
func (s *Service) HandleMessage(ctx context.Context, value []byte) error {
	var req MatchRequest
	if err := json.Unmarshal(value, &req); err != nil {
		return domain.NewValidationError("request", fmt.Sprintf("invalid JSON: %v", err))
	}

	resp, err := s.Process(ctx, req, true)
	if err != nil {
		return err
	}

	event := s.logger.Info().Str("source_bibcode", req.Bibcode).Int("matches", len(resp.Match))
	if resp.Comment != "" {
		event = event.Str("comment", resp.Comment)
	}
	event.Msg("processed queued match request")
	return nil
}

func (s *Service) recordConfidence(ctx context.Context, repo repository.MatchRepository, rec domain.MatchRecord) (float64, error) {
	if rec.Confidence != nil {
		return *rec.Confidence, nil
	}
	if rec.Source == "" {
		return 0, domain.NewValidationError("records", "each record needs `confidence` or `source`")
	}
	confidence, err := repo.LookupConfidence(ctx, rec.Source)
	if errors.Is(err, domain.ErrNotFound) {
		return 0, domain.NewValidationError("source", fmt.Sprintf("unknown confidence source `%s`", rec.Source))
	}
	return confidence, err
}

func (s *Service) inTx(ctx context.Context, fn func(repo repository.MatchRepository) error) error {
	if s.tx == nil {
		return fn(s.repo)
	}
	return s.tx.InTx(ctx, fn)
}

func isValidation(err error) bool {
	return errors.Is(err, domain.ErrInvalidInput)
}
