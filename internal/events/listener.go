package events

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/docmatch-service/internal/domain"
	"github.com/helixir/docmatch-service/internal/observability"
)

// Batch request outcomes recorded by the listener.
const (
	OutcomeProcessed = "processed"
	OutcomeInvalid   = "invalid"
	OutcomeFailed    = "failed"
)

// MessageReader is the subset of *kafka.Reader used by the Listener.
type MessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// Handler processes the value of one consumed message.
type Handler func(ctx context.Context, value []byte) error

// ListenerConfig holds configuration for the request listener.
type ListenerConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic carries match requests.
	Topic string
	// GroupID is the consumer group ID.
	GroupID string
}

// Listener consumes match requests from Kafka and hands each one to a
// Handler. A failing message is logged and skipped.
type Listener struct {
	reader  MessageReader
	handle  Handler
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewListener creates a Listener backed by a kafka.Reader.
func NewListener(cfg ListenerConfig, handle Handler, logger zerolog.Logger, metrics *observability.Metrics) *Listener {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     3 * time.Second,
		Logger:      observability.NewKafkaLogger(logger),
		ErrorLogger: observability.NewKafkaErrorLogger(logger),
	})
	return NewListenerWithReader(reader, handle, logger, metrics)
}

// NewListenerWithReader creates a Listener on an existing reader.
func NewListenerWithReader(reader MessageReader, handle Handler, logger zerolog.Logger, metrics *observability.Metrics) *Listener {
	return &Listener{
		reader:  reader,
		handle:  handle,
		logger:  logger.With().Str("component", "request_listener").Logger(),
		metrics: metrics,
	}
}

// Run starts the listener loop. Blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	l.logger.Info().Msg("starting match request listener")

	for {
		msg, err := l.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				l.logger.Info().Msg("match request listener stopped via context cancellation")
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("failed to read message from Kafka")
			if err := wait(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		logger := observability.WithEventContext(l.logger, msg.Topic, "match_request").With().
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Logger()
		logger.Debug().Msg("received match request")

		if err := l.handle(ctx, msg.Value); err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				l.metrics.RecordBatchRequest(OutcomeInvalid)
				logger.Warn().Err(err).Str("raw_value", truncate(msg.Value, 512)).Msg("rejected match request")
				continue
			}
			l.metrics.RecordBatchRequest(OutcomeFailed)
			logger.Error().Err(err).Msg("failed to process match request")
			continue
		}
		l.metrics.RecordBatchRequest(OutcomeProcessed)
	}
}

// Close closes the Kafka reader.
func (l *Listener) Close() error {
	l.logger.Info().Msg("closing match request listener")
	return l.reader.Close()
}

func wait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
