// Package events publishes match events to Kafka and consumes batch match
// requests from it.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/docmatch-service/internal/domain"
	"github.com/helixir/docmatch-service/internal/observability"
)

// MessageWriter is the subset of *kafka.Writer used by the Publisher.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublisherConfig holds configuration for the match event publisher.
type PublisherConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic receives match events.
	Topic string
	// BatchSize is the maximum number of messages per write.
	BatchSize int
	// BatchTimeout bounds how long a partial batch waits.
	BatchTimeout time.Duration
}

// Publisher writes match events to Kafka. Messages are keyed by the
// aggregate bibcode so events for one pair stay ordered.
type Publisher struct {
	writer  MessageWriter
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewPublisher creates a Publisher backed by a kafka.Writer.
func NewPublisher(cfg PublisherConfig, logger zerolog.Logger, metrics *observability.Metrics) *Publisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		Logger:       observability.NewKafkaLogger(logger),
		ErrorLogger:  observability.NewKafkaErrorLogger(logger),
	}
	return NewPublisherWithWriter(writer, logger, metrics)
}

// NewPublisherWithWriter creates a Publisher on an existing writer.
func NewPublisherWithWriter(writer MessageWriter, logger zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		writer:  writer,
		logger:  logger.With().Str("component", "match_publisher").Logger(),
		metrics: metrics,
	}
}

// PublishMatchSaved announces a stored eprint/publication pair.
func (p *Publisher) PublishMatchSaved(ctx context.Context, m domain.PersistedMatch) error {
	return p.publish(ctx, domain.EventTypeMatchSaved, m.EprintBibcode, domain.MatchSavedPayload{
		EprintBibcode: m.EprintBibcode,
		PubBibcode:    m.PubBibcode,
		Confidence:    m.Confidence,
	})
}

// PublishMatchRemoved announces a deleted pair.
func (p *Publisher) PublishMatchRemoved(ctx context.Context, sourceBibcode, matchedBibcode string) error {
	return p.publish(ctx, domain.EventTypeMatchRemoved, sourceBibcode, domain.MatchRemovedPayload{
		SourceBibcode:  sourceBibcode,
		MatchedBibcode: matchedBibcode,
	})
}

func (p *Publisher) publish(ctx context.Context, eventType, aggregateID string, payload interface{}) error {
	event, err := domain.NewEvent(eventType, aggregateID, payload)
	if err != nil {
		p.metrics.RecordEventFailed(eventType)
		return fmt.Errorf("build %s event: %w", eventType, err)
	}

	value, err := json.Marshal(event)
	if err != nil {
		p.metrics.RecordEventFailed(eventType)
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	msg := kafka.Message{
		Key:   []byte(aggregateID),
		Value: value,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
	}
	if requestID := observability.RequestIDFromContext(ctx); requestID != "" {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "request_id", Value: []byte(requestID)})
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.metrics.RecordEventFailed(eventType)
		return fmt.Errorf("write %s event: %w", eventType, err)
	}

	p.metrics.RecordEventPublished(eventType)
	p.logger.Debug().
		Str("event_type", eventType).
		Str("event_id", event.EventID).
		Str("aggregate_id", aggregateID).
		Msg("published match event")
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	p.logger.Info().Msg("closing match publisher")
	return p.writer.Close()
}
