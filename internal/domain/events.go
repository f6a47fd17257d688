package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event type constants for published match events.
const (
	EventTypeMatchSaved   = "docmatch.match_saved"
	EventTypeMatchRemoved = "docmatch.match_removed"
)

// Event is an envelope published to the match topic.
type Event struct {
	EventID      string          `json:"event_id"`
	EventVersion int             `json:"event_version"`
	AggregateID  string          `json:"aggregate_id"`
	EventType    string          `json:"event_type"`
	Payload      json.RawMessage `json:"payload"`
	CreatedAt    time.Time       `json:"created_at"`
}

// NewEvent creates a new event with the given parameters.
// The payload is JSON-serialized automatically.
func NewEvent(eventType, aggregateID string, payload interface{}) (*Event, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:      uuid.New().String(),
		EventVersion: 1,
		AggregateID:  aggregateID,
		EventType:    eventType,
		Payload:      payloadBytes,
		CreatedAt:    time.Now().UTC(),
	}, nil
}

// MatchSavedPayload is the payload for docmatch.match_saved events.
type MatchSavedPayload struct {
	EprintBibcode string  `json:"eprint_bibcode"`
	PubBibcode    string  `json:"pub_bibcode"`
	Confidence    float64 `json:"confidence"`
}

// MatchRemovedPayload is the payload for docmatch.match_removed events.
type MatchRemovedPayload struct {
	SourceBibcode  string `json:"source_bibcode"`
	MatchedBibcode string `json:"matched_bibcode"`
}
