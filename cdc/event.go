package cdc

import (
	"strings"

	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
)

type EventID string

func (id EventID) String() string {
	return string(id)
}

type EventType string

func (et EventType) String() string {
	return string(et)
}

type EventCategory string

func (ec EventCategory) String() string {
	return string(ec)
}

type CausationID string

type CorrelationID string

type AggregateId struct {
	Type string `json:"type"`
	Key  string `json:"key"`
}

type EncodedAggregateId string

func (id AggregateId) Encode() EncodedAggregateId {
	return EncodedAggregateId(strings.Join([]string{id.Type, id.Key}, "."))
}

func (id EncodedAggregateId) String() string {
	return string(id)
}

func (id EncodedAggregateId) Decode() (*AggregateId, error) {
	separated := strings.Split(string(id), ".")
	if len(separated) < 2 {
		return nil, errors.New("expected . delimiter in aggregate id")
	}

	return &AggregateId{
		Type: separated[0],
		Key:  strings.Join(separated[1:], "."),
	}, nil
}

// Metadata threads a domain event back to its cause. CausationID names the
// change event that produced it, CorrelationID ties together events from one
// logical business process, and Position carries the source position the
// event was derived from.
type Metadata struct {
	CausationID   CausationID    `json:"causationId,omitempty"`
	CorrelationID CorrelationID  `json:"correlationId,omitempty"`
	Position      SourcePosition `json:"sourcePosition"`
}

// DomainEvent is a business-meaningful fact derived from a change event.
//
// EventID is assigned at detection time and is the idempotency key: the
// same cause always re-detects to the same id, so replays deduplicate at
// the durable log and at well-behaved consumers. Enrichment may add payload
// fields but never touches EventID, EventType or Aggregate.
type DomainEvent struct {
	EventID    EventID        `json:"id"`
	EventType  EventType      `json:"type"`
	Category   EventCategory  `json:"category"`
	Aggregate  AggregateId    `json:"aggregate"`
	Version    int            `json:"version"`
	OccurredAt Timestamp      `json:"occurredAt"`
	Payload    map[string]any `json:"payload"`
	Metadata   Metadata       `json:"metadata"`
	DetectedBy string         `json:"detectedBy"`
}

// Subject derives the outbound bus subject for the event:
// events.<category>.<kebab-case type>.
func (ev *DomainEvent) Subject() string {
	return strings.Join(
		[]string{"events", ev.Category.String(), strcase.ToKebab(ev.EventType.String())},
		".",
	)
}

// CausationOf names a change event for use as a causation id.
func CausationOf(change *ChangeEvent) CausationID {
	return CausationID("change:" + change.Position.String())
}
