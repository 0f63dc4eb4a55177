package publish

import (
	json "github.com/goccy/go-json"

	"github.com/mike840609/debezium-nats-cdc/cdc"
)

// Record is the serialized envelope written to the bus and unmarshalled by
// consumers. The shape mirrors cdc.DomainEvent; it exists so the wire
// format is pinned independently of in-memory representation changes.
type Record struct {
	EventID    cdc.EventID       `json:"id"`
	EventType  cdc.EventType     `json:"type"`
	Category   cdc.EventCategory `json:"category"`
	Aggregate  cdc.AggregateId   `json:"aggregate"`
	Version    int               `json:"version"`
	OccurredAt cdc.Timestamp     `json:"occurredAt"`
	Payload    map[string]any    `json:"payload"`
	Metadata   cdc.Metadata      `json:"metadata"`
	DetectedBy string            `json:"detectedBy"`
}

func RecordOf(event *cdc.DomainEvent) Record {
	return Record{
		EventID:    event.EventID,
		EventType:  event.EventType,
		Category:   event.Category,
		Aggregate:  event.Aggregate,
		Version:    event.Version,
		OccurredAt: event.OccurredAt,
		Payload:    event.Payload,
		Metadata:   event.Metadata,
		DetectedBy: event.DetectedBy,
	}
}

func MarshalRecord(event *cdc.DomainEvent) ([]byte, error) {
	return json.Marshal(RecordOf(event))
}

func UnmarshalRecord(data []byte) (*Record, error) {
	record := &Record{}
	if err := json.Unmarshal(data, record); err != nil {
		return nil, err
	}
	return record, nil
}
