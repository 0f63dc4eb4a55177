package stream

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/pkg/errors"

	"github.com/mike840609/debezium-nats-cdc/cdc"
)

// envelope is the Debezium change envelope as emitted by the connector.
// When the connector is configured with schemas enabled the envelope is
// nested one level down under "payload".
type envelope struct {
	Payload *envelope `json:"payload"`

	Op     string  `json:"op"`
	Before cdc.Row `json:"before"`
	After  cdc.Row `json:"after"`
	TsMs   int64   `json:"ts_ms"`
	Source struct {
		Table string `json:"table"`
	} `json:"source"`
}

// DecodeChange parses a Debezium change message into a ChangeEvent at the
// given stream position.
func DecodeChange(data []byte, position cdc.SourcePosition) (*cdc.ChangeEvent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "decode change envelope")
	}

	body := &env
	if env.Payload != nil {
		body = env.Payload
	}

	operation, err := cdc.ParseOperation(body.Op)
	if err != nil {
		return nil, err
	}

	if body.Source.Table == "" {
		return nil, errors.New("change envelope is missing the source table")
	}

	change := &cdc.ChangeEvent{
		Position:        position,
		Table:           body.Source.Table,
		Operation:       operation,
		Before:          body.Before,
		After:           body.After,
		SourceTimestamp: time.UnixMilli(body.TsMs).UTC(),
	}

	if err := change.Validate(); err != nil {
		return nil, err
	}

	return change, nil
}
