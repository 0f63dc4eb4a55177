// Package validate enforces structural and business invariants on enriched
// domain events before they may leave the system.
package validate

import (
	"fmt"

	"github.com/mike840609/debezium-nats-cdc/cdc"
)

// RejectionError is a terminal verdict for one candidate. A structurally
// invalid event will not become valid by retrying, so rejections are
// dead-lettered, never requeued.
type RejectionError struct {
	EventType cdc.EventType
	Version   int
	Reason    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("validate: %s v%d rejected: %s", e.EventType, e.Version, e.Reason)
}

func reject(eventType cdc.EventType, version int, format string, args ...any) error {
	return &RejectionError{
		EventType: eventType,
		Version:   version,
		Reason:    fmt.Sprintf(format, args...),
	}
}

// Check is one business invariant over a candidate's payload.
type Check func(event *cdc.DomainEvent) error

// Schema describes the required shape of one event type at one version.
type Schema struct {
	Required []string
	Checks   []Check
}

type schemaKey struct {
	eventType cdc.EventType
	version   int
}

// Validator accepts or rejects enriched domain events against registered
// schemas. An event without a registered schema is rejected: every type
// the detectors can emit must be declared here.
type Validator struct {
	schemas map[schemaKey]Schema
}

func NewValidator() *Validator {
	return &Validator{schemas: make(map[schemaKey]Schema)}
}

func (v *Validator) RegisterSchema(eventType cdc.EventType, version int, schema Schema) {
	v.schemas[schemaKey{eventType: eventType, version: version}] = schema
}

func (v *Validator) Validate(event *cdc.DomainEvent) error {
	schema, ok := v.schemas[schemaKey{eventType: event.EventType, version: event.Version}]
	if !ok {
		return reject(event.EventType, event.Version, "no schema registered")
	}

	if event.Aggregate.Key == "" {
		return reject(event.EventType, event.Version, "aggregate key is empty")
	}

	for _, field := range schema.Required {
		value, present := event.Payload[field]
		if !present || value == nil || value == "" {
			return reject(event.EventType, event.Version, "required field %q missing", field)
		}
	}

	for _, check := range schema.Checks {
		if err := check(event); err != nil {
			return err
		}
	}

	return nil
}

// FieldsDiffer rejects events whose "changed" semantics carry identical
// old and new values.
func FieldsDiffer(previous string, current string) Check {
	return func(event *cdc.DomainEvent) error {
		if event.Payload[previous] == event.Payload[current] {
			return reject(event.EventType, event.Version,
				"%s and %s must differ", previous, current)
		}
		return nil
	}
}

// NonNegative rejects events carrying a negative numeric field.
func NonNegative(field string) Check {
	return func(event *cdc.DomainEvent) error {
		value, present := event.Payload[field]
		if !present {
			return nil
		}
		number, ok := toFloat(value)
		if !ok {
			return reject(event.EventType, event.Version, "field %q is not numeric", field)
		}
		if number < 0 {
			return reject(event.EventType, event.Version, "field %q is negative", field)
		}
		return nil
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
