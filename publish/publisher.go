// Package publish delivers validated domain events to the outbound bus and
// the durable event log with idempotency keyed on the event id.
package publish

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mike840609/debezium-nats-cdc/cdc"
	"github.com/mike840609/debezium-nats-cdc/telemetry"
)

type InsertResult int

const (
	Inserted InsertResult = iota
	AlreadyPresent
)

// EventLog is the durable audit/analytics store and the deduplication
// point. Insertion keyed by event id is a no-op when the id exists.
type EventLog interface {
	InsertIfAbsent(ctx context.Context, event *cdc.DomainEvent) (InsertResult, error)
}

// BusTransport carries serialized events to the outbound bus.
type BusTransport interface {
	Send(ctx context.Context, subject string, data []byte) error
}

type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomePublished
	OutcomeDuplicateIgnored
)

func (o Outcome) String() string {
	switch o {
	case OutcomePublished:
		return "published"
	case OutcomeDuplicateIgnored:
		return "duplicate-ignored"
	}
	return "failed"
}

type PublisherOption func(*Publisher)

func WithPublishLogger(logger zerolog.Logger) PublisherOption {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func WithPublishMetrics(sink telemetry.Sink) PublisherOption {
	return func(p *Publisher) {
		p.metrics = sink
	}
}

// Publisher writes to the durable log first and hands the event to the bus
// only after the durable write is acknowledged. Because the durable write
// is idempotent, retrying a publish whose bus leg failed is always safe:
// the worst case is a duplicate bus frame, which consumers discard by
// event id. No transaction spans the two systems; this ordering is the
// whole consistency mechanism.
type Publisher struct {
	log     EventLog
	bus     BusTransport
	logger  zerolog.Logger
	metrics telemetry.Sink
}

func NewPublisher(log EventLog, bus BusTransport, options ...PublisherOption) *Publisher {
	publisher := &Publisher{
		log:     log,
		bus:     bus,
		logger:  zerolog.Nop(),
		metrics: telemetry.NoopSink{},
	}

	for _, option := range options {
		option(publisher)
	}

	return publisher
}

func (p *Publisher) Publish(ctx context.Context, event *cdc.DomainEvent) (Outcome, error) {
	result, err := p.log.InsertIfAbsent(ctx, event)
	if err != nil {
		return OutcomeFailed, errors.Wrap(err, "durable write failed")
	}

	data, err := MarshalRecord(event)
	if err != nil {
		return OutcomeFailed, errors.Wrap(err, "encode event")
	}

	if err := p.bus.Send(ctx, event.Subject(), data); err != nil {
		// The durable record exists; the caller retries the bus leg.
		return OutcomeFailed, errors.Wrap(err, "bus send failed")
	}

	outcome := OutcomePublished
	label := telemetry.OutcomePublished
	if result == AlreadyPresent {
		outcome = OutcomeDuplicateIgnored
		label = telemetry.OutcomeDuplicate
	}
	p.metrics.PublishOutcome(label)

	p.logger.Debug().
		Str("event", event.EventID.String()).
		Str("type", event.EventType.String()).
		Str("subject", event.Subject()).
		Str("outcome", outcome.String()).
		Msg("event published")

	return outcome, nil
}
