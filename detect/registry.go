// Package detect maps change events to candidate domain events through an
// ordered registry of pure, stateless rules.
package detect

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mike840609/debezium-nats-cdc/cdc"
	"github.com/mike840609/debezium-nats-cdc/telemetry"
)

// Rule maps one change event to zero or more candidate domain events.
// Rules own no mutable state and may not observe each other's output, so
// the registry can evaluate and reorder them freely.
type Rule interface {
	Name() string
	Evaluate(change *cdc.ChangeEvent) ([]cdc.DomainEvent, error)
}

type RegistryOption func(*Registry)

func WithLogger(logger zerolog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithMetrics(sink telemetry.Sink) RegistryOption {
	return func(r *Registry) {
		r.metrics = sink
	}
}

// Registry holds detection rules keyed by source table, in registration
// order. Order only determines the ordering of candidates in the output,
// never correctness.
type Registry struct {
	rules   map[string][]Rule
	logger  zerolog.Logger
	metrics telemetry.Sink
}

func NewRegistry(options ...RegistryOption) *Registry {
	registry := &Registry{
		rules:   make(map[string][]Rule),
		logger:  zerolog.Nop(),
		metrics: telemetry.NoopSink{},
	}

	for _, option := range options {
		option(registry)
	}

	return registry
}

func (r *Registry) Register(table string, rules ...Rule) {
	r.rules[table] = append(r.rules[table], rules...)
}

// Detect evaluates every rule registered for the change's table and
// collects their candidates. A faulting rule is isolated: its error is
// logged and counted, and the remaining rules still run. An empty result
// is the common case, not an error.
func (r *Registry) Detect(change *cdc.ChangeEvent) []cdc.DomainEvent {
	var candidates []cdc.DomainEvent

	for _, rule := range r.rules[change.Table] {
		events, err := evaluate(rule, change)
		if err != nil {
			r.metrics.DetectionFault(rule.Name())
			r.logger.Error().
				Err(err).
				Str("rule", rule.Name()).
				Str("table", change.Table).
				Str("position", change.Position.String()).
				Msg("detection rule faulted")
			continue
		}

		for _, event := range events {
			r.metrics.CandidateDetected(event.EventType.String())
		}
		candidates = append(candidates, events...)
	}

	return candidates
}

// evaluate shields the registry from a panicking rule.
func evaluate(rule Rule, change *cdc.ChangeEvent) (events []cdc.DomainEvent, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			events = nil
			err = errors.Errorf("rule %s panicked: %v", rule.Name(), recovered)
		}
	}()

	return rule.Evaluate(change)
}
