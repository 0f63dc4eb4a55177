package enrich

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/mike840609/debezium-nats-cdc/cdc"
)

// Resolution names one payload completion: read the code in the From
// field, look it up as EntityType, write the display value to Into.
type Resolution struct {
	EntityType string
	From       string
	Into       string
}

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = 5 * time.Minute
)

type EnricherOption func(*Enricher)

func WithCache(size int, ttl time.Duration) EnricherOption {
	return func(e *Enricher) {
		e.cache = expirable.NewLRU[string, string](size, nil, ttl)
	}
}

func WithEnrichLogger(logger zerolog.Logger) EnricherOption {
	return func(e *Enricher) {
		e.logger = logger
	}
}

// Enricher fills candidate payloads with reference data through a
// read-through TTL cache. Enrichment is idempotent and read-only on the
// source; it mutates only the payload, never the event's identity fields.
type Enricher struct {
	model       ReadModel
	cache       *expirable.LRU[string, string]
	resolutions map[cdc.EventType][]Resolution
	logger      zerolog.Logger
}

func NewEnricher(model ReadModel, resolutions map[cdc.EventType][]Resolution, options ...EnricherOption) *Enricher {
	enricher := &Enricher{
		model:       model,
		resolutions: resolutions,
		logger:      zerolog.Nop(),
	}

	for _, option := range options {
		option(enricher)
	}

	if enricher.cache == nil {
		enricher.cache = expirable.NewLRU[string, string](DefaultCacheSize, nil, DefaultCacheTTL)
	}

	return enricher
}

// Enrich resolves every configured reference for the event in place. An
// unreachable read model surfaces as an UnavailableError so the caller can
// retry; a missing reference leaves the target field unset.
func (e *Enricher) Enrich(ctx context.Context, event *cdc.DomainEvent) error {
	for _, resolution := range e.resolutions[event.EventType] {
		code, ok := event.Payload[resolution.From].(string)
		if !ok || code == "" {
			continue
		}

		value, err := e.resolve(ctx, resolution.EntityType, code)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				e.logger.Debug().
					Str("entity", resolution.EntityType).
					Str("code", code).
					Str("event", event.EventID.String()).
					Msg("reference not found, leaving code unresolved")
				continue
			}
			return err
		}

		event.Payload[resolution.Into] = value
	}

	return nil
}

func (e *Enricher) resolve(ctx context.Context, entityType string, code string) (string, error) {
	cacheKey := entityType + ":" + code
	if value, ok := e.cache.Get(cacheKey); ok {
		return value, nil
	}

	value, err := e.model.Lookup(ctx, entityType, code)
	if err != nil {
		return "", err
	}

	e.cache.Add(cacheKey, value)
	return value, nil
}

// HRResolutions maps the HR event taxonomy to its reference completions:
// position codes resolve to titles, department codes to names.
func HRResolutions() map[cdc.EventType][]Resolution {
	return map[cdc.EventType][]Resolution{
		"EmployeeHired": {
			{EntityType: "position", From: "position", Into: "positionTitle"},
			{EntityType: "department", From: "department", Into: "departmentName"},
		},
		"EmployeePromoted": {
			{EntityType: "position", From: "previousPosition", Into: "previousPositionTitle"},
			{EntityType: "position", From: "newPosition", Into: "newPositionTitle"},
		},
		"EmployeeTransferred": {
			{EntityType: "department", From: "previousDepartment", Into: "previousDepartmentName"},
			{EntityType: "department", From: "newDepartment", Into: "newDepartmentName"},
		},
	}
}
