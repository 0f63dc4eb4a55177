// Package engine orchestrates the change-to-domain-event pipeline: detect,
// enrich, validate, publish, checkpoint.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mike840609/debezium-nats-cdc/cdc"
	"github.com/mike840609/debezium-nats-cdc/detect"
	"github.com/mike840609/debezium-nats-cdc/enrich"
	"github.com/mike840609/debezium-nats-cdc/publish"
	"github.com/mike840609/debezium-nats-cdc/telemetry"
	"github.com/mike840609/debezium-nats-cdc/validate"
)

const (
	DefaultLanes             = 4
	DefaultInFlightLimit     = 256
	DefaultEnrichMaxAttempts = 3
	DefaultEnrichRetryDelay  = 100 * time.Millisecond
	DefaultPublishRetryDelay = 100 * time.Millisecond
	DefaultPublishRetryMax   = 30 * time.Second
)

// Config bounds the engine's concurrency and retry behavior.
type Config struct {
	// Lanes is the number of workers. Changes for one aggregate key
	// always land on the same lane, preserving per-entity source order.
	Lanes int
	// InFlightLimit pauses intake once this many changes are received
	// but not yet resolved, bounding memory during an outage.
	InFlightLimit int
	// EnrichMaxAttempts bounds retries of transient enrichment failures
	// before a candidate is dead-lettered.
	EnrichMaxAttempts uint
	EnrichRetryDelay  time.Duration
	// PublishRetryDelay seeds the unbounded publish backoff, capped at
	// PublishRetryMax. Publishing never gives up: the durable write may
	// already have succeeded and dropping it would lose a business fact.
	PublishRetryDelay time.Duration
	PublishRetryMax   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Lanes <= 0 {
		c.Lanes = DefaultLanes
	}
	if c.InFlightLimit <= 0 {
		c.InFlightLimit = DefaultInFlightLimit
	}
	if c.EnrichMaxAttempts == 0 {
		c.EnrichMaxAttempts = DefaultEnrichMaxAttempts
	}
	if c.EnrichRetryDelay <= 0 {
		c.EnrichRetryDelay = DefaultEnrichRetryDelay
	}
	if c.PublishRetryDelay <= 0 {
		c.PublishRetryDelay = DefaultPublishRetryDelay
	}
	if c.PublishRetryMax <= 0 {
		c.PublishRetryMax = DefaultPublishRetryMax
	}
	return c
}

// Components are the collaborators the engine orchestrates. All fields
// are required.
type Components struct {
	Detectors   *detect.Registry
	Enricher    *enrich.Enricher
	Validator   *validate.Validator
	Publisher   *publish.Publisher
	DeadLetters publish.DeadLetterSink
	Checkpoints CheckpointStore
}

func (c Components) validate() error {
	if c.Detectors == nil {
		return errors.New("detector registry is required")
	}
	if c.Enricher == nil {
		return errors.New("enricher is required")
	}
	if c.Validator == nil {
		return errors.New("validator is required")
	}
	if c.Publisher == nil {
		return errors.New("publisher is required")
	}
	if c.DeadLetters == nil {
		return errors.New("dead-letter sink is required")
	}
	if c.Checkpoints == nil {
		return errors.New("checkpoint store is required")
	}
	return nil
}

type Option func(*Engine)

func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

func WithMetrics(sink telemetry.Sink) Option {
	return func(e *Engine) {
		e.metrics = sink
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

// Engine drives change events through detection, enrichment, validation
// and publishing, and advances the checkpoint watermark once every
// candidate of a change has reached a terminal state.
type Engine struct {
	components Components
	config     Config
	logger     zerolog.Logger
	metrics    telemetry.Sink
	tracer     trace.Tracer

	tracker      *watermarkTracker
	inflight     chan struct{}
	cancelIntake context.CancelFunc
	cancelDrain  context.CancelFunc

	commitMu  sync.Mutex
	lastSaved cdc.SourcePosition

	fatalMu sync.Mutex
	fatal   error
}

func New(components Components, config Config, options ...Option) (*Engine, error) {
	if err := components.validate(); err != nil {
		return nil, err
	}

	config = config.withDefaults()

	engine := &Engine{
		components: components,
		config:     config,
		logger:     zerolog.Nop(),
		metrics:    telemetry.NoopSink{},
		tracker:    newWatermarkTracker(),
		inflight:   make(chan struct{}, config.InFlightLimit),
	}

	for _, option := range options {
		option(engine)
	}

	if engine.tracer == nil {
		engine.tracer = otel.Tracer("transform-engine")
	}

	return engine, nil
}

type laneItem struct {
	seq    uint64
	change *cdc.ChangeEvent
}

// Run consumes the change stream until it ends, the context is cancelled,
// or a checkpoint write fails. Cancellation only stops intake: changes
// already accepted keep draining to a terminal state under a context that
// outlives the caller's, and the checkpoint is written exactly once more
// before returning. Only a fatal checkpoint failure aborts the drain.
func (e *Engine) Run(ctx context.Context, source ChangeReader) error {
	checkpoint, err := e.components.Checkpoints.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load checkpoint")
	}
	if checkpoint.Position != "" {
		if err := source.Seek(checkpoint.Position); err != nil {
			return errors.Wrap(err, "seek change stream")
		}
		e.lastSaved = checkpoint.Position
		e.logger.Info().
			Str("position", checkpoint.Position.String()).
			Msg("resuming after checkpoint")
	}

	intakeCtx, stopIntake := context.WithCancel(ctx)
	defer stopIntake()
	drainCtx, stopDrain := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDrain()
	e.cancelIntake = stopIntake
	e.cancelDrain = stopDrain

	lanes := make([]chan laneItem, e.config.Lanes)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan laneItem)
		wg.Add(1)
		go func(items chan laneItem) {
			defer wg.Done()
			for item := range items {
				e.process(drainCtx, item)
				<-e.inflight
			}
		}(lanes[i])
	}

	var readerErr error

intake:
	for {
		change, err := source.Next(intakeCtx)
		if err != nil {
			if errors.Is(err, ErrEndOfStream) || intakeCtx.Err() != nil {
				break
			}
			readerErr = errors.Wrap(err, "read change stream")
			break
		}

		if err := change.Validate(); err != nil {
			e.logger.Error().Err(err).
				Str("position", change.Position.String()).
				Msg("discarding malformed change event")
			continue
		}

		e.metrics.ChangeReceived()

		select {
		case e.inflight <- struct{}{}:
		case <-intakeCtx.Done():
			break intake
		}

		seq := e.tracker.Track(change.Position)
		e.metrics.InFlightIncr()

		lane := xxhash.Sum64String(change.AggregateKey()) % uint64(len(lanes))
		select {
		case lanes[lane] <- laneItem{seq: seq, change: change}:
		case <-intakeCtx.Done():
			// Intake stopped mid-handoff; the change is replayed from the
			// checkpoint on restart.
			<-e.inflight
			e.metrics.InFlightDecr()
			break intake
		}
	}

	for _, lane := range lanes {
		close(lane)
	}
	wg.Wait()

	// One final write, regardless of whether the watermark moved since
	// the last advance.
	if position := e.tracker.Watermark(); position != "" {
		if err := e.saveCheckpoint(context.WithoutCancel(ctx), position); err != nil {
			e.recordFatal(err)
		}
	}

	if err := e.fatalErr(); err != nil {
		return err
	}
	return readerErr
}

func (e *Engine) process(ctx context.Context, item laneItem) {
	change := item.change

	ctx, span := e.tracer.Start(ctx, "process change",
		trace.WithAttributes(
			attribute.String("cdc.table", change.Table),
			attribute.String("cdc.operation", change.Operation.String()),
			attribute.String("cdc.position", change.Position.String()),
		),
	)
	defer span.End()

	candidates := e.components.Detectors.Detect(change)

	resolved := true
	for i := range candidates {
		if !e.resolveCandidate(ctx, change, &candidates[i]) {
			resolved = false
		}
	}

	e.metrics.InFlightDecr()

	if !resolved {
		// Only possible after a fatal error aborted the drain; restart
		// replays the change.
		return
	}

	position, advanced := e.tracker.Resolve(item.seq)
	if !advanced {
		return
	}
	if err := e.saveCheckpoint(ctx, position); err != nil {
		e.recordFatal(err)
	}
}

// resolveCandidate runs one candidate to a terminal state: published or
// dead-lettered. It reports false only when a fatal error interrupted the
// attempt, which is safe to replay since detection is deterministic and
// publishing idempotent. Shutdown does not cancel the context seen here.
func (e *Engine) resolveCandidate(ctx context.Context, change *cdc.ChangeEvent, event *cdc.DomainEvent) bool {
	attempts := 0

	err := retry.Do(
		func() error {
			attempts++
			return e.components.Enricher.Enrich(ctx, event)
		},
		retry.Attempts(e.config.EnrichMaxAttempts),
		retry.Delay(e.config.EnrichRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && enrich.IsUnavailable(err)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			e.metrics.EnrichmentRetry()
			e.logger.Warn().Err(err).
				Uint("attempt", attempt+1).
				Str("event", event.EventID.String()).
				Msg("enrichment unavailable, retrying")
		}),
	)
	if err != nil {
		if ctx.Err() != nil && enrich.IsUnavailable(err) {
			return false
		}
		e.deadLetter(ctx, change, event, attempts, err, telemetry.ReasonEnrichmentExhausted)
		return true
	}

	if err := e.components.Validator.Validate(event); err != nil {
		e.deadLetter(ctx, change, event, attempts, err, telemetry.ReasonValidationRejected)
		return true
	}

	delay := e.config.PublishRetryDelay
	for {
		outcome, err := e.components.Publisher.Publish(ctx, event)
		if err == nil {
			e.logger.Info().
				Str("event", event.EventID.String()).
				Str("type", event.EventType.String()).
				Str("aggregate", event.Aggregate.Encode().String()).
				Str("outcome", outcome.String()).
				Msg("candidate resolved")
			return true
		}
		if ctx.Err() != nil {
			return false
		}

		e.metrics.PublishRetry()
		e.logger.Warn().Err(err).
			Str("event", event.EventID.String()).
			Dur("backoff", delay).
			Msg("publish failed, backing off")

		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		delay *= 2
		if delay > e.config.PublishRetryMax {
			delay = e.config.PublishRetryMax
		}
	}
}

func (e *Engine) deadLetter(ctx context.Context, change *cdc.ChangeEvent, event *cdc.DomainEvent, attempts int, cause error, reason string) {
	e.metrics.DeadLettered(reason)
	e.logger.Error().Err(cause).
		Str("event", event.EventID.String()).
		Str("type", event.EventType.String()).
		Str("rule", event.DetectedBy).
		Str("position", change.Position.String()).
		Int("attempts", attempts).
		Str("reason", reason).
		Msg("candidate dead-lettered")

	candidate := publish.Candidate{Event: *event, Change: *change, Attempts: attempts}
	if err := e.components.DeadLetters.Record(context.WithoutCancel(ctx), candidate, cause); err != nil {
		e.logger.Error().Err(err).
			Str("event", event.EventID.String()).
			Msg("dead-letter sink write failed")
	}
}

// saveCheckpoint persists a watermark advance. Saves are serialized and
// monotonic: a lane that resolved an older prefix after a newer one never
// rolls the checkpoint back.
func (e *Engine) saveCheckpoint(ctx context.Context, position cdc.SourcePosition) error {
	e.commitMu.Lock()
	defer e.commitMu.Unlock()

	if position.Before(e.lastSaved) {
		return nil
	}

	checkpoint := Checkpoint{Position: position, UpdatedAt: time.Now().UTC()}
	if err := e.components.Checkpoints.Save(ctx, checkpoint); err != nil {
		// Continuing with an unpersisted watermark would silently widen
		// the replay window; treat as fatal and restart from the last
		// known-good checkpoint.
		return errors.Wrap(err, "checkpoint write failed")
	}

	e.lastSaved = position
	e.metrics.CheckpointAdvanced()
	e.logger.Debug().Str("position", position.String()).Msg("checkpoint advanced")
	return nil
}

func (e *Engine) recordFatal(err error) {
	e.fatalMu.Lock()
	if e.fatal == nil {
		e.fatal = err
	}
	e.fatalMu.Unlock()

	if e.cancelIntake != nil {
		e.cancelIntake()
	}
	if e.cancelDrain != nil {
		e.cancelDrain()
	}
}

func (e *Engine) fatalErr() error {
	e.fatalMu.Lock()
	defer e.fatalMu.Unlock()
	return e.fatal
}
