package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mike840609/debezium-nats-cdc/cdc"
	"github.com/mike840609/debezium-nats-cdc/detect"
	"github.com/mike840609/debezium-nats-cdc/enrich"
	"github.com/mike840609/debezium-nats-cdc/publish"
	"github.com/mike840609/debezium-nats-cdc/validate"
)

func position(n int) cdc.SourcePosition {
	return cdc.SourcePosition(fmt.Sprintf("%020d", n))
}

// scriptedReader replays a fixed sequence of changes and honors Seek the
// way a resumable log reader would.
type scriptedReader struct {
	changes []*cdc.ChangeEvent
	index   int
}

func (r *scriptedReader) Seek(position cdc.SourcePosition) error {
	for r.index < len(r.changes) && !position.Before(r.changes[r.index].Position) {
		r.index++
	}
	return nil
}

func (r *scriptedReader) Next(ctx context.Context) (*cdc.ChangeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.index >= len(r.changes) {
		return nil, ErrEndOfStream
	}

	change := r.changes[r.index]
	r.index++
	return change, nil
}

type mapModel struct {
	entries map[string]string
}

func (m *mapModel) Lookup(_ context.Context, entityType string, key string) (string, error) {
	value, ok := m.entries[entityType+":"+key]
	if !ok {
		return "", enrich.ErrNotFound
	}
	return value, nil
}

type downModel struct{}

func (downModel) Lookup(context.Context, string, string) (string, error) {
	return "", enrich.Unavailable(errors.New("connection refused"))
}

func hrModel() enrich.ReadModel {
	return &mapModel{entries: map[string]string{
		"position:eng-2":      "Engineer II",
		"position:eng-3":      "Senior Engineer",
		"department:platform": "Platform",
		"department:payments": "Payments",
	}}
}

type harness struct {
	engine      *Engine
	log         *publish.MemoryEventLog
	bus         *publish.MemoryTransport
	dead        *publish.MemoryDeadLetterSink
	checkpoints *MemoryCheckpointStore
}

func newHarness(t *testing.T, model enrich.ReadModel, registry *detect.Registry, checkpoints *MemoryCheckpointStore, log *publish.MemoryEventLog) *harness {
	t.Helper()

	if registry == nil {
		registry = detect.NewRegistry()
		detect.RegisterHRRules(registry)
	}
	if checkpoints == nil {
		checkpoints = NewMemoryCheckpointStore()
	}
	if log == nil {
		log = publish.NewMemoryEventLog()
	}

	bus := publish.NewMemoryTransport()
	dead := publish.NewMemoryDeadLetterSink()

	processor, err := New(
		Components{
			Detectors:   registry,
			Enricher:    enrich.NewEnricher(model, enrich.HRResolutions()),
			Validator:   validate.HRValidator(),
			Publisher:   publish.NewPublisher(log, bus),
			DeadLetters: dead,
			Checkpoints: checkpoints,
		},
		Config{
			Lanes:             2,
			InFlightLimit:     16,
			EnrichMaxAttempts: 2,
			EnrichRetryDelay:  time.Millisecond,
			PublishRetryDelay: time.Millisecond,
			PublishRetryMax:   5 * time.Millisecond,
		},
	)
	require.NoError(t, err)

	return &harness{
		engine:      processor,
		log:         log,
		bus:         bus,
		dead:        dead,
		checkpoints: checkpoints,
	}
}

func employeeUpdate(n int, before cdc.Row, after cdc.Row) *cdc.ChangeEvent {
	return &cdc.ChangeEvent{
		Table:           "employees",
		Operation:       cdc.OperationUpdate,
		Before:          before,
		After:           after,
		SourceTimestamp: time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC).Add(time.Duration(n) * time.Second),
		Position:        position(n),
	}
}

func promotionChange(n int) *cdc.ChangeEvent {
	return employeeUpdate(n,
		cdc.Row{"id": "1041", "position_id": "eng-2", "department_id": "platform", "salary": float64(95000), "status": "active"},
		cdc.Row{"id": "1041", "position_id": "eng-3", "department_id": "platform", "salary": float64(112000), "status": "active"},
	)
}

func statusChange(n int, id string, from string, to string) *cdc.ChangeEvent {
	return employeeUpdate(n,
		cdc.Row{"id": id, "position_id": "eng-2", "department_id": "platform", "salary": float64(95000), "status": from},
		cdc.Row{"id": id, "position_id": "eng-2", "department_id": "platform", "salary": float64(95000), "status": to},
	)
}

func TestEngineTransformsPromotion(t *testing.T) {
	h := newHarness(t, hrModel(), nil, nil, nil)
	reader := &scriptedReader{changes: []*cdc.ChangeEvent{promotionChange(1)}}

	require.NoError(t, h.engine.Run(context.Background(), reader))

	assert.Equal(t, 1, h.log.Len())
	assert.Empty(t, h.dead.Letters())

	sent := h.bus.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "events.employee.employee-promoted", sent[0].Subject)

	record, err := publish.UnmarshalRecord(sent[0].Data)
	require.NoError(t, err)
	assert.Equal(t, cdc.EventType("EmployeePromoted"), record.EventType)
	assert.Equal(t, "Engineer II", record.Payload["previousPositionTitle"])
	assert.Equal(t, "Senior Engineer", record.Payload["newPositionTitle"])

	assert.Equal(t, position(1), h.checkpoints.Current().Position)
}

func TestEngineReplayIsEffectivelyOnce(t *testing.T) {
	log := publish.NewMemoryEventLog()
	changes := []*cdc.ChangeEvent{
		statusChange(1, "1041", "active", "on_leave"),
		statusChange(2, "1041", "on_leave", "active"),
	}

	first := newHarness(t, hrModel(), nil, nil, log)
	require.NoError(t, first.engine.Run(context.Background(), &scriptedReader{changes: changes}))
	assert.Equal(t, 2, log.Len())

	// A restart that lost its checkpoint replays the whole stream. The
	// durable log stays unchanged; only bus frames repeat.
	second := newHarness(t, hrModel(), nil, nil, log)
	require.NoError(t, second.engine.Run(context.Background(), &scriptedReader{changes: changes}))

	assert.Equal(t, 2, log.Len())
	assert.Len(t, second.bus.Sent(), 2)
	assert.Empty(t, second.dead.Letters())
}

func TestEngineResumesAfterCheckpoint(t *testing.T) {
	checkpoints := NewMemoryCheckpointStore()
	log := publish.NewMemoryEventLog()

	first := newHarness(t, hrModel(), nil, checkpoints, log)
	require.NoError(t, first.engine.Run(context.Background(), &scriptedReader{changes: []*cdc.ChangeEvent{
		statusChange(1, "1041", "active", "on_leave"),
		statusChange(2, "1041", "on_leave", "active"),
	}}))
	require.Equal(t, position(2), checkpoints.Current().Position)

	second := newHarness(t, hrModel(), nil, checkpoints, log)
	require.NoError(t, second.engine.Run(context.Background(), &scriptedReader{changes: []*cdc.ChangeEvent{
		statusChange(1, "1041", "active", "on_leave"),
		statusChange(2, "1041", "on_leave", "active"),
		statusChange(3, "1041", "active", "on_leave"),
	}}))

	assert.Len(t, second.bus.Sent(), 1)
	assert.Equal(t, 3, log.Len())
	assert.Equal(t, position(3), checkpoints.Current().Position)
}

func TestEngineResolvesCandidatesIndependently(t *testing.T) {
	// One change carries both a promotion and a termination. The read
	// model is down, so the promotion exhausts enrichment and dead
	// letters while the termination, which needs no references, still
	// publishes.
	h := newHarness(t, downModel{}, nil, nil, nil)

	change := employeeUpdate(1,
		cdc.Row{"id": "1041", "position_id": "eng-2", "department_id": "platform", "salary": float64(95000), "status": "active"},
		cdc.Row{"id": "1041", "position_id": "eng-3", "department_id": "platform", "salary": float64(112000), "status": "terminated"},
	)

	require.NoError(t, h.engine.Run(context.Background(), &scriptedReader{changes: []*cdc.ChangeEvent{change}}))

	require.Equal(t, 1, h.log.Len())
	record, err := publish.UnmarshalRecord(h.bus.Sent()[0].Data)
	require.NoError(t, err)
	assert.Equal(t, cdc.EventType("EmployeeTerminated"), record.EventType)

	letters := h.dead.Letters()
	require.Len(t, letters, 1)
	assert.Equal(t, cdc.EventType("EmployeePromoted"), letters[0].Candidate.Event.EventType)
	assert.Equal(t, 2, letters[0].Candidate.Attempts)
	assert.Equal(t, change.Position, letters[0].Candidate.Change.Position)

	// Both candidates reached a terminal state, so the change commits.
	assert.Equal(t, position(1), h.checkpoints.Current().Position)
}

func TestEngineRetriesBusOutage(t *testing.T) {
	h := newHarness(t, hrModel(), nil, nil, nil)
	h.bus.FailNext(2, errors.New("nats: timeout"))

	require.NoError(t, h.engine.Run(context.Background(), &scriptedReader{changes: []*cdc.ChangeEvent{
		statusChange(1, "1041", "active", "on_leave"),
	}}))

	assert.Equal(t, 1, h.log.Len())
	assert.Len(t, h.bus.Sent(), 1)
	assert.Empty(t, h.dead.Letters())
	assert.Equal(t, position(1), h.checkpoints.Current().Position)
}

type malformedRule struct{}

func (malformedRule) Name() string { return "malformed" }

func (malformedRule) Evaluate(change *cdc.ChangeEvent) ([]cdc.DomainEvent, error) {
	return []cdc.DomainEvent{{
		EventID:   cdc.DeriveEventID(change, "malformed", 0),
		EventType: "EmployeePromoted",
		Category:  "employee",
		Aggregate: cdc.AggregateId{Type: "employee", Key: "1041"},
		Version:   1,
		Payload:   map[string]any{"employeeId": "1041"},
		Metadata:  cdc.Metadata{Position: change.Position},
	}}, nil
}

func TestEngineDeadLettersValidationRejections(t *testing.T) {
	registry := detect.NewRegistry()
	registry.Register("employees", malformedRule{})

	h := newHarness(t, hrModel(), registry, nil, nil)

	require.NoError(t, h.engine.Run(context.Background(), &scriptedReader{changes: []*cdc.ChangeEvent{
		statusChange(1, "1041", "active", "on_leave"),
	}}))

	assert.Equal(t, 0, h.log.Len())
	assert.Empty(t, h.bus.Sent())

	letters := h.dead.Letters()
	require.Len(t, letters, 1)
	assert.Contains(t, letters[0].Reason, "rejected")

	assert.Equal(t, position(1), h.checkpoints.Current().Position)
}

func TestEngineCheckpointWriteFailureIsFatal(t *testing.T) {
	checkpoints := NewMemoryCheckpointStore()
	checkpoints.FailWith(errors.New("disk full"))

	h := newHarness(t, hrModel(), nil, checkpoints, nil)

	err := h.engine.Run(context.Background(), &scriptedReader{changes: []*cdc.ChangeEvent{
		statusChange(1, "1041", "active", "on_leave"),
	}})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "checkpoint")
}

func TestEnginePreservesPerAggregateOrder(t *testing.T) {
	var changes []*cdc.ChangeEvent
	for n := 1; n <= 10; n++ {
		if n%2 == 1 {
			changes = append(changes, statusChange(n, "1041", "active", "on_leave"))
		} else {
			changes = append(changes, statusChange(n, "1041", "on_leave", "active"))
		}
	}

	h := newHarness(t, hrModel(), nil, nil, nil)
	require.NoError(t, h.engine.Run(context.Background(), &scriptedReader{changes: changes}))

	sent := h.bus.Sent()
	require.Len(t, sent, 10)

	var last cdc.SourcePosition
	for _, frame := range sent {
		record, err := publish.UnmarshalRecord(frame.Data)
		require.NoError(t, err)
		if last != "" {
			assert.True(t, last.Before(record.Metadata.Position))
		}
		last = record.Metadata.Position
	}

	assert.Equal(t, position(10), h.checkpoints.Current().Position)
}

func TestEngineRequiresAllComponents(t *testing.T) {
	_, err := New(Components{}, Config{})
	assert.Error(t, err)
}

// liveReader replays its script and then blocks like a tailing log reader
// until the context is cancelled.
type liveReader struct {
	scripted scriptedReader
}

func (r *liveReader) Seek(position cdc.SourcePosition) error {
	return r.scripted.Seek(position)
}

func (r *liveReader) Next(ctx context.Context) (*cdc.ChangeEvent, error) {
	change, err := r.scripted.Next(ctx)
	if errors.Is(err, ErrEndOfStream) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return change, err
}

// countingReader records how often the engine asks for the next change.
type countingReader struct {
	mu      sync.Mutex
	changes []*cdc.ChangeEvent
	index   int
	calls   int
}

func (r *countingReader) Seek(cdc.SourcePosition) error { return nil }

func (r *countingReader) Next(ctx context.Context) (*cdc.ChangeEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls++
	if r.index >= len(r.changes) {
		return nil, ErrEndOfStream
	}
	change := r.changes[r.index]
	r.index++
	return change, nil
}

func (r *countingReader) Calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// gatedTransport holds every frame at a gate until the test releases it,
// and honors cancellation while waiting the way a real transport would.
type gatedTransport struct {
	inner   *publish.MemoryTransport
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedTransport() *gatedTransport {
	return &gatedTransport{
		inner:   publish.NewMemoryTransport(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (t *gatedTransport) Send(ctx context.Context, subject string, data []byte) error {
	t.once.Do(func() { close(t.entered) })
	select {
	case <-t.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return t.inner.Send(ctx, subject, data)
}

type gatedHarness struct {
	engine      *Engine
	bus         *gatedTransport
	log         *publish.MemoryEventLog
	dead        *publish.MemoryDeadLetterSink
	checkpoints *MemoryCheckpointStore
}

func newGatedHarness(t *testing.T, config Config) *gatedHarness {
	t.Helper()

	registry := detect.NewRegistry()
	detect.RegisterHRRules(registry)

	log := publish.NewMemoryEventLog()
	bus := newGatedTransport()
	dead := publish.NewMemoryDeadLetterSink()
	checkpoints := NewMemoryCheckpointStore()

	processor, err := New(
		Components{
			Detectors:   registry,
			Enricher:    enrich.NewEnricher(hrModel(), enrich.HRResolutions()),
			Validator:   validate.HRValidator(),
			Publisher:   publish.NewPublisher(log, bus),
			DeadLetters: dead,
			Checkpoints: checkpoints,
		},
		config,
	)
	require.NoError(t, err)

	return &gatedHarness{
		engine:      processor,
		bus:         bus,
		log:         log,
		dead:        dead,
		checkpoints: checkpoints,
	}
}

func waitForRun(t *testing.T, done <-chan error) error {
	t.Helper()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop in time")
		return nil
	}
}

func TestEngineDrainsInFlightOnShutdown(t *testing.T) {
	// Cancellation arrives while a candidate is blocked mid-publish. The
	// candidate must still reach a terminal state: frame sent, nothing
	// dead-lettered, checkpoint advanced past the change.
	h := newGatedHarness(t, Config{
		Lanes:             2,
		InFlightLimit:     16,
		EnrichMaxAttempts: 2,
		EnrichRetryDelay:  time.Millisecond,
		PublishRetryDelay: time.Millisecond,
		PublishRetryMax:   5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &liveReader{scripted: scriptedReader{changes: []*cdc.ChangeEvent{promotionChange(1)}}}

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx, reader) }()

	<-h.bus.entered
	cancel()
	close(h.bus.release)

	require.NoError(t, waitForRun(t, done))

	assert.Equal(t, 1, h.log.Len())
	assert.Len(t, h.bus.inner.Sent(), 1)
	assert.Empty(t, h.dead.Letters())
	assert.Equal(t, position(1), h.checkpoints.Current().Position)
}

func TestEngineBoundsInFlightChanges(t *testing.T) {
	// With a single lane stalled on the bus and an in-flight limit of one,
	// intake reads exactly one change ahead and then waits. Nothing is
	// dropped: once the gate opens every change still publishes.
	h := newGatedHarness(t, Config{
		Lanes:             1,
		InFlightLimit:     1,
		EnrichMaxAttempts: 2,
		EnrichRetryDelay:  time.Millisecond,
		PublishRetryDelay: time.Millisecond,
		PublishRetryMax:   5 * time.Millisecond,
	})

	reader := &countingReader{changes: []*cdc.ChangeEvent{
		statusChange(1, "1041", "active", "on_leave"),
		statusChange(2, "1041", "on_leave", "active"),
		statusChange(3, "1041", "active", "on_leave"),
	}}

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(context.Background(), reader) }()

	<-h.bus.entered
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, 2, reader.Calls())
	assert.Empty(t, h.bus.inner.Sent())

	close(h.bus.release)
	require.NoError(t, waitForRun(t, done))

	assert.Len(t, h.bus.inner.Sent(), 3)
	assert.Equal(t, position(3), h.checkpoints.Current().Position)
}

func TestEngineWritesFinalCheckpointOnShutdown(t *testing.T) {
	h := newHarness(t, hrModel(), nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reader := &liveReader{scripted: scriptedReader{changes: []*cdc.ChangeEvent{
		statusChange(1, "1041", "active", "on_leave"),
	}}}

	done := make(chan error, 1)
	go func() { done <- h.engine.Run(ctx, reader) }()

	require.Eventually(t, func() bool {
		return h.checkpoints.Current().Position == position(1)
	}, 5*time.Second, time.Millisecond)

	cancel()
	require.NoError(t, waitForRun(t, done))

	// One save for the watermark advance, one more on the way out.
	assert.Equal(t, 2, h.checkpoints.Saves())
	assert.Equal(t, position(1), h.checkpoints.Current().Position)
}
