package detect

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mike840609/debezium-nats-cdc/cdc"
)

type staticRule struct {
	name   string
	events []cdc.DomainEvent
	err    error
	panics bool
}

func (r *staticRule) Name() string { return r.name }

func (r *staticRule) Evaluate(*cdc.ChangeEvent) ([]cdc.DomainEvent, error) {
	if r.panics {
		panic("boom")
	}
	return r.events, r.err
}

func changeFor(table string) *cdc.ChangeEvent {
	return &cdc.ChangeEvent{
		Table:           table,
		Operation:       cdc.OperationUpdate,
		Before:          cdc.Row{"id": "1"},
		After:           cdc.Row{"id": "1"},
		SourceTimestamp: time.Now(),
		Position:        "00000000000000000001",
	}
}

func TestDetectCollectsCandidatesInRegistrationOrder(t *testing.T) {
	registry := NewRegistry()
	registry.Register("employees",
		&staticRule{name: "first", events: []cdc.DomainEvent{{EventID: "a"}}},
		&staticRule{name: "second", events: []cdc.DomainEvent{{EventID: "b"}, {EventID: "c"}}},
	)

	candidates := registry.Detect(changeFor("employees"))

	require.Len(t, candidates, 3)
	assert.Equal(t, cdc.EventID("a"), candidates[0].EventID)
	assert.Equal(t, cdc.EventID("b"), candidates[1].EventID)
	assert.Equal(t, cdc.EventID("c"), candidates[2].EventID)
}

func TestDetectIgnoresUnregisteredTables(t *testing.T) {
	registry := NewRegistry()
	registry.Register("employees", &staticRule{name: "noop"})

	assert.Empty(t, registry.Detect(changeFor("attendance_records")))
}

func TestDetectIsolatesFaultingRules(t *testing.T) {
	registry := NewRegistry()
	registry.Register("employees",
		&staticRule{name: "broken", err: errors.New("schema drift")},
		&staticRule{name: "healthy", events: []cdc.DomainEvent{{EventID: "ok"}}},
	)

	candidates := registry.Detect(changeFor("employees"))

	require.Len(t, candidates, 1)
	assert.Equal(t, cdc.EventID("ok"), candidates[0].EventID)
}

func TestDetectRecoversFromPanickingRule(t *testing.T) {
	registry := NewRegistry()
	registry.Register("employees",
		&staticRule{name: "panicky", panics: true},
		&staticRule{name: "healthy", events: []cdc.DomainEvent{{EventID: "ok"}}},
	)

	candidates := registry.Detect(changeFor("employees"))

	require.Len(t, candidates, 1)
	assert.Equal(t, cdc.EventID("ok"), candidates[0].EventID)
}
