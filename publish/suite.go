package publish

import (
	"context"
	"testing"
	"time"

	"github.com/jaswdr/faker"
	"github.com/stretchr/testify/assert"

	"github.com/mike840609/debezium-nats-cdc/cdc"
)

// NewLogValidationSuite builds a reusable contract suite for EventLog
// implementations. Every implementation must satisfy the same
// insert-if-absent semantics, so the suite runs unchanged against the
// in-memory log and the DynamoDB adapter.
func NewLogValidationSuite(ctx context.Context, log EventLog) *LogValidationSuite {
	return &LogValidationSuite{
		log:   log,
		ctx:   ctx,
		faker: faker.New(),
	}
}

type LogValidationSuite struct {
	log   EventLog
	ctx   context.Context
	faker faker.Faker
}

func (s *LogValidationSuite) Run(t *testing.T) {
	t.Run("inserts a new event", s.InsertsNewEvent)
	t.Run("reports a duplicate id as already present", s.ReportsDuplicate)
	t.Run("keeps distinct ids independent", s.KeepsDistinctIdsIndependent)
}

func (s *LogValidationSuite) MakeTestEvent() cdc.DomainEvent {
	change := &cdc.ChangeEvent{
		Table:           "employees",
		Operation:       cdc.OperationUpdate,
		Before:          cdc.Row{"id": s.faker.UUID().V4()},
		After:           cdc.Row{"id": s.faker.UUID().V4()},
		Position:        cdc.SourcePosition(s.faker.UUID().V4()),
		SourceTimestamp: time.Now(),
	}

	key := change.After.Key("id")
	return cdc.DomainEvent{
		EventID:    cdc.DeriveEventID(change, "log-suite", 0),
		EventType:  "EmployeePromoted",
		Category:   "employee",
		Aggregate:  cdc.AggregateId{Type: "employee", Key: key},
		Version:    1,
		OccurredAt: cdc.TimestampFromTime(change.SourceTimestamp),
		Payload: map[string]any{
			"employeeId": key,
			"note":       s.faker.Lorem().Sentence(5),
		},
		Metadata: cdc.Metadata{
			CausationID: cdc.CausationOf(change),
			Position:    change.Position,
		},
		DetectedBy: "log-suite",
	}
}

func (s *LogValidationSuite) InsertsNewEvent(t *testing.T) {
	event := s.MakeTestEvent()

	result, err := s.log.InsertIfAbsent(s.ctx, &event)

	if !assert.Nil(t, err) {
		return
	}
	assert.Equal(t, Inserted, result)
}

func (s *LogValidationSuite) ReportsDuplicate(t *testing.T) {
	event := s.MakeTestEvent()

	first, err := s.log.InsertIfAbsent(s.ctx, &event)
	if !assert.Nil(t, err) {
		return
	}
	assert.Equal(t, Inserted, first)

	second, err := s.log.InsertIfAbsent(s.ctx, &event)
	if !assert.Nil(t, err) {
		return
	}
	assert.Equal(t, AlreadyPresent, second)
}

func (s *LogValidationSuite) KeepsDistinctIdsIndependent(t *testing.T) {
	first := s.MakeTestEvent()
	second := s.MakeTestEvent()

	resultFirst, err := s.log.InsertIfAbsent(s.ctx, &first)
	if !assert.Nil(t, err) {
		return
	}
	resultSecond, err := s.log.InsertIfAbsent(s.ctx, &second)
	if !assert.Nil(t, err) {
		return
	}

	assert.Equal(t, Inserted, resultFirst)
	assert.Equal(t, Inserted, resultSecond)
}
