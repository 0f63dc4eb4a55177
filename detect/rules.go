package detect

import (
	"github.com/mike840609/debezium-nats-cdc/cdc"
)

// newCandidate assembles a candidate domain event for a change. The event
// id is derived from the cause, so re-detection of the same change yields
// the identical candidate.
func newCandidate(
	change *cdc.ChangeEvent,
	rule string,
	index int,
	eventType cdc.EventType,
	category cdc.EventCategory,
	aggregate cdc.AggregateId,
	version int,
	payload map[string]any,
) cdc.DomainEvent {
	return cdc.DomainEvent{
		EventID:    cdc.DeriveEventID(change, rule, index),
		EventType:  eventType,
		Category:   category,
		Aggregate:  aggregate,
		Version:    version,
		OccurredAt: cdc.TimestampFromTime(change.SourceTimestamp),
		Payload:    payload,
		Metadata: cdc.Metadata{
			CausationID:   cdc.CausationOf(change),
			CorrelationID: cdc.CorrelationID(aggregate.Encode()),
			Position:      change.Position,
		},
		DetectedBy: rule,
	}
}

// CreateRule emits one lifecycle-creation event for every Create operation
// on its table. Snapshot reads deliberately produce nothing: they replay
// existing state, not new business facts.
type CreateRule struct {
	RuleName      string
	EventType     cdc.EventType
	Category      cdc.EventCategory
	AggregateType string
	KeyColumn     string
	KeyField      string
	Version       int
	// Copy maps payload field name to source column.
	Copy map[string]string
}

func (r *CreateRule) Name() string {
	return r.RuleName
}

func (r *CreateRule) Evaluate(change *cdc.ChangeEvent) ([]cdc.DomainEvent, error) {
	if change.Operation != cdc.OperationCreate {
		return nil, nil
	}

	key := change.After.Key(r.KeyColumn)
	payload := map[string]any{r.KeyField: key}
	for field, column := range r.Copy {
		if value, ok := change.After[column]; ok && value != nil {
			payload[field] = value
		}
	}

	event := newCandidate(
		change, r.RuleName, 0,
		r.EventType, r.Category,
		cdc.AggregateId{Type: r.AggregateType, Key: key},
		r.Version, payload,
	)

	return []cdc.DomainEvent{event}, nil
}

// PromotionRule fires on updates where the position changes and the
// compensation strictly increases. A position change without a raise, or a
// raise alone, is not a promotion.
type PromotionRule struct {
	RuleName           string
	EventType          cdc.EventType
	Category           cdc.EventCategory
	AggregateType      string
	KeyColumn          string
	KeyField           string
	PositionColumn     string
	CompensationColumn string
	Version            int
}

func (r *PromotionRule) Name() string {
	return r.RuleName
}

func (r *PromotionRule) Evaluate(change *cdc.ChangeEvent) ([]cdc.DomainEvent, error) {
	if change.Operation != cdc.OperationUpdate {
		return nil, nil
	}
	if !cdc.Changed(change.Before, change.After, r.PositionColumn) {
		return nil, nil
	}

	previousSalary, ok := change.Before.Float(r.CompensationColumn)
	if !ok {
		return nil, nil
	}
	newSalary, ok := change.After.Float(r.CompensationColumn)
	if !ok || newSalary <= previousSalary {
		return nil, nil
	}

	key := change.After.Key(r.KeyColumn)
	previousPosition := change.Before.Key(r.PositionColumn)
	newPosition := change.After.Key(r.PositionColumn)

	event := newCandidate(
		change, r.RuleName, 0,
		r.EventType, r.Category,
		cdc.AggregateId{Type: r.AggregateType, Key: key},
		r.Version,
		map[string]any{
			r.KeyField:         key,
			"previousPosition": previousPosition,
			"newPosition":      newPosition,
			"previousSalary":   previousSalary,
			"newSalary":        newSalary,
		},
	)

	return []cdc.DomainEvent{event}, nil
}

// TransferRule fires on updates where the grouping column changes while
// the position stays put. Combined position and department moves are the
// promotion rule's territory.
type TransferRule struct {
	RuleName       string
	EventType      cdc.EventType
	Category       cdc.EventCategory
	AggregateType  string
	KeyColumn      string
	KeyField       string
	GroupColumn    string
	PositionColumn string
	Version        int
}

func (r *TransferRule) Name() string {
	return r.RuleName
}

func (r *TransferRule) Evaluate(change *cdc.ChangeEvent) ([]cdc.DomainEvent, error) {
	if change.Operation != cdc.OperationUpdate {
		return nil, nil
	}
	if !cdc.Changed(change.Before, change.After, r.GroupColumn) {
		return nil, nil
	}
	if cdc.Changed(change.Before, change.After, r.PositionColumn) {
		return nil, nil
	}

	key := change.After.Key(r.KeyColumn)

	event := newCandidate(
		change, r.RuleName, 0,
		r.EventType, r.Category,
		cdc.AggregateId{Type: r.AggregateType, Key: key},
		r.Version,
		map[string]any{
			r.KeyField:           key,
			"previousDepartment": change.Before.Key(r.GroupColumn),
			"newDepartment":      change.After.Key(r.GroupColumn),
			"position":           change.After.Key(r.PositionColumn),
		},
	)

	return []cdc.DomainEvent{event}, nil
}

// Transition is one old-status to new-status edge.
type Transition struct {
	From string
	To   string
}

// StatusTransitionRule fires on updates that move the status column along
// a mapped transition. Unmapped transitions produce no event; they are
// legitimate states the business has no event vocabulary for.
type StatusTransitionRule struct {
	RuleName      string
	Category      cdc.EventCategory
	AggregateType string
	KeyColumn     string
	KeyField      string
	StatusColumn  string
	Transitions   map[Transition]cdc.EventType
	Version       int
}

func (r *StatusTransitionRule) Name() string {
	return r.RuleName
}

func (r *StatusTransitionRule) Evaluate(change *cdc.ChangeEvent) ([]cdc.DomainEvent, error) {
	if change.Operation != cdc.OperationUpdate {
		return nil, nil
	}

	previous, _ := change.Before.String(r.StatusColumn)
	current, _ := change.After.String(r.StatusColumn)
	if previous == current {
		return nil, nil
	}

	eventType, mapped := r.Transitions[Transition{From: previous, To: current}]
	if !mapped {
		return nil, nil
	}

	key := change.After.Key(r.KeyColumn)

	event := newCandidate(
		change, r.RuleName, 0,
		eventType, r.Category,
		cdc.AggregateId{Type: r.AggregateType, Key: key},
		r.Version,
		map[string]any{
			r.KeyField:       key,
			"previousStatus": previous,
			"newStatus":      current,
		},
	)

	return []cdc.DomainEvent{event}, nil
}

// DeletionRule emits a terminal lifecycle event for deletes on tables with
// lifecycle semantics. Tables that record transactions rather than
// entities (attendance, salary history) are simply not given this rule:
// deletes there are operational corrections, not business facts.
type DeletionRule struct {
	RuleName      string
	EventType     cdc.EventType
	Category      cdc.EventCategory
	AggregateType string
	KeyColumn     string
	KeyField      string
	Version       int
}

func (r *DeletionRule) Name() string {
	return r.RuleName
}

func (r *DeletionRule) Evaluate(change *cdc.ChangeEvent) ([]cdc.DomainEvent, error) {
	if change.Operation != cdc.OperationDelete {
		return nil, nil
	}

	key := change.Before.Key(r.KeyColumn)

	event := newCandidate(
		change, r.RuleName, 0,
		r.EventType, r.Category,
		cdc.AggregateId{Type: r.AggregateType, Key: key},
		r.Version,
		map[string]any{r.KeyField: key},
	)

	return []cdc.DomainEvent{event}, nil
}

// AttributeChangeRule fires on updates touching any of a designated set of
// columns, carrying old and new values for each changed column.
type AttributeChangeRule struct {
	RuleName      string
	EventType     cdc.EventType
	Category      cdc.EventCategory
	AggregateType string
	KeyColumn     string
	KeyField      string
	Columns       []string
	Version       int
}

func (r *AttributeChangeRule) Name() string {
	return r.RuleName
}

func (r *AttributeChangeRule) Evaluate(change *cdc.ChangeEvent) ([]cdc.DomainEvent, error) {
	if change.Operation != cdc.OperationUpdate {
		return nil, nil
	}

	changes := make(map[string]any)
	for _, column := range r.Columns {
		if !cdc.Changed(change.Before, change.After, column) {
			continue
		}
		changes[column] = map[string]any{
			"previous": change.Before[column],
			"new":      change.After[column],
		}
	}
	if len(changes) == 0 {
		return nil, nil
	}

	key := change.After.Key(r.KeyColumn)

	event := newCandidate(
		change, r.RuleName, 0,
		r.EventType, r.Category,
		cdc.AggregateId{Type: r.AggregateType, Key: key},
		r.Version,
		map[string]any{
			r.KeyField: key,
			"changes":  changes,
		},
	)

	return []cdc.DomainEvent{event}, nil
}
