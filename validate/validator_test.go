package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mike840609/debezium-nats-cdc/cdc"
)

func promoted(payload map[string]any) *cdc.DomainEvent {
	return &cdc.DomainEvent{
		EventID:   "01HQ0000000000000000000000",
		EventType: "EmployeePromoted",
		Version:   1,
		Aggregate: cdc.AggregateId{Type: "employee", Key: "1041"},
		Payload:   payload,
	}
}

func validPromotion() map[string]any {
	return map[string]any{
		"employeeId":       "1041",
		"previousPosition": "eng-2",
		"newPosition":      "eng-3",
		"previousSalary":   float64(95000),
		"newSalary":        float64(112000),
	}
}

func TestValidatorAcceptsWellFormedEvent(t *testing.T) {
	assert.NoError(t, HRValidator().Validate(promoted(validPromotion())))
}

func TestValidatorRejectsMissingRequiredField(t *testing.T) {
	payload := validPromotion()
	delete(payload, "newPosition")

	err := HRValidator().Validate(promoted(payload))

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Contains(t, rejection.Reason, "newPosition")
}

func TestValidatorRejectsIdenticalPositions(t *testing.T) {
	payload := validPromotion()
	payload["newPosition"] = payload["previousPosition"]

	err := HRValidator().Validate(promoted(payload))

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
}

func TestValidatorRejectsNegativeSalary(t *testing.T) {
	payload := validPromotion()
	payload["newSalary"] = float64(-1)

	assert.Error(t, HRValidator().Validate(promoted(payload)))
}

func TestValidatorRejectsUnknownSchema(t *testing.T) {
	event := promoted(validPromotion())
	event.EventType = "EmployeeCloned"

	err := HRValidator().Validate(event)

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Contains(t, rejection.Reason, "no schema")
}

func TestValidatorRejectsUnknownVersion(t *testing.T) {
	event := promoted(validPromotion())
	event.Version = 2

	assert.Error(t, HRValidator().Validate(event))
}

func TestValidatorRejectsEmptyAggregateKey(t *testing.T) {
	event := promoted(validPromotion())
	event.Aggregate.Key = ""

	err := HRValidator().Validate(event)

	var rejection *RejectionError
	require.ErrorAs(t, err, &rejection)
	assert.Contains(t, rejection.Reason, "aggregate key")
}

func TestNonNegativeTreatsAbsentFieldAsValid(t *testing.T) {
	event := &cdc.DomainEvent{
		EventType: "SalaryAdjusted",
		Version:   1,
		Aggregate: cdc.AggregateId{Type: "employee", Key: "1041"},
		Payload: map[string]any{
			"employeeId": "1041",
			"newSalary":  float64(99000),
		},
	}

	assert.NoError(t, HRValidator().Validate(event))
}
