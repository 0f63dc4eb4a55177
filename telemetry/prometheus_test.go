package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestPrometheusSinkCounts(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink := NewPrometheusSink(registry)

	sink.ChangeReceived()
	sink.ChangeReceived()
	sink.CandidateDetected("EmployeePromoted")
	sink.PublishOutcome(OutcomePublished)
	sink.DeadLettered(ReasonValidationRejected)
	sink.InFlightIncr()
	sink.InFlightIncr()
	sink.InFlightDecr()

	assert.Equal(t, float64(2), testutil.ToFloat64(sink.changesTotal))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.candidatesTotal.WithLabelValues("EmployeePromoted")))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.publishOutcomes.WithLabelValues(OutcomePublished)))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.deadLettersTotal.WithLabelValues(ReasonValidationRejected)))
	assert.Equal(t, float64(1), testutil.ToFloat64(sink.inFlight))
}
