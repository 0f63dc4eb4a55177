package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink on the Prometheus client library.
type PrometheusSink struct {
	changesTotal       prometheus.Counter
	candidatesTotal    *prometheus.CounterVec
	detectionFaults    *prometheus.CounterVec
	enrichmentRetries  prometheus.Counter
	publishRetries     prometheus.Counter
	publishOutcomes    *prometheus.CounterVec
	deadLettersTotal   *prometheus.CounterVec
	inFlight           prometheus.Gauge
	checkpointAdvances prometheus.Counter
}

var _ Sink = (*PrometheusSink)(nil)

func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{
		changesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hrcdc_changes_received_total",
			Help: "Change events accepted from the upstream log reader.",
		}),
		candidatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrcdc_candidates_detected_total",
			Help: "Candidate domain events produced by detection rules.",
		}, []string{"type"}),
		detectionFaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrcdc_detection_faults_total",
			Help: "Detection rules that faulted while evaluating a change.",
		}, []string{"rule"}),
		enrichmentRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hrcdc_enrichment_retries_total",
			Help: "Transient enrichment failures that were retried.",
		}),
		publishRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hrcdc_publish_retries_total",
			Help: "Transient publish failures that were retried.",
		}),
		publishOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrcdc_publish_outcomes_total",
			Help: "Publisher outcomes by result.",
		}, []string{"outcome"}),
		deadLettersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hrcdc_dead_letters_total",
			Help: "Candidates routed to the dead-letter sink.",
		}, []string{"reason"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "hrcdc_changes_in_flight",
			Help: "Change events received but not yet fully resolved.",
		}),
		checkpointAdvances: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hrcdc_checkpoint_advances_total",
			Help: "Times the checkpoint watermark advanced.",
		}),
	}

	reg.MustRegister(
		s.changesTotal,
		s.candidatesTotal,
		s.detectionFaults,
		s.enrichmentRetries,
		s.publishRetries,
		s.publishOutcomes,
		s.deadLettersTotal,
		s.inFlight,
		s.checkpointAdvances,
	)

	return s
}

func (s *PrometheusSink) ChangeReceived()            { s.changesTotal.Inc() }
func (s *PrometheusSink) CandidateDetected(t string) { s.candidatesTotal.WithLabelValues(t).Inc() }
func (s *PrometheusSink) DetectionFault(rule string) { s.detectionFaults.WithLabelValues(rule).Inc() }
func (s *PrometheusSink) EnrichmentRetry()           { s.enrichmentRetries.Inc() }
func (s *PrometheusSink) PublishRetry()              { s.publishRetries.Inc() }
func (s *PrometheusSink) PublishOutcome(o string)    { s.publishOutcomes.WithLabelValues(o).Inc() }
func (s *PrometheusSink) DeadLettered(r string)      { s.deadLettersTotal.WithLabelValues(r).Inc() }
func (s *PrometheusSink) InFlightIncr()              { s.inFlight.Inc() }
func (s *PrometheusSink) InFlightDecr()              { s.inFlight.Dec() }
func (s *PrometheusSink) CheckpointAdvanced()        { s.checkpointAdvances.Inc() }
