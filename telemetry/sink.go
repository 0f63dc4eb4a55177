// Package telemetry records pipeline counters behind a Sink interface so
// the processing packages never depend on a concrete metrics backend.
package telemetry

// Sink records pipeline metrics. All methods are fire-and-forget:
// implementations must not block or propagate errors.
type Sink interface {
	ChangeReceived()
	CandidateDetected(eventType string)
	DetectionFault(rule string)
	EnrichmentRetry()
	PublishRetry()
	PublishOutcome(outcome string)
	DeadLettered(reason string)
	InFlightIncr()
	InFlightDecr()
	CheckpointAdvanced()
}

// Outcome label values for PublishOutcome.
const (
	OutcomePublished = "published"
	OutcomeDuplicate = "duplicate"
)

// Reason label values for DeadLettered.
const (
	ReasonEnrichmentExhausted = "enrichment_exhausted"
	ReasonValidationRejected  = "validation_rejected"
)
