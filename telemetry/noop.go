package telemetry

// NoopSink discards all metrics. Used when metrics are disabled and as the
// default for components constructed without an explicit sink.
type NoopSink struct{}

var _ Sink = NoopSink{}

func (NoopSink) ChangeReceived()          {}
func (NoopSink) CandidateDetected(string) {}
func (NoopSink) DetectionFault(string)    {}
func (NoopSink) EnrichmentRetry()         {}
func (NoopSink) PublishRetry()            {}
func (NoopSink) PublishOutcome(string)    {}
func (NoopSink) DeadLettered(string)      {}
func (NoopSink) InFlightIncr()            {}
func (NoopSink) InFlightDecr()            {}
func (NoopSink) CheckpointAdvanced()      {}
