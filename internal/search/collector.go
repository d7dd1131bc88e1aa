package search

// Collector receives search progress events. The telemetry package provides
// the production implementation; NopCollector is used when metrics are off
// and in tests.
type Collector interface {
	RecordIteration()
	RecordNodesCreated(n int)
	RecordProposalFailure()
	RecordEvaluationFailure()
}

// NopCollector discards all events.
type NopCollector struct{}

func (NopCollector) RecordIteration()         {}
func (NopCollector) RecordNodesCreated(int)   {}
func (NopCollector) RecordProposalFailure()   {}
func (NopCollector) RecordEvaluationFailure() {}
