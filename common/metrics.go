package common

// Metrics is an interface that supports updating different kinds of metrics.
// All its functions are thread-safe.
type Metrics interface {
	// GaugeAdd increments a gauge. A gauge is a metric that represents a single
	// numerical value that can arbitrarily go up and down.
	GaugeAdd(name string, value float64)

	// CounterAdd increments a counter. A counter is a metric that represents a
	// single numerical value that only ever goes up.
	CounterAdd(name string, value float64)

	// SummaryObserve adds an observation to a summary. A summary is an aggregate
	// metric that supports querying percentiles.
	SummaryObserve(name string, value float64)
}

// Names of the metrics updated by the grader and the sandbox runner. Outcome
// counters are suffixed with the lowercase outcome tag.
const (
	MetricCasesPrefix     = "grader_cases_"
	MetricCaseDuration    = "grader_case_duration_seconds"
	MetricBatches         = "grader_batches"
	MetricAbortedPrefix   = "sandbox_aborted_"
	MetricSandboxDuration = "sandbox_run_duration_seconds"
	MetricSandboxMemory   = "sandbox_peak_memory_bytes"
)

// NoOpMetrics is an implementation of Metrics that does nothing.
type NoOpMetrics struct {
}

var _ Metrics = &NoOpMetrics{}

// GaugeAdd does nothing.
func (n *NoOpMetrics) GaugeAdd(name string, value float64) {
}

// CounterAdd does nothing.
func (n *NoOpMetrics) CounterAdd(name string, value float64) {
}

// SummaryObserve does nothing.
func (n *NoOpMetrics) SummaryObserve(name string, value float64) {
}
