package accountflow

import "sync/atomic"

// MetricID identifies one counter in the in-process metrics system.
type MetricID uint16

const (
	// MetricFlowStarted counts sessions created by StartRegistration and
	// StartRecovery.
	MetricFlowStarted MetricID = iota
	// MetricFlowCompleted counts flows reaching StageComplete.
	MetricFlowCompleted
	// MetricFlowCancelled counts explicit cancellations and supersessions.
	MetricFlowCancelled
	// MetricFlowFatal counts flows terminated by a fatal error.
	MetricFlowFatal
	// MetricAccountProvisioned counts provisional accounts created at the
	// email step.
	MetricAccountProvisioned
	// MetricAccountConflict counts creation collisions routed back to the
	// username stage.
	MetricAccountConflict
	// MetricCodeConfirmSuccess counts accepted one-time codes.
	MetricCodeConfirmSuccess
	// MetricCodeConfirmFailure counts rejected one-time codes.
	MetricCodeConfirmFailure
	// MetricCodeResent counts resend requests that reached the server.
	MetricCodeResent
	// MetricResendSuppressed counts resend attempts swallowed by the
	// client-side cooldown.
	MetricResendSuppressed
	// MetricDuplicateSubmission counts confirmations rejected by the step
	// guard while an identical call was in flight.
	MetricDuplicateSubmission
	// MetricOwnershipFailure counts recovery ownership checks that matched
	// no account.
	MetricOwnershipFailure
	// MetricPasswordSetSuccess counts successful finalize and reset calls.
	MetricPasswordSetSuccess
	// MetricPasswordSetFailure counts rejected finalize and reset calls.
	MetricPasswordSetFailure

	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds atomic counters for the flow engine. When disabled, all
// operations are no-ops.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics creates a Metrics instance configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc increments the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value returns the current value of one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot returns a deep copy of all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{
		Counters: make(map[MetricID]uint64, int(metricIDCount)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
