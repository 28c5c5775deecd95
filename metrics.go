package accountcore

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one in-process counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricLoginRateLimited
	MetricAccountLocked
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricMFAReplay
	MetricSignupSuccess
	MetricSignupDuplicate
	MetricPasswordResetRequest
	MetricPasswordResetSuccess
	MetricPasswordResetFailure
	MetricPasswordChangeSuccess
	MetricPasswordChangeInvalidOld
	MetricPasswordChangeReuseRejected
	MetricEmailVerificationSuccess
	MetricEmailVerificationFailure
	MetricOAuthLogin
	MetricOAuthLinked
	MetricOAuthCreated
	MetricSessionCreated
	MetricSessionRevoked
	MetricLogout
	MetricAccountDisabled
	MetricActivityAppendFailure
	// MetricAuthenticateLatency is the only histogram.
	MetricAuthenticateLatency
	metricIDCount
)

// LatencyBucketBounds are the inclusive upper bounds of the authenticate
// latency histogram. A final overflow bucket catches everything slower.
var LatencyBucketBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

const histBucketCount = len(LatencyBucketBounds) + 1

// counter sits alone on its cache line; neighbouring IDs are hot together.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics is a fixed set of lock-free counters. A nil or disabled Metrics
// ignores updates.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]counter
	latency       [histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of all counters. Histogram buckets
// are non-cumulative, one per LatencyBucketBounds entry plus +Inf.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics creates counters according to cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

// Inc adds one to counter id.
func (m *Metrics) Inc(id MetricID) {
	if !m.Enabled() || id >= MetricAuthenticateLatency {
		return
	}
	m.counters[id].Add(1)
}

// Observe records d in the histogram for id. Only MetricAuthenticateLatency
// has one.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if !m.LatencyEnabled() || id != MetricAuthenticateLatency {
		return
	}
	m.latency[bucketIndex(d)].Add(1)
}

// Value returns the current value of counter id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricAuthenticateLatency {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot copies every counter.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := MetricID(0); id < MetricAuthenticateLatency; id++ {
		s.Counters[id] = m.counters[id].Load()
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.latency[i].Load()
		}
		s.Histograms[MetricAuthenticateLatency] = buckets
	}
	return s
}

func bucketIndex(d time.Duration) int {
	for i, le := range LatencyBucketBounds {
		if d <= le {
			return i
		}
	}
	return len(LatencyBucketBounds)
}
