package authcore

import (
	"sort"
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricLoginRateLimited
	MetricSecondFactorRequired
	MetricSecondFactorSuccess
	MetricSecondFactorFailure
	MetricTOTPReplay
	MetricBackupCodeUsed
	MetricBackupCodesRegenerated
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricLogout
	MetricLogoutAll
	MetricLogoutDevice
	MetricRegisterSuccess
	MetricRegisterDuplicate
	MetricRegisterRateLimited
	MetricPasswordChangeSuccess
	MetricPasswordChangeFailure
	MetricPasswordReuseRejected
	MetricMFAEnabled
	MetricMFADisabled
	MetricAccountStatusChanged
	MetricNewDeviceLogin
	MetricNotifyFailure
	MetricAccessRejected
	// MetricLoginLatency and MetricValidateLatency only carry histograms.
	MetricLoginLatency
	MetricValidateLatency
	metricIDCount
)

// HistogramBuckets is the number of latency buckets: one per bound in
// LatencyBounds plus an overflow bucket.
const HistogramBuckets = len(LatencyBounds) + 1

// LatencyBounds are the inclusive upper bounds of the latency buckets.
var LatencyBounds = [...]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

// latencyMetrics lists the ids that keep a histogram, in slot order.
var latencyMetrics = [...]MetricID{MetricLoginLatency, MetricValidateLatency}

const cacheLineSize = 64

type paddedCounter struct {
	value atomic.Uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free in-process counters. A nil *Metrics is a no-op.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [metricIDCount]paddedCounter
	latency       [len(latencyMetrics)][HistogramBuckets]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
// Histogram slices hold per-bucket counts, not cumulative ones.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Inc adds one to id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].value.Add(1)
}

// Observe records d in the histogram of id. Ids without a histogram are
// ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency {
		return
	}
	slot, ok := latencySlot(id)
	if !ok {
		return
	}
	m.latency[slot][bucketIndex(d)].Add(1)
}

// Value returns the current count of id.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].value.Load()
}

// Snapshot copies every counter, and the latency histograms when enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(metricIDCount)),
		Histograms: make(map[MetricID][]uint64, len(latencyMetrics)),
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		if _, ok := latencySlot(id); ok {
			continue
		}
		s.Counters[id] = m.counters[id].value.Load()
	}
	if !m.enableLatency {
		return s
	}
	for slot, id := range latencyMetrics {
		buckets := make([]uint64, HistogramBuckets)
		for i := range buckets {
			buckets[i] = m.latency[slot][i].Load()
		}
		s.Histograms[id] = buckets
	}
	return s
}

func latencySlot(id MetricID) (int, bool) {
	for slot, l := range latencyMetrics {
		if l == id {
			return slot, true
		}
	}
	return 0, false
}

// bucketIndex returns the first bucket whose bound is >= d, or the
// overflow bucket.
func bucketIndex(d time.Duration) int {
	return sort.Search(len(LatencyBounds), func(i int) bool { return d <= LatencyBounds[i] })
}
