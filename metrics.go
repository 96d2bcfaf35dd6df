package authcore

import "sync/atomic"

// MetricID identifies one counter in the in-process metrics set.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricAccountBlocked
	MetricVerificationRequest
	MetricVerificationThrottled
	MetricVerificationSuccess
	MetricVerificationFailure
	MetricResetRequest
	MetricResetThrottled
	MetricResetSuccess
	MetricResetFailure
	MetricAPIKeyValidated
	MetricAPIKeyRejected
	MetricAPIKeyRateLimited
	MetricAPIKeyBlocked
	MetricUserCacheHit
	MetricUserCacheMiss
	MetricUserCacheInvalidation
	MetricNotificationFailure

	metricIDCount
)

var metricNames = [metricIDCount]string{
	MetricLoginSuccess:          "login_success",
	MetricLoginFailure:          "login_failure",
	MetricLoginRateLimited:      "login_rate_limited",
	MetricAccountBlocked:        "account_blocked",
	MetricVerificationRequest:   "verification_request",
	MetricVerificationThrottled: "verification_throttled",
	MetricVerificationSuccess:   "verification_success",
	MetricVerificationFailure:   "verification_failure",
	MetricResetRequest:          "reset_request",
	MetricResetThrottled:        "reset_throttled",
	MetricResetSuccess:          "reset_success",
	MetricResetFailure:          "reset_failure",
	MetricAPIKeyValidated:       "api_key_validated",
	MetricAPIKeyRejected:        "api_key_rejected",
	MetricAPIKeyRateLimited:     "api_key_rate_limited",
	MetricAPIKeyBlocked:         "api_key_blocked",
	MetricUserCacheHit:          "user_cache_hit",
	MetricUserCacheMiss:         "user_cache_miss",
	MetricUserCacheInvalidation: "user_cache_invalidation",
	MetricNotificationFailure:   "notification_failure",
}

// Name returns the stable snake_case name of the metric.
func (id MetricID) Name() string {
	if id >= metricIDCount {
		return "unknown"
	}
	return metricNames[id]
}

// Metrics holds atomic counters. When disabled all operations are no-ops;
// a nil *Metrics is safe to use.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]atomic.Uint64
}

// NewMetrics creates a Metrics instance.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Get returns the current value of the counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters [metricIDCount]uint64
}

// IDs returns every defined metric id, in order.
func (MetricsSnapshot) IDs() []MetricID {
	ids := make([]MetricID, metricIDCount)
	for i := range ids {
		ids[i] = MetricID(i)
	}
	return ids
}

// Snapshot copies all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var snap MetricsSnapshot
	if m == nil {
		return snap
	}
	for i := range m.counters {
		snap.Counters[i] = m.counters[i].Load()
	}
	return snap
}
