package clinicauth

import "sync/atomic"

// MetricID identifies one counter in the in-process metrics block.
type MetricID uint8

const (
	// MetricLoginSuccess counts fully successful logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts rejected login attempts of any kind.
	MetricLoginFailure
	// MetricLoginRateLimited counts logins denied by the rate limiter.
	MetricLoginRateLimited
	// MetricAccountLocked counts lockouts triggered by the risk engine.
	MetricAccountLocked
	// MetricTwoFactorRequired counts logins paused at the 2FA gate.
	MetricTwoFactorRequired
	// MetricTwoFactorFailure counts rejected 2FA codes.
	MetricTwoFactorFailure
	// MetricBackupCodeUsed counts consumed backup codes.
	MetricBackupCodeUsed
	// MetricRiskAlert counts high-risk classifications.
	MetricRiskAlert
	// MetricSessionCreated counts admitted sessions.
	MetricSessionCreated
	// MetricSessionEvicted counts sessions evicted at the cap.
	MetricSessionEvicted
	// MetricRefreshSuccess counts successful token refreshes.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected refresh attempts.
	MetricRefreshFailure
	// MetricLogout counts logout calls that revoked a session.
	MetricLogout
	// MetricRegisterSuccess counts created accounts.
	MetricRegisterSuccess
	// MetricPasswordChangeSuccess counts completed password changes.
	MetricPasswordChangeSuccess

	metricIDCount
)

// Metrics holds lock-free counters for the engine's auth operations.
// All methods are safe for concurrent use; a nil or disabled Metrics is a
// no-op.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]atomic.Uint64
}

// NewMetrics creates a Metrics block. When cfg.Enabled is false all
// operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc increments the counter for id.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Get returns the current value for id.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || !m.enabled || id >= metricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() map[MetricID]uint64 {
	out := make(map[MetricID]uint64, metricIDCount)
	if m == nil || !m.enabled {
		return out
	}
	for id := MetricID(0); id < metricIDCount; id++ {
		out[id] = m.counters[id].Load()
	}
	return out
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}
