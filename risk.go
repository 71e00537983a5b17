package clinicauth

import "time"

// RiskLevel classifies a login attempt's anomaly level.
type RiskLevel uint8

const (
	// RiskLow means no indicator fired.
	RiskLow RiskLevel = iota
	// RiskMedium means one or two indicators fired.
	RiskMedium
	// RiskHigh means more than two indicators fired; the orchestrator
	// sends an out-of-band alert. High risk never denies the login.
	RiskHigh
)

// String returns the wire name of the level.
func (l RiskLevel) String() string {
	switch l {
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	default:
		return "low"
	}
}

const (
	indicatorMultipleIPs    = "multiple IP addresses"
	indicatorNewIP          = "login from new IP"
	indicatorFailedAttempts = "multiple failed attempts"
)

// RiskAssessment is the classifier's output: a level plus the indicators
// that fired. The classifier is pure; notification is owned by the engine.
type RiskAssessment struct {
	Level      RiskLevel `json:"level"`
	Indicators []string  `json:"indicators,omitempty"`
}

// assessRisk scores the current attempt against the trailing login-type
// events. False positives are acceptable: the score only ever triggers
// notification, never denial.
func assessRisk(events []SecurityEvent, currentIP, currentUA string, now time.Time, cfg RiskConfig) RiskAssessment {
	var loginEvents []SecurityEvent
	for _, e := range events {
		if isLoginKind(e.Kind) {
			loginEvents = append(loginEvents, e)
		}
	}
	recent := lastEvents(loginEvents, cfg.RecentEvents)

	var indicators []string

	distinctIPs := map[string]struct{}{}
	lastKnownIP := ""
	for _, e := range recent {
		if e.Kind != EventLoginSuccess || e.IP == "" {
			continue
		}
		distinctIPs[e.IP] = struct{}{}
		lastKnownIP = e.IP
	}
	if currentIP != "" {
		distinctIPs[currentIP] = struct{}{}
	}
	if len(distinctIPs) > cfg.DistinctIPThreshold {
		indicators = append(indicators, indicatorMultipleIPs)
	}
	if lastKnownIP != "" && currentIP != "" && currentIP != lastKnownIP {
		indicators = append(indicators, indicatorNewIP)
	}

	failures := eventsByKindSince(events, EventLoginFailed, now.Add(-cfg.FailureWindow))
	if len(failures) > cfg.FailureThreshold {
		indicators = append(indicators, indicatorFailedAttempts)
	}

	level := RiskLow
	switch {
	case len(indicators) > 2:
		level = RiskHigh
	case len(indicators) > 0:
		level = RiskMedium
	}

	return RiskAssessment{Level: level, Indicators: indicators}
}

// recordFailure advances the lockout state machine after a failed password
// check and reports whether this failure locked the account. A previously
// expired lock restarts the counter at 1 — lockout state decays, it does
// not compound.
func recordFailure(account *Account, now time.Time, cfg LockoutConfig) bool {
	if !account.LockUntil.IsZero() && !account.LockUntil.After(now) {
		account.LockUntil = time.Time{}
		account.LoginAttempts = 0
	}
	account.LoginAttempts++
	if account.LoginAttempts >= cfg.MaxAttempts {
		account.LockUntil = now.Add(cfg.Duration)
		return true
	}
	return false
}

// recordSuccess clears the failure counter and any lock.
func recordSuccess(account *Account) {
	account.LoginAttempts = 0
	account.LockUntil = time.Time{}
}
