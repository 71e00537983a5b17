package clinicauth

import (
	"strings"
	"time"
)

// The session registry operates as pure functions over the account's
// embedded session list; callers persist the mutated aggregate.

// cleanupExpired drops sessions that are no longer live or whose last
// activity is older than the inactivity window. Pruning is lazy: it runs
// whenever an account's sessions are loaded, not on a background sweep.
func cleanupExpired(sessions []Session, now time.Time, window time.Duration) []Session {
	var kept []Session
	cutoff := now.Add(-window)
	for _, s := range sessions {
		if !s.Live {
			continue
		}
		if s.LastActivity.Before(cutoff) {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// admitSession appends newSession, first evicting the single session with
// the oldest last activity when the live count is at or above max. Ties on
// last activity evict the earliest in insertion order.
func admitSession(sessions []Session, newSession Session, max int) []Session {
	if max > 0 {
		for liveCount(sessions) >= max {
			sessions = evictOldest(sessions)
		}
	}
	return append(sessions, newSession)
}

func liveCount(sessions []Session) int {
	n := 0
	for _, s := range sessions {
		if s.Live {
			n++
		}
	}
	return n
}

func evictOldest(sessions []Session) []Session {
	oldest := -1
	for i, s := range sessions {
		if !s.Live {
			continue
		}
		if oldest < 0 || s.LastActivity.Before(sessions[oldest].LastActivity) {
			oldest = i
		}
	}
	if oldest < 0 {
		return sessions
	}
	sessions[oldest].Live = false
	return sessions
}

// touchSession bumps the session's last activity to now and returns it.
// Last activity never moves backwards. A nil return means the session is
// gone or revoked — the "session expired" condition, distinct from an
// invalid token.
func touchSession(sessions []Session, sessionID string, now time.Time) *Session {
	for i := range sessions {
		if sessions[i].ID != sessionID || !sessions[i].Live {
			continue
		}
		if now.After(sessions[i].LastActivity) {
			sessions[i].LastActivity = now
		}
		return &sessions[i]
	}
	return nil
}

// revokeSession flips liveness off, retaining the record for audit until
// the next cleanup. It reports whether the session was found live.
func revokeSession(sessions []Session, sessionID string) bool {
	for i := range sessions {
		if sessions[i].ID == sessionID && sessions[i].Live {
			sessions[i].Live = false
			return true
		}
	}
	return false
}

// deviceClass coarsely buckets a user agent for the session's device
// descriptor. Heuristic only; never used for enforcement.
func deviceClass(userAgent string) string {
	ua := strings.ToLower(userAgent)
	switch {
	case ua == "":
		return "unknown"
	case strings.Contains(ua, "mobile"), strings.Contains(ua, "android"), strings.Contains(ua, "iphone"):
		return "mobile"
	case strings.Contains(ua, "ipad"), strings.Contains(ua, "tablet"):
		return "tablet"
	default:
		return "desktop"
	}
}
