package clinicauth

import (
	"time"

	"github.com/google/uuid"
)

// appendEvent pushes a security event to the tail of the account's log and
// truncates from the head when the cap is exceeded. This is the sole
// mutation; individual entries are never updated or deleted.
func appendEvent(account *Account, kind EventKind, ip, userAgent, detail string, now time.Time, cap int) {
	account.SecurityEvents = append(account.SecurityEvents, SecurityEvent{
		ID:        uuid.NewString(),
		Kind:      kind,
		Timestamp: now,
		IP:        ip,
		UserAgent: userAgent,
		Detail:    detail,
	})
	if cap > 0 && len(account.SecurityEvents) > cap {
		account.SecurityEvents = account.SecurityEvents[len(account.SecurityEvents)-cap:]
	}
}

// lastEvents returns the trailing k events, most recent last. k <= 0 or
// k >= len returns the whole log.
func lastEvents(events []SecurityEvent, k int) []SecurityEvent {
	if k <= 0 || k >= len(events) {
		return events
	}
	return events[len(events)-k:]
}

// eventsByKindSince filters events of the given kind not older than since.
func eventsByKindSince(events []SecurityEvent, kind EventKind, since time.Time) []SecurityEvent {
	var out []SecurityEvent
	for _, e := range events {
		if e.Kind == kind && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	return out
}

// isLoginKind reports whether the event participates in risk scoring.
func isLoginKind(kind EventKind) bool {
	switch kind {
	case EventLoginAttempt, EventLoginSuccess, EventLoginFailed:
		return true
	}
	return false
}
