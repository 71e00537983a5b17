package clinicauth

import (
	"fmt"
	"testing"
	"time"
)

// seedSuspiciousHistory plants a login history that fires all three risk
// indicators for an attempt from a new address.
func seedSuspiciousHistory(t *testing.T, provider *memProvider, id string) {
	t.Helper()
	now := time.Now().UTC()

	provider.mu.Lock()
	account := provider.byID[id]
	for i := 0; i < 4; i++ {
		account.SecurityEvents = append(account.SecurityEvents, SecurityEvent{
			Kind:      EventLoginSuccess,
			IP:        fmt.Sprintf("10.0.0.%d", i+1),
			Timestamp: now.Add(-time.Duration(40-i) * time.Minute),
		})
	}
	for i := 0; i < 6; i++ {
		account.SecurityEvents = append(account.SecurityEvents, SecurityEvent{
			Kind:      EventLoginFailed,
			IP:        "10.0.0.9",
			Timestamp: now.Add(-time.Duration(30-i) * time.Minute),
		})
	}
	provider.mu.Unlock()
}

func TestLogin_HighRiskAlertsButNeverDenies(t *testing.T) {
	provider := newMemProvider()
	mailer := newRecordingMailer()
	engine := newTestEngine(t, provider, func(b *Builder) {
		b.WithMailer(mailer)
	})
	id := seedAccount(t, engine, "alice@example.com")
	seedSuspiciousHistory(t, provider, id)

	res, err := engine.Login(loginCtx("203.0.113.50", "curl/8.0"), "alice@example.com", testPassword, "")
	if err != nil {
		t.Fatalf("high risk must not deny a valid login: %v", err)
	}
	if res.Tokens == nil {
		t.Fatal("expected tokens despite high risk")
	}
	if res.Risk.Level != RiskHigh {
		t.Fatalf("risk = %s, want high", res.Risk.Level)
	}

	msg := mailer.waitForSubject(t, "Unusual sign-in to your account")
	if msg.To != "alice@example.com" {
		t.Fatalf("alert sent to %q", msg.To)
	}

	stored := provider.stored(t, id)
	found := false
	for _, e := range stored.SecurityEvents {
		if e.Kind == EventSuspiciousActivity {
			found = true
		}
	}
	if !found {
		t.Fatal("suspicious_activity event not recorded")
	}
}

func TestLogin_SuspiciousAlertSentOncePerHighAttempt(t *testing.T) {
	provider := newMemProvider()
	mailer := newRecordingMailer()
	engine := newTestEngine(t, provider, func(b *Builder) {
		b.WithMailer(mailer)
	})
	id := seedAccount(t, engine, "alice@example.com")
	seedSuspiciousHistory(t, provider, id)

	if _, err := engine.Login(loginCtx("203.0.113.50", "curl/8.0"), "alice@example.com", testPassword, ""); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	mailer.waitForSubject(t, "Unusual sign-in to your account")

	// A follow-up login from the now-known address scores below high and
	// must not alert again.
	if _, err := engine.Login(loginCtx("203.0.113.50", "curl/8.0"), "alice@example.com", testPassword, ""); err != nil {
		t.Fatalf("second login failed: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	alerts := 0
	mailer.mu.Lock()
	for _, m := range mailer.sent {
		if m.Subject == "Unusual sign-in to your account" {
			alerts++
		}
	}
	mailer.mu.Unlock()
	if alerts != 1 {
		t.Fatalf("alerts = %d, want exactly 1", alerts)
	}
}

func TestLogin_MediumRiskIsSilent(t *testing.T) {
	provider := newMemProvider()
	mailer := newRecordingMailer()
	engine := newTestEngine(t, provider, func(b *Builder) {
		b.WithMailer(mailer)
	})
	id := seedAccount(t, engine, "alice@example.com")

	// One prior success from a different address: only the new-IP
	// indicator fires.
	provider.mu.Lock()
	provider.byID[id].SecurityEvents = append(provider.byID[id].SecurityEvents, SecurityEvent{
		Kind:      EventLoginSuccess,
		IP:        "10.0.0.1",
		Timestamp: time.Now().UTC().Add(-time.Hour),
	})
	provider.mu.Unlock()

	res, err := engine.Login(loginCtx("203.0.113.50", "curl/8.0"), "alice@example.com", testPassword, "")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Risk.Level != RiskMedium {
		t.Fatalf("risk = %s, want medium", res.Risk.Level)
	}

	time.Sleep(100 * time.Millisecond)
	for _, m := range mailerSnapshot(mailer) {
		if m.Subject == "Unusual sign-in to your account" {
			t.Fatal("medium risk must not alert")
		}
	}
}

func mailerSnapshot(m *recordingMailer) []Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Email(nil), m.sent...)
}
