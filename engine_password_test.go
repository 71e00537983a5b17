package clinicauth

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestChangePassword_HappyPath(t *testing.T) {
	provider := newMemProvider()
	mailer := newRecordingMailer()
	engine := newTestEngine(t, provider, func(b *Builder) {
		b.WithMailer(mailer)
	})
	id := seedAccount(t, engine, "alice@example.com")
	res := login(t, engine, "alice@example.com")

	const newPassword = "An0ther!Secret"
	if err := engine.ChangePassword(context.Background(), id, testPassword, newPassword); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	// Every live session dies with the old credential.
	if got := len(provider.stored(t, id).LiveSessions()); got != 0 {
		t.Fatalf("live sessions = %d, want 0", got)
	}
	if _, err := engine.Authenticate(context.Background(), res.Tokens.AccessToken); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("old session: err = %v, want ErrSessionExpired", err)
	}

	if _, err := engine.Login(context.Background(), "alice@example.com", testPassword, ""); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := engine.Login(context.Background(), "alice@example.com", newPassword, ""); err != nil {
		t.Fatalf("new password failed: %v", err)
	}

	mailer.waitForSubject(t, "Your password was changed")
}

func TestChangePassword_WrongCurrent(t *testing.T) {
	provider := newMemProvider()
	engine := newTestEngine(t, provider)
	id := seedAccount(t, engine, "alice@example.com")

	err := engine.ChangePassword(context.Background(), id, "wrong-password", "An0ther!Secret")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("err = %v, want ErrInvalidCredentials", err)
	}
}

func TestChangePassword_RejectsWeak(t *testing.T) {
	provider := newMemProvider()
	engine := newTestEngine(t, provider)
	id := seedAccount(t, engine, "alice@example.com")

	err := engine.ChangePassword(context.Background(), id, testPassword, "weak")
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("err = %v, want ErrPasswordPolicy", err)
	}
}

func TestChangePassword_RejectsReuse(t *testing.T) {
	provider := newMemProvider()
	engine := newTestEngine(t, provider)
	id := seedAccount(t, engine, "alice@example.com")

	// Same as current.
	if err := engine.ChangePassword(context.Background(), id, testPassword, testPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("err = %v, want ErrPasswordReuse", err)
	}

	// Present in history after one rotation.
	const second = "An0ther!Secret"
	if err := engine.ChangePassword(context.Background(), id, testPassword, second); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if err := engine.ChangePassword(context.Background(), id, second, testPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("history reuse: err = %v, want ErrPasswordReuse", err)
	}
}

func TestPasswordReset_Flow(t *testing.T) {
	provider := newMemProvider()
	mailer := newRecordingMailer()
	engine := newTestEngine(t, provider, func(b *Builder) {
		b.WithMailer(mailer)
	})
	id := seedAccount(t, engine, "alice@example.com")

	if err := engine.RequestPasswordReset(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	resetToken := extractCode(t, mailer.waitForSubject(t, "Reset your password").HTML)

	const newPassword = "An0ther!Secret"
	if err := engine.ResetPassword(context.Background(), "alice@example.com", resetToken, newPassword); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if _, err := engine.Login(context.Background(), "alice@example.com", newPassword, ""); err != nil {
		t.Fatalf("login with reset password failed: %v", err)
	}

	// The challenge is single-use.
	if err := engine.ResetPassword(context.Background(), "alice@example.com", resetToken, "Th1rd!Secret$"); !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("reused challenge: err = %v, want ErrResetInvalid", err)
	}

	if provider.stored(t, id).ResetTokenHash != "" {
		t.Fatal("reset challenge should be cleared")
	}
}

func TestPasswordReset_UnknownEmailSilent(t *testing.T) {
	provider := newMemProvider()
	mailer := newRecordingMailer()
	engine := newTestEngine(t, provider, func(b *Builder) {
		b.WithMailer(mailer)
	})

	if err := engine.RequestPasswordReset(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset should not reveal unknown emails: %v", err)
	}
	if mailer.count() != 0 {
		t.Fatal("no mail should be sent for unknown emails")
	}
}

func TestPasswordReset_WrongToken(t *testing.T) {
	provider := newMemProvider()
	engine := newTestEngine(t, provider)
	seedAccount(t, engine, "alice@example.com")

	if err := engine.RequestPasswordReset(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	err := engine.ResetPassword(context.Background(), "alice@example.com", "bogus-token", "An0ther!Secret")
	if !errors.Is(err, ErrResetInvalid) {
		t.Fatalf("err = %v, want ErrResetInvalid", err)
	}
}

func TestPasswordReset_ClearsLockout(t *testing.T) {
	provider := newMemProvider()
	mailer := newRecordingMailer()
	engine := newTestEngine(t, provider, func(b *Builder) {
		b.WithMailer(mailer)
	})
	seedAccount(t, engine, "alice@example.com")

	for i := 0; i < 5; i++ {
		_, _ = engine.Login(context.Background(), "alice@example.com", "wrong-password", "")
	}

	if err := engine.RequestPasswordReset(context.Background(), "alice@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	resetToken := extractCode(t, mailer.waitForSubject(t, "Reset your password").HTML)

	const newPassword = "An0ther!Secret"
	if err := engine.ResetPassword(context.Background(), "alice@example.com", resetToken, newPassword); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if _, err := engine.Login(context.Background(), "alice@example.com", newPassword, ""); err != nil {
		t.Fatalf("locked-out owner could not recover: %v", err)
	}
}

// extractCode pulls the <strong>-wrapped code out of a notification body.
func extractCode(t *testing.T, html string) string {
	t.Helper()
	const openTag, closeTag = "<strong>", "</strong>"
	start := strings.Index(html, openTag)
	end := strings.Index(html, closeTag)
	if start < 0 || end <= start {
		t.Fatalf("no code in mail body: %q", html)
	}
	return html[start+len(openTag) : end]
}
