package clinicauth

import (
	"context"
	"errors"
	"testing"

	"github.com/brightdent/clinicauth/token"
)

func login(t *testing.T, engine *Engine, email string) *LoginResult {
	t.Helper()
	res, err := engine.Login(loginCtx("198.51.100.7", "curl/8.0"), email, testPassword, "")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return res
}

func TestAuthenticate_RoundTrip(t *testing.T) {
	provider := newMemProvider()
	engine := newTestEngine(t, provider)
	id := seedAccount(t, engine, "alice@example.com")
	res := login(t, engine, "alice@example.com")

	auth, err := engine.Authenticate(context.Background(), res.Tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if auth.Account.ID != id {
		t.Fatalf("account = %q, want %q", auth.Account.ID, id)
	}
	if auth.Session == nil || !auth.Session.Live {
		t.Fatal("expected a live session on the result")
	}
}

func TestAuthenticate_RejectsRefreshToken(t *testing.T) {
	provider := newMemProvider()
	engine := newTestEngine(t, provider)
	seedAccount(t, engine, "alice@example.com")
	res := login(t, engine, "alice@example.com")

	_, err := engine.Authenticate(context.Background(), res.Tokens.RefreshToken)
	if !errors.Is(err, token.ErrWrongType) {
		t.Fatalf("err = %v, want token.ErrWrongType", err)
	}
}

func TestAuthenticate_TamperedToken(t *testing.T) {
	provider := newMemProvider()
	engine := newTestEngine(t, provider)
	seedAccount(t, engine, "alice@example.com")
	res := login(t, engine, "alice@example.com")

	tampered := res.Tokens.AccessToken + "x"
	_, err := engine.Authenticate(context.Background(), tampered)
	if !errors.Is(err, token.ErrInvalid) {
		t.Fatalf("err = %v, want token.ErrInvalid", err)
	}
}

func TestRefresh_RoundTrip(t *testing.T) {
	provider := newMemProvider()
	engine := newTestEngine(t, provider)
	seedAccount(t, engine, "alice@example.com")
	res := login(t, engine, "alice@example.com")

	pair, err := engine.Refresh(context.Background(), res.Tokens.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("expected a full replacement pair")
	}
	if _, err := engine.Authenticate(context.Background(), pair.AccessToken); err != nil {
		t.Fatalf("refreshed access token rejected: %v", err)
	}
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	provider := newMemProvider()
	engine := newTestEngine(t, provider)
	seedAccount(t, engine, "alice@example.com")
	res := login(t, engine, "alice@example.com")

	_, err := engine.Refresh(context.Background(), res.Tokens.AccessToken)
	if !errors.Is(err, token.ErrWrongType) {
		t.Fatalf("err = %v, want token.ErrWrongType", err)
	}
}

func TestRefresh_InactiveAccountRejected(t *testing.T) {
	provider := newMemProvider()
	engine := newTestEngine(t, provider)
	id := seedAccount(t, engine, "alice@example.com")
	res := login(t, engine, "alice@example.com")

	if err := engine.Deactivate(context.Background(), id); err != nil {
		t.Fatalf("Deactivate failed: %v", err)
	}
	_, err := engine.Refresh(context.Background(), res.Tokens.RefreshToken)
	if !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("err = %v, want ErrAccountInactive", err)
	}
}

func TestRefresh_SurvivesSessionRevocation(t *testing.T) {
	provider := newMemProvider()
	engine := newTestEngine(t, provider)
	seedAccount(t, engine, "alice@example.com")
	res := login(t, engine, "alice@example.com")

	if err := engine.Logout(context.Background(), res.Tokens.AccessToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	// Refresh is stateless with respect to the session registry: logging
	// out a session does not invalidate the refresh token it was minted
	// alongside.
	if _, err := engine.Refresh(context.Background(), res.Tokens.RefreshToken); err != nil {
		t.Fatalf("Refresh after logout failed: %v", err)
	}
}

func TestLogout_RevokesSession(t *testing.T) {
	provider := newMemProvider()
	engine := newTestEngine(t, provider)
	id := seedAccount(t, engine, "alice@example.com")
	res := login(t, engine, "alice@example.com")

	if err := engine.Logout(context.Background(), res.Tokens.AccessToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}

	if got := len(provider.stored(t, id).LiveSessions()); got != 0 {
		t.Fatalf("live sessions = %d, want 0", got)
	}

	_, err := engine.Authenticate(context.Background(), res.Tokens.AccessToken)
	if !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestLogout_Idempotent(t *testing.T) {
	provider := newMemProvider()
	engine := newTestEngine(t, provider)
	seedAccount(t, engine, "alice@example.com")
	res := login(t, engine, "alice@example.com")

	for i := 0; i < 3; i++ {
		if err := engine.Logout(context.Background(), res.Tokens.AccessToken); err != nil {
			t.Fatalf("Logout call %d failed: %v", i+1, err)
		}
	}

	// An outright garbage token is also a silent no-op.
	if err := engine.Logout(context.Background(), "not-a-token"); err != nil {
		t.Fatalf("Logout with garbage token failed: %v", err)
	}
}
