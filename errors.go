package clinicauth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCredentials is returned for unknown email or wrong password.
	// The message is deliberately generic to prevent account enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountNotFound is returned by account providers for missing records.
	ErrAccountNotFound = errors.New("account not found")
	// ErrAccountLocked is returned while a lockout window is active.
	ErrAccountLocked = errors.New("account locked")
	// ErrAccountInactive is returned for deactivated accounts.
	ErrAccountInactive = errors.New("account deactivated")
	// ErrDuplicateIdentity is returned when email or phone is already registered.
	ErrDuplicateIdentity = errors.New("email or phone already registered")
	// ErrVersionConflict is returned when an aggregate update loses a
	// compare-and-swap race.
	ErrVersionConflict = errors.New("account version conflict")
	// ErrPasswordPolicy is returned when a candidate password fails the
	// strength gate.
	ErrPasswordPolicy = errors.New("password does not meet strength requirements")
	// ErrPasswordReuse is returned when a new password matches the current
	// one or an entry in the password history.
	ErrPasswordReuse = errors.New("new password must differ from recent passwords")
	// ErrTwoFactorInvalid is returned when both the TOTP code and the
	// backup-code fallback fail.
	ErrTwoFactorInvalid = errors.New("invalid two-factor code")
	// ErrTwoFactorNotEnabled is returned for 2FA management calls on
	// accounts without an enrolled secret.
	ErrTwoFactorNotEnabled = errors.New("two-factor not enabled")
	// ErrSessionExpired is returned when an access token names a session
	// that no longer exists or is no longer live. Clients should force a
	// full re-login rather than silently refreshing.
	ErrSessionExpired = errors.New("session expired or revoked")
	// ErrRateLimited is returned when the injected rate limiter denies the
	// attempt before credentials are examined.
	ErrRateLimited = errors.New("too many attempts")
	// ErrResetInvalid is returned for expired or mismatched password-reset
	// and email-verification challenges.
	ErrResetInvalid = errors.New("reset challenge invalid or expired")
	// ErrEngineNotReady is returned when the engine is used before Build
	// wired its dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrStoreUnavailable wraps infrastructure failures of the account
	// store. It is never conflated with an authentication failure.
	ErrStoreUnavailable = errors.New("account store unavailable")
)

// LockedError carries the lockout deadline so callers can surface a
// concrete retry time. It matches [ErrAccountLocked] under errors.Is.
type LockedError struct {
	Until time.Time
}

// Error describes the lockout with its expiry.
func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// Is reports equivalence with [ErrAccountLocked].
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

// RateLimitedError carries the limiter's retry hint so callers can surface
// a Retry-After. RetryAfter is zero when the limiter backend was
// unavailable. It matches [ErrRateLimited] under errors.Is.
type RateLimitedError struct {
	RetryAfter time.Duration
}

// Error describes the denial with the retry hint when one is known.
func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("too many attempts, retry in %s", e.RetryAfter)
	}
	return ErrRateLimited.Error()
}

// Is reports equivalence with [ErrRateLimited].
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
