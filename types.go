package clinicauth

import (
	"context"
	"strings"
	"time"
)

// Role is the closed set of account roles known to the clinic backend.
type Role string

const (
	// RolePatient is the default role assigned at registration.
	RolePatient Role = "patient"
	// RoleDentist marks practitioner accounts.
	RoleDentist Role = "dentist"
	// RoleStaff marks front-desk and assistant accounts.
	RoleStaff Role = "staff"
	// RoleAdmin marks operator accounts with full access.
	RoleAdmin Role = "admin"
)

// ValidRole reports whether r is one of the known roles.
func ValidRole(r Role) bool {
	switch r {
	case RolePatient, RoleDentist, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// IsAuthorized reports whether role is contained in allowed. An empty
// allowed list authorizes any valid role.
func IsAuthorized(role Role, allowed ...Role) bool {
	if !ValidRole(role) {
		return false
	}
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if role == a {
			return true
		}
	}
	return false
}

// Session is one authenticated device/browser instance tracked on the
// account aggregate. Liveness flips to false on logout, revocation, or
// eviction; the record is retained for audit until the next cleanup pass.
type Session struct {
	ID           string    `bson:"id" json:"id"`
	IP           string    `bson:"ip" json:"ip"`
	UserAgent    string    `bson:"userAgent" json:"userAgent"`
	DeviceClass  string    `bson:"deviceClass" json:"deviceClass"`
	CreatedAt    time.Time `bson:"createdAt" json:"createdAt"`
	LastActivity time.Time `bson:"lastActivity" json:"lastActivity"`
	Live         bool      `bson:"live" json:"live"`
}

// EventKind is the closed set of security-relevant event types recorded on
// the per-account event log.
type EventKind string

const (
	// EventLoginAttempt is an exported event kind recorded on the account log.
	EventLoginAttempt EventKind = "login_attempt"
	// EventLoginSuccess is an exported event kind recorded on the account log.
	EventLoginSuccess EventKind = "login_success"
	// EventLoginFailed is an exported event kind recorded on the account log.
	EventLoginFailed EventKind = "login_failed"
	// EventLogout is an exported event kind recorded on the account log.
	EventLogout EventKind = "logout"
	// EventPasswordChange is an exported event kind recorded on the account log.
	EventPasswordChange EventKind = "password_change"
	// EventAccountLocked is an exported event kind recorded on the account log.
	EventAccountLocked EventKind = "account_locked"
	// EventSuspiciousActivity is an exported event kind recorded on the account log.
	EventSuspiciousActivity EventKind = "suspicious_activity"
	// EventAuthenticationError is an exported event kind recorded on the account log.
	EventAuthenticationError EventKind = "authentication_error"
)

// SecurityEvent is one append-only audit record on the account aggregate.
// Events are immutable once written; the log is truncated only from the
// head when it exceeds the configured cap.
type SecurityEvent struct {
	ID        string    `bson:"id" json:"id"`
	Kind      EventKind `bson:"kind" json:"kind"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
	IP        string    `bson:"ip" json:"ip"`
	UserAgent string    `bson:"userAgent" json:"userAgent"`
	Detail    string    `bson:"detail,omitempty" json:"detail,omitempty"`
}

// BackupCode is one single-use two-factor fallback credential. The code is
// stored as issued; consumption is case-insensitive and irreversible.
type BackupCode struct {
	Code string `bson:"code" json:"-"`
	Used bool   `bson:"used" json:"used"`
}

// Account is the persisted identity aggregate, one per user. It is the
// unit of mutation: every write path loads the whole record, mutates it in
// memory, and writes it back through [AccountProvider.Update].
type Account struct {
	ID    string `bson:"_id,omitempty" json:"id"`
	Email string `bson:"email" json:"email"`
	Phone string `bson:"phone" json:"phone"`
	Name  string `bson:"name" json:"name"`
	Role  Role   `bson:"role" json:"role"`

	// Credential material. PasswordHash is read only inside the password
	// verification boundary and never serialized to JSON.
	PasswordHash    string   `bson:"passwordHash" json:"-"`
	PasswordHistory []string `bson:"passwordHistory,omitempty" json:"-"`

	TwoFactorEnabled bool         `bson:"twoFactorEnabled" json:"twoFactorEnabled"`
	TwoFactorSecret  []byte       `bson:"twoFactorSecret,omitempty" json:"-"`
	BackupCodes      []BackupCode `bson:"backupCodes,omitempty" json:"-"`

	// Lockout state, mutated only by the risk engine.
	LoginAttempts int       `bson:"loginAttempts" json:"-"`
	LockUntil     time.Time `bson:"lockUntil,omitempty" json:"-"`

	Active          bool `bson:"isActive" json:"isActive"`
	IsEmailVerified bool `bson:"isEmailVerified" json:"isEmailVerified"`

	// Email verification / password reset challenges (hash + expiry).
	VerifyTokenHash  string    `bson:"verifyTokenHash,omitempty" json:"-"`
	VerifyTokenUntil time.Time `bson:"verifyTokenUntil,omitempty" json:"-"`
	ResetTokenHash   string    `bson:"resetTokenHash,omitempty" json:"-"`
	ResetTokenUntil  time.Time `bson:"resetTokenUntil,omitempty" json:"-"`

	MaxSessions    int             `bson:"maxSessions" json:"-"`
	Sessions       []Session       `bson:"activeSessions,omitempty" json:"-"`
	SecurityEvents []SecurityEvent `bson:"securityEvents,omitempty" json:"-"`

	LastLogin time.Time `bson:"lastLogin,omitempty" json:"lastLogin,omitempty"`
	CreatedAt time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time `bson:"updatedAt" json:"updatedAt"`

	// Version supports compare-and-swap updates in the account store.
	Version uint32 `bson:"version" json:"-"`
}

// Locked reports whether the account is under an active lockout at now.
func (a *Account) Locked(now time.Time) bool {
	return !a.LockUntil.IsZero() && a.LockUntil.After(now)
}

// LiveSessions returns the subset of sessions with liveness still set.
func (a *Account) LiveSessions() []Session {
	var live []Session
	for _, s := range a.Sessions {
		if s.Live {
			live = append(live, s)
		}
	}
	return live
}

// Profile is the sanitized account view returned to clients. It carries no
// credential, lockout, or session material.
type Profile struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Phone            string    `json:"phone"`
	Name             string    `json:"name"`
	Role             Role      `json:"role"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	IsEmailVerified  bool      `json:"isEmailVerified"`
	LastLogin        time.Time `json:"lastLogin,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Profile returns the client-safe view of the account.
func (a *Account) Profile() *Profile {
	return &Profile{
		ID:               a.ID,
		Email:            a.Email,
		Phone:            a.Phone,
		Name:             a.Name,
		Role:             a.Role,
		TwoFactorEnabled: a.TwoFactorEnabled,
		IsEmailVerified:  a.IsEmailVerified,
		LastLogin:        a.LastLogin,
		CreatedAt:        a.CreatedAt,
	}
}

// NormalizeEmail lowercases and trims an email for case-insensitive
// identity lookup. Stores index the normalized form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AccountProvider is the interface the engine uses to load and persist
// account aggregates. Implementations must enforce email/phone uniqueness
// on Create and surface violations as [ErrDuplicateIdentity], and must
// reject an Update whose Version no longer matches the stored record with
// [ErrVersionConflict].
type AccountProvider interface {
	FindByEmail(ctx context.Context, email string) (*Account, error)
	FindByID(ctx context.Context, id string) (*Account, error)
	Create(ctx context.Context, account *Account) (*Account, error)
	Update(ctx context.Context, account *Account) error
}

// Email is one outbound message handed to a [Mailer]. The core formats
// subjects and bodies; template rendering is owned by the caller's mailer.
type Email struct {
	To      string
	Subject string
	HTML    string
}

// Mailer sends best-effort notification email. Send failures are logged
// and never alter the outcome of the surrounding auth operation.
type Mailer interface {
	Send(ctx context.Context, msg Email) error
}

// RegisterRequest is the input for [Engine.Register]. Role defaults to
// [RolePatient] when empty.
type RegisterRequest struct {
	Email    string
	Phone    string
	Name     string
	Password string
	Role     Role
}

// TokenPair carries one access/refresh token pair minted for a session.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// LoginResult is returned by [Engine.Login]. When TwoFactorRequired is
// set the login is a deliberate partial success: no tokens are issued and
// AccountRef identifies the account for the follow-up call.
type LoginResult struct {
	Tokens  *TokenPair
	Account *Profile

	TwoFactorRequired bool
	AccountRef        string

	Risk RiskAssessment
}

// AuthResult is returned by [Engine.Authenticate]. Session points at the
// live session named by the access token, already touched for activity.
type AuthResult struct {
	Account *Account
	Session *Session
}
