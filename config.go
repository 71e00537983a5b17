package clinicauth

import (
	"errors"
	"time"
)

// Config groups the engine's per-concern settings. Config values are
// intended to be populated before Build and treated as immutable afterwards.
type Config struct {
	Token     TokenConfig
	Session   SessionConfig
	Lockout   LockoutConfig
	Risk      RiskConfig
	Password  PasswordConfig
	TOTP      TOTPConfig
	Events    EventLogConfig
	Challenge ChallengeConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
	Mail      MailConfig
}

// TokenConfig controls access/refresh token issuance and verification.
type TokenConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	SigningKey []byte
	Issuer     string
	Audience   string
}

// SessionConfig bounds the per-account session registry.
type SessionConfig struct {
	// MaxSessions is the default live-session cap per account; an account
	// may carry its own override.
	MaxSessions int
	// InactivityWindow is the idle lifetime after which a session is
	// lazily pruned on next access.
	InactivityWindow time.Duration
}

// LockoutConfig controls the failed-attempt lockout state machine.
type LockoutConfig struct {
	MaxAttempts int
	Duration    time.Duration
}

// RiskConfig tunes the suspicion classifier. The classifier only ever
// triggers notification, never denial.
type RiskConfig struct {
	// RecentEvents is how many trailing login-type events feed the score.
	RecentEvents int
	// DistinctIPThreshold fires the multiple-IP indicator when exceeded
	// among recent successful logins.
	DistinctIPThreshold int
	// FailureThreshold fires the repeated-failures indicator when exceeded
	// within FailureWindow.
	FailureThreshold int
	FailureWindow    time.Duration
}

// PasswordConfig controls hashing cost and the strength gate.
type PasswordConfig struct {
	Cost        int
	HistorySize int
	MinLength   int
}

// TOTPConfig controls the two-factor subsystem.
type TOTPConfig struct {
	Issuer    string
	Digits    int
	Period    int
	Algorithm string
	// Skew is the tolerated clock drift in time-steps on either side.
	Skew             int
	BackupCodeCount  int
	BackupCodeLength int
}

// EventLogConfig bounds the per-account security event log.
type EventLogConfig struct {
	Cap int
}

// ChallengeConfig bounds email-verification and password-reset challenges.
type ChallengeConfig struct {
	VerifyTTL time.Duration
	ResetTTL  time.Duration
}

// AuditConfig controls the async operator-facing audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig controls the in-process counters.
type MetricsConfig struct {
	Enabled bool
}

// MailConfig bounds outbound notification email.
type MailConfig struct {
	// SendTimeout caps each fire-and-forget send; a timeout is logged and
	// never fails the surrounding operation.
	SendTimeout time.Duration
	From        string
}

// DefaultConfig returns the engine defaults. Callers adjust fields and
// pass the result to [Builder.WithConfig]; the signing key always has to
// be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "clinicauth",
			Audience:   "clinic-api",
		},
		Session: SessionConfig{
			MaxSessions:      5,
			InactivityWindow: 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			MaxAttempts: 5,
			Duration:    2 * time.Hour,
		},
		Risk: RiskConfig{
			RecentEvents:        10,
			DistinctIPThreshold: 3,
			FailureThreshold:    5,
			FailureWindow:       time.Hour,
		},
		Password: PasswordConfig{
			Cost:        12,
			HistorySize: 5,
			MinLength:   8,
		},
		TOTP: TOTPConfig{
			Issuer:           "BrightDent",
			Digits:           6,
			Period:           30,
			Algorithm:        "SHA1",
			Skew:             2,
			BackupCodeCount:  10,
			BackupCodeLength: 8,
		},
		Events: EventLogConfig{
			Cap: 100,
		},
		Challenge: ChallengeConfig{
			VerifyTTL: 24 * time.Hour,
			ResetTTL:  time.Hour,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Mail: MailConfig{
			SendTimeout: 5 * time.Second,
			From:        "no-reply@brightdent.example",
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.SigningKey = cloneBytes(cfg.Token.SigningKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate rejects configurations the engine cannot operate under. It is
// called by [Builder.Build] before any component is constructed.
func (c *Config) Validate() error {
	if len(c.Token.SigningKey) < 32 {
		return errors.New("token signing key must be at least 32 bytes")
	}
	if c.Token.AccessTTL <= 0 || c.Token.RefreshTTL <= 0 {
		return errors.New("token TTLs must be positive")
	}
	if c.Token.AccessTTL >= c.Token.RefreshTTL {
		return errors.New("access TTL must be shorter than refresh TTL")
	}
	if c.Session.MaxSessions <= 0 {
		return errors.New("session cap must be positive")
	}
	if c.Session.InactivityWindow <= 0 {
		return errors.New("session inactivity window must be positive")
	}
	if c.Lockout.MaxAttempts <= 0 || c.Lockout.Duration <= 0 {
		return errors.New("lockout threshold and duration must be positive")
	}
	if c.Password.Cost < 4 || c.Password.Cost > 31 {
		return errors.New("password cost out of bcrypt range")
	}
	if c.Password.MinLength < 8 {
		return errors.New("password minimum length below 8")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return errors.New("totp digits must be 6..8")
	}
	if c.TOTP.Period <= 0 || c.TOTP.Skew < 0 {
		return errors.New("invalid totp period or skew")
	}
	if c.Events.Cap <= 0 {
		return errors.New("event log cap must be positive")
	}
	return nil
}
