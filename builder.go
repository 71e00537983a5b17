package clinicauth

import (
	"errors"

	"go.uber.org/zap"

	"github.com/brightdent/clinicauth/password"
	"github.com/brightdent/clinicauth/ratelimit"
	"github.com/brightdent/clinicauth/token"
)

// Builder assembles an [Engine]. Use [New], chain the With* options, then
// call Build exactly once.
type Builder struct {
	config Config

	accounts  AccountProvider
	mailer    Mailer
	limiter   ratelimit.Limiter
	auditSink AuditSink
	log       *zap.Logger

	built bool
}

// New returns a Builder initialized with the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the default configuration wholesale.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithSigningKey sets the token signing key without replacing the rest of
// the configuration.
func (b *Builder) WithSigningKey(key []byte) *Builder {
	b.config.Token.SigningKey = cloneBytes(key)
	return b
}

// WithAccountProvider sets the account store. Required.
func (b *Builder) WithAccountProvider(p AccountProvider) *Builder {
	b.accounts = p
	return b
}

// WithMailer sets the outbound notification mailer. Optional; without it
// security alerts and verification mail are skipped with a logged notice.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithRateLimiter injects the login rate limiter capability. Optional.
func (b *Builder) WithRateLimiter(l ratelimit.Limiter) *Builder {
	b.limiter = l
	return b
}

// WithAuditSink sets the sink for the async audit dispatcher and enables
// auditing.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	b.config.Audit.Enabled = true
	return b
}

// WithLogger sets the structured logger. Defaults to a no-op logger.
func (b *Builder) WithLogger(log *zap.Logger) *Builder {
	b.log = log
	return b
}

// Build validates the configuration, wires the components, and returns
// the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.accounts == nil {
		return nil, errors.New("account provider required")
	}

	log := b.log
	if log == nil {
		log = zap.NewNop()
	}

	hasher, err := password.NewHasher(password.Config{
		Cost:      cfg.Password.Cost,
		MinLength: cfg.Password.MinLength,
	})
	if err != nil {
		return nil, err
	}

	tokens, err := token.NewManager(token.Config{
		SigningKey: cfg.Token.SigningKey,
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
		Issuer:     cfg.Token.Issuer,
		Audience:   cfg.Token.Audience,
	})
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:   cfg,
		accounts: b.accounts,
		mailer:   b.mailer,
		limiter:  b.limiter,
		hasher:   hasher,
		tokens:   tokens,
		totp:     newTOTPManager(cfg.TOTP),
		audit:    newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:  NewMetrics(cfg.Metrics),
		log:      log,
	}

	b.built = true
	return engine, nil
}
