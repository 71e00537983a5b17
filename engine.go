package clinicauth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brightdent/clinicauth/internal"
	"github.com/brightdent/clinicauth/password"
	"github.com/brightdent/clinicauth/ratelimit"
	"github.com/brightdent/clinicauth/token"
)

// Engine is the authentication orchestrator. It owns no state of its own
// beyond counters and the audit dispatcher; all durable state lives on the
// account aggregate behind [AccountProvider]. Construct it with [New] and
// the builder options; the zero value is not usable.
type Engine struct {
	config Config

	accounts AccountProvider
	mailer   Mailer
	limiter  ratelimit.Limiter

	hasher *password.Hasher
	tokens *token.Manager
	totp   *totpManager

	audit   *auditDispatcher
	metrics *Metrics
	log     *zap.Logger
}

// Close flushes the audit dispatcher. Safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were dropped because the
// dispatch buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Metrics exposes the engine's counter block for scraping.
func (e *Engine) Metrics() *Metrics {
	if e == nil {
		return nil
	}
	return e.metrics
}

func (e *Engine) ready() error {
	if e == nil || e.accounts == nil || e.tokens == nil || e.hasher == nil {
		return ErrEngineNotReady
	}
	return nil
}

// persistBestEffort writes bookkeeping mutations (failure counters, event
// log entries, session touches) where an occasional lost write is an
// accepted approximation. Failures are logged, never surfaced.
func (e *Engine) persistBestEffort(ctx context.Context, account *Account, op string) {
	account.UpdatedAt = time.Now().UTC()
	if err := e.accounts.Update(ctx, account); err != nil {
		e.log.Warn("best-effort account write failed",
			zap.String("op", op),
			zap.String("accountID", account.ID),
			zap.Error(err),
		)
	}
}

func loginLimiterKey(email, ip string) string {
	return NormalizeEmail(email) + "|" + ip
}

// Login authenticates email/password and, when the account has two-factor
// enabled, the supplied TOTP or backup code. Pass twoFactorCode as ""
// on the first call; if the account requires it the result comes back with
// TwoFactorRequired set and no tokens, and the client repeats the call
// with the code.
//
// The checks run in a fixed order: rate limit, lookup, lockout, active
// flag, risk scoring, password, two-factor. Risk scoring runs before the
// password check so probing attempts feed the classifier, and a high score
// only ever triggers notification, never denial.
func (e *Engine) Login(ctx context.Context, email, plainPassword, twoFactorCode string) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	ip := clientIPFromContext(ctx)
	userAgent := userAgentFromContext(ctx)
	now := time.Now().UTC()

	if e.limiter != nil {
		decision, err := e.limiter.Check(ctx, loginLimiterKey(email, ip))
		if err != nil || !decision.Allowed {
			if err != nil {
				e.log.Warn("rate limiter unavailable, denying login", zap.Error(err))
			}
			denied := &RateLimitedError{RetryAfter: decision.RetryAfter}
			e.metricInc(MetricLoginRateLimited)
			e.emitAudit(ctx, auditEventRateLimited, false, "", "", denied, nil)
			return nil, denied
		}
	}

	account, err := e.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			e.metricInc(MetricLoginFailure)
			e.emitAudit(ctx, auditEventLoginFailure, false, "", "", ErrInvalidCredentials, func() map[string]string {
				return map[string]string{"reason": "unknown_email"}
			})
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("login lookup: %w", err)
	}

	appendEvent(account, EventLoginAttempt, ip, userAgent, "", now, e.config.Events.Cap)

	if account.Locked(now) {
		appendEvent(account, EventLoginFailed, ip, userAgent, "account locked", now, e.config.Events.Cap)
		e.persistBestEffort(ctx, account, "login.lockout")
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, "", ErrAccountLocked, nil)
		return nil, &LockedError{Until: account.LockUntil}
	}

	if !account.Active {
		appendEvent(account, EventLoginFailed, ip, userAgent, "account deactivated", now, e.config.Events.Cap)
		e.persistBestEffort(ctx, account, "login.inactive")
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, "", ErrAccountInactive, nil)
		return nil, ErrAccountInactive
	}

	risk := assessRisk(account.SecurityEvents, ip, userAgent, now, e.config.Risk)
	if risk.Level == RiskHigh {
		appendEvent(account, EventSuspiciousActivity, ip, userAgent,
			strings.Join(risk.Indicators, ", "), now, e.config.Events.Cap)
		e.metricInc(MetricRiskAlert)
		e.notifySuspiciousLogin(account, risk, ip)
		e.emitAudit(ctx, auditEventRiskAlert, true, account.ID, "", nil, func() map[string]string {
			return map[string]string{"level": risk.Level.String(), "indicators": strings.Join(risk.Indicators, ",")}
		})
	}

	ok, err := e.hasher.Verify(plainPassword, account.PasswordHash)
	if err != nil {
		appendEvent(account, EventAuthenticationError, ip, userAgent, "password verification error", now, e.config.Events.Cap)
		e.persistBestEffort(ctx, account, "login.verify_error")
		return nil, fmt.Errorf("password verification: %w", err)
	}
	if !ok {
		locked := recordFailure(account, now, e.config.Lockout)
		appendEvent(account, EventLoginFailed, ip, userAgent, "invalid password", now, e.config.Events.Cap)
		if locked {
			appendEvent(account, EventAccountLocked, ip, userAgent,
				"locked until "+account.LockUntil.Format(time.RFC3339), now, e.config.Events.Cap)
			e.metricInc(MetricAccountLocked)
			e.notifyLockout(account)
			e.emitAudit(ctx, auditEventLockout, true, account.ID, "", nil, nil)
		}
		e.persistBestEffort(ctx, account, "login.bad_password")
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "bad_password", "attempts": fmt.Sprint(account.LoginAttempts)}
		})
		return nil, ErrInvalidCredentials
	}

	usedBackupCode := ""
	if account.TwoFactorEnabled {
		if twoFactorCode == "" {
			e.persistBestEffort(ctx, account, "login.twofactor_pending")
			e.metricInc(MetricTwoFactorRequired)
			return &LoginResult{
				TwoFactorRequired: true,
				AccountRef:        account.ID,
				Risk:              risk,
			}, nil
		}
		valid, err := e.totp.VerifyCode(account.TwoFactorSecret, twoFactorCode, now)
		if err != nil {
			return nil, fmt.Errorf("two-factor verification: %w", err)
		}
		if !valid {
			if !consumeBackupCode(account, twoFactorCode) {
				appendEvent(account, EventLoginFailed, ip, userAgent, "invalid two-factor code", now, e.config.Events.Cap)
				e.persistBestEffort(ctx, account, "login.bad_twofactor")
				e.metricInc(MetricTwoFactorFailure)
				e.metricInc(MetricLoginFailure)
				e.emitAudit(ctx, auditEventTwoFactor, false, account.ID, "", ErrTwoFactorInvalid, nil)
				return nil, ErrTwoFactorInvalid
			}
			usedBackupCode = twoFactorCode
			e.metricInc(MetricBackupCodeUsed)
			e.emitAudit(ctx, auditEventTwoFactor, true, account.ID, "", nil, func() map[string]string {
				return map[string]string{"method": "backup_code", "remaining": fmt.Sprint(unusedBackupCodes(account))}
			})
		}
	}

	session := Session{
		IP:           ip,
		UserAgent:    userAgent,
		DeviceClass:  deviceClass(userAgent),
		CreatedAt:    now,
		LastActivity: now,
		Live:         true,
	}
	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	session.ID = sid.String()

	evicted, err := e.commitLoginSuccess(ctx, account, session, ip, userAgent, usedBackupCode, now)
	if err != nil {
		return nil, err
	}
	if evicted > 0 {
		e.metrics.Inc(MetricSessionEvicted)
	}

	pair, err := e.tokens.IssuePair(account.ID, string(account.Role), session.ID)
	if err != nil {
		return nil, fmt.Errorf("token issuance: %w", err)
	}

	if e.limiter != nil {
		if err := e.limiter.Reset(ctx, loginLimiterKey(email, ip)); err != nil {
			e.log.Warn("rate limiter reset failed", zap.Error(err))
		}
	}

	e.metricInc(MetricLoginSuccess)
	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventLogin, true, account.ID, session.ID, nil, func() map[string]string {
		return map[string]string{"risk": risk.Level.String(), "device": session.DeviceClass}
	})
	e.log.Info("login succeeded",
		zap.String("accountID", account.ID),
		zap.String("sessionID", session.ID),
		zap.String("risk", risk.Level.String()),
	)

	return &LoginResult{
		Tokens:  &TokenPair{AccessToken: pair.Access, RefreshToken: pair.Refresh},
		Account: account.Profile(),
		Risk:    risk,
	}, nil
}

// commitLoginSuccess applies the success-path bookkeeping and persists it.
// A lost compare-and-swap race is retried once against a fresh load; the
// already-admitted session carries over to the reloaded aggregate, and a
// backup code consumed during the two-factor gate is consumed again there
// so the single-use guarantee survives the retry.
func (e *Engine) commitLoginSuccess(ctx context.Context, account *Account, session Session, ip, userAgent, usedBackupCode string, now time.Time) (evicted int, err error) {
	evicted = applyLoginSuccess(account, session, ip, userAgent, now, e.config)
	account.UpdatedAt = now

	err = e.accounts.Update(ctx, account)
	if err == nil {
		return evicted, nil
	}
	if !errors.Is(err, ErrVersionConflict) {
		return 0, fmt.Errorf("login persist: %w", err)
	}

	fresh, ferr := e.accounts.FindByID(ctx, account.ID)
	if ferr != nil {
		return 0, fmt.Errorf("login persist retry: %w", ferr)
	}
	if !fresh.Active {
		return 0, ErrAccountInactive
	}
	if usedBackupCode != "" {
		consumeBackupCode(fresh, usedBackupCode)
	}
	evicted = applyLoginSuccess(fresh, session, ip, userAgent, now, e.config)
	fresh.UpdatedAt = now
	if err := e.accounts.Update(ctx, fresh); err != nil {
		return 0, fmt.Errorf("login persist retry: %w", err)
	}
	*account = *fresh
	return evicted, nil
}

func applyLoginSuccess(account *Account, session Session, ip, userAgent string, now time.Time, cfg Config) (evicted int) {
	recordSuccess(account)

	account.Sessions = cleanupExpired(account.Sessions, now, cfg.Session.InactivityWindow)
	max := account.MaxSessions
	if max <= 0 {
		max = cfg.Session.MaxSessions
	}
	before := liveCount(account.Sessions)
	account.Sessions = admitSession(account.Sessions, session, max)
	if after := liveCount(account.Sessions); after <= before {
		evicted = before - after + 1
	}

	account.LastLogin = now
	appendEvent(account, EventLoginSuccess, ip, userAgent, "", now, cfg.Events.Cap)
	return evicted
}

// Refresh exchanges a valid refresh token for a new token pair. The
// account must still exist and be active; session liveness is deliberately
// not re-validated here, so refresh works across a session's idle eviction.
// The replacement access token is unbound from any session.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.tokens.Verify(refreshToken, token.TypeRefresh)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefresh, false, "", "", err, nil)
		return nil, err
	}

	account, err := e.accounts.FindByID(ctx, claims.AccountID())
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, ErrAccountNotFound) {
			return nil, token.ErrInvalid
		}
		return nil, fmt.Errorf("refresh lookup: %w", err)
	}
	if !account.Active {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefresh, false, account.ID, "", ErrAccountInactive, nil)
		return nil, ErrAccountInactive
	}

	pair, err := e.tokens.IssuePair(account.ID, string(account.Role), "")
	if err != nil {
		return nil, fmt.Errorf("token issuance: %w", err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefresh, true, account.ID, "", nil, nil)

	return &TokenPair{AccessToken: pair.Access, RefreshToken: pair.Refresh}, nil
}

// Logout revokes the session named by the access token. It is idempotent:
// an invalid token, an unknown account, or an already-dead session all
// return nil.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if err := e.ready(); err != nil {
		return err
	}

	claims, err := e.tokens.Verify(accessToken, token.TypeAccess)
	if err != nil || claims.SessionID == "" {
		return nil
	}

	account, err := e.accounts.FindByID(ctx, claims.AccountID())
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return fmt.Errorf("logout lookup: %w", err)
	}

	if !revokeSession(account.Sessions, claims.SessionID) {
		return nil
	}

	now := time.Now().UTC()
	appendEvent(account, EventLogout, clientIPFromContext(ctx), userAgentFromContext(ctx), "", now, e.config.Events.Cap)
	e.persistBestEffort(ctx, account, "logout")

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, account.ID, claims.SessionID, nil, nil)
	return nil
}

// Authenticate validates an access token on behalf of a protected
// endpoint: signature, expiry, type tag, account standing, and — when the
// token is session-bound — session liveness. On success the session's last
// activity is bumped.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*AuthResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	claims, err := e.tokens.Verify(accessToken, token.TypeAccess)
	if err != nil {
		return nil, err
	}

	account, err := e.accounts.FindByID(ctx, claims.AccountID())
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil, token.ErrInvalid
		}
		return nil, fmt.Errorf("authenticate lookup: %w", err)
	}

	now := time.Now().UTC()
	if !account.Active {
		return nil, ErrAccountInactive
	}
	if account.Locked(now) {
		return nil, &LockedError{Until: account.LockUntil}
	}

	result := &AuthResult{Account: account}
	if claims.SessionID != "" {
		account.Sessions = cleanupExpired(account.Sessions, now, e.config.Session.InactivityWindow)
		session := touchSession(account.Sessions, claims.SessionID, now)
		if session == nil {
			return nil, ErrSessionExpired
		}
		e.persistBestEffort(ctx, account, "authenticate.touch")
		copied := *session
		result.Session = &copied
	}
	return result, nil
}
