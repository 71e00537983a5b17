package clinicauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brightdent/clinicauth/internal"
)

// mutateAccount loads the aggregate, applies fn, and persists it. A lost
// compare-and-swap race is retried once against a fresh load; fn must be
// safe to re-apply.
func (e *Engine) mutateAccount(ctx context.Context, accountID string, fn func(*Account) error) (*Account, error) {
	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if err := fn(account); err != nil {
			return nil, err
		}
		account.UpdatedAt = time.Now().UTC()

		err = e.accounts.Update(ctx, account)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, ErrVersionConflict) || attempt > 0 {
			return nil, err
		}
		account, err = e.accounts.FindByID(ctx, accountID)
		if err != nil {
			return nil, err
		}
	}
}

// Register creates a new account. The candidate password must pass the
// strength gate; the role defaults to patient and must be one of the known
// roles. The account starts active with an unverified email, and a
// verification code is mailed out-of-band.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*Profile, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	role := req.Role
	if role == "" {
		role = RolePatient
	}
	if !ValidRole(role) {
		return nil, fmt.Errorf("unknown role %q", req.Role)
	}

	email := NormalizeEmail(req.Email)
	if email == "" {
		return nil, errors.New("email required")
	}
	if req.Name == "" {
		return nil, errors.New("name required")
	}

	if strength := e.hasher.CheckStrength(req.Password); !strength.Valid {
		return nil, fmt.Errorf("%w: %d/6 checks passed", ErrPasswordPolicy, strength.Score)
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, fmt.Errorf("password hash: %w", err)
	}

	verifyToken, verifyDigest, err := internal.NewChallengeToken()
	if err != nil {
		return nil, fmt.Errorf("verification token: %w", err)
	}

	now := time.Now().UTC()
	account := &Account{
		Email:            email,
		Phone:            req.Phone,
		Name:             req.Name,
		Role:             role,
		PasswordHash:     hash,
		Active:           true,
		IsEmailVerified:  false,
		VerifyTokenHash:  verifyDigest,
		VerifyTokenUntil: now.Add(e.config.Challenge.VerifyTTL),
		MaxSessions:      e.config.Session.MaxSessions,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	created, err := e.accounts.Create(ctx, account)
	if err != nil {
		return nil, err
	}

	e.sendVerificationMail(created, verifyToken)

	e.metricInc(MetricRegisterSuccess)
	e.emitAudit(ctx, auditEventRegister, true, created.ID, "", nil, func() map[string]string {
		return map[string]string{"role": string(created.Role)}
	})
	e.log.Info("account registered",
		zap.String("accountID", created.ID),
		zap.String("role", string(created.Role)),
	)

	return created.Profile(), nil
}

// SecurityEvents returns the trailing limit entries of the account's
// security event log, most recent last. limit <= 0 returns the whole log.
func (e *Engine) SecurityEvents(ctx context.Context, accountID string, limit int) ([]SecurityEvent, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	events := lastEvents(account.SecurityEvents, limit)
	out := make([]SecurityEvent, len(events))
	copy(out, events)
	return out, nil
}

// ActiveSessions returns the account's live sessions for a "your devices"
// view, pruning idle ones first.
func (e *Engine) ActiveSessions(ctx context.Context, accountID string) ([]Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	account.Sessions = cleanupExpired(account.Sessions, time.Now().UTC(), e.config.Session.InactivityWindow)
	return account.LiveSessions(), nil
}

// RevokeSession kills one of the account's sessions by id, independent of
// any token. Revoking an unknown session is a no-op.
func (e *Engine) RevokeSession(ctx context.Context, accountID, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	_, err := e.mutateAccount(ctx, accountID, func(account *Account) error {
		if revokeSession(account.Sessions, sessionID) {
			appendEvent(account, EventLogout, clientIPFromContext(ctx), userAgentFromContext(ctx),
				"session revoked", time.Now().UTC(), e.config.Events.Cap)
		}
		return nil
	})
	return err
}

// Deactivate disables the account. Existing sessions die with it: every
// live session is revoked and subsequent token checks fail.
func (e *Engine) Deactivate(ctx context.Context, accountID string) error {
	return e.setActive(ctx, accountID, false)
}

// Reactivate re-enables a previously deactivated account. Lockout state is
// left untouched.
func (e *Engine) Reactivate(ctx context.Context, accountID string) error {
	return e.setActive(ctx, accountID, true)
}

func (e *Engine) setActive(ctx context.Context, accountID string, active bool) error {
	if err := e.ready(); err != nil {
		return err
	}
	account, err := e.mutateAccount(ctx, accountID, func(account *Account) error {
		account.Active = active
		if !active {
			for i := range account.Sessions {
				account.Sessions[i].Live = false
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventAccountStatus, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"active": fmt.Sprint(active)}
	})
	e.log.Info("account status changed",
		zap.String("accountID", account.ID),
		zap.Bool("active", active),
	)
	return nil
}

// Unlock clears an active lockout ahead of its deadline. An operator
// action; the failure counter resets with it.
func (e *Engine) Unlock(ctx context.Context, accountID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	account, err := e.mutateAccount(ctx, accountID, func(account *Account) error {
		recordSuccess(account)
		return nil
	})
	if err != nil {
		return err
	}
	e.emitAudit(ctx, auditEventAccountStatus, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"action": "unlock"}
	})
	return nil
}

// VerifyEmail consumes an email-verification code previously mailed by
// [Engine.Register] or [Engine.ResendVerification].
func (e *Engine) VerifyEmail(ctx context.Context, accountID, verifyToken string) error {
	if err := e.ready(); err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err := e.mutateAccount(ctx, accountID, func(account *Account) error {
		if account.IsEmailVerified {
			return nil
		}
		if account.VerifyTokenHash == "" || now.After(account.VerifyTokenUntil) {
			return ErrResetInvalid
		}
		if internal.HashChallengeToken(verifyToken) != account.VerifyTokenHash {
			return ErrResetInvalid
		}
		account.IsEmailVerified = true
		account.VerifyTokenHash = ""
		account.VerifyTokenUntil = time.Time{}
		return nil
	})
	if err != nil {
		e.emitAudit(ctx, auditEventEmailVerify, false, accountID, "", err, nil)
		return err
	}
	e.emitAudit(ctx, auditEventEmailVerify, true, accountID, "", nil, nil)
	return nil
}

// ResendVerification issues a fresh email-verification code, invalidating
// any outstanding one. Verified accounts are a silent no-op.
func (e *Engine) ResendVerification(ctx context.Context, accountID string) error {
	if err := e.ready(); err != nil {
		return err
	}

	verifyToken, verifyDigest, err := internal.NewChallengeToken()
	if err != nil {
		return fmt.Errorf("verification token: %w", err)
	}

	account, err := e.mutateAccount(ctx, accountID, func(account *Account) error {
		if account.IsEmailVerified {
			return nil
		}
		account.VerifyTokenHash = verifyDigest
		account.VerifyTokenUntil = time.Now().UTC().Add(e.config.Challenge.VerifyTTL)
		return nil
	})
	if err != nil {
		return err
	}
	if !account.IsEmailVerified {
		e.sendVerificationMail(account, verifyToken)
	}
	return nil
}
