package clinicauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brightdent/clinicauth/internal"
)

// rotatePassword installs a new hash, pushing the old one onto the bounded
// password history and killing every live session so stolen tokens die
// with the old credential.
func (e *Engine) rotatePassword(account *Account, newHash string, now time.Time) {
	if account.PasswordHash != "" {
		account.PasswordHistory = append(account.PasswordHistory, account.PasswordHash)
		if size := e.config.Password.HistorySize; size > 0 && len(account.PasswordHistory) > size {
			account.PasswordHistory = account.PasswordHistory[len(account.PasswordHistory)-size:]
		}
	}
	account.PasswordHash = newHash
	for i := range account.Sessions {
		account.Sessions[i].Live = false
	}
	recordSuccess(account)
	appendEvent(account, EventPasswordChange, "", "", "", now, e.config.Events.Cap)
}

// checkReuse rejects a candidate matching the current password or any
// entry in the history.
func (e *Engine) checkReuse(account *Account, candidate string) error {
	hashes := append([]string{account.PasswordHash}, account.PasswordHistory...)
	for _, h := range hashes {
		if h == "" {
			continue
		}
		match, err := e.hasher.Verify(candidate, h)
		if err != nil {
			return fmt.Errorf("password history check: %w", err)
		}
		if match {
			return ErrPasswordReuse
		}
	}
	return nil
}

// ChangePassword rotates the password for a signed-in user. The current
// password must verify, and the new one must pass the strength gate and
// differ from the recent history. All sessions are revoked on success.
func (e *Engine) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	if strength := e.hasher.CheckStrength(newPassword); !strength.Valid {
		return fmt.Errorf("%w: %d/6 checks passed", ErrPasswordPolicy, strength.Score)
	}

	account, err := e.accounts.FindByID(ctx, accountID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(currentPassword, account.PasswordHash)
	if err != nil {
		return fmt.Errorf("password verification: %w", err)
	}
	if !ok {
		e.emitAudit(ctx, auditEventPasswordChange, false, accountID, "", ErrInvalidCredentials, nil)
		return ErrInvalidCredentials
	}

	if err := e.checkReuse(account, newPassword); err != nil {
		return err
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("password hash: %w", err)
	}

	now := time.Now().UTC()
	e.rotatePassword(account, newHash, now)
	account.UpdatedAt = now
	if err := e.accounts.Update(ctx, account); err != nil {
		return fmt.Errorf("password change persist: %w", err)
	}

	e.notifyPasswordChanged(account)
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChange, true, accountID, "", nil, nil)
	e.log.Info("password changed", zap.String("accountID", accountID))
	return nil
}

// RequestPasswordReset starts the forgot-password flow. An unknown email
// returns nil so the endpoint cannot be used for account enumeration; a
// known one gets a single-use, time-bounded reset code by email.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	if err := e.ready(); err != nil {
		return err
	}

	account, err := e.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		return fmt.Errorf("reset lookup: %w", err)
	}

	resetToken, resetDigest, err := internal.NewChallengeToken()
	if err != nil {
		return fmt.Errorf("reset token: %w", err)
	}

	account, err = e.mutateAccount(ctx, account.ID, func(account *Account) error {
		account.ResetTokenHash = resetDigest
		account.ResetTokenUntil = time.Now().UTC().Add(e.config.Challenge.ResetTTL)
		return nil
	})
	if err != nil {
		return err
	}

	e.sendResetMail(account, resetToken)
	e.emitAudit(ctx, auditEventPasswordReset, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"phase": "requested"}
	})
	return nil
}

// ResetPassword completes the forgot-password flow: the code must match
// the outstanding challenge and be within its window, and the new password
// faces the same strength and reuse gates as a normal change. The
// challenge is consumed either way it matches, and success also clears any
// lockout so a locked-out owner can recover their own account.
func (e *Engine) ResetPassword(ctx context.Context, email, resetToken, newPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	if strength := e.hasher.CheckStrength(newPassword); !strength.Valid {
		return fmt.Errorf("%w: %d/6 checks passed", ErrPasswordPolicy, strength.Score)
	}

	account, err := e.accounts.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return ErrResetInvalid
		}
		return fmt.Errorf("reset lookup: %w", err)
	}

	now := time.Now().UTC()
	if account.ResetTokenHash == "" || now.After(account.ResetTokenUntil) {
		return ErrResetInvalid
	}
	if internal.HashChallengeToken(resetToken) != account.ResetTokenHash {
		return ErrResetInvalid
	}

	if err := e.checkReuse(account, newPassword); err != nil {
		return err
	}

	newHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("password hash: %w", err)
	}

	e.rotatePassword(account, newHash, now)
	account.ResetTokenHash = ""
	account.ResetTokenUntil = time.Time{}
	account.UpdatedAt = now
	if err := e.accounts.Update(ctx, account); err != nil {
		return fmt.Errorf("password reset persist: %w", err)
	}

	e.notifyPasswordChanged(account)
	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordReset, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"phase": "completed"}
	})
	e.log.Info("password reset completed", zap.String("accountID", account.ID))
	return nil
}
