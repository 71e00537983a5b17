package clinicauth

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/brightdent/clinicauth/internal"
)

// TwoFactorEnrollment is returned by [Engine.EnableTwoFactor]: the secret
// for manual entry and the otpauth URI to encode into a QR code.
// Enrollment is pending until confirmed with a valid code.
type TwoFactorEnrollment struct {
	Secret       string `json:"secret"`
	ProvisionURI string `json:"provisionUri"`
}

// consumeBackupCode burns the first unused backup code matching the input.
// Matching is case-insensitive and ignores hyphens; a consumed code never
// matches again.
func consumeBackupCode(account *Account, code string) bool {
	canonical := internal.CanonicalizeBackupCode(code)
	if canonical == "" {
		return false
	}
	for i := range account.BackupCodes {
		if account.BackupCodes[i].Used {
			continue
		}
		if internal.CanonicalizeBackupCode(account.BackupCodes[i].Code) == canonical {
			account.BackupCodes[i].Used = true
			return true
		}
	}
	return false
}

func unusedBackupCodes(account *Account) int {
	n := 0
	for _, c := range account.BackupCodes {
		if !c.Used {
			n++
		}
	}
	return n
}

func (e *Engine) newBackupCodes() ([]BackupCode, []string, error) {
	count := e.config.TOTP.BackupCodeCount
	codes := make([]BackupCode, 0, count)
	plain := make([]string, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode(e.config.TOTP.BackupCodeLength)
		if err != nil {
			return nil, nil, fmt.Errorf("backup code: %w", err)
		}
		codes = append(codes, BackupCode{Code: code})
		plain = append(plain, code)
	}
	return codes, plain, nil
}

// EnableTwoFactor starts TOTP enrollment: a fresh secret is stored on the
// account but two-factor stays off until [Engine.ConfirmTwoFactor] proves
// the authenticator was set up. Calling it again before confirmation
// replaces the pending secret.
func (e *Engine) EnableTwoFactor(ctx context.Context, accountID, currentPassword string) (*TwoFactorEnrollment, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	raw, encoded, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("totp secret: %w", err)
	}

	account, err := e.mutateAccount(ctx, accountID, func(account *Account) error {
		ok, err := e.hasher.Verify(currentPassword, account.PasswordHash)
		if err != nil {
			return fmt.Errorf("password verification: %w", err)
		}
		if !ok {
			return ErrInvalidCredentials
		}
		account.TwoFactorSecret = raw
		account.TwoFactorEnabled = false
		account.BackupCodes = nil
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &TwoFactorEnrollment{
		Secret:       encoded,
		ProvisionURI: e.totp.ProvisionURI(encoded, account.Email),
	}, nil
}

// ConfirmTwoFactor completes enrollment by checking one code from the
// authenticator against the pending secret. On success two-factor turns on
// and a fresh batch of backup codes is returned — the only time they are
// visible in plain text.
func (e *Engine) ConfirmTwoFactor(ctx context.Context, accountID, code string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	codes, plain, err := e.newBackupCodes()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	account, err := e.mutateAccount(ctx, accountID, func(account *Account) error {
		if len(account.TwoFactorSecret) == 0 {
			return ErrTwoFactorNotEnabled
		}
		valid, err := e.totp.VerifyCode(account.TwoFactorSecret, code, now)
		if err != nil {
			return fmt.Errorf("two-factor verification: %w", err)
		}
		if !valid {
			return ErrTwoFactorInvalid
		}
		account.TwoFactorEnabled = true
		account.BackupCodes = codes
		return nil
	})
	if err != nil {
		e.metricInc(MetricTwoFactorFailure)
		e.emitAudit(ctx, auditEventTwoFactor, false, accountID, "", err, nil)
		return nil, err
	}

	e.emitAudit(ctx, auditEventTwoFactor, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"action": "enrolled"}
	})
	e.log.Info("two-factor enabled", zap.String("accountID", account.ID))
	return plain, nil
}

// DisableTwoFactor turns two-factor off. The current password must verify;
// the secret and all backup codes are destroyed.
func (e *Engine) DisableTwoFactor(ctx context.Context, accountID, currentPassword string) error {
	if err := e.ready(); err != nil {
		return err
	}

	account, err := e.mutateAccount(ctx, accountID, func(account *Account) error {
		if !account.TwoFactorEnabled {
			return ErrTwoFactorNotEnabled
		}
		ok, err := e.hasher.Verify(currentPassword, account.PasswordHash)
		if err != nil {
			return fmt.Errorf("password verification: %w", err)
		}
		if !ok {
			return ErrInvalidCredentials
		}
		account.TwoFactorEnabled = false
		account.TwoFactorSecret = nil
		account.BackupCodes = nil
		return nil
	})
	if err != nil {
		return err
	}

	e.emitAudit(ctx, auditEventTwoFactor, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"action": "disabled"}
	})
	e.log.Info("two-factor disabled", zap.String("accountID", account.ID))
	return nil
}

// RegenerateBackupCodes replaces the account's backup codes with a fresh
// batch, invalidating every previous code including unused ones. Requires
// two-factor to be on and the current password to verify.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, accountID, currentPassword string) ([]string, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	codes, plain, err := e.newBackupCodes()
	if err != nil {
		return nil, err
	}

	_, err = e.mutateAccount(ctx, accountID, func(account *Account) error {
		if !account.TwoFactorEnabled {
			return ErrTwoFactorNotEnabled
		}
		ok, err := e.hasher.Verify(currentPassword, account.PasswordHash)
		if err != nil {
			return fmt.Errorf("password verification: %w", err)
		}
		if !ok {
			return ErrInvalidCredentials
		}
		account.BackupCodes = codes
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.emitAudit(ctx, auditEventTwoFactor, true, accountID, "", nil, func() map[string]string {
		return map[string]string{"action": "backup_codes_regenerated"}
	})
	return plain, nil
}
