package clinicauth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Notification email is strictly fire-and-forget: each send runs on its
// own goroutine under the configured timeout and never alters the outcome
// of the auth operation that triggered it.
func (e *Engine) sendMail(kind string, msg Email) {
	if e.mailer == nil {
		e.log.Debug("no mailer configured, skipping notification", zap.String("kind", kind))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), e.config.Mail.SendTimeout)
		defer cancel()
		if err := e.mailer.Send(ctx, msg); err != nil {
			e.log.Warn("notification email failed",
				zap.String("kind", kind),
				zap.String("to", msg.To),
				zap.Error(err),
			)
		}
	}()
}

func (e *Engine) notifySuspiciousLogin(account *Account, risk RiskAssessment, ip string) {
	body := fmt.Sprintf(
		"<p>Hello %s,</p>"+
			"<p>We noticed a sign-in to your account that looks unusual:</p>"+
			"<ul><li>%s</li></ul>"+
			"<p>IP address: %s</p>"+
			"<p>If this was you, no action is needed. Otherwise please change your password immediately.</p>",
		account.Name, strings.Join(risk.Indicators, "</li><li>"), ip,
	)
	e.sendMail("suspicious_login", Email{
		To:      account.Email,
		Subject: "Unusual sign-in to your account",
		HTML:    body,
	})
}

func (e *Engine) notifyLockout(account *Account) {
	body := fmt.Sprintf(
		"<p>Hello %s,</p>"+
			"<p>Your account was temporarily locked after repeated failed sign-in attempts. "+
			"You can sign in again after %s, or reset your password now.</p>",
		account.Name, account.LockUntil.UTC().Format(time.RFC1123),
	)
	e.sendMail("lockout", Email{
		To:      account.Email,
		Subject: "Your account has been temporarily locked",
		HTML:    body,
	})
}

func (e *Engine) notifyPasswordChanged(account *Account) {
	body := fmt.Sprintf(
		"<p>Hello %s,</p>"+
			"<p>Your password was just changed. If you did not do this, contact the clinic immediately.</p>",
		account.Name,
	)
	e.sendMail("password_changed", Email{
		To:      account.Email,
		Subject: "Your password was changed",
		HTML:    body,
	})
}

func (e *Engine) sendVerificationMail(account *Account, verifyToken string) {
	body := fmt.Sprintf(
		"<p>Hello %s,</p>"+
			"<p>Welcome to BrightDent. Use the code below to verify your email address:</p>"+
			"<p><strong>%s</strong></p>"+
			"<p>The code expires in %s.</p>",
		account.Name, verifyToken, e.config.Challenge.VerifyTTL,
	)
	e.sendMail("email_verification", Email{
		To:      account.Email,
		Subject: "Verify your email address",
		HTML:    body,
	})
}

func (e *Engine) sendResetMail(account *Account, resetToken string) {
	body := fmt.Sprintf(
		"<p>Hello %s,</p>"+
			"<p>A password reset was requested for your account. Use the code below to choose a new password:</p>"+
			"<p><strong>%s</strong></p>"+
			"<p>The code expires in %s. If you did not request this, you can ignore this email.</p>",
		account.Name, resetToken, e.config.Challenge.ResetTTL,
	)
	e.sendMail("password_reset", Email{
		To:      account.Email,
		Subject: "Reset your password",
		HTML:    body,
	})
}
