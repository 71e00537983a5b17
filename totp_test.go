package clinicauth

import (
	"strings"
	"testing"
	"time"
)

// RFC 6238 appendix B test vectors, truncated to 6 digits, SHA-1.
func TestTOTP_ReferenceVectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	vectors := []struct {
		at   int64
		code string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}

	m := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 0})
	for _, v := range vectors {
		ok, err := m.VerifyCode(secret, v.code, time.Unix(v.at, 0))
		if err != nil {
			t.Fatalf("VerifyCode(%d) error: %v", v.at, err)
		}
		if !ok {
			t.Errorf("VerifyCode(%d, %s) = false, want true", v.at, v.code)
		}
	}
}

func TestTOTP_SkewTolerance(t *testing.T) {
	secret := []byte("12345678901234567890")
	now := time.Unix(1234567890, 0)

	// Code from one step earlier.
	previous, err := hotpCode(secret, now.Unix()/30-1, 6, "SHA1")
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}

	strict := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 0})
	if ok, _ := strict.VerifyCode(secret, previous, now); ok {
		t.Fatal("skew 0 must reject the previous step")
	}

	loose := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 1})
	if ok, _ := loose.VerifyCode(secret, previous, now); !ok {
		t.Fatal("skew 1 must accept the previous step")
	}
}

func TestTOTP_RejectsMalformedInput(t *testing.T) {
	secret := []byte("12345678901234567890")
	m := newTOTPManager(TOTPConfig{Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 1})
	now := time.Now()

	for _, code := range []string{"", "12345", "1234567", "12a456", "abcdef"} {
		if ok, err := m.VerifyCode(secret, code, now); err != nil || ok {
			t.Errorf("VerifyCode(%q) = (%v, %v), want (false, nil)", code, ok, err)
		}
	}
}

func TestTOTP_GenerateSecretAndURI(t *testing.T) {
	m := newTOTPManager(TOTPConfig{Issuer: "BrightDent", Digits: 6, Period: 30, Algorithm: "SHA1", Skew: 2})

	raw, encoded, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret failed: %v", err)
	}
	if len(raw) != 20 || encoded == "" {
		t.Fatalf("secret = %d bytes, encoded %q", len(raw), encoded)
	}

	uri := m.ProvisionURI(encoded, "alice@example.com")
	if !strings.HasPrefix(uri, "otpauth://totp/BrightDent:alice@example.com?") {
		t.Fatalf("uri = %q", uri)
	}
	for _, want := range []string{"secret=" + encoded, "issuer=BrightDent", "digits=6", "period=30", "algorithm=SHA1"} {
		if !strings.Contains(uri, want) {
			t.Errorf("uri missing %q: %s", want, uri)
		}
	}
}
