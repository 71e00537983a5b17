// Package password wraps bcrypt hashing and the advisory password
// strength policy. The hash never leaves this boundary except as an
// opaque string for storage.
package password

import (
	"errors"
	"strings"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost used when none is configured.
const DefaultCost = 12

// Config parameterizes a [Hasher].
type Config struct {
	Cost      int
	MinLength int
}

// Hasher performs slow, salted one-way password hashing. It is immutable
// after creation and safe for concurrent use.
type Hasher struct {
	config Config
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Cost == 0 {
		cfg.Cost = DefaultCost
	}
	if cfg.Cost < bcrypt.MinCost || cfg.Cost > bcrypt.MaxCost {
		return nil, errors.New("bcrypt cost out of range")
	}
	if cfg.MinLength <= 0 {
		cfg.MinLength = 8
	}
	return &Hasher{config: cfg}, nil
}

// Hash computes the bcrypt hash of plain. The caller persists the result.
func (h *Hasher) Hash(plain string) (string, error) {
	if plain == "" {
		return "", errors.New("empty password")
	}
	out, err := bcrypt.GenerateFromPassword([]byte(plain), h.config.Cost)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Verify compares plain against hash. A mismatch returns (false, nil);
// only a malformed hash produces an error.
func (h *Hasher) Verify(plain, hash string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, err
}

// Strength names for the per-rule breakdown returned by [Hasher.CheckStrength].
const (
	CheckMinLength = "min_length"
	CheckUppercase = "uppercase"
	CheckLowercase = "lowercase"
	CheckDigit     = "digit"
	CheckSpecial   = "special"
	CheckNotCommon = "not_common"
)

// Strength is the advisory strength breakdown for a candidate password.
// Valid requires at least 5 of the 6 checks to pass; callers enforce it as
// a hard gate at registration and password change.
type Strength struct {
	Valid  bool            `json:"valid"`
	Score  int             `json:"score"`
	Checks map[string]bool `json:"checks"`
}

// Small deny list of passwords seen constantly in credential dumps. This
// is a speed bump, not a breach database.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"password123": {},
	"12345678":    {},
	"123456789":   {},
	"qwerty123":   {},
	"letmein":     {},
	"iloveyou":    {},
	"admin123":    {},
	"welcome1":    {},
}

// CheckStrength evaluates candidate against the six strength rules and
// returns the per-rule breakdown.
func (h *Hasher) CheckStrength(candidate string) Strength {
	checks := map[string]bool{
		CheckMinLength: len(candidate) >= h.config.MinLength,
		CheckUppercase: false,
		CheckLowercase: false,
		CheckDigit:     false,
		CheckSpecial:   false,
		CheckNotCommon: true,
	}

	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			checks[CheckUppercase] = true
		case unicode.IsLower(r):
			checks[CheckLowercase] = true
		case unicode.IsDigit(r):
			checks[CheckDigit] = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			checks[CheckSpecial] = true
		}
	}

	if _, found := commonPasswords[strings.ToLower(candidate)]; found {
		checks[CheckNotCommon] = false
	}

	score := 0
	for _, ok := range checks {
		if ok {
			score++
		}
	}

	return Strength{
		Valid:  score >= 5,
		Score:  score,
		Checks: checks,
	}
}
