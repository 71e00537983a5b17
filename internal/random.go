// Package internal holds helpers that are intentionally private to
// clinicauth: secure random generation for session identifiers, backup
// codes, and challenge tokens.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"math/big"
	"strings"
)

// SessionID is a 16-byte unguessable session identifier.
type SessionID [16]byte

// NewSessionID returns a cryptographically random session identifier.
func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

// String renders the identifier as compact unpadded base64url.
func (s SessionID) String() string {
	return base64.RawURLEncoding.EncodeToString(s[:])
}

// Backup codes use an unambiguous uppercase alphabet (no 0/O, 1/I/L) so
// they survive being read aloud or typed from paper.
const backupCodeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// NewBackupCode returns one high-entropy human-typable code of the given
// length, formatted with a hyphen at the midpoint (e.g. "K3TP-9XWM").
func NewBackupCode(length int) (string, error) {
	if length < 4 {
		length = 4
	}
	var b strings.Builder
	max := big.NewInt(int64(len(backupCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(backupCodeAlphabet[n.Int64()])
	}
	code := b.String()
	mid := length / 2
	return code[:mid] + "-" + code[mid:], nil
}

// CanonicalizeBackupCode strips formatting and case so comparison is
// exact-match over the raw alphabet.
func CanonicalizeBackupCode(code string) string {
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return strings.ToUpper(code)
}

// NewChallengeToken returns a random token for email-verification and
// password-reset links, plus the hex SHA-256 digest stored server-side.
func NewChallengeToken() (token string, digest string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", err
	}
	token = base64.RawURLEncoding.EncodeToString(raw)
	return token, HashChallengeToken(token), nil
}

// HashChallengeToken digests a challenge token for storage and lookup.
func HashChallengeToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
