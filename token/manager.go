// Package token mints and verifies the signed, time-bounded access and
// refresh tokens used by the clinic auth engine. Verification is stateless:
// signature, expiry, issuer, audience, and the embedded type tag are all
// checked against the token itself.
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Type tags embedded in every token. A token presented to an endpoint
// expecting the other type fails with [ErrWrongType], distinct from
// signature or expiry failures.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	// ErrInvalid is returned for malformed tokens, bad signatures, and
	// issuer/audience mismatches.
	ErrInvalid = errors.New("invalid token")
	// ErrExpired is returned for structurally valid tokens past expiry.
	// Clients holding a refresh token may silently refresh on this error.
	ErrExpired = errors.New("token expired")
	// ErrWrongType is returned when the type tag does not match the
	// endpoint's expectation.
	ErrWrongType = errors.New("invalid token type")
)

// Config parameterizes a [Manager].
type Config struct {
	SigningKey []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Issuer     string
	Audience   string
}

// Manager issues and verifies token pairs. It is immutable after creation
// and safe for concurrent use.
type Manager struct {
	config Config
}

// Claims is the claim set carried by both token types. Role and SessionID
// are populated only on access tokens.
type Claims struct {
	Role      string `json:"role,omitempty"`
	SessionID string `json:"sid,omitempty"`
	TokenType string `json:"typ"`
	jwt.RegisteredClaims
}

// AccountID returns the subject claim.
func (c *Claims) AccountID() string {
	return c.Subject
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.SigningKey) < 32 {
		return nil, errors.New("signing key must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Issuer == "" || cfg.Audience == "" {
		return nil, errors.New("issuer and audience are required")
	}
	return &Manager{config: cfg}, nil
}

// Pair is one freshly minted access/refresh pair.
type Pair struct {
	Access  string
	Refresh string
}

// IssuePair mints an access token bound to the session and a refresh token
// bound only to the account. Each carries a random jti for future
// revocation tracking.
func (m *Manager) IssuePair(accountID, role, sessionID string) (*Pair, error) {
	now := time.Now()

	access, err := m.sign(Claims{
		Role:      role,
		SessionID: sessionID,
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ID:        uuid.NewString(),
			Issuer:    m.config.Issuer,
			Audience:  jwt.ClaimStrings{m.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.AccessTTL)),
		},
	})
	if err != nil {
		return nil, err
	}

	refresh, err := m.sign(Claims{
		TokenType: TypeRefresh,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			ID:        uuid.NewString(),
			Issuer:    m.config.Issuer,
			Audience:  jwt.ClaimStrings{m.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.RefreshTTL)),
		},
	})
	if err != nil {
		return nil, err
	}

	return &Pair{Access: access, Refresh: refresh}, nil
}

func (m *Manager) sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.config.SigningKey)
}

// Verify parses and validates tokenStr and requires its type tag to equal
// expectedType. Expiry is evaluated against wall-clock time at
// verification; no custom skew tolerance is applied.
func (m *Manager) Verify(tokenStr, expectedType string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithAudience(m.config.Audience),
		jwt.WithExpirationRequired(),
	)

	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return m.config.SigningKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}
	if claims.TokenType != expectedType {
		return nil, ErrWrongType
	}
	return claims, nil
}
