// Package auth mints and verifies identity tokens for session membership.
//
// Tokens are HMAC-signed JWTs carrying a client identity and display name.
// A relay configured with the shared signing key verifies tokens during the
// join handshake; relays without a key accept anonymous guests.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/omniscript/internal/platform/errors"
)

// Issuer identifies tokens minted by this module.
const Issuer = "omniscript"

// DefaultTTL is how long a minted identity token stays valid.
const DefaultTTL = 24 * time.Hour

// Identity captures the validated claims of an identity token.
type Identity struct {
	ID          string
	DisplayName string
	ExpiresAt   time.Time
}

// tokenClaims is the internal claims type used for JWT parsing.
type tokenClaims struct {
	jwt.RegisteredClaims
	DisplayName string `json:"display_name"`
}

// Signer mints and verifies identity tokens with a shared HMAC key.
type Signer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewSigner creates a signer from a shared key. A nil now defaults to
// time.Now.
func NewSigner(key []byte, now func() time.Time) (*Signer, error) {
	if len(key) == 0 {
		return nil, errors.New("signing key is required")
	}
	if now == nil {
		now = time.Now
	}
	return &Signer{key: key, ttl: DefaultTTL, now: now}, nil
}

// Mint issues a signed identity token for the given identity and display
// name.
func (s *Signer) Mint(identity, displayName string) (string, error) {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return "", errors.New("identity is required")
	}
	issued := s.now().UTC()
	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   identity,
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(s.ttl)),
		},
		DisplayName: displayName,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign identity token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a token, returning the identity it carries.
func (s *Signer) Verify(token string) (Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Identity{}, apperrors.New(apperrors.CodeAuthTokenInvalid, "identity token is required")
	}

	var parsed tokenClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(t *jwt.Token) (any, error) {
		return s.key, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Identity{}, mapJWTError(err)
	}

	if parsed.Issuer != Issuer {
		return Identity{}, apperrors.New(apperrors.CodeAuthTokenInvalid, "identity token issuer mismatch")
	}
	if strings.TrimSpace(parsed.Subject) == "" {
		return Identity{}, apperrors.New(apperrors.CodeAuthTokenInvalid, "identity token sub is required")
	}
	if parsed.ExpiresAt == nil {
		return Identity{}, apperrors.New(apperrors.CodeAuthTokenInvalid, "identity token exp is required")
	}

	now := s.now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Identity{}, apperrors.New(apperrors.CodeAuthTokenExpired, "identity token is expired")
	}

	return Identity{
		ID:          parsed.Subject,
		DisplayName: parsed.DisplayName,
		ExpiresAt:   exp,
	}, nil
}

// mapJWTError translates jwt library errors to domain errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
		return apperrors.New(apperrors.CodeAuthTokenInvalid, "identity token signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeAuthTokenInvalid, "identity token alg is invalid")
	}
	return apperrors.New(apperrors.CodeAuthTokenInvalid, "identity token is invalid")
}
