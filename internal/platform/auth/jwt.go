package auth

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

var (
	// ErrTokenMissing means the request carried no token at all.
	ErrTokenMissing = errors.New("auth: token missing")
	// ErrTokenExpired means the token verified but its exp claim has passed.
	ErrTokenExpired = errors.New("auth: token expired")
	// ErrTokenInvalid covers bad signatures, unexpected algorithms and malformed tokens.
	ErrTokenInvalid = errors.New("auth: token invalid")
)

// HS256Verifier checks tokens signed with a shared secret. Only HS256 is accepted.
type HS256Verifier struct {
	key    []byte
	parser *jwt.Parser
}

// NewHS256Verifier builds a verifier from a base64 encoded secret. Both padded and
// unpadded encodings are accepted.
func NewHS256Verifier(secretBase64 string) (*HS256Verifier, error) {
	secret := strings.TrimSpace(secretBase64)
	if secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	key, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		key, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(secret, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("auth: jwt secret is not valid base64: %w", err)
	}
	if len(key) == 0 {
		return nil, errors.New("auth: jwt secret decodes to an empty key")
	}
	return &HS256Verifier{
		key:    key,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

// Verify parses and validates raw, returning the caller identity.
func (v *HS256Verifier) Verify(raw string) (*Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrTokenMissing
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.key, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	identity := &Identity{Claims: map[string]any(claims)}
	identity.Subject = identity.Claim("sub")
	return identity, nil
}
