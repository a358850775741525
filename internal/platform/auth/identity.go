package auth

import (
	"context"
	"strings"
)

// Identity is the authenticated caller extracted from a verified token.
type Identity struct {
	Subject string
	Claims  map[string]any
}

// Claim returns the trimmed string claim name, or "".
func (i *Identity) Claim(name string) string {
	if i == nil || i.Claims == nil {
		return ""
	}
	s, _ := i.Claims[name].(string)
	return strings.TrimSpace(s)
}

type identityKey struct{}

// WithIdentity stores the identity within the context for downstream handlers.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

// IdentityFromContext retrieves the identity previously stored in context.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(*Identity)
	if !ok || identity == nil {
		return nil, false
	}
	return identity, true
}
