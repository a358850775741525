package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/orderable/products-api/internal/platform/observability"
	"github.com/orderable/products-api/internal/platform/requestctx"
)

// TokenQueryParam is the URL parameter accepted as an alternative to the Authorization header.
const TokenQueryParam = "token"

// Verifier validates a raw token string.
type Verifier interface {
	Verify(raw string) (*Identity, error)
}

// Authenticator wires token verification into HTTP middleware.
type Authenticator struct {
	verifier Verifier
}

// NewAuthenticator constructs an Authenticator. A nil verifier rejects every request.
func NewAuthenticator(verifier Verifier) *Authenticator {
	return &Authenticator{verifier: verifier}
}

// RequireJWT rejects requests without a valid token and stores the Identity on the context.
func (a *Authenticator) RequireJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := tokenFromRequest(r)
		if raw == "" {
			respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "Missing authentication")
			return
		}
		if a == nil || a.verifier == nil {
			respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
			return
		}

		identity, err := a.verifier.Verify(raw)
		if err != nil {
			requestctx.Logger(r.Context()).Info("token rejected", zap.Error(err))
			switch {
			case errors.Is(err, ErrTokenExpired):
				respondAuthError(w, http.StatusUnauthorized, "token_expired", "Token expired")
			case errors.Is(err, ErrTokenMissing):
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "Missing authentication")
			default:
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "Invalid token")
			}
			return
		}

		ctx := WithIdentity(r.Context(), identity)
		if identity.Subject != "" {
			logger := requestctx.Logger(ctx).With(zap.String("subject", observability.SanitizeSubject(identity.Subject)))
			ctx = requestctx.WithLogger(ctx, logger)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AllowAnonymous stores an empty identity and never rejects. Used when auth is disabled
// for local development.
func AllowAnonymous(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), &Identity{Subject: "anonymous"})))
	})
}

// tokenFromRequest reads the Authorization header, with or without the Bearer scheme,
// then falls back to the token query parameter.
func tokenFromRequest(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if scheme, rest, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(rest)
		}
		return header
	}
	return strings.TrimSpace(r.URL.Query().Get(TokenQueryParam))
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error":   code,
		"message": message,
		"status":  status,
	})
}
