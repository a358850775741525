package auth

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("products-api-test-secret")

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return token
}

func newTestAuthenticator(t *testing.T) *Authenticator {
	t.Helper()
	verifier, err := NewHS256Verifier(base64.StdEncoding.EncodeToString(testSecret))
	if err != nil {
		t.Fatalf("NewHS256Verifier: %v", err)
	}
	return NewAuthenticator(verifier)
}

func serve(t *testing.T, authn *Authenticator, req *http.Request) (*httptest.ResponseRecorder, *Identity) {
	t.Helper()
	var seen *Identity
	handler := authn.RequireJWT(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		seen = identity
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireJWTAcceptsTokenLocations(t *testing.T) {
	authn := newTestAuthenticator(t)
	token := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"sub": "svc-catalog"})

	bearer := httptest.NewRequest(http.MethodGet, "/products/1", nil)
	bearer.Header.Set("Authorization", "Bearer "+token)

	raw := httptest.NewRequest(http.MethodGet, "/products/1", nil)
	raw.Header.Set("Authorization", token)

	query := httptest.NewRequest(http.MethodGet, "/products/1?token="+token, nil)

	for name, req := range map[string]*http.Request{"bearer": bearer, "raw header": raw, "query": query} {
		rec, identity := serve(t, authn, req)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("%s: expected 204, got %d: %s", name, rec.Code, rec.Body.String())
		}
		if identity == nil || identity.Subject != "svc-catalog" {
			t.Fatalf("%s: unexpected identity %#v", name, identity)
		}
	}
}

func TestRequireJWTAcceptsEmptyClaims(t *testing.T) {
	authn := newTestAuthenticator(t)
	req := httptest.NewRequest(http.MethodGet, "/products/1", nil)
	req.Header.Set("Authorization", signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{}))

	rec, identity := serve(t, authn, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if identity.Subject != "" {
		t.Fatalf("expected empty subject, got %q", identity.Subject)
	}
}

func TestRequireJWTRejections(t *testing.T) {
	authn := newTestAuthenticator(t)
	expired := signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
	wrongAlg := signToken(t, jwt.SigningMethodHS512, testSecret, jwt.MapClaims{})
	wrongKey := signToken(t, jwt.SigningMethodHS256, []byte("another-secret"), jwt.MapClaims{})
	unsigned := signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{})

	tests := []struct {
		name        string
		header      string
		wantCode    string
		wantMessage string
	}{
		{name: "missing", header: "", wantCode: "unauthenticated", wantMessage: "Missing authentication"},
		{name: "expired", header: expired, wantCode: "token_expired", wantMessage: "Token expired"},
		{name: "wrong algorithm", header: wrongAlg, wantCode: "invalid_token", wantMessage: "Invalid token"},
		{name: "wrong key", header: "Bearer " + wrongKey, wantCode: "invalid_token", wantMessage: "Invalid token"},
		{name: "alg none", header: unsigned, wantCode: "invalid_token", wantMessage: "Invalid token"},
		{name: "garbage", header: "Bearer not.a.jwt", wantCode: "invalid_token", wantMessage: "Invalid token"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/products/1", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			handler := authn.RequireJWT(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				t.Fatalf("handler must not run")
			}))
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["error"] != tc.wantCode || body["message"] != tc.wantMessage {
				t.Fatalf("unexpected body %v", body)
			}
		})
	}
}

func TestNewHS256VerifierSecrets(t *testing.T) {
	if _, err := NewHS256Verifier(""); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	if _, err := NewHS256Verifier("***"); err == nil {
		t.Fatalf("expected error for invalid base64")
	}
	unpadded := base64.RawStdEncoding.EncodeToString(testSecret)
	verifier, err := NewHS256Verifier(unpadded)
	if err != nil {
		t.Fatalf("NewHS256Verifier unpadded: %v", err)
	}
	if _, err := verifier.Verify(signToken(t, jwt.SigningMethodHS256, testSecret, jwt.MapClaims{})); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestAllowAnonymous(t *testing.T) {
	var subject string
	handler := AllowAnonymous(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ := IdentityFromContext(r.Context())
		subject = identity.Subject
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if subject != "anonymous" {
		t.Fatalf("expected anonymous identity, got %q", subject)
	}
}
