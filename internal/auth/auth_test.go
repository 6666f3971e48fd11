package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const testSecret = "relay-test-secret"

func signToken(t *testing.T, secret, sub, role string, exp time.Time) string {
	t.Helper()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestJWTVerifierAcceptsValidToken(t *testing.T) {
	verifier, err := NewJWTVerifier(VerifierConfig{Secret: testSecret})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	token := signToken(t, testSecret, "agent-7", "Agent", time.Now().Add(time.Hour))
	actor, err := verifier.VerifyAuthorization("Bearer " + token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if actor != Agent("agent-7") {
		t.Fatalf("unexpected actor: %+v", actor)
	}
}

func TestJWTVerifierRejectsBadTokens(t *testing.T) {
	verifier, _ := NewJWTVerifier(VerifierConfig{Secret: testSecret})
	cases := map[string]string{
		"wrong secret": "Bearer " + signToken(t, "other", "u1", "requester", time.Now().Add(time.Hour)),
		"expired":      "Bearer " + signToken(t, testSecret, "u1", "requester", time.Now().Add(-time.Hour)),
		"unknown role": "Bearer " + signToken(t, testSecret, "u1", "owner", time.Now().Add(time.Hour)),
		"empty sub":    "Bearer " + signToken(t, testSecret, "", "admin", time.Now().Add(time.Hour)),
	}
	for name, header := range cases {
		if _, err := verifier.VerifyAuthorization(header); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
	if _, err := verifier.VerifyAuthorization(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if _, err := verifier.VerifyAuthorization("Basic abc"); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken for non-bearer, got %v", err)
	}
}

func TestMiddlewareInjectsActor(t *testing.T) {
	verifier, _ := NewJWTVerifier(VerifierConfig{Secret: testSecret})
	var seen Actor
	handler := Middleware(verifier, MiddlewareConfig{Public: map[string]bool{"/healthz": true}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = ActorFromContext(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, "req-1", "requester", time.Now().Add(time.Minute)))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if seen != Requester("req-1") {
		t.Fatalf("actor not injected: %+v", seen)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("public path should bypass auth, got %d", rec.Code)
	}
}
