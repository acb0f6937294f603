package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

const (
	testSecret = "unit-test-secret"
	testIssuer = "shopnest-accounts"
)

func newTestAuthenticator(t *testing.T, now time.Time) *Authenticator {
	t.Helper()
	authn, err := NewAuthenticator(AuthenticatorConfig{
		Secret: testSecret,
		Issuer: testIssuer,
		Clock:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewAuthenticator returned error: %v", err)
	}
	return authn
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("signing token failed: %v", err)
	}
	return token
}

func TestVerifyReturnsIdentity(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	authn := newTestAuthenticator(t, now)
	raw := signToken(t, testSecret, jwt.MapClaims{
		"iss":          testIssuer,
		"sub":          "cust-1",
		"email":        "jane@example.com",
		"phone_number": "254712345678",
		"exp":          now.Add(time.Hour).Unix(),
	})

	identity, err := authn.Verify(raw)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if identity.UID != "cust-1" || identity.Email != "jane@example.com" || identity.Phone != "254712345678" {
		t.Errorf("unexpected identity %+v", identity)
	}
}

func TestVerifyRejections(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	authn := newTestAuthenticator(t, now)

	tests := []struct {
		name  string
		token string
	}{
		{
			name: "bad signature",
			token: signToken(t, "some-other-secret", jwt.MapClaims{
				"iss": testIssuer, "sub": "cust-1", "exp": now.Add(time.Hour).Unix(),
			}),
		},
		{
			name: "wrong issuer",
			token: signToken(t, testSecret, jwt.MapClaims{
				"iss": "somebody-else", "sub": "cust-1", "exp": now.Add(time.Hour).Unix(),
			}),
		},
		{
			name: "missing subject",
			token: signToken(t, testSecret, jwt.MapClaims{
				"iss": testIssuer, "exp": now.Add(time.Hour).Unix(),
			}),
		},
		{
			name: "expired",
			token: signToken(t, testSecret, jwt.MapClaims{
				"iss": testIssuer, "sub": "cust-1", "exp": now.Add(-time.Minute).Unix(),
			}),
		},
		{
			name: "missing expiry",
			token: signToken(t, testSecret, jwt.MapClaims{
				"iss": testIssuer, "sub": "cust-1",
			}),
		},
		{name: "garbage", token: "not.a.token"},
		{name: "empty", token: ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := authn.Verify(tc.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}

func TestVerifyHonoursInjectedClock(t *testing.T) {
	issued := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	raw := signToken(t, testSecret, jwt.MapClaims{
		"iss": testIssuer, "sub": "cust-1", "exp": issued.Add(time.Hour).Unix(),
	})

	fresh := newTestAuthenticator(t, issued.Add(30*time.Minute))
	if _, err := fresh.Verify(raw); err != nil {
		t.Fatalf("expected token valid at injected time, got %v", err)
	}

	stale := newTestAuthenticator(t, issued.Add(2*time.Hour))
	if _, err := stale.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected expiry at injected time, got %v", err)
	}
}

func TestRequireAuthWithoutToken(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	authn := newTestAuthenticator(t, now)

	handler := authn.RequireAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler should not run without a token")
	}))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}

func TestOptionalAuthPassthrough(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	authn := newTestAuthenticator(t, now)

	ran := false
	handler := authn.OptionalAuth()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		ran = true
		if _, ok := IdentityFromContext(r.Context()); ok {
			t.Error("expected no identity for an anonymous request")
		}
	}))

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if !ran {
		t.Fatal("expected anonymous request to pass through")
	}
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestOptionalAuthAttachesIdentity(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	authn := newTestAuthenticator(t, now)
	raw := signToken(t, testSecret, jwt.MapClaims{
		"iss": testIssuer, "sub": "cust-1", "exp": now.Add(time.Hour).Unix(),
	})

	handler := authn.OptionalAuth()(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		identity, ok := IdentityFromContext(r.Context())
		if !ok || identity.UID != "cust-1" {
			t.Errorf("expected identity cust-1, got %+v ok=%v", identity, ok)
		}
	}))

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+raw)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
}

func TestOptionalAuthRejectsInvalidToken(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 0, 0, 0, time.UTC)
	authn := newTestAuthenticator(t, now)

	handler := authn.OptionalAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("handler should not run with a bad token")
	}))

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	req.Header.Set("Authorization", "Bearer not.a.token")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", rr.Code)
	}
}
