package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/shopnest/api/internal/platform/httpx"
)

// ErrInvalidToken indicates the bearer token failed signature or claim checks.
var ErrInvalidToken = errors.New("auth: invalid token")

// Authenticator verifies HMAC-signed customer bearer tokens issued by the
// account service. User management itself lives outside this API; only token
// verification happens here.
type Authenticator struct {
	secret []byte
	issuer string
	clock  func() time.Time
}

// AuthenticatorConfig configures token verification.
type AuthenticatorConfig struct {
	Secret string
	Issuer string
	Clock  func() time.Time
}

// NewAuthenticator constructs an Authenticator from the supplied configuration.
func NewAuthenticator(cfg AuthenticatorConfig) (*Authenticator, error) {
	secret := strings.TrimSpace(cfg.Secret)
	if secret == "" {
		return nil, errors.New("auth: signing secret is required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Authenticator{
		secret: []byte(secret),
		issuer: strings.TrimSpace(cfg.Issuer),
		clock:  clock,
	}, nil
}

// Verify parses and validates a raw bearer token and returns the identity it carries.
func (a *Authenticator) Verify(raw string) (*Identity, error) {
	if a == nil {
		return nil, ErrInvalidToken
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: empty token", ErrInvalidToken)
	}

	// Claims validation is done by hand against the injected clock; the
	// parser's built-in checks only consult the process wall clock.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := jwt.MapClaims{}
	token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	now := a.clock().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return nil, fmt.Errorf("%w: token expired or missing expiry", ErrInvalidToken)
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, fmt.Errorf("%w: token not yet valid", ErrInvalidToken)
	}

	if a.issuer != "" && !claims.VerifyIssuer(a.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrInvalidToken)
	}

	subject, _ := claims["sub"].(string)
	if strings.TrimSpace(subject) == "" {
		return nil, fmt.Errorf("%w: subject claim missing", ErrInvalidToken)
	}

	identity := &Identity{UID: strings.TrimSpace(subject)}
	if email, ok := claims["email"].(string); ok {
		identity.Email = strings.TrimSpace(email)
	}
	if phone, ok := claims["phone_number"].(string); ok {
		identity.Phone = strings.TrimSpace(phone)
	}
	return identity, nil
}

// RequireAuth rejects requests without a valid bearer token.
func (a *Authenticator) RequireAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, err := a.identityFromRequest(r)
			if err != nil {
				httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "a valid bearer token is required", http.StatusUnauthorized))
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// OptionalAuth attaches an identity when a valid bearer token is present and
// lets anonymous requests through untouched. Guest checkout depends on this.
func (a *Authenticator) OptionalAuth() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := bearerToken(r); raw != "" {
				identity, err := a.Verify(raw)
				if err != nil {
					httpx.WriteError(r.Context(), w, httpx.NewError("unauthenticated", "bearer token is invalid", http.StatusUnauthorized))
					return
				}
				r = r.WithContext(WithIdentity(r.Context(), identity))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (a *Authenticator) identityFromRequest(r *http.Request) (*Identity, error) {
	raw := bearerToken(r)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	return a.Verify(raw)
}

func bearerToken(r *http.Request) string {
	if r == nil {
		return ""
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
