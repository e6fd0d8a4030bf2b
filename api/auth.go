/*
auth.go - Bearer token authentication

PURPOSE:
  Every /api route runs on behalf of an Actor recovered from an HS256
  bearer token. The subject claim is the caller's LINE user id; the role
  claim is "staff" or "tenant". Tenants act on their own records only;
  staff routes are guarded by RequireStaff.

TOKEN SHAPE:
  {"sub": "U1234...", "role": "tenant", "exp": 1735689600}

SEE ALSO:
  - server.go: where the middleware is mounted
  - cmd/server/main.go: token command for issuing staff tokens
*/
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

type Role string

const (
	RoleStaff  Role = "staff"
	RoleTenant Role = "tenant"
)

// Actor is the authenticated caller.
type Actor struct {
	Subject string
	Role    Role
}

func (a Actor) IsStaff() bool {
	return a.Role == RoleStaff
}

// Claims are the JWT claims the API understands.
type Claims struct {
	Role Role `json:"role"`
	jwt.RegisteredClaims
}

type actorKey struct{}

// ActorFrom returns the actor stored by Authenticator.Middleware.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}

// WithActor attaches an actor to ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// =============================================================================
// AUTHENTICATOR
// =============================================================================

// Authenticator signs and verifies tokens with one shared secret.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) (*Authenticator, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &Authenticator{secret: []byte(secret)}, nil
}

// Issue signs a token for subject valid for ttl.
func (a *Authenticator) Issue(subject string, role Role, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", errors.New("subject is required")
	}
	if role != RoleStaff && role != RoleTenant {
		return "", fmt.Errorf("unknown role %q", role)
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Parse verifies raw and returns its actor.
func (a *Authenticator) Parse(raw string) (Actor, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return Actor{}, err
	}
	if !tok.Valid {
		return Actor{}, errors.New("token is not valid")
	}
	if claims.Subject == "" {
		return Actor{}, errors.New("token has no subject")
	}
	if claims.Role != RoleStaff && claims.Role != RoleTenant {
		return Actor{}, fmt.Errorf("token has unknown role %q", claims.Role)
	}
	return Actor{Subject: claims.Subject, Role: claims.Role}, nil
}

// Middleware rejects requests without a valid bearer token.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 1. Extract the bearer token
		authz := strings.TrimSpace(r.Header.Get("Authorization"))
		if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
			writeError(w, http.StatusUnauthorized, "Missing bearer token", nil)
			return
		}

		// 2. Verify signature, expiry and claims
		actor, err := a.Parse(strings.TrimSpace(authz[7:]))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid token", err)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}

// RequireStaff rejects callers that are not staff.
func RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		if !ok || !actor.IsStaff() {
			writeError(w, http.StatusForbidden, "Staff only", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
