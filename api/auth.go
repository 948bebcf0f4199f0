/*
auth.go - Actor extraction and capability checks

FLOW:
  request ──► authenticate ──► require(op) ──► handler ──► service
                  │                 │
                  │                 └─ access.Policy.Check → 403
                  └─ Bearer JWT (HS256, JWT_SECRET) → ledger.Actor, else 401

TOKEN CLAIMS:
  sub   actor id (stored on movements, payments and audit entries)
  role  capability role: admin | manager | staff | custom
  exp   required

AUTH_DISABLED:
  Development only. The actor comes from X-Actor-ID / X-Actor-Role and
  defaults to "dev" / admin.
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/warp/backoffice/access"
	"github.com/warp/backoffice/ledger"
)

// Claims is the bearer token payload.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type actorKey struct{}

// ActorFrom returns the authenticated actor of the request.
func ActorFrom(ctx context.Context) ledger.Actor {
	a, _ := ctx.Value(actorKey{}).(ledger.Actor)
	return a
}

func withActor(ctx context.Context, a ledger.Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// IssueToken signs a token for actor, valid for ttl.
func IssueToken(secret string, actor ledger.Actor, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func parseToken(secret, raw string) (ledger.Actor, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return ledger.Actor{}, err
	}
	if !token.Valid || claims.Subject == "" || claims.ExpiresAt == nil {
		return ledger.Actor{}, fmt.Errorf("token missing sub or exp")
	}
	return ledger.Actor{ID: claims.Subject, Role: claims.Role}, nil
}

// authenticate resolves the actor and stores it on the request context.
func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.auth.Disabled {
			actor := ledger.Actor{ID: r.Header.Get("X-Actor-ID"), Role: r.Header.Get("X-Actor-Role")}
			if actor.ID == "" {
				actor.ID = "dev"
			}
			if actor.Role == "" {
				actor.Role = access.RoleAdmin
			}
			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
			return
		}

		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			h.fail(w, r, "authenticate", fmt.Errorf("%w: missing bearer token", errUnauthorized))
			return
		}
		actor, err := parseToken(h.auth.JWTSecret, raw)
		if err != nil {
			h.fail(w, r, "authenticate", fmt.Errorf("%w: %v", errUnauthorized, err))
			return
		}
		next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
	})
}

// require rejects the request unless the actor holds op.
func (h *Handler) require(op access.Operation) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := h.Policy.Check(ActorFrom(r.Context()), op); err != nil {
				h.fail(w, r, string(op), err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
