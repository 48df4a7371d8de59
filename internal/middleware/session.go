// Package middleware provides HTTP middlewares for sessions and logging.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/xaenox/memo-web/internal/auth"
)

// CookieName is the cookie carrying the session token.
const CookieName = "token"

type ctxKey string

const actorKey ctxKey = "actor"

// ActorResolver turns a session token into an actor.
type ActorResolver interface {
	ResolveActor(ctx context.Context, token string) auth.Actor
}

// Session resolves the actor behind the request's token and stores it in
// the request context. Requests without a usable token continue as
// anonymous; handlers decide whether that is allowed.
func Session(resolver ActorResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor := resolver.ResolveActor(r.Context(), TokenFromRequest(r))
			ctx := context.WithValue(r.Context(), actorKey, actor)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// TokenFromRequest reads the session token from the Authorization header or,
// failing that, the token cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// ActorFromContext returns the actor stored by Session, or auth.Anonymous.
func ActorFromContext(ctx context.Context) auth.Actor {
	if actor, ok := ctx.Value(actorKey).(auth.Actor); ok {
		return actor
	}
	return auth.Anonymous
}
