package shared

import (
	"context"
	"net/http"
	"strconv"
)

type contextKey string

const actorContextKey contextKey = "actor"

// ActorHeader carries the authenticated caller identity resolved by the
// upstream gateway. Role gating happens there; this service only stamps
// created_by / approved_by from it.
const ActorHeader = "X-Actor-ID"

// ContextWithActor stores the actor id in the context.
func ContextWithActor(ctx context.Context, actorID int64) context.Context {
	return context.WithValue(ctx, actorContextKey, actorID)
}

// ActorFromContext returns the actor id, or zero when unauthenticated.
func ActorFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(actorContextKey).(int64); ok {
		return id
	}
	return 0
}

// ActorMiddleware extracts the actor header into the request context.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if raw := r.Header.Get(ActorHeader); raw != "" {
			if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
				r = r.WithContext(ContextWithActor(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}
