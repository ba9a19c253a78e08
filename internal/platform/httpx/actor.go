package httpx

import (
	"net/http"
	"strings"

	"github.com/odyssey-erp/attendance/internal/shared"
)

// Gateway headers carrying the authenticated caller.
const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"
)

// Actor stores the gateway-supplied actor in the request context. Requests
// without a valid actor are rejected with 403.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderActorID))
		role, ok := shared.ParseRole(r.Header.Get(HeaderActorRole))
		if id == "" || !ok || role == shared.RoleSystem {
			Problem(w, http.StatusForbidden, "Forbidden", "actor headers missing or invalid")
			return
		}
		ctx := shared.ContextWithActor(r.Context(), shared.Actor{ID: id, Role: role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// CurrentActor returns the actor stored by Actor.
func CurrentActor(r *http.Request) (shared.Actor, bool) {
	return shared.ActorFromContext(r.Context())
}
