package shared

import (
	"context"
	"strings"
)

// Role enumerates the trust tiers recognised by the attendance core.
type Role string

const (
	RoleEmployee   Role = "employee"
	RoleSupervisor Role = "supervisor"
	RoleHRManager  Role = "hr_manager"
	RolePayroll    Role = "payroll"
	RoleAdmin      Role = "admin"
	RoleSystem     Role = "system"
)

// ParseRole normalises a role string, returning false when unknown.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case RoleEmployee, RoleSupervisor, RoleHRManager, RolePayroll, RoleAdmin, RoleSystem:
		return role, true
	default:
		return "", false
	}
}

// Actor identifies who performs an action.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// SystemActor is used by scheduled batches.
var SystemActor = Actor{ID: "scheduler", Role: RoleSystem}

// HasAny reports whether the actor holds one of the roles.
func (a Actor) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if a.Role == r {
			return true
		}
	}
	return false
}

type actorContextKey struct{}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	return actor, ok && actor.ID != ""
}
