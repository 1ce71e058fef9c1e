// Package authz holds the pure authorization predicates used by the bus.
//
// Two role shapes coexist and are deliberately kept separate: AllowRoles
// checks membership in an unordered per-operation allow-list over the full
// nine-role set, while AtLeast compares positions in a five-level ranked
// hierarchy. Operations document which shape they use; do not unify them.
package authz

import (
	"fmt"

	"deskline/internal/domain"
)

// ForbiddenError indicates a failed authorization predicate.
type ForbiddenError struct {
	Op     string
	Reason string
}

func (e ForbiddenError) Error() string {
	if e.Op == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// TenantRequiredError indicates a tenant-scoped operation invoked by an
// actor without a tenant.
type TenantRequiredError struct {
	Op string
}

func (e TenantRequiredError) Error() string {
	return fmt.Sprintf("%s: actor must belong to a tenant", e.Op)
}

// Predicate decides whether an actor may use an operation. Predicates are
// pure; they never touch I/O.
type Predicate func(domain.Actor) bool

// hierarchy is the five-level ranked order, lowest to highest. Roles outside
// it rank -1 and never pass an AtLeast check.
var hierarchy = []domain.Role{
	domain.RoleTenantUser,
	domain.RoleTenantAdmin,
	domain.RoleManager,
	domain.RoleAdmin,
	domain.RoleSuperAdmin,
}

// Rank returns the position of a role in the hierarchy, or -1 when the role
// is not part of it.
func Rank(r domain.Role) int {
	for i, h := range hierarchy {
		if h == r {
			return i
		}
	}
	return -1
}

// AllowRoles builds a predicate passing only the listed roles.
func AllowRoles(roles ...domain.Role) Predicate {
	allowed := make(map[domain.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(a domain.Actor) bool {
		_, ok := allowed[a.Role]
		return ok
	}
}

// AtLeast builds a predicate passing actors whose role ranks at or above the
// required role. Both roles must be in the hierarchy; anything else fails
// closed.
func AtLeast(required domain.Role) Predicate {
	need := Rank(required)
	return func(a domain.Actor) bool {
		have := Rank(a.Role)
		return need >= 0 && have >= 0 && have >= need
	}
}

// RequireTenant fails closed when the actor carries no tenant. Used
// independently of role checks for operations that only make sense inside
// an organization.
func RequireTenant(a domain.Actor) error {
	if !a.Tenanted() {
		return TenantRequiredError{}
	}
	return nil
}

// And combines predicates; all must pass.
func And(preds ...Predicate) Predicate {
	return func(a domain.Actor) bool {
		for _, p := range preds {
			if !p(a) {
				return false
			}
		}
		return true
	}
}
