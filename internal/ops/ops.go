// Package ops registers the concrete operations served by the bus. Each
// operation states its own authorization shape: allow-list (AllowRoles) or
// ranked hierarchy (AtLeast), and tenant-aware executors filter by the
// actor's tenant whenever one is present.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"deskline/internal/authz"
	"deskline/internal/bus"
	"deskline/internal/domain"
	"deskline/internal/store"
)

// Deps are the collaborators operations execute against.
type Deps struct {
	Store store.Store
	Now   func() time.Time
	NewID func() string
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Deps) newID() string {
	if d.NewID != nil {
		return d.NewID()
	}
	return uuid.New().String()
}

// CountResult is the output of the counting queries.
type CountResult struct {
	Count int64 `json:"count"`
}

// Registry builds the full operation table. Called once at startup.
func Registry(d Deps) (*bus.Registry, error) {
	if d.Store == nil {
		return nil, errors.New("ops: store is required")
	}
	return bus.NewRegistry(
		countUsers(d),
		countTickets(d),
		countTicketsSince(d),
		createTenant(d),
		createUser(d),
		tenantAddAnalyst(d),
		getUser(d),
	)
}

// tenantScope returns the store filters for a tenant-aware query: scoped to
// the actor's tenant when present, global otherwise (internal/staff actors).
func tenantScope(actor domain.Actor) []store.Filter {
	if actor.Tenanted() {
		return []store.Filter{store.Eq("tenant_id", actor.TenantID)}
	}
	return nil
}

// countUsers uses the allow-list shape.
func countUsers(d Deps) bus.Operation {
	return bus.Operation{
		ID:          "count.users",
		Kind:        bus.KindQuery,
		TenantAware: true,
		Authorize: authz.AllowRoles(
			domain.RoleSuperAdmin, domain.RoleAdmin, domain.RoleManager, domain.RoleTenantAdmin,
		),
		Execute: func(ctx context.Context, actor domain.Actor, _ any) (any, error) {
			n, err := d.Store.Count(ctx, store.ColUsers, tenantScope(actor)...)
			if err != nil {
				return nil, err
			}
			return CountResult{Count: n}, nil
		},
	}
}

// countTickets uses the ranked hierarchy shape.
func countTickets(d Deps) bus.Operation {
	return bus.Operation{
		ID:          "count.tickets",
		Kind:        bus.KindQuery,
		TenantAware: true,
		Authorize:   authz.AtLeast(domain.RoleTenantAdmin),
		Execute: func(ctx context.Context, actor domain.Actor, _ any) (any, error) {
			n, err := d.Store.Count(ctx, store.ColTickets, tenantScope(actor)...)
			if err != nil {
				return nil, err
			}
			return CountResult{Count: n}, nil
		},
	}
}

type sinceInput struct {
	Since string `json:"since"`
}

func parseSince(raw json.RawMessage) (any, error) {
	var in sinceInput
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &in); err != nil {
			return nil, errors.New("INVALID_SINCE")
		}
	}
	if in.Since == "" {
		return nil, errors.New("INVALID_SINCE")
	}
	ts, err := time.Parse(time.RFC3339, in.Since)
	if err != nil {
		ts, err = time.Parse("2006-01-02", in.Since)
		if err != nil {
			return nil, errors.New("INVALID_SINCE")
		}
	}
	return ts.UTC(), nil
}

func countTicketsSince(d Deps) bus.Operation {
	return bus.Operation{
		ID:          "count.ticketsSince",
		Kind:        bus.KindQuery,
		TenantAware: true,
		Authorize:   authz.AtLeast(domain.RoleManager),
		Parse:       parseSince,
		Execute: func(ctx context.Context, actor domain.Actor, input any) (any, error) {
			since, ok := input.(time.Time)
			if !ok {
				return nil, fmt.Errorf("unexpected input type %T", input)
			}
			filters := append(tenantScope(actor), store.Gte("created_at", since.Format(time.RFC3339)))
			n, err := d.Store.Count(ctx, store.ColTickets, filters...)
			if err != nil {
				return nil, err
			}
			return CountResult{Count: n}, nil
		},
	}
}

type createTenantInput struct {
	Name string `json:"name"`
}

func createTenant(d Deps) bus.Operation {
	return bus.Operation{
		ID:        "create.tenant",
		Kind:      bus.KindAction,
		Authorize: authz.AllowRoles(domain.RoleSuperAdmin, domain.RoleAdmin),
		Parse: func(raw json.RawMessage) (any, error) {
			var in createTenantInput
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &in); err != nil {
					return nil, errors.New("NAME_REQUIRED")
				}
			}
			if in.Name == "" {
				return nil, errors.New("NAME_REQUIRED")
			}
			return in, nil
		},
		Execute: func(ctx context.Context, actor domain.Actor, input any) (any, error) {
			in := input.(createTenantInput)
			t := domain.Tenant{
				ID:        d.newID(),
				Name:      in.Name,
				CreatedBy: actor.ID,
				CreatedAt: d.now().UTC().Format(time.RFC3339),
			}
			doc := store.Document{
				"name":       t.Name,
				"created_by": t.CreatedBy,
				"created_at": t.CreatedAt,
			}
			if err := d.Store.Insert(ctx, store.ColTenants, t.ID, doc); err != nil {
				return nil, err
			}
			return t, nil
		},
	}
}

type createUserInput struct {
	Email string      `json:"email"`
	Name  string      `json:"name,omitempty"`
	Role  domain.Role `json:"role,omitempty"`
}

func createUser(d Deps) bus.Operation {
	return bus.Operation{
		ID:          "create.user",
		Kind:        bus.KindAction,
		TenantAware: true,
		Authorize: authz.AllowRoles(
			domain.RoleSuperAdmin, domain.RoleAdmin, domain.RoleTenantAdmin,
		),
		Parse: func(raw json.RawMessage) (any, error) {
			var in createUserInput
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &in); err != nil {
					return nil, errors.New("EMAIL_REQUIRED")
				}
			}
			if in.Email == "" {
				return nil, errors.New("EMAIL_REQUIRED")
			}
			if in.Role != "" && !validRole(in.Role) {
				return nil, errors.New("INVALID_ROLE")
			}
			return in, nil
		},
		Execute: func(ctx context.Context, actor domain.Actor, input any) (any, error) {
			in := input.(createUserInput)
			role := in.Role
			if role == "" {
				role = domain.RoleTenantUser
			}
			u := domain.User{
				ID:        d.newID(),
				Email:     in.Email,
				Name:      in.Name,
				Role:      role,
				TenantID:  actor.TenantID,
				CreatedBy: actor.ID,
				CreatedAt: d.now().UTC().Format(time.RFC3339),
			}
			doc := store.Document{
				"email":      u.Email,
				"role":       string(u.Role),
				"created_by": u.CreatedBy,
				"created_at": u.CreatedAt,
			}
			if u.Name != "" {
				doc["name"] = u.Name
			}
			if u.TenantID != "" {
				doc["tenant_id"] = u.TenantID
			}
			if err := d.Store.Insert(ctx, store.ColUsers, u.ID, doc); err != nil {
				return nil, err
			}
			return u, nil
		},
	}
}

type addAnalystInput struct {
	UserID string `json:"user_id"`
}

func tenantAddAnalyst(d Deps) bus.Operation {
	return bus.Operation{
		ID:            "tenant.addAnalyst",
		Kind:          bus.KindAction,
		TenantAware:   true,
		RequireTenant: true,
		Authorize:     authz.AtLeast(domain.RoleTenantAdmin),
		Parse: func(raw json.RawMessage) (any, error) {
			var in addAnalystInput
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &in); err != nil {
					return nil, errors.New("USER_REQUIRED")
				}
			}
			if in.UserID == "" {
				return nil, errors.New("USER_REQUIRED")
			}
			return in, nil
		},
		Execute: func(ctx context.Context, actor domain.Actor, input any) (any, error) {
			in := input.(addAnalystInput)
			merged, err := d.Store.Merge(ctx, store.ColUsers, in.UserID, store.Document{
				"role":      string(domain.RoleTenantAnalyst),
				"tenant_id": actor.TenantID,
			})
			if errors.Is(err, store.ErrNotFound) {
				return nil, bus.BadInputError{Op: "tenant.addAnalyst", Msg: "USER_NOT_FOUND"}
			}
			if err != nil {
				return nil, err
			}
			return merged, nil
		},
	}
}

type getUserInput struct {
	UserID string `json:"user_id"`
}

func getUser(d Deps) bus.Operation {
	return bus.Operation{
		ID:          "get.user",
		Kind:        bus.KindQuery,
		TenantAware: true,
		Authorize:   authz.AtLeast(domain.RoleTenantAdmin),
		Parse: func(raw json.RawMessage) (any, error) {
			var in getUserInput
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &in); err != nil {
					return nil, errors.New("USER_REQUIRED")
				}
			}
			if in.UserID == "" {
				return nil, errors.New("USER_REQUIRED")
			}
			return in, nil
		},
		Execute: func(ctx context.Context, actor domain.Actor, input any) (any, error) {
			in := input.(getUserInput)
			doc, err := d.Store.Get(ctx, store.ColUsers, in.UserID)
			if errors.Is(err, store.ErrNotFound) {
				return nil, bus.BadInputError{Op: "get.user", Msg: "USER_NOT_FOUND"}
			}
			if err != nil {
				return nil, err
			}
			if actor.Tenanted() {
				tid, _ := doc["tenant_id"].(string)
				if tid != actor.TenantID {
					return nil, authz.ForbiddenError{Op: "get.user", Reason: "user belongs to another tenant"}
				}
			}
			return doc, nil
		},
	}
}

func validRole(r domain.Role) bool {
	for _, known := range domain.AllRoles {
		if known == r {
			return true
		}
	}
	return false
}
