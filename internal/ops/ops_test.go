package ops_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"
	"time"

	"deskline/internal/authz"
	"deskline/internal/bus"
	"deskline/internal/db"
	"deskline/internal/domain"
	"deskline/internal/migrate"
	"deskline/internal/ops"
	"deskline/internal/store"
)

type testEnv struct {
	Engine bus.Engine
	Store  store.SQLite
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s := store.NewSQLite(conn)
	nextID := 0
	reg, err := ops.Registry(ops.Deps{
		Store: s,
		Now:   func() time.Time { return time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC) },
		NewID: func() string { nextID++; return fmt.Sprintf("id-%d", nextID) },
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	e := bus.New(reg)
	e.Logger = log.New(&strings.Builder{}, "", 0)
	return testEnv{Engine: e, Store: s, Ctx: context.Background()}
}

func (env testEnv) seedUser(t *testing.T, id, tenant string) {
	t.Helper()
	doc := store.Document{"email": id + "@x.com", "role": string(domain.RoleTenantUser)}
	if tenant != "" {
		doc["tenant_id"] = tenant
	}
	if err := env.Store.Insert(env.Ctx, store.ColUsers, id, doc); err != nil {
		t.Fatalf("seed user %s: %v", id, err)
	}
}

func (env testEnv) seedTicket(t *testing.T, id, tenant, createdAt string) {
	t.Helper()
	doc := store.Document{"subject": "s", "status": "open", "created_at": createdAt}
	if tenant != "" {
		doc["tenant_id"] = tenant
	}
	if err := env.Store.Insert(env.Ctx, store.ColTickets, id, doc); err != nil {
		t.Fatalf("seed ticket %s: %v", id, err)
	}
}

func TestCreateUserDefaultsAndTenantInheritance(t *testing.T) {
	env := newTestEnv(t)
	actor := domain.Actor{ID: "adm", Role: domain.RoleTenantAdmin, TenantID: "t1"}
	out, err := env.Engine.Dispatch(env.Ctx, "create.user", json.RawMessage(`{"email":"a@b.com"}`), actor)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	u, ok := out.(domain.User)
	if !ok {
		t.Fatalf("unexpected output %T", out)
	}
	if u.TenantID != "t1" {
		t.Fatalf("tenant not inherited: %+v", u)
	}
	if u.Role != domain.RoleTenantUser {
		t.Fatalf("role not defaulted: %+v", u)
	}
	// persisted document carries the tenant too
	doc, err := env.Store.Get(env.Ctx, store.ColUsers, u.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if doc["tenant_id"] != "t1" {
		t.Fatalf("stored doc missing tenant: %v", doc)
	}
}

func TestCreateUserRequiresEmail(t *testing.T) {
	env := newTestEnv(t)
	actor := domain.Actor{ID: "adm", Role: domain.RoleAdmin}
	_, err := env.Engine.Dispatch(env.Ctx, "create.user", json.RawMessage(`{}`), actor)
	var be bus.BadInputError
	if !errors.As(err, &be) || be.Msg != "EMAIL_REQUIRED" {
		t.Fatalf("expected EMAIL_REQUIRED, got %v", err)
	}
}

func TestCreateTenantAllowList(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.Dispatch(env.Ctx, "create.tenant", json.RawMessage(`{"name":"Acme"}`),
		domain.Actor{ID: "m", Role: domain.RoleManager})
	var fe authz.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("Manager must be forbidden, got %v", err)
	}

	out, err := env.Engine.Dispatch(env.Ctx, "create.tenant", json.RawMessage(`{"name":"Acme"}`),
		domain.Actor{ID: "root", Role: domain.RoleSuperAdmin})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	tn, ok := out.(domain.Tenant)
	if !ok || tn.ID == "" {
		t.Fatalf("expected tenant with id, got %#v", out)
	}
}

func TestCountUsersTenantScoping(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "t1")
	env.seedUser(t, "u2", "t1")
	env.seedUser(t, "u3", "t2")
	env.seedUser(t, "u4", "")

	out, err := env.Engine.Dispatch(env.Ctx, "count.users", nil,
		domain.Actor{ID: "a", Role: domain.RoleTenantAdmin, TenantID: "t1"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.(ops.CountResult).Count != 2 {
		t.Fatalf("tenant-scoped count = %v", out)
	}

	out, err = env.Engine.Dispatch(env.Ctx, "count.users", nil,
		domain.Actor{ID: "a", Role: domain.RoleAdmin})
	if err != nil {
		t.Fatalf("dispatch global: %v", err)
	}
	if out.(ops.CountResult).Count != 4 {
		t.Fatalf("global count = %v", out)
	}
}

func TestCountTicketsSince(t *testing.T) {
	env := newTestEnv(t)
	env.seedTicket(t, "tk1", "t1", "2024-01-01T00:00:00Z")
	env.seedTicket(t, "tk2", "t1", "2024-05-01T00:00:00Z")
	env.seedTicket(t, "tk3", "t2", "2024-05-01T00:00:00Z")

	actor := domain.Actor{ID: "m", Role: domain.RoleManager}
	out, err := env.Engine.Dispatch(env.Ctx, "count.ticketsSince",
		json.RawMessage(`{"since":"2024-02-01T00:00:00Z"}`), actor)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if out.(ops.CountResult).Count != 2 {
		t.Fatalf("expected 2 tickets since Feb, got %v", out)
	}

	// date-only form works too
	out, err = env.Engine.Dispatch(env.Ctx, "count.ticketsSince",
		json.RawMessage(`{"since":"2024-02-01"}`), actor)
	if err != nil {
		t.Fatalf("dispatch date-only: %v", err)
	}
	if out.(ops.CountResult).Count != 2 {
		t.Fatalf("date-only count = %v", out)
	}

	_, err = env.Engine.Dispatch(env.Ctx, "count.ticketsSince",
		json.RawMessage(`{"since":"not-a-date"}`), actor)
	var be bus.BadInputError
	if !errors.As(err, &be) || be.Msg != "INVALID_SINCE" {
		t.Fatalf("expected INVALID_SINCE, got %v", err)
	}
}

func TestAddAnalystMergesRoleAndTenant(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u9", "")

	// tenantless actor trips the guard even with sufficient rank
	_, err := env.Engine.Dispatch(env.Ctx, "tenant.addAnalyst",
		json.RawMessage(`{"user_id":"u9"}`), domain.Actor{ID: "a", Role: domain.RoleSuperAdmin})
	var fe authz.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("expected tenant guard, got %v", err)
	}

	out, err := env.Engine.Dispatch(env.Ctx, "tenant.addAnalyst",
		json.RawMessage(`{"user_id":"u9"}`), domain.Actor{ID: "a", Role: domain.RoleTenantAdmin, TenantID: "t1"})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	doc := out.(store.Document)
	if doc["role"] != string(domain.RoleTenantAnalyst) || doc["tenant_id"] != "t1" {
		t.Fatalf("merge missing assignment: %v", doc)
	}
	// pre-existing fields survive the merge
	if doc["email"] != "u9@x.com" {
		t.Fatalf("merge lost email: %v", doc)
	}

	_, err = env.Engine.Dispatch(env.Ctx, "tenant.addAnalyst",
		json.RawMessage(`{"user_id":"ghost"}`), domain.Actor{ID: "a", Role: domain.RoleTenantAdmin, TenantID: "t1"})
	var be bus.BadInputError
	if !errors.As(err, &be) || be.Msg != "USER_NOT_FOUND" {
		t.Fatalf("expected USER_NOT_FOUND, got %v", err)
	}
}

func TestGetUserCrossTenantForbidden(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "u1", "t1")
	env.seedUser(t, "u2", "t2")

	actor := domain.Actor{ID: "a", Role: domain.RoleTenantAdmin, TenantID: "t1"}
	if _, err := env.Engine.Dispatch(env.Ctx, "get.user", json.RawMessage(`{"user_id":"u1"}`), actor); err != nil {
		t.Fatalf("same-tenant read: %v", err)
	}
	_, err := env.Engine.Dispatch(env.Ctx, "get.user", json.RawMessage(`{"user_id":"u2"}`), actor)
	var fe authz.ForbiddenError
	if !errors.As(err, &fe) {
		t.Fatalf("cross-tenant read must be forbidden, got %v", err)
	}
	// staff actors read anywhere
	if _, err := env.Engine.Dispatch(env.Ctx, "get.user", json.RawMessage(`{"user_id":"u2"}`),
		domain.Actor{ID: "s", Role: domain.RoleAdmin}); err != nil {
		t.Fatalf("staff read: %v", err)
	}
}
