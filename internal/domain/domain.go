package domain

// Actor is the resolved identity behind a request. TenantID is empty for
// internal/staff actors, which operate without tenant scoping.
type Actor struct {
	ID       string `json:"id"`
	Role     Role   `json:"role"`
	TenantID string `json:"tenant_id,omitempty"`
}

// Tenanted reports whether the actor is bound to a tenant.
func (a Actor) Tenanted() bool { return a.TenantID != "" }

// Role names a position in the access model. Two incompatible shapes are in
// use: per-operation allow-lists drawn from the full nine-role set, and a
// five-level ranked hierarchy for coarse guards. See the authz package.
type Role string

const (
	RoleSuperAdmin    Role = "Super Admin"
	RoleAdmin         Role = "Admin"
	RoleManager       Role = "Manager"
	RoleAgent         Role = "Agent"
	RoleSupport       Role = "Support"
	RoleViewer        Role = "Viewer"
	RoleTenantAdmin   Role = "Tenant Admin"
	RoleTenantAnalyst Role = "Tenant Analyst"
	RoleTenantUser    Role = "Tenant User"
)

// AllRoles is the full allow-list universe.
var AllRoles = []Role{
	RoleSuperAdmin, RoleAdmin, RoleManager, RoleAgent, RoleSupport,
	RoleViewer, RoleTenantAdmin, RoleTenantAnalyst, RoleTenantUser,
}

type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	Role      Role   `json:"role"`
	TenantID  string `json:"tenant_id,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Ticket struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id,omitempty"`
	Subject   string `json:"subject"`
	Status    string `json:"status" enum:"open,pending,closed"`
	CreatedBy string `json:"created_by,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// Level classifies a validation rule as blocking or advisory. The aggregate
// status currently fails on any non-success result regardless of level; the
// level is recorded on the audit trail for filtering only.
type Level string

const (
	LevelHard Level = "hard"
	LevelSoft Level = "soft"
)

// Rule attaches one validator to a field.
type Rule struct {
	Validator string `json:"validator" yaml:"validator"`
	Level     Level  `json:"level" yaml:"level" enum:"hard,soft"`
}

// Field is a configured form field with its ordered validation rules.
type Field struct {
	ID     string         `json:"id" yaml:"id"`
	Label  string         `json:"label" yaml:"label"`
	Type   string         `json:"type" yaml:"type"`
	Rules  []Rule         `json:"rules" yaml:"rules"`
	Params map[string]any `json:"params,omitempty" yaml:"params"`
}

// Status is a validator verdict or the aggregate of several.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
	StatusError   Status = "error"
)

// Result is the ephemeral outcome of one validator invocation.
type Result struct {
	Status   Status   `json:"status" enum:"success,fail,error"`
	Summary  string   `json:"summary"`
	Evidence string   `json:"evidence,omitempty"`
	Links    []string `json:"links,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}
