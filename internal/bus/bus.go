// Package bus implements the permissioned command/query dispatch engine.
// Operations are registered once at startup into an immutable registry;
// dispatch looks one up, authorizes the actor, parses the raw input and
// executes, in that order. Authorization always runs before parsing, and a
// denied actor never reaches Execute.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"deskline/internal/authz"
	"deskline/internal/domain"
)

// Kind separates reads from mutations.
type Kind string

const (
	KindQuery  Kind = "query"
	KindAction Kind = "action"
)

// Operation is a registered unit of work. Authorize must be pure. Parse is
// optional; a nil Parse passes the raw input through. TenantAware documents
// that Execute scopes the datastore by the actor's tenant when one is
// present; the engine does not inject that filter itself. RequireTenant is
// the independent tenant-presence guard for operations that only make sense
// inside an organization.
type Operation struct {
	ID            string
	Kind          Kind
	TenantAware   bool
	RequireTenant bool
	Authorize     authz.Predicate
	Parse         func(raw json.RawMessage) (any, error)
	Execute       func(ctx context.Context, actor domain.Actor, input any) (any, error)
}

// NotFoundError marks an unknown operation id: a configuration bug, not
// caller input.
type NotFoundError struct {
	Op string
}

func (e NotFoundError) Error() string { return fmt.Sprintf("operation %s not registered", e.Op) }

// BadInputError marks caller-supplied data that failed parsing. Always
// caller-correctable.
type BadInputError struct {
	Op  string
	Msg string
}

func (e BadInputError) Error() string { return fmt.Sprintf("%s: %s", e.Op, e.Msg) }

// InternalError wraps an Execute failure unrelated to the caller's input.
type InternalError struct {
	Op  string
	Err error
}

func (e InternalError) Error() string { return fmt.Sprintf("%s: internal error", e.Op) }
func (e InternalError) Unwrap() error { return e.Err }

// Registry is the immutable id-keyed operation map.
type Registry struct {
	ops   map[string]Operation
	order []string
}

// NewRegistry builds the registry. Duplicate ids are a programming error.
func NewRegistry(ops ...Operation) (*Registry, error) {
	r := &Registry{ops: make(map[string]Operation, len(ops))}
	for _, op := range ops {
		if op.ID == "" {
			return nil, errors.New("operation with empty id")
		}
		if _, dup := r.ops[op.ID]; dup {
			return nil, fmt.Errorf("duplicate operation id %s", op.ID)
		}
		if op.Authorize == nil {
			return nil, fmt.Errorf("operation %s has no authorize predicate", op.ID)
		}
		if op.Execute == nil {
			return nil, fmt.Errorf("operation %s has no executor", op.ID)
		}
		r.ops[op.ID] = op
		r.order = append(r.order, op.ID)
	}
	return r, nil
}

func (r *Registry) Get(id string) (Operation, bool) {
	op, ok := r.ops[id]
	return op, ok
}

// List returns operations in registration order.
func (r *Registry) List() []Operation {
	out := make([]Operation, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.ops[id])
	}
	return out
}

const defaultOpTimeout = 15 * time.Second

// Engine dispatches operations. Stateless; safe for concurrent use.
type Engine struct {
	Registry *Registry
	Logger   *log.Logger
	Timeout  time.Duration
}

func New(reg *Registry) Engine {
	return Engine{Registry: reg, Timeout: defaultOpTimeout}
}

func (e Engine) logger() *log.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return log.Default()
}

// Dispatch runs lookup -> authorize -> parse -> execute. The failure
// taxonomy is deterministic: NotFoundError for unknown ids, ForbiddenError
// when the predicate is false (or panics, which fails closed) or the tenant
// guard trips, BadInputError when Parse rejects, InternalError for anything
// Execute gets wrong that isn't already a typed failure. No retries.
func (e Engine) Dispatch(ctx context.Context, opID string, raw json.RawMessage, actor domain.Actor) (any, error) {
	op, ok := e.Registry.Get(opID)
	if !ok {
		e.logger().Printf("ERROR dispatch: unknown operation %q (configuration bug) actor=%s", opID, actor.ID)
		return nil, NotFoundError{Op: opID}
	}

	if !e.authorized(op, actor) {
		return nil, authz.ForbiddenError{Op: op.ID, Reason: fmt.Sprintf("role %s not permitted", actor.Role)}
	}
	if op.RequireTenant {
		if err := authz.RequireTenant(actor); err != nil {
			return nil, authz.ForbiddenError{Op: op.ID, Reason: "actor must belong to a tenant"}
		}
	}

	input := any(raw)
	if op.Parse != nil {
		parsed, err := op.Parse(raw)
		if err != nil {
			return nil, BadInputError{Op: op.ID, Msg: err.Error()}
		}
		input = parsed
	}

	timeout := e.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := op.Execute(ctx, actor, input)
	if err != nil {
		var bad BadInputError
		var forbidden authz.ForbiddenError
		switch {
		case errors.As(err, &bad), errors.As(err, &forbidden):
			return nil, err
		default:
			e.logger().Printf("ERROR dispatch op=%s actor=%s: %v", op.ID, actor.ID, err)
			return nil, InternalError{Op: op.ID, Err: err}
		}
	}
	return out, nil
}

// authorized evaluates the predicate, treating a panic as a denial.
func (e Engine) authorized(op Operation, actor domain.Actor) (allowed bool) {
	defer func() {
		if p := recover(); p != nil {
			e.logger().Printf("authorize predicate for %s panicked: %v (failing closed)", op.ID, p)
			allowed = false
		}
	}()
	return op.Authorize(actor)
}
