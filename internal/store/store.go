// Package store exposes the document datastore the bus operations execute
// against. The bus consumes it as a generic filterable collaborator; the
// SQLite implementation lives alongside for the default deployment.
package store

import (
	"context"
	"errors"
)

// ErrNotFound marks a missing document.
var ErrNotFound = errors.New("document not found")

// Op is a filter comparison.
type Op string

const (
	OpEq  Op = "=="
	OpGt  Op = ">"
	OpGte Op = ">="
	OpLt  Op = "<"
	OpLte Op = "<="
)

// Filter narrows a Find or Count to documents whose field compares true
// against the value. String comparisons are lexicographic, which matches
// RFC3339 timestamps.
type Filter struct {
	Field string
	Op    Op
	Value any
}

func Eq(field string, value any) Filter  { return Filter{Field: field, Op: OpEq, Value: value} }
func Gte(field string, value any) Filter { return Filter{Field: field, Op: OpGte, Value: value} }
func Lte(field string, value any) Filter { return Filter{Field: field, Op: OpLte, Value: value} }

// Document is a schemaless record.
type Document map[string]any

// Store is the filterable document store interface. Implementations keep
// their own consistency guarantees; the bus performs no locking of its own.
type Store interface {
	Insert(ctx context.Context, collection, id string, doc Document) error
	Get(ctx context.Context, collection, id string) (Document, error)
	// Merge applies a shallow patch onto an existing document and returns
	// the merged result. ErrNotFound if the document does not exist.
	Merge(ctx context.Context, collection, id string, patch Document) (Document, error)
	Find(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	Count(ctx context.Context, collection string, filters ...Filter) (int64, error)
}

// Collection names used by the registered operations.
const (
	ColTenants = "tenants"
	ColUsers   = "users"
	ColTickets = "tickets"
)
