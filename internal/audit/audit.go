// Package audit defines the append-only trail of validator invocations.
// Writes are a best-effort side channel: callers log failures and carry on.
// Nothing in the core reads jobs back; the CLI tail command is for
// operators.
package audit

import (
	"context"

	"deskline/internal/domain"
)

// RanBy identifies the actor that triggered a validation run.
type RanBy struct {
	UID  string `json:"uid,omitempty"`
	Role string `json:"role,omitempty"`
}

// Job is one durable record per validator invocation, written regardless of
// the validator's outcome and immutable once written.
type Job struct {
	ID         string        `json:"id"`
	TicketID   string        `json:"ticket_id,omitempty"`
	FieldID    string        `json:"field_id"`
	FieldLabel string        `json:"field_label,omitempty"`
	Validator  string        `json:"validator"`
	Level      domain.Level  `json:"level"`
	Status     domain.Status `json:"status"`
	Summary    string        `json:"summary,omitempty"`
	Evidence   string        `json:"evidence,omitempty"`
	Links      []string      `json:"links,omitempty"`
	Warnings   []string      `json:"warnings,omitempty"`
	Errors     []string      `json:"errors,omitempty"`
	RanBy      RanBy         `json:"ran_by,omitempty"`
	TS         string        `json:"ts" format:"date-time"`
}

// Sink appends jobs somewhere durable. Implementations must tolerate
// concurrent appends.
type Sink interface {
	Append(ctx context.Context, job Job) error
}

// Discard drops every job. Used where no audit trail is configured.
type Discard struct{}

func (Discard) Append(context.Context, Job) error { return nil }
