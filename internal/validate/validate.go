// Package validate runs the per-field validation pipeline: every rule on a
// field resolves to a validator, all validators run (concurrently), every
// outcome is recorded on the audit trail, and the per-rule results are
// aggregated into a single field status.
package validate

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"deskline/internal/audit"
	"deskline/internal/domain"
)

// UnknownValidatorError indicates a rule referencing a validator id that is
// not registered. This is a configuration bug, not caller input.
type UnknownValidatorError struct {
	FieldID   string
	Validator string
}

func (e UnknownValidatorError) Error() string {
	return fmt.Sprintf("field %s: unknown validator %s", e.FieldID, e.Validator)
}

// Input is what a validator sees for one invocation.
type Input struct {
	Value   any
	Params  map[string]any
	Context map[string]any
}

// Validator checks one field value. Implementations are independent of each
// other; a failing or panicking validator must not disturb its siblings.
type Validator func(ctx context.Context, in Input) domain.Result

// Registry maps validator ids to implementations. It is populated at
// startup and read-only afterwards, safe for concurrent use.
type Registry struct {
	validators map[string]Validator
}

func NewRegistry() *Registry {
	return &Registry{validators: map[string]Validator{}}
}

// Register adds a validator. Last registration for an id wins; call only
// during startup.
func (r *Registry) Register(id string, v Validator) {
	r.validators[id] = v
}

func (r *Registry) Resolve(id string) (Validator, bool) {
	v, ok := r.validators[id]
	return v, ok
}

// IDs lists registered validator ids.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.validators))
	for id := range r.validators {
		ids = append(ids, id)
	}
	return ids
}

// RunContext carries per-run metadata piped through to validators and the
// audit trail.
type RunContext struct {
	TicketID string
	Actor    domain.Actor
	Extra    map[string]any
}

const defaultValidatorTimeout = 10 * time.Second

// Runner executes a field's rules against a value.
type Runner struct {
	Registry *Registry
	Sink     audit.Sink
	Logger   *log.Logger
	Timeout  time.Duration
	Now      func() time.Time
}

func NewRunner(reg *Registry, sink audit.Sink) Runner {
	if sink == nil {
		sink = audit.Discard{}
	}
	return Runner{
		Registry: reg,
		Sink:     sink,
		Timeout:  defaultValidatorTimeout,
		Now:      time.Now,
	}
}

func (r Runner) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

// Run evaluates every rule on the field in declaration order. Validators run
// concurrently but results come back indexed by rule position, one result
// per rule, always. A validator that panics or times out yields an error
// result instead of cancelling its siblings. One audit job is appended per
// rule regardless of outcome; append failures are logged and swallowed.
//
// The only error Run itself returns is UnknownValidatorError, checked for
// all rules before anything executes.
func (r Runner) Run(ctx context.Context, field domain.Field, value any, rc RunContext) ([]domain.Result, error) {
	validators := make([]Validator, len(field.Rules))
	for i, rule := range field.Rules {
		v, ok := r.Registry.Resolve(rule.Validator)
		if !ok {
			err := UnknownValidatorError{FieldID: field.ID, Validator: rule.Validator}
			r.logger().Printf("ERROR validate: %v (configuration bug)", err)
			return nil, err
		}
		validators[i] = v
	}

	in := Input{
		Value:   value,
		Params:  field.Params,
		Context: rc.Extra,
	}
	results := make([]domain.Result, len(field.Rules))
	var wg sync.WaitGroup
	for i := range field.Rules {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.invoke(ctx, field.Rules[i].Validator, validators[i], in)
		}(i)
	}
	wg.Wait()

	now := r.Now
	if now == nil {
		now = time.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	for i, rule := range field.Rules {
		job := audit.Job{
			TicketID:   rc.TicketID,
			FieldID:    field.ID,
			FieldLabel: field.Label,
			Validator:  rule.Validator,
			Level:      rule.Level,
			Status:     results[i].Status,
			Summary:    results[i].Summary,
			Evidence:   results[i].Evidence,
			Links:      results[i].Links,
			Warnings:   results[i].Warnings,
			Errors:     results[i].Errors,
			RanBy:      audit.RanBy{UID: rc.Actor.ID, Role: string(rc.Actor.Role)},
			TS:         ts,
		}
		if err := r.Sink.Append(ctx, job); err != nil {
			r.logger().Printf("audit append failed field=%s validator=%s: %v", field.ID, rule.Validator, err)
		}
	}
	return results, nil
}

// invoke runs one validator with panic recovery and a timeout. Timeouts and
// panics surface as error results, never as escaped failures.
func (r Runner) invoke(ctx context.Context, id string, v Validator, in Input) (res domain.Result) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = defaultValidatorTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan domain.Result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- domain.Result{
					Status:  domain.StatusError,
					Summary: fmt.Sprintf("validator %s panicked", id),
					Errors:  []string{fmt.Sprint(p)},
				}
			}
		}()
		done <- v(ctx, in)
	}()

	select {
	case res = <-done:
		return res
	case <-ctx.Done():
		return domain.Result{
			Status:  domain.StatusError,
			Summary: fmt.Sprintf("validator %s timed out", id),
			Errors:  []string{ctx.Err().Error()},
		}
	}
}

// Aggregate folds per-rule results into the single field status: fail when
// any result is fail or error, success only when every result is success.
// There is no third aggregate state. Rule level does not soften this; a
// soft fail still fails the aggregate.
func Aggregate(results []domain.Result) domain.Status {
	for _, r := range results {
		if r.Status != domain.StatusSuccess {
			return domain.StatusFail
		}
	}
	return domain.StatusSuccess
}
