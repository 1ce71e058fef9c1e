package validate_test

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"deskline/internal/audit"
	"deskline/internal/domain"
	"deskline/internal/validate"
)

type recordingSink struct {
	mu   sync.Mutex
	jobs []audit.Job
	fail bool
}

func (s *recordingSink) Append(_ context.Context, job audit.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.jobs = append(s.jobs, job)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(&strings.Builder{}, "", 0)
}

func staticValidator(status domain.Status, summary string) validate.Validator {
	return func(context.Context, validate.Input) domain.Result {
		return domain.Result{Status: status, Summary: summary}
	}
}

func newRunner(sink audit.Sink, reg *validate.Registry) validate.Runner {
	r := validate.NewRunner(reg, sink)
	r.Logger = quietLogger()
	r.Now = func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestResultsInRuleOrder(t *testing.T) {
	reg := validate.NewRegistry()
	// slow first rule, fast second; results must still come back in
	// declaration order
	reg.Register("slow", func(ctx context.Context, _ validate.Input) domain.Result {
		time.Sleep(50 * time.Millisecond)
		return domain.Result{Status: domain.StatusSuccess, Summary: "slow done"}
	})
	reg.Register("fast", staticValidator(domain.StatusFail, "fast failed"))
	sink := &recordingSink{}
	r := newRunner(sink, reg)

	field := domain.Field{ID: "f1", Label: "F1", Rules: []domain.Rule{
		{Validator: "slow", Level: domain.LevelHard},
		{Validator: "fast", Level: domain.LevelSoft},
	}}
	results, err := r.Run(context.Background(), field, "v", validate.RunContext{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Summary != "slow done" || results[1].Summary != "fast failed" {
		t.Fatalf("results out of order: %+v", results)
	}
}

func TestOneAuditJobPerRule(t *testing.T) {
	reg := validate.NewRegistry()
	reg.Register("ok", staticValidator(domain.StatusSuccess, "ok"))
	reg.Register("bad", staticValidator(domain.StatusFail, "bad"))
	reg.Register("boom", func(context.Context, validate.Input) domain.Result {
		panic("kaput")
	})
	sink := &recordingSink{}
	r := newRunner(sink, reg)

	field := domain.Field{ID: "f1", Label: "F1", Rules: []domain.Rule{
		{Validator: "ok", Level: domain.LevelHard},
		{Validator: "bad", Level: domain.LevelHard},
		{Validator: "boom", Level: domain.LevelSoft},
	}}
	actor := domain.Actor{ID: "u1", Role: domain.RoleTenantAdmin}
	results, err := r.Run(context.Background(), field, "v", validate.RunContext{TicketID: "tk-9", Actor: actor})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[2].Status != domain.StatusError {
		t.Fatalf("panic should surface as error result: %+v", results[2])
	}
	if len(sink.jobs) != 3 {
		t.Fatalf("expected 3 audit jobs, got %d", len(sink.jobs))
	}
	for i, job := range sink.jobs {
		if job.TicketID != "tk-9" || job.FieldID != "f1" {
			t.Fatalf("job %d missing context: %+v", i, job)
		}
		if job.RanBy.UID != "u1" || job.RanBy.Role != string(domain.RoleTenantAdmin) {
			t.Fatalf("job %d missing ran_by: %+v", i, job)
		}
	}
	if sink.jobs[2].Level != domain.LevelSoft || sink.jobs[2].Status != domain.StatusError {
		t.Fatalf("job must carry rule level and result status: %+v", sink.jobs[2])
	}
}

func TestSinkFailureDoesNotAffectResults(t *testing.T) {
	reg := validate.NewRegistry()
	reg.Register("ok", staticValidator(domain.StatusSuccess, "ok"))
	sink := &recordingSink{fail: true}
	r := newRunner(sink, reg)

	field := domain.Field{ID: "f1", Rules: []domain.Rule{{Validator: "ok", Level: domain.LevelHard}}}
	results, err := r.Run(context.Background(), field, "v", validate.RunContext{})
	if err != nil {
		t.Fatalf("sink failure must not surface: %v", err)
	}
	if len(results) != 1 || results[0].Status != domain.StatusSuccess {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestUnknownValidatorFailsRun(t *testing.T) {
	reg := validate.NewRegistry()
	reg.Register("ok", staticValidator(domain.StatusSuccess, "ok"))
	sink := &recordingSink{}
	r := newRunner(sink, reg)

	field := domain.Field{ID: "f1", Rules: []domain.Rule{
		{Validator: "ok", Level: domain.LevelHard},
		{Validator: "nope", Level: domain.LevelHard},
	}}
	_, err := r.Run(context.Background(), field, "v", validate.RunContext{})
	var ue validate.UnknownValidatorError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnknownValidatorError, got %v", err)
	}
	if len(sink.jobs) != 0 {
		t.Fatalf("no validator should run on config error, got %d jobs", len(sink.jobs))
	}
}

func TestValidatorTimeout(t *testing.T) {
	reg := validate.NewRegistry()
	reg.Register("hang", func(ctx context.Context, _ validate.Input) domain.Result {
		<-ctx.Done()
		time.Sleep(10 * time.Millisecond)
		return domain.Result{Status: domain.StatusSuccess}
	})
	sink := &recordingSink{}
	r := newRunner(sink, reg)
	r.Timeout = 20 * time.Millisecond

	field := domain.Field{ID: "f1", Rules: []domain.Rule{{Validator: "hang", Level: domain.LevelHard}}}
	results, err := r.Run(context.Background(), field, "v", validate.RunContext{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if results[0].Status != domain.StatusError {
		t.Fatalf("timeout should yield error result: %+v", results[0])
	}
}

func TestAggregate(t *testing.T) {
	ok := domain.Result{Status: domain.StatusSuccess}
	fail := domain.Result{Status: domain.StatusFail}
	errR := domain.Result{Status: domain.StatusError}

	if got := validate.Aggregate([]domain.Result{ok, ok}); got != domain.StatusSuccess {
		t.Fatalf("all success => success, got %s", got)
	}
	if got := validate.Aggregate([]domain.Result{ok, fail}); got != domain.StatusFail {
		t.Fatalf("any fail => fail, got %s", got)
	}
	if got := validate.Aggregate([]domain.Result{ok, errR}); got != domain.StatusFail {
		t.Fatalf("any error => fail, got %s", got)
	}
	if got := validate.Aggregate(nil); got != domain.StatusSuccess {
		t.Fatalf("empty => success, got %s", got)
	}
}
