package identity_test

import (
	"testing"
	"time"

	"deskline/internal/domain"
	"deskline/internal/identity"
)

func TestIssueVerifyRoundTrip(t *testing.T) {
	v := identity.Verifier{Secret: "test-secret"}
	token, err := v.Issue(identity.Credential{
		UID:      "u1",
		Email:    "a@b.com",
		Role:     domain.RoleTenantAdmin,
		TenantID: "t1",
	}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	cred, err := v.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	actor := cred.Actor()
	if actor.ID != "u1" || actor.Role != domain.RoleTenantAdmin || actor.TenantID != "t1" {
		t.Fatalf("unexpected actor %+v", actor)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	token, err := identity.Verifier{Secret: "one"}.Issue(identity.Credential{UID: "u1"}, time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := (identity.Verifier{Secret: "two"}).Verify(token); err == nil {
		t.Fatalf("expected verification failure")
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	v := identity.Verifier{Secret: "s"}
	token, err := v.Issue(identity.Credential{UID: "u1"}, -time.Minute)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := v.Verify(token); err == nil {
		t.Fatalf("expected expired token rejection")
	}
}

func TestVerifyRequiresSubject(t *testing.T) {
	v := identity.Verifier{Secret: "s"}
	if _, err := v.Issue(identity.Credential{}, time.Minute); err == nil {
		t.Fatalf("expected uid requirement on issue")
	}
}
