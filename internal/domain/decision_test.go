package domain

import "testing"

func TestPermissionAppliesTo(t *testing.T) {
	t.Parallel()

	exact := Permission{Resource: "workflow", Actions: []string{"read"}}
	wild := Permission{Resource: Wildcard, Actions: []string{"read"}}

	if !exact.AppliesTo("workflow") {
		t.Fatalf("exact resource should apply")
	}
	if exact.AppliesTo("report") {
		t.Fatalf("different resource should not apply")
	}
	if !wild.AppliesTo("anything-at-all") {
		t.Fatalf("wildcard resource should apply to every resource")
	}
}

func TestPermissionPermits(t *testing.T) {
	t.Parallel()

	p := Permission{Resource: "workflow", Actions: []string{"read", "execute"}}
	if !p.Permits("execute") {
		t.Fatalf("listed action should be permitted")
	}
	if p.Permits("delete") {
		t.Fatalf("unlisted action should not be permitted")
	}

	all := Permission{Resource: "workflow", Actions: []string{Wildcard}}
	if !all.Permits("delete") {
		t.Fatalf("wildcard action should permit every action")
	}

	none := Permission{Resource: "workflow"}
	if none.Permits("read") {
		t.Fatalf("empty action list should permit nothing")
	}
}

func TestDecisionConstructors(t *testing.T) {
	t.Parallel()

	if d := Allow(); !d.Allowed || d.Reason != "" {
		t.Fatalf("Allow() = %+v", d)
	}
	if d := Deny("no matching permission"); d.Allowed || d.Reason != "no matching permission" {
		t.Fatalf("Deny() = %+v", d)
	}
}
