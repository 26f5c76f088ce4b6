package authz

import (
	"testing"

	"github.com/veltrix/sessiongate/internal/domain"
)

func testWorkflows() []Workflow {
	return []Workflow{
		{
			ID:   "wf-open",
			Name: "Open to everyone",
		},
		{
			ID:      "wf-acme",
			Name:    "Acme members only",
			Domains: []string{"acme.io"},
		},
		{
			ID:    "wf-dev",
			Name:  "Developers only",
			Roles: []string{"developer", "admin"},
		},
		{
			ID:                  "wf-exec",
			Name:                "Needs execute grant",
			RequiredPermissions: []string{"workflow:execute"},
		},
		{
			ID:                  "wf-broken",
			Name:                "Malformed requirement",
			RequiredPermissions: []string{"workflow"},
		},
	}
}

func available(t *testing.T, engine *Engine, identity domain.Identity) map[string]bool {
	t.Helper()
	got := map[string]bool{}
	for _, wf := range engine.ListAvailableWorkflows(identity, testWorkflows()) {
		got[wf.ID] = true
	}
	return got
}

func TestListAvailableWorkflows(t *testing.T) {
	t.Parallel()

	engine := NewEngine(testPolicies())

	cases := []struct {
		name     string
		identity domain.Identity
		want     map[string]bool
	}{
		{
			name:     "engineering developer passes every declared gate",
			identity: memberOf("acme.io", "engineering", "developer"),
			want:     map[string]bool{"wf-open": true, "wf-acme": true, "wf-dev": true, "wf-exec": true},
		},
		{
			name:     "marketing developer fails the permission gate",
			identity: memberOf("acme.io", "marketing", "developer"),
			want:     map[string]bool{"wf-open": true, "wf-acme": true, "wf-dev": true},
		},
		{
			name:     "outsider only sees unrestricted entries",
			identity: memberOf("other.org", "engineering"),
			want:     map[string]bool{"wf-open": true},
		},
		{
			name:     "domain gate folds case",
			identity: memberOf("ACME.IO", "engineering"),
			want:     map[string]bool{"wf-open": true, "wf-acme": true},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := available(t, engine, tc.identity)
			if len(got) != len(tc.want) {
				t.Fatalf("available = %v, want %v", got, tc.want)
			}
			for id := range tc.want {
				if !got[id] {
					t.Fatalf("workflow %s missing from %v", id, got)
				}
			}
			if got["wf-broken"] {
				t.Fatal("malformed requirement must never pass")
			}
		})
	}
}

func TestCatalogRoundTrip(t *testing.T) {
	t.Parallel()

	policies := testPolicies()
	policies.Workflows = testWorkflows()
	engine := NewEngine(policies)

	if got := len(engine.Catalog()); got != len(testWorkflows()) {
		t.Fatalf("catalog has %d entries, want %d", got, len(testWorkflows()))
	}
}
