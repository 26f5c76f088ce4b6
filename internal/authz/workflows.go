package authz

import (
	"strings"

	"github.com/veltrix/sessiongate/internal/domain"
)

// Workflow is one catalog entry gated by optional domain, role, and
// permission restrictions. Absent restrictions do not constrain.
type Workflow struct {
	ID                  string   `json:"id" yaml:"id"`
	Name                string   `json:"name" yaml:"name"`
	Description         string   `json:"description,omitempty" yaml:"description,omitempty"`
	Domains             []string `json:"domains,omitempty" yaml:"domains,omitempty"`
	Roles               []string `json:"roles,omitempty" yaml:"roles,omitempty"`
	RequiredPermissions []string `json:"required_permissions,omitempty" yaml:"required_permissions,omitempty"`
}

// Catalog returns the configured workflow entries.
func (e *Engine) Catalog() []Workflow {
	return e.policies.Workflows
}

// ListAvailableWorkflows filters candidates to the entries the identity
// may use. A candidate survives only if every declared restriction
// passes: the domain allow-list admits the identity's domain, the
// identity holds at least one listed role, and every required
// "resource:action" pair resolves to an allow. Restrictions a candidate
// does not declare are skipped.
func (e *Engine) ListAvailableWorkflows(identity domain.Identity, candidates []Workflow) []Workflow {
	var available []Workflow
	for _, wf := range candidates {
		if e.workflowAvailable(identity, wf) {
			available = append(available, wf)
		}
	}
	return available
}

func (e *Engine) workflowAvailable(identity domain.Identity, wf Workflow) bool {
	if len(wf.Domains) > 0 && !containsFold(wf.Domains, identity.Attributes.Domain) {
		return false
	}
	if len(wf.Roles) > 0 && !holdsAnyRole(identity, wf.Roles) {
		return false
	}
	for _, required := range wf.RequiredPermissions {
		resource, action, ok := splitPermission(required)
		if !ok {
			// A requirement nobody can parse is a requirement nobody meets.
			return false
		}
		if !e.CheckAccess(identity, resource, action).Allowed {
			return false
		}
	}
	return true
}

func holdsAnyRole(identity domain.Identity, roles []string) bool {
	for _, role := range roles {
		if identity.HasRole(role) {
			return true
		}
	}
	return false
}

func containsFold(list []string, want string) bool {
	for _, item := range list {
		if strings.EqualFold(item, want) {
			return true
		}
	}
	return false
}

func splitPermission(s string) (resource, action string, ok bool) {
	resource, action, found := strings.Cut(s, ":")
	if !found || resource == "" || action == "" {
		return "", "", false
	}
	return resource, action, true
}
