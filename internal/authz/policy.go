package authz

import (
	"strings"

	"github.com/veltrix/sessiongate/internal/domain"
)

// DomainPolicy is the permission mapping for one identity domain: a
// default block every member receives plus per-role blocks.
type DomainPolicy struct {
	Default []domain.Permission            `json:"default" yaml:"default"`
	Roles   map[string][]domain.Permission `json:"roles,omitempty" yaml:"roles,omitempty"`
}

// PolicySet is the complete authorization material: per-domain mappings,
// the global block every identity receives, and the workflow catalog.
type PolicySet struct {
	Domains   map[string]DomainPolicy `json:"domains,omitempty" yaml:"domains,omitempty"`
	Global    []domain.Permission     `json:"global,omitempty" yaml:"global,omitempty"`
	Workflows []Workflow              `json:"workflows,omitempty" yaml:"workflows,omitempty"`
}

// Normalized lowercases domain and role keys so lookups are
// case-insensitive regardless of how the policy file spells them.
func (s PolicySet) Normalized() PolicySet {
	if len(s.Domains) == 0 {
		return s
	}
	domains := make(map[string]DomainPolicy, len(s.Domains))
	for name, policy := range s.Domains {
		if len(policy.Roles) > 0 {
			roles := make(map[string][]domain.Permission, len(policy.Roles))
			for role, perms := range policy.Roles {
				roles[strings.ToLower(role)] = perms
			}
			policy.Roles = roles
		}
		domains[strings.ToLower(name)] = policy
	}
	s.Domains = domains
	return s
}

// ResolvePermissions assembles the identity's effective permissions in
// deterministic order: the domain mapping's default block, then the block
// of each role the identity holds, then the global set. An identity whose
// domain carries no mapping receives only the global set. Contributing
// blocks are concatenated, never collapsed: rules sharing a resource stay
// separate so each condition group is still evaluated per originating
// rule at check time.
func (e *Engine) ResolvePermissions(identity domain.Identity) []domain.Permission {
	var resolved []domain.Permission

	if policy, ok := e.policies.Domains[strings.ToLower(identity.Attributes.Domain)]; ok {
		resolved = append(resolved, policy.Default...)
		seen := make(map[string]struct{}, len(identity.Attributes.Roles))
		for _, role := range identity.Attributes.Roles {
			key := strings.ToLower(role)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			resolved = append(resolved, policy.Roles[key]...)
		}
	}

	resolved = append(resolved, e.policies.Global...)
	return resolved
}
