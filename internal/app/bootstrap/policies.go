package bootstrap

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/veltrix/sessiongate/internal/authz"
)

// LoadPolicies reads the authorization policy set from a YAML file. An
// empty path yields an empty set, which denies every access check; a
// configured path that cannot be read or parsed is a startup error, not a
// silent deny-all.
func LoadPolicies(path string) (authz.PolicySet, error) {
	if path == "" {
		return authz.PolicySet{}, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return authz.PolicySet{}, fmt.Errorf("read policy file: %w", err)
	}
	var policies authz.PolicySet
	if err := yaml.Unmarshal(raw, &policies); err != nil {
		return authz.PolicySet{}, fmt.Errorf("parse policy file: %w", err)
	}
	return policies, nil
}
