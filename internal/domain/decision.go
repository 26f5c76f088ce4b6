package domain

import "fmt"

// Wildcard matches any resource or action in a permission selector.
const Wildcard = "*"

// Operator is the comparison a condition applies between an identity
// attribute and its expected value.
type Operator string

const (
	OperatorEquals   Operator = "equals"
	OperatorContains Operator = "contains"
	OperatorMatches  Operator = "matches"
)

// Condition is an attribute-path predicate gating a permission. Attribute
// uses dot notation into Identity ("attributes.department"); Value is a
// scalar or a list. A missing attribute path always evaluates to false.
type Condition struct {
	Attribute string   `json:"attribute" yaml:"attribute"`
	Operator  Operator `json:"operator" yaml:"operator"`
	Value     any      `json:"value" yaml:"value"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %v", c.Attribute, c.Operator, c.Value)
}

// Permission grants a set of actions on one resource selector, optionally
// gated by conditions that must all hold (AND) for the permission to apply.
type Permission struct {
	Resource   string      `json:"resource" yaml:"resource"`
	Actions    []string    `json:"actions" yaml:"actions"`
	Conditions []Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
}

// AppliesTo reports whether the permission's resource selector covers the
// requested resource (exact match or wildcard).
func (p Permission) AppliesTo(resource string) bool {
	return p.Resource == Wildcard || p.Resource == resource
}

// Permits reports whether the permission's action set contains the
// requested action (exact match or wildcard). Conditions are not consulted
// here; they gate separately.
func (p Permission) Permits(action string) bool {
	for _, a := range p.Actions {
		if a == Wildcard || a == action {
			return true
		}
	}
	return false
}

// AccessDecision is the answer to "can principal P perform action A on
// resource R". It is a derived value, never stored. A denial is a normal
// decision, not an error.
type AccessDecision struct {
	Allowed            bool        `json:"allowed"`
	Reason             string      `json:"reason,omitempty"`
	FailedConditions   []Condition `json:"failed_conditions,omitempty"`
	MissingPermissions []string    `json:"missing_permissions,omitempty"`
}

// Allow is the positive decision.
func Allow() AccessDecision {
	return AccessDecision{Allowed: true}
}

// Deny builds a negative decision with a human-readable reason.
func Deny(reason string) AccessDecision {
	return AccessDecision{Allowed: false, Reason: reason}
}
