package authz

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/veltrix/sessiongate/internal/domain"
)

// Engine answers access questions for a validated identity. It is pure
// policy evaluation: no I/O, no session state, safe for concurrent use.
type Engine struct {
	policies PolicySet
}

func NewEngine(policies PolicySet) *Engine {
	return &Engine{policies: policies.Normalized()}
}

// CheckAccess decides whether the identity may perform action on resource.
//
// Candidates are the resolved permissions whose resource selector matches
// exactly or by wildcard. No candidate: the denial names the resource.
// Candidates but no admitting action across them: the denial names the
// missing resource:action. An admitting rule applies only if every one of
// its conditions holds; any admitting rule with satisfied conditions
// allows, and a condition-only denial reports each failed condition from
// every admitting rule.
func (e *Engine) CheckAccess(identity domain.Identity, resource, action string) domain.AccessDecision {
	perms := e.ResolvePermissions(identity)

	var candidates []domain.Permission
	for _, p := range perms {
		if p.AppliesTo(resource) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		decision := domain.Deny("no permissions for resource")
		decision.MissingPermissions = []string{resource}
		return decision
	}

	admitted := false
	var failed []domain.Condition
	for _, p := range candidates {
		if !p.Permits(action) {
			continue
		}
		admitted = true
		unmet := unmetConditions(identity, p.Conditions)
		if len(unmet) == 0 {
			return domain.Allow()
		}
		failed = append(failed, unmet...)
	}
	if !admitted {
		decision := domain.Deny(fmt.Sprintf("missing permission %s:%s", resource, action))
		decision.MissingPermissions = []string{resource + ":" + action}
		return decision
	}

	decision := domain.Deny("permission conditions not met")
	decision.FailedConditions = failed
	return decision
}

func unmetConditions(identity domain.Identity, conditions []domain.Condition) []domain.Condition {
	var unmet []domain.Condition
	for _, c := range conditions {
		if !EvaluateCondition(identity, c) {
			unmet = append(unmet, c)
		}
	}
	return unmet
}

// EvaluateCondition reports whether the identity satisfies one condition.
// A missing attribute path evaluates to false, never an error: policy
// over absent attributes denies, it does not crash.
func EvaluateCondition(identity domain.Identity, c domain.Condition) bool {
	value, ok := identity.AttributeAt(c.Attribute)
	if !ok {
		return false
	}
	switch c.Operator {
	case domain.OperatorEquals:
		return equals(value, c.Value)
	case domain.OperatorContains:
		return contains(value, c.Value)
	case domain.OperatorMatches:
		return matches(value, c.Value)
	default:
		return false
	}
}

// equals compares by coerced string form. A list expectation is
// membership: the attribute equal to any member satisfies it.
func equals(actual, expected any) bool {
	if list, ok := asList(expected); ok {
		got := stringify(actual)
		for _, item := range list {
			if got == stringify(item) {
				return true
			}
		}
		return false
	}
	return stringify(actual) == stringify(expected)
}

// contains is membership for list attributes and substring for string
// attributes. A list expectation is satisfied by any of its members.
func contains(actual, expected any) bool {
	expectedItems, isList := asList(expected)
	if !isList {
		expectedItems = []any{expected}
	}
	if actualList, ok := asList(actual); ok {
		for _, want := range expectedItems {
			wantStr := stringify(want)
			for _, got := range actualList {
				if stringify(got) == wantStr {
					return true
				}
			}
		}
		return false
	}
	actualStr := stringify(actual)
	for _, want := range expectedItems {
		if strings.Contains(actualStr, stringify(want)) {
			return true
		}
	}
	return false
}

// matches treats the expectation as a regular expression over the coerced
// attribute. An invalid pattern never matches; a list expectation is
// satisfied by any matching pattern.
func matches(actual, expected any) bool {
	patterns, isList := asList(expected)
	if !isList {
		patterns = []any{expected}
	}
	actualStr := stringify(actual)
	for _, p := range patterns {
		re, err := regexp.Compile(stringify(p))
		if err != nil {
			continue
		}
		if re.MatchString(actualStr) {
			return true
		}
	}
	return false
}

func asList(v any) ([]any, bool) {
	switch list := v.(type) {
	case []any:
		return list, true
	case []string:
		out := make([]any, len(list))
		for i, s := range list {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func stringify(v any) string { return fmt.Sprintf("%v", v) }
