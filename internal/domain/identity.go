package domain

import "strings"

// Identity is the normalized principal produced by the provider
// identity-normalization step. It is immutable once issued; profile
// refreshes replace the attribute bag wholesale via ReplaceAttributes.
type Identity struct {
	ID         string       `json:"id"`
	Email      string       `json:"email"`
	Name       string       `json:"name"`
	Provider   string       `json:"provider"`
	Attributes AttributeBag `json:"attributes"`
}

// AttributeBag carries the free-form attributes authorization conditions
// evaluate against. Roles is an unordered set; duplicates are tolerated on
// input and irrelevant to evaluation.
type AttributeBag struct {
	Domain       string         `json:"domain,omitempty"`
	Roles        []string       `json:"roles,omitempty"`
	Department   string         `json:"department,omitempty"`
	Organization string         `json:"organization,omitempty"`
	Custom       map[string]any `json:"custom,omitempty"`
}

// ReplaceAttributes returns a copy of the identity with the attribute bag
// swapped out. Partial in-place mutation of attributes is not supported.
func (i Identity) ReplaceAttributes(bag AttributeBag) Identity {
	i.Attributes = bag
	return i
}

// HasRole reports whether the identity carries the given role.
func (i Identity) HasRole(role string) bool {
	for _, r := range i.Attributes.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

// AttributeAt resolves a dot-notation path against the identity.
// Supported roots are the identity fields (id, email, name, provider) and
// the "attributes" bag; unknown bag keys fall through to Custom, including
// nested maps ("attributes.custom.team.region"). A missing path returns
// (nil, false) and never panics: authorization conditions over absent
// attributes must evaluate to false, not crash.
func (i Identity) AttributeAt(path string) (any, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 || segments[0] == "" {
		return nil, false
	}

	switch segments[0] {
	case "id":
		return leafOnly(i.ID, segments[1:])
	case "email":
		return leafOnly(i.Email, segments[1:])
	case "name":
		return leafOnly(i.Name, segments[1:])
	case "provider":
		return leafOnly(i.Provider, segments[1:])
	case "attributes":
		return i.Attributes.at(segments[1:])
	default:
		return nil, false
	}
}

func (b AttributeBag) at(segments []string) (any, bool) {
	if len(segments) == 0 {
		return nil, false
	}
	switch segments[0] {
	case "domain":
		return leafOnly(b.Domain, segments[1:])
	case "roles":
		if len(segments) > 1 {
			return nil, false
		}
		return b.Roles, true
	case "department":
		return leafOnly(b.Department, segments[1:])
	case "organization":
		return leafOnly(b.Organization, segments[1:])
	case "custom":
		return lookupMapPath(b.Custom, segments[1:])
	default:
		return lookupMapPath(b.Custom, segments)
	}
}

// leafOnly returns the value when no further path segments remain.
// Scalar attributes have no sub-paths.
func leafOnly[T any](value T, rest []string) (any, bool) {
	if len(rest) > 0 {
		return nil, false
	}
	return value, true
}

func lookupMapPath(m map[string]any, segments []string) (any, bool) {
	if m == nil || len(segments) == 0 {
		return nil, false
	}
	current, ok := m[segments[0]]
	if !ok {
		return nil, false
	}
	for _, seg := range segments[1:] {
		nested, isMap := current.(map[string]any)
		if !isMap {
			return nil, false
		}
		current, ok = nested[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
