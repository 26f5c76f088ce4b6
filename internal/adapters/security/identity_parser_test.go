package security

import (
	"reflect"
	"testing"

	"github.com/golang-jwt/jwt/v5"
)

func signedToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-signing-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestParseIdentityFullClaims(t *testing.T) {
	t.Parallel()

	token := signedToken(t, jwt.MapClaims{
		"sub":          "u-100",
		"email":        "dana@acme.io",
		"name":         "Dana",
		"provider":     "okta",
		"domain":       "acme.io",
		"roles":        []string{"developer", "oncall"},
		"department":   "engineering",
		"organization": "acme",
		"attributes": map[string]any{
			"team": "platform",
		},
	})

	identity, err := NewJWTIdentityParser().ParseIdentity(token)
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	if identity.ID != "u-100" || identity.Email != "dana@acme.io" || identity.Name != "Dana" || identity.Provider != "okta" {
		t.Fatalf("identity = %+v", identity)
	}
	bag := identity.Attributes
	if bag.Domain != "acme.io" || bag.Department != "engineering" || bag.Organization != "acme" {
		t.Fatalf("attributes = %+v", bag)
	}
	if !reflect.DeepEqual(bag.Roles, []string{"developer", "oncall"}) {
		t.Fatalf("roles = %v", bag.Roles)
	}
	if bag.Custom["team"] != "platform" {
		t.Fatalf("custom = %v", bag.Custom)
	}
}

func TestParseIdentityFallbackClaims(t *testing.T) {
	t.Parallel()

	token := signedToken(t, jwt.MapClaims{
		"user_id":            "u-7",
		"preferred_username": "peter.g",
		"idp":                "azuread",
		"org":                "initech",
	})

	identity, err := NewJWTIdentityParser().ParseIdentity(token)
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	if identity.ID != "u-7" || identity.Name != "peter.g" || identity.Provider != "azuread" {
		t.Fatalf("identity = %+v", identity)
	}
	if identity.Attributes.Organization != "initech" {
		t.Fatalf("organization = %q", identity.Attributes.Organization)
	}
}

func TestParseIdentitySkipsNonStringRoles(t *testing.T) {
	t.Parallel()

	token := signedToken(t, jwt.MapClaims{
		"sub":   "u-9",
		"roles": []any{"viewer", 42, "", "editor"},
	})

	identity, err := NewJWTIdentityParser().ParseIdentity(token)
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	if !reflect.DeepEqual(identity.Attributes.Roles, []string{"viewer", "editor"}) {
		t.Fatalf("roles = %v", identity.Attributes.Roles)
	}
}

func TestParseIdentitySparseClaims(t *testing.T) {
	t.Parallel()

	token := signedToken(t, jwt.MapClaims{"iat": 1748779200})

	identity, err := NewJWTIdentityParser().ParseIdentity(token)
	if err != nil {
		t.Fatalf("parse identity: %v", err)
	}
	if identity.ID != "" || identity.Email != "" || len(identity.Attributes.Roles) != 0 {
		t.Fatalf("identity = %+v, want empty fields", identity)
	}
}

func TestParseIdentityRejectsGarbage(t *testing.T) {
	t.Parallel()

	if _, err := NewJWTIdentityParser().ParseIdentity("not-a-jwt"); err == nil {
		t.Fatal("parsed something that is not a token")
	}
}
