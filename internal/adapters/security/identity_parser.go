package security

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/veltrix/sessiongate/internal/domain"
)

// JWTIdentityParser reads identity claims out of an access token without
// verifying its signature. The provider already authenticated the token;
// this only repairs identity fields the grant body omitted, so signature
// checking is the provider's job, not ours.
type JWTIdentityParser struct {
	parser *jwt.Parser
}

// NewJWTIdentityParser creates the claims reader.
func NewJWTIdentityParser() *JWTIdentityParser {
	return &JWTIdentityParser{parser: jwt.NewParser()}
}

func (p *JWTIdentityParser) ParseIdentity(accessToken string) (domain.Identity, error) {
	claims := jwt.MapClaims{}
	if _, _, err := p.parser.ParseUnverified(accessToken, claims); err != nil {
		return domain.Identity{}, fmt.Errorf("parse access token: %w", err)
	}

	identity := domain.Identity{
		ID:       stringClaim(claims, "sub", "user_id", "id"),
		Email:    stringClaim(claims, "email"),
		Name:     stringClaim(claims, "name", "preferred_username"),
		Provider: stringClaim(claims, "provider", "idp"),
	}
	bag := domain.AttributeBag{
		Domain:       stringClaim(claims, "domain"),
		Roles:        stringsClaim(claims, "roles"),
		Department:   stringClaim(claims, "department"),
		Organization: stringClaim(claims, "organization", "org"),
	}
	if custom, ok := claims["attributes"].(map[string]any); ok && len(custom) > 0 {
		bag.Custom = custom
	}
	return identity.ReplaceAttributes(bag), nil
}

func stringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, key := range keys {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func stringsClaim(claims jwt.MapClaims, key string) []string {
	raw, ok := claims[key]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return nil
	}
}
