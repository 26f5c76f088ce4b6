package ports

import (
	"context"

	"github.com/veltrix/sessiongate/internal/domain"
)

// TokenRefresher performs the refresh round-trip against the provider's
// token endpoint. Any transport error, timeout, or non-2xx response is a
// hard failure wrapping domain.ErrRefreshFailed; the caller tears the
// session down rather than retrying into an unknown state.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (domain.TokenGrant, error)
}

// TokenSealer protects refresh tokens at rest. Seal and Open are inverse;
// Open fails on tampered or foreign ciphertext.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// IdentityParser extracts identity claims carried inside an access token
// without verifying its signature. The provider already authenticated the
// token; this only repairs identity fields the token payload carries but
// the grant body omitted.
type IdentityParser interface {
	ParseIdentity(accessToken string) (domain.Identity, error)
}
