package security

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/veltrix/sessiongate/internal/domain"
)

// TokenClientConfig configures the refresh-endpoint client.
type TokenClientConfig struct {
	// EndpointURL is the provider's token refresh endpoint.
	EndpointURL string
	// HTTPClient overrides the default client; its timeout is the outer
	// bound on top of per-call contexts.
	HTTPClient *http.Client
}

// TokenClient performs the refresh round-trip against the provider's token
// endpoint. Every transport error, timeout, or non-2xx response wraps
// domain.ErrRefreshFailed; a refresh that did not produce a grant is fatal
// to the session.
type TokenClient struct {
	endpointURL string
	httpClient  *http.Client
}

// NewTokenClient builds the refresher for the given endpoint.
func NewTokenClient(cfg TokenClientConfig) (*TokenClient, error) {
	if strings.TrimSpace(cfg.EndpointURL) == "" {
		return nil, errors.New("token refresh endpoint url is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &TokenClient{
		endpointURL: cfg.EndpointURL,
		httpClient:  httpClient,
	}, nil
}

type refreshRequestDoc struct {
	RefreshToken string `json:"refreshToken"`
}

// tokenGrantDoc is the provider's grant envelope. Expiry travels as epoch
// milliseconds.
type tokenGrantDoc struct {
	AccessToken  string          `json:"accessToken"`
	RefreshToken string          `json:"refreshToken"`
	ExpiresAt    int64           `json:"expiresAt"`
	User         domain.Identity `json:"user"`
}

func (c *TokenClient) Refresh(ctx context.Context, refreshToken string) (domain.TokenGrant, error) {
	if refreshToken == "" {
		return domain.TokenGrant{}, fmt.Errorf("%w: no refresh token to present", domain.ErrRefreshFailed)
	}

	body, err := json.Marshal(refreshRequestDoc{RefreshToken: refreshToken})
	if err != nil {
		return domain.TokenGrant{}, fmt.Errorf("%w: encode refresh request: %v", domain.ErrRefreshFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpointURL, bytes.NewReader(body))
	if err != nil {
		return domain.TokenGrant{}, fmt.Errorf("%w: build refresh request: %v", domain.ErrRefreshFailed, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+refreshToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.TokenGrant{}, fmt.Errorf("%w: %v", domain.ErrRefreshFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return domain.TokenGrant{}, fmt.Errorf("%w: status=%d body=%s", domain.ErrRefreshFailed, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var doc tokenGrantDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return domain.TokenGrant{}, fmt.Errorf("%w: decode grant: %v", domain.ErrRefreshFailed, err)
	}

	return domain.TokenGrant{
		AccessToken:  doc.AccessToken,
		RefreshToken: doc.RefreshToken,
		ExpiresAt:    time.UnixMilli(doc.ExpiresAt).UTC(),
		Identity:     doc.User,
	}, nil
}
