package credentialbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

const (
	geminiTokenURL  = "https://oauth2.googleapis.com/token"
	geminiQuotaURL  = "https://generativelanguage.googleapis.com/v1beta/models"
	geminiTimeout   = 10 * time.Second
	geminiTokenFile = "gemini_credentials.json"
)

// GeminiRefresher exchanges a Gemini OAuth refresh token for a fresh access
// token via Google's standard OAuth2 token endpoint.
type GeminiRefresher struct {
	clientID     string
	clientSecret string
	tokenURL     string
	httpClient   *http.Client
}

// NewGeminiRefresher constructs a GeminiRefresher using the OAuth client
// credentials under which GEMINI_OAUTH_CREDENTIALS were issued.
func NewGeminiRefresher(clientID, clientSecret string) *GeminiRefresher {
	return &GeminiRefresher{
		clientID:     clientID,
		clientSecret: clientSecret,
		tokenURL:     geminiTokenURL,
		httpClient:   &http.Client{Timeout: geminiTimeout},
	}
}

type geminiTokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

// Refresh implements Refresher.
func (g *GeminiRefresher) Refresh(ctx context.Context, cred Credential) (Credential, error) {
	if cred.RefreshToken == "" {
		return Credential{}, svcerrors.InvalidInput("refreshToken", "credential has no refresh token")
	}

	form := url.Values{
		"client_id":     {g.clientID},
		"client_secret": {g.clientSecret},
		"refresh_token": {cred.RefreshToken},
		"grant_type":    {"refresh_token"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.tokenURL, bytes.NewReader([]byte(form.Encode())))
	if err != nil {
		return Credential{}, svcerrors.Internal("build gemini refresh request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return Credential{}, svcerrors.Unavailable("credentialbridge.geminiRefresh", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Credential{}, svcerrors.Unavailable("credentialbridge.geminiRefresh", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var tok geminiTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return Credential{}, svcerrors.Internal("decode gemini refresh response", err)
	}

	cred.AccessToken = tok.AccessToken
	cred.ExpiresAt = time.Now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	return cred, nil
}

// GeminiIntrospector reports a credential's remaining quota by probing the
// Generative Language API's models listing with the credential's access
// token: a 429 response means the credential is quota-exhausted, any other
// success is reported as quota remaining.
type GeminiIntrospector struct {
	quotaURL   string
	httpClient *http.Client
}

// NewGeminiIntrospector constructs a GeminiIntrospector.
func NewGeminiIntrospector() *GeminiIntrospector {
	return &GeminiIntrospector{quotaURL: geminiQuotaURL, httpClient: &http.Client{Timeout: geminiTimeout}}
}

// Quota implements Introspector. A positive return means the credential has
// quota available; zero means exhausted.
func (g *GeminiIntrospector) Quota(ctx context.Context, cred Credential) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.quotaURL, nil)
	if err != nil {
		return 0, svcerrors.Internal("build gemini quota request", err)
	}
	req.Header.Set("Authorization", "Bearer "+cred.AccessToken)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return 0, svcerrors.Unavailable("credentialbridge.geminiQuota", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return 0, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return 0, svcerrors.Unavailable("credentialbridge.geminiQuota", fmt.Errorf("unexpected status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return 0, svcerrors.Unavailable("credentialbridge.geminiQuota", fmt.Errorf("unexpected status %d", resp.StatusCode))
	default:
		return 1, nil
	}
}

// GeminiTokenWriter persists a credential's tokens to the agent subprocess's
// expected directory (MIDDLEWARE_PATH), so the spawned agent can pick up
// whichever credential the rotator selected for this cycle.
type GeminiTokenWriter struct {
	middlewarePath string
}

// NewGeminiTokenWriter constructs a GeminiTokenWriter writing under
// middlewarePath.
func NewGeminiTokenWriter(middlewarePath string) *GeminiTokenWriter {
	return &GeminiTokenWriter{middlewarePath: middlewarePath}
}

type geminiTokenFileContents struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Write implements TokenWriter.
func (g *GeminiTokenWriter) Write(_ context.Context, cred Credential) error {
	if g.middlewarePath == "" {
		return svcerrors.MissingConfig("MIDDLEWARE_PATH")
	}
	if err := os.MkdirAll(g.middlewarePath, 0o755); err != nil {
		return svcerrors.Internal("create middleware directory", err)
	}

	contents := geminiTokenFileContents{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		ExpiresAt:    cred.ExpiresAt,
	}
	raw, err := json.MarshalIndent(contents, "", "  ")
	if err != nil {
		return svcerrors.Internal("marshal gemini token file", err)
	}

	dest := filepath.Join(g.middlewarePath, geminiTokenFile)
	if err := os.WriteFile(dest, raw, 0o600); err != nil {
		return svcerrors.Internal("write gemini token file", err)
	}
	return nil
}
