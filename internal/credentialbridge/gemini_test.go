package credentialbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGeminiRefresher_Refresh_ExchangesRefreshTokenForAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		require.Equal(t, "refresh-1", r.Form.Get("refresh_token"))
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "new-access-token",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	refresher := NewGeminiRefresher("client-id", "client-secret")
	refresher.tokenURL = server.URL

	cred, err := refresher.Refresh(context.Background(), Credential{ID: "cred-1", RefreshToken: "refresh-1"})
	require.NoError(t, err)
	require.Equal(t, "new-access-token", cred.AccessToken)
	require.False(t, cred.ExpiresAt.IsZero())
}

func TestGeminiRefresher_Refresh_RejectsMissingRefreshToken(t *testing.T) {
	refresher := NewGeminiRefresher("client-id", "client-secret")
	_, err := refresher.Refresh(context.Background(), Credential{ID: "cred-1"})
	require.Error(t, err)
}

func TestGeminiIntrospector_Quota_ReportsExhaustedOn429(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	introspector := NewGeminiIntrospector()
	introspector.quotaURL = server.URL

	remaining, err := introspector.Quota(context.Background(), Credential{AccessToken: "tok"})
	require.NoError(t, err)
	require.Equal(t, 0, remaining)
}

func TestGeminiIntrospector_Quota_ReportsAvailableOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	introspector := NewGeminiIntrospector()
	introspector.quotaURL = server.URL

	remaining, err := introspector.Quota(context.Background(), Credential{AccessToken: "tok"})
	require.NoError(t, err)
	require.Equal(t, 1, remaining)
}

func TestGeminiTokenWriter_Write_PersistsTokenFile(t *testing.T) {
	dir := t.TempDir()
	writer := NewGeminiTokenWriter(dir)

	err := writer.Write(context.Background(), Credential{AccessToken: "a", RefreshToken: "r"})
	require.NoError(t, err)

	raw, err := os.ReadFile(filepath.Join(dir, geminiTokenFile))
	require.NoError(t, err)

	var contents geminiTokenFileContents
	require.NoError(t, json.Unmarshal(raw, &contents))
	require.Equal(t, "a", contents.AccessToken)
	require.Equal(t, "r", contents.RefreshToken)
}

func TestGeminiTokenWriter_Write_RejectsEmptyMiddlewarePath(t *testing.T) {
	writer := NewGeminiTokenWriter("")
	require.Error(t, writer.Write(context.Background(), Credential{AccessToken: "a"}))
}
