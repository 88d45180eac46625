package blueprint

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetchDeliveredSummary_PrefersStructuredSummary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"structuredSummary":"concise summary","output":"raw output"}`))
	}))
	defer server.Close()

	got := FetchDeliveredSummary(context.Background(), server.Client(), server.URL, "bafyCID", "req-1")
	require.Equal(t, "concise summary", got)
}

func TestFetchDeliveredSummary_TruncatesOutputWhenNoStructuredSummary(t *testing.T) {
	longOutput := strings.Repeat("x", 2000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"output":"` + longOutput + `"}`))
	}))
	defer server.Close()

	got := FetchDeliveredSummary(context.Background(), server.Client(), server.URL, "bafyCID", "req-1")
	require.Len(t, got, summaryTruncateBytes)
}

func TestFetchDeliveredSummary_ReturnsEmptyOn404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	got := FetchDeliveredSummary(context.Background(), server.Client(), server.URL, "bafyCID", "req-1")
	require.Equal(t, "", got)
}

func TestFetchDeliveredSummary_ReturnsEmptyOnUnreachableHost(t *testing.T) {
	got := FetchDeliveredSummary(context.Background(), http.DefaultClient, "http://127.0.0.1:1", "bafyCID", "req-1")
	require.Equal(t, "", got)
}
