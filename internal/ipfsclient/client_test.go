package ipfsclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFetch_GetsByCIDPath(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bafy-1", r.URL.Path)
		w.Write([]byte(`{"job":"payload"}`))
	}))
	defer server.Close()

	client := New(server.URL)
	body, err := client.Fetch(context.Background(), "bafy-1")
	require.NoError(t, err)
	require.JSONEq(t, `{"job":"payload"}`, string(body))
}

func TestFetch_ReportsNon200AsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.Fetch(context.Background(), "missing-cid")
	require.Error(t, err)
}

func TestFetchChild_GetsByDirAndRequestID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bafy-dir/req-1", r.URL.Path)
		w.Write([]byte(`{"delivery":"payload"}`))
	}))
	defer server.Close()

	client := New(server.URL)
	body, err := client.FetchChild(context.Background(), "bafy-dir", "req-1")
	require.NoError(t, err)
	require.JSONEq(t, `{"delivery":"payload"}`, string(body))
}

func TestUpload_PostsMultipartAndReturnsCID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/v0/add", r.URL.Path)
		require.Equal(t, "true", r.URL.Query().Get("pin"))
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Hash":"QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"}`))
	}))
	defer server.Close()

	client := New(server.URL)
	cidStr, err := client.Upload(context.Background(), "situation.json", []byte(`{"summary":"ok"}`))
	require.NoError(t, err)
	require.Equal(t, "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG", cidStr)
}

func TestUpload_RejectsMalformedCIDInResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Hash":"not-a-cid"}`))
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.Upload(context.Background(), "x.json", []byte(`{}`))
	require.Error(t, err)
}

func TestUpload_ReportsNon200AsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(server.URL)
	_, err := client.Upload(context.Background(), "x.json", []byte(`{}`))
	require.Error(t, err)
}
