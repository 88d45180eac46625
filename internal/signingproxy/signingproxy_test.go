package signingproxy

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/jinn-network/jinn-worker/internal/logging"
	"github.com/jinn-network/jinn-worker/internal/profile"
)

// writeOperateTree builds a minimal .operate-style tree with a single
// keys.json-backed agent key, mirroring internal/profile's own test helper.
func writeOperateTree(t *testing.T, base string, agentKeyHex string) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Join(base, "wallets"), 0o755))
	wallet := map[string]interface{}{
		"address": "0x1111111111111111111111111111111111111111",
		"safes":   map[string]string{"8453": "0x2222222222222222222222222222222222222222"},
	}
	walletRaw, err := json.Marshal(wallet)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(base, "wallets", "ethereum.json"), walletRaw, 0o600))

	serviceDir := filepath.Join(base, "services", "sc-11111111-1111-1111-1111-111111111111")
	require.NoError(t, os.MkdirAll(serviceDir, 0o755))

	cfg := map[string]interface{}{
		"chain_configs": map[string]interface{}{
			"8453": map[string]interface{}{
				"chain_data":          map[string]interface{}{"token": 7, "multisig": "0x6666666666666666666666666666666666666666"},
				"mech_address":        "0x3333333333333333333333333333333333333333",
				"marketplace_address": "0x4444444444444444444444444444444444444444",
				"staking_contract":    "0x5555555555555555555555555555555555555555",
			},
		},
	}
	cfgRaw, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(serviceDir, "config.json"), cfgRaw, 0o600))

	keys := []map[string]string{{"private_key": agentKeyHex}}
	keysRaw, err := json.Marshal(keys)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(serviceDir, "keys.json"), keysRaw, 0o600))
}

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: "error", Format: "json"})
}

func startTestProxy(t *testing.T) (baseURL, secret string, agentAddr string, srv *Server, stop func()) {
	t.Helper()
	base := t.TempDir()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + hexEncode(crypto.FromECDSA(key))
	writeOperateTree(t, base, hexKey)

	prof, err := profile.Load(base, "irrelevant-for-hex-keys", 8453)
	require.NoError(t, err)

	srv, err = New(prof, nil, testLogger())
	require.NoError(t, err)

	url, sec, err := srv.Start(context.Background())
	require.NoError(t, err)

	return url, sec, crypto.PubkeyToAddress(key.PublicKey).Hex(), srv, func() {
		_ = srv.Stop(context.Background())
	}
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return string(out)
}

func doRequest(t *testing.T, method, url, secret string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if secret != "" {
		req.Header.Set("Authorization", "Bearer "+secret)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	return resp, parsed
}

func TestAddress_RequiresAuth(t *testing.T) {
	url, _, _, _, stop := startTestProxy(t)
	defer stop()

	resp, body := doRequest(t, http.MethodGet, url+"/address", "wrong-secret", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "VAL_2011", body["code"])
}

func TestAddress_ReturnsAgentAddress(t *testing.T) {
	url, secret, agentAddr, _, stop := startTestProxy(t)
	defer stop()

	resp, body := doRequest(t, http.MethodGet, url+"/address", secret, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, strings.ToLower(agentAddr), body["address"])
}

func TestSign_ProducesRecoverableSignature(t *testing.T) {
	url, secret, agentAddr, _, stop := startTestProxy(t)
	defer stop()

	resp, body := doRequest(t, http.MethodPost, url+"/sign", secret, signRequest{Message: "hello world"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, strings.ToLower(agentAddr), body["address"])
	require.True(t, strings.HasPrefix(body["signature"].(string), "0x"))
}

func TestSignRaw_RejectsNonHex(t *testing.T) {
	url, secret, _, _, stop := startTestProxy(t)
	defer stop()

	resp, body := doRequest(t, http.MethodPost, url+"/sign-raw", secret, signRequest{Message: "not-hex"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "VAL_2001", body["code"])
}

func TestDispatch_WithoutDispatcherReturnsInternalError(t *testing.T) {
	url, secret, _, _, stop := startTestProxy(t)
	defer stop()

	resp, body := doRequest(t, http.MethodPost, url+"/dispatch", secret, DispatchRequest{})
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	require.Equal(t, "SVC_9001", body["code"])
}

func TestRedactError_ScrubsHexKeyLikeSubstrings(t *testing.T) {
	leaked := "0x" + hexEncode(make([]byte, 32))

	wrapped := &testErr{msg: "failed with key " + leaked}
	redacted := redactError(wrapped)
	require.NotContains(t, redacted.Error(), leaked)
	require.Contains(t, redacted.Error(), "[redacted]")
}

type testErr struct{ msg string }

func (e *testErr) Error() string { return e.msg }

func TestClearAddressCache_ForcesReload(t *testing.T) {
	url, secret, agentAddr, srv, stop := startTestProxy(t)
	defer stop()

	_, body := doRequest(t, http.MethodGet, url+"/address", secret, nil)
	require.Equal(t, strings.ToLower(agentAddr), body["address"])

	srv.ClearAddressCache()
	require.False(t, srv.hasCached)

	_, body = doRequest(t, http.MethodGet, url+"/address", secret, nil)
	require.Equal(t, strings.ToLower(agentAddr), body["address"])
}
