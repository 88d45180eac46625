package erc8128

import (
	"net/http"
	"testing"
	"time"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func newSigner(t *testing.T) *Signer {
	t.Helper()
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	return NewSigner(key)
}

func TestSign_ProducesVerifiableEnvelope(t *testing.T) {
	signer := newSigner(t)
	req, err := http.NewRequest(http.MethodPost, "https://control.example/graphql", nil)
	require.NoError(t, err)

	body := []byte(`{"query":"mutation claimRequest"}`)
	require.NoError(t, signer.Sign(req, http.MethodPost, "/graphql", body))

	address, err := Verify(http.MethodPost, "/graphql", body, req.Header, time.Now())
	require.NoError(t, err)
	require.Equal(t, signer.Address(), address)
}

func TestVerify_RejectsExpiredEnvelope(t *testing.T) {
	signer := newSigner(t)
	req, err := http.NewRequest(http.MethodPost, "https://control.example/graphql", nil)
	require.NoError(t, err)

	body := []byte(`{}`)
	require.NoError(t, signer.Sign(req, http.MethodPost, "/graphql", body))

	_, err = Verify(http.MethodPost, "/graphql", body, req.Header, time.Now().Add(2*time.Minute))
	require.Error(t, err)
}

func TestVerify_RejectsTamperedBody(t *testing.T) {
	signer := newSigner(t)
	req, err := http.NewRequest(http.MethodPost, "https://control.example/graphql", nil)
	require.NoError(t, err)

	require.NoError(t, signer.Sign(req, http.MethodPost, "/graphql", []byte(`{"a":1}`)))

	_, err = Verify(http.MethodPost, "/graphql", []byte(`{"a":2}`), req.Header, time.Now())
	require.Error(t, err)
}

func TestVerify_RejectsMismatchedPath(t *testing.T) {
	signer := newSigner(t)
	req, err := http.NewRequest(http.MethodPost, "https://control.example/graphql", nil)
	require.NoError(t, err)

	body := []byte(`{}`)
	require.NoError(t, signer.Sign(req, http.MethodPost, "/graphql", body))

	_, err = Verify(http.MethodPost, "/admin/operators", body, req.Header, time.Now())
	require.Error(t, err)
}

func TestVerify_RejectsMissingHeaders(t *testing.T) {
	_, err := Verify(http.MethodPost, "/graphql", nil, http.Header{}, time.Now())
	require.Error(t, err)
}

func TestSign_EachCallUsesFreshNonce(t *testing.T) {
	signer := newSigner(t)
	req1, _ := http.NewRequest(http.MethodPost, "https://control.example/graphql", nil)
	req2, _ := http.NewRequest(http.MethodPost, "https://control.example/graphql", nil)

	body := []byte(`{}`)
	require.NoError(t, signer.Sign(req1, http.MethodPost, "/graphql", body))
	require.NoError(t, signer.Sign(req2, http.MethodPost, "/graphql", body))

	require.NotEqual(t, req1.Header.Get(HeaderNonce), req2.Header.Get(HeaderNonce))
	require.NotEqual(t, req1.Header.Get(HeaderSignature), req2.Header.Get(HeaderSignature))
}
