// Package erc8128 implements the ERC-8128 signed request envelope used by
// the Control API Client and Operator Registration (spec §4.11/§4.12):
// every mutation is signed over method, path, body, timestamp, and a fresh
// nonce so the signature is address-bound, non-replayable, and only valid
// for 60 seconds.
package erc8128

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
)

// TTL is the validity window of a signed envelope.
const TTL = 60 * time.Second

// Header names carrying the envelope on the wire.
const (
	HeaderAddress   = "X-Erc8128-Address"
	HeaderTimestamp = "X-Erc8128-Timestamp"
	HeaderNonce     = "X-Erc8128-Nonce"
	HeaderSignature = "X-Erc8128-Signature"
)

// Signer signs outbound requests with the worker's operator key.
type Signer struct {
	key *ecdsa.PrivateKey
}

// NewSigner constructs a Signer from a secp256k1 private key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key}
}

// Address returns the Ethereum address derived from the signing key.
func (s *Signer) Address() string {
	return crypto.PubkeyToAddress(s.key.PublicKey).Hex()
}

// Sign attaches an ERC-8128 envelope to req for the given body, using a
// freshly minted nonce and the current timestamp.
func (s *Signer) Sign(req *http.Request, method, path string, body []byte) error {
	timestamp := time.Now().Unix()
	nonce := uuid.NewString()

	digest := canonicalDigest(method, path, body, timestamp, nonce)
	sig, err := crypto.Sign(digest[:], s.key)
	if err != nil {
		return fmt.Errorf("erc8128: sign request: %w", err)
	}

	req.Header.Set(HeaderAddress, s.Address())
	req.Header.Set(HeaderTimestamp, strconv.FormatInt(timestamp, 10))
	req.Header.Set(HeaderNonce, nonce)
	req.Header.Set(HeaderSignature, "0x"+hex.EncodeToString(sig))
	return nil
}

// canonicalDigest is the keccak256 hash bound into the signature: method,
// path, the sha256 of the body, the timestamp, and the nonce, each
// newline-separated so no field can be shifted into an adjacent one.
func canonicalDigest(method, path string, body []byte, timestamp int64, nonce string) [32]byte {
	bodyHash := sha256.Sum256(body)
	msg := fmt.Sprintf("%s\n%s\n%s\n%d\n%s", method, path, hex.EncodeToString(bodyHash[:]), timestamp, nonce)
	return crypto.Keccak256Hash([]byte(msg))
}

// Verify checks an inbound envelope's signature and freshness, returning the
// recovered signer address. Used by the credential bridge / control API
// surfaces this worker calls out to only for testing the envelope shape;
// the worker itself never verifies inbound requests in production.
func Verify(method, path string, body []byte, headers http.Header, now time.Time) (string, error) {
	address := headers.Get(HeaderAddress)
	timestampStr := headers.Get(HeaderTimestamp)
	nonce := headers.Get(HeaderNonce)
	sigHex := headers.Get(HeaderSignature)
	if address == "" || timestampStr == "" || nonce == "" || sigHex == "" {
		return "", fmt.Errorf("erc8128: missing envelope header")
	}

	timestamp, err := strconv.ParseInt(timestampStr, 10, 64)
	if err != nil {
		return "", fmt.Errorf("erc8128: malformed timestamp: %w", err)
	}
	age := now.Sub(time.Unix(timestamp, 0))
	if age < 0 {
		age = -age
	}
	if age > TTL {
		return "", fmt.Errorf("erc8128: envelope expired")
	}

	sig, err := hex.DecodeString(trimHexPrefix(sigHex))
	if err != nil || len(sig) != 65 {
		return "", fmt.Errorf("erc8128: malformed signature")
	}

	digest := canonicalDigest(method, path, body, timestamp, nonce)
	pubKey, err := crypto.SigToPub(digest[:], sig)
	if err != nil {
		return "", fmt.Errorf("erc8128: recover signer: %w", err)
	}

	recovered := crypto.PubkeyToAddress(*pubKey).Hex()
	if !strings.EqualFold(recovered, address) {
		return "", fmt.Errorf("erc8128: signature does not match claimed address")
	}
	return recovered, nil
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}
