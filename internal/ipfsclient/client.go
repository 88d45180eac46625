// Package ipfsclient implements the worker's two IPFS-facing seams (spec
// §6 "IPFS gateway", §4.10 steps 4/8/9): fetching a request's metadata
// document by CID from the read gateway, and uploading newly-produced
// artifacts (situation artifacts, delivery payloads, dispatch payloads)
// through a Kubo-compatible pin endpoint. No IPFS HTTP client library
// appears anywhere in the pack (go-cid/go-multihash are CID-computation
// libraries only), so this is a plain net/http client grounded on the
// same request shape as internal/controlapi and internal/ledgerindex,
// without their retry loop: each call makes a single attempt.
package ipfsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/ipfs/go-cid"

	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

const (
	fetchTimeout  = 10 * time.Second
	uploadTimeout = 15 * time.Second
)

// Client fetches from an IPFS gateway and uploads through its pin
// endpoint. It satisfies internal/lifecycle's IPFSFetcher and
// ArtifactUploader seams.
type Client struct {
	gatewayURL string
	httpClient *http.Client
}

// New constructs a Client against gatewayURL (IPFS_GATEWAY_URL).
func New(gatewayURL string) *Client {
	return &Client{
		gatewayURL: strings.TrimSuffix(gatewayURL, "/"),
		httpClient: &http.Client{},
	}
}

// Fetch implements lifecycle.IPFSFetcher: GET <gateway>/<cid>.
func (c *Client) Fetch(ctx context.Context, cidStr string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s", c.gatewayURL, strings.TrimPrefix(cidStr, "/"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, svcerrors.Internal("build ipfs fetch request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, svcerrors.Unavailable("ipfsclient.fetch", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, svcerrors.Unavailable("ipfsclient.fetch", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, svcerrors.Unavailable("ipfsclient.fetch", fmt.Errorf("status %d fetching %s", resp.StatusCode, cidStr))
	}
	return body, nil
}

// FetchChild implements the child-delivery-payload lookup (spec §6: GET
// <gateway>/<dirCid>/<requestId>).
func (c *Client) FetchChild(ctx context.Context, dirCID, requestID string) ([]byte, error) {
	return c.Fetch(ctx, fmt.Sprintf("%s/%s", strings.TrimPrefix(dirCID, "/"), requestID))
}

type addResponse struct {
	Hash string `json:"Hash"`
}

// Upload implements lifecycle.ArtifactUploader: POSTs data as a
// multipart-form file to the gateway's Kubo-compatible /api/v0/add
// endpoint and returns the pinned CID.
func (c *Client) Upload(ctx context.Context, name string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	if err != nil {
		return "", svcerrors.Internal("build ipfs upload form", err)
	}
	if _, err := part.Write(data); err != nil {
		return "", svcerrors.Internal("write ipfs upload form", err)
	}
	if err := writer.Close(); err != nil {
		return "", svcerrors.Internal("close ipfs upload form", err)
	}

	url := fmt.Sprintf("%s/api/v0/add?pin=true", c.gatewayURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return "", svcerrors.Internal("build ipfs upload request", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", svcerrors.Unavailable("ipfsclient.upload", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", svcerrors.Unavailable("ipfsclient.upload", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", svcerrors.Unavailable("ipfsclient.upload", fmt.Errorf("status %d: %s", resp.StatusCode, raw))
	}

	var decoded addResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", svcerrors.Internal("decode ipfs upload response", err)
	}
	if decoded.Hash == "" {
		return "", svcerrors.Internal("decode ipfs upload response", fmt.Errorf("empty Hash in response"))
	}

	if _, err := cid.Decode(decoded.Hash); err != nil {
		return "", svcerrors.InvalidPayload("ipfs gateway returned a malformed CID")
	}
	return decoded.Hash, nil
}
