// Package controlapi implements the Control API Client (spec §4.12): an
// ERC-8128-signed GraphQL mutation surface with per-request timeouts,
// exponential retry, and deterministic idempotency keys, grounded on the
// teacher's services/txsubmitter submitWithRetry shape.
package controlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/jinn-network/jinn-worker/internal/erc8128"
	"github.com/jinn-network/jinn-worker/internal/logging"
	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

// requestTimeout is the per-attempt HTTP timeout.
const requestTimeout = 10 * time.Second

// maxRetries is the number of retries after the initial attempt (4 total
// attempts), with delays 500ms, 1s, 2s between them.
const maxRetries = 3

var retryDelays = []time.Duration{500 * time.Millisecond, 1 * time.Second, 2 * time.Second}

// Client is the signed GraphQL mutation client used by the Request
// Lifecycle Engine and Venture Watcher.
type Client struct {
	baseURL    string
	path       string
	httpClient *http.Client
	signer     *erc8128.Signer
	log        *logging.Logger
}

// New constructs a Client targeting baseURL's GraphQL endpoint, signing
// every mutation with signer.
func New(baseURL string, signer *erc8128.Signer, log *logging.Logger) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, svcerrors.InvalidInput("baseURL", err.Error())
	}
	return &Client{
		baseURL:    baseURL,
		path:       parsed.Path,
		httpClient: &http.Client{Timeout: requestTimeout},
		signer:     signer,
		log:        log,
	}, nil
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message string `json:"message"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors,omitempty"`
}

// mutate performs a signed GraphQL mutation with retry, unmarshalling the
// response's "data" field into out. idempotencyParts build the
// Idempotency-Key header (see idempotencyKey).
func (c *Client) mutate(ctx context.Context, query string, variables map[string]interface{}, out interface{}, idempotencyParts ...string) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return svcerrors.Internal("marshal graphql request", err)
	}
	key := idempotencyKey(idempotencyParts...)

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelays[attempt-1]
			jitter := time.Duration(float64(delay) * 0.2 * (rand.Float64()*2 - 1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay + jitter):
			}
		}

		data, err := c.attempt(ctx, key, body)
		if err == nil {
			if out != nil && len(data) > 0 {
				if jsonErr := json.Unmarshal(data, out); jsonErr != nil {
					return svcerrors.Internal("unmarshal graphql data", jsonErr)
				}
			}
			return nil
		}
		lastErr = err

		if se := svcerrors.As(err); se != nil && se.Code == svcerrors.CodeInvalidInput {
			// GraphQL-level errors are a terminal answer from the server, not retried.
			return err
		}

		if c.log != nil {
			c.log.WithError(err).WithField("attempt", attempt).Warn("control API mutation failed, retrying")
		}
	}
	return svcerrors.Unavailable("controlapi.mutate", lastErr)
}

func (c *Client) attempt(ctx context.Context, idempotencyKey string, body []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, svcerrors.Internal("build control API request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", idempotencyKey)

	if err := c.signer.Sign(req, http.MethodPost, c.path, body); err != nil {
		return nil, svcerrors.Internal("sign control API request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, svcerrors.Unavailable("controlapi.do", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, svcerrors.Unavailable("controlapi.read", err)
	}

	if resp.StatusCode >= 500 {
		return nil, svcerrors.Unavailable("controlapi.status", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		return nil, svcerrors.InvalidInput("controlapi", fmt.Sprintf("status %d: %s", resp.StatusCode, raw))
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(raw, &gqlResp); err != nil {
		return nil, svcerrors.Unavailable("controlapi.decode", err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, svcerrors.InvalidInput("controlapi", gqlResp.Errors[0].Message)
	}
	return gqlResp.Data, nil
}
