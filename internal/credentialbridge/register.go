package credentialbridge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jinn-network/jinn-worker/internal/erc8128"
	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

const registerTimeout = 10 * time.Second

// Registrar self-registers this worker's operator identity with the
// credential bridge (spec §4.11), ahead of being able to fetch
// third-party credentials through it.
type Registrar struct {
	baseURL    string
	path       string
	httpClient *http.Client
	signer     *erc8128.Signer
}

// NewRegistrar constructs a Registrar targeting a credential-bridge
// baseURL.
func NewRegistrar(baseURL string, signer *erc8128.Signer) (*Registrar, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, svcerrors.InvalidInput("baseURL", err.Error())
	}
	return &Registrar{
		baseURL:    baseURL + "/admin/operators",
		path:       parsed.Path + "/admin/operators",
		httpClient: &http.Client{Timeout: registerTimeout},
		signer:     signer,
	}, nil
}

// Register POSTs an ERC-8128-signed empty body to /admin/operators. Both
// 201 (newly registered) and 409 (already registered) are success; any
// other response is an error. Callers treat a failure as non-fatal: log
// and continue.
func (r *Registrar) Register(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL, nil)
	if err != nil {
		return svcerrors.Internal("build operator registration request", err)
	}
	if err := r.signer.Sign(req, http.MethodPost, r.path, nil); err != nil {
		return svcerrors.Internal("sign operator registration request", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return svcerrors.Unavailable("credentialbridge.register", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusConflict:
		return nil
	default:
		return svcerrors.Unavailable("credentialbridge.register", fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
}
