package blueprint

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	summaryFetchTimeout  = 8 * time.Second
	summaryTruncateBytes = 1000
)

type deliveredArtifact struct {
	StructuredSummary string `json:"structuredSummary"`
	Output            string `json:"output"`
}

// FetchDeliveredSummary fetches a completed child's previously-delivered
// summary from gateway/cid/requestID, preferring the structured summary
// field and falling back to a truncated raw output field. Returns "" (no
// error) on any non-fatal fetch failure — a missing summary degrades the
// prompt, it doesn't fail the build.
func FetchDeliveredSummary(ctx context.Context, httpClient *http.Client, gateway, cidStr, requestID string) string {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	ctx, cancel := context.WithTimeout(ctx, summaryFetchTimeout)
	defer cancel()

	url := fmt.Sprintf("%s/%s/%s", gateway, cidStr, requestID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ""
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return ""
	}

	var artifact deliveredArtifact
	if err := json.Unmarshal(body, &artifact); err != nil {
		return ""
	}
	if artifact.StructuredSummary != "" {
		return artifact.StructuredSummary
	}
	return truncate(artifact.Output, summaryTruncateBytes)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
