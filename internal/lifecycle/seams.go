package lifecycle

import "context"

// RequestIndex discovers undelivered requests addressed to the given mech
// addresses (spec §4.10 step 2), querying the ledger index.
type RequestIndex interface {
	CandidateRequests(ctx context.Context, mechs []string) ([]Request, error)
}

// IPFSFetcher fetches a request's metadata document by CID (spec §4.10
// step 4). Callers apply their own timeout.
type IPFSFetcher interface {
	Fetch(ctx context.Context, cid string) ([]byte, error)
}

// AgentRunner launches the agent subprocess for one job and collects its
// result (spec §4.10 steps 6-7).
type AgentRunner interface {
	Run(ctx context.Context, in AgentInput) (AgentOutput, error)
}

// Embedder produces an embedding vector for situation-artifact summary
// text (spec §4.10 step 8). Optional: a nil Embedder skips embedding.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// ArtifactUploader uploads a named JSON document to IPFS and returns its
// CID (spec §4.10 steps 8-9).
type ArtifactUploader interface {
	Upload(ctx context.Context, name string, data []byte) (cid string, err error)
}
