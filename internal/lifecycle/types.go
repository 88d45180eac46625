// Package lifecycle implements the Request Lifecycle Engine (spec §4.10):
// the worker's main loop, discovering undelivered marketplace requests,
// dispatching an agent subprocess against each, and recording the outcome
// on-chain and through the Control API.
package lifecycle

import (
	"encoding/json"
	"time"
)

// Request is one undelivered marketplace request discovered from the
// ledger index (spec §3's "Request" entity, trimmed to what the engine
// needs).
type Request struct {
	ID                    string
	Mech                  string
	Sender                string
	SourceRequestID       string
	SourceJobDefinitionID string
	IPFSHash              string
	ChainID               int64
}

// Outcome classifies one RunCycle for the idle/error sleep rule (spec
// §4.10's closing "Idle/error behavior" table).
type Outcome int

const (
	OutcomeNoWork Outcome = iota
	OutcomePartial
	OutcomeSuccess
	OutcomeCriticalError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNoWork:
		return "NO_WORK"
	case OutcomePartial:
		return "PARTIAL"
	case OutcomeSuccess:
		return "SUCCESS"
	case OutcomeCriticalError:
		return "CRITICAL_ERROR"
	default:
		return "UNKNOWN"
	}
}

// sleepFor maps an Outcome to the sleep duration spec §4.10 prescribes
// between main-loop cycles.
func sleepFor(o Outcome) time.Duration {
	switch o {
	case OutcomeNoWork:
		return 5 * time.Second
	case OutcomePartial:
		return 2 * time.Second
	case OutcomeCriticalError:
		return 30 * time.Second
	default:
		return 0
	}
}

const ipfsFetchTimeout = 7 * time.Second

// AgentInput is everything the Agent subprocess needs to execute one job
// (spec §4.10 step 6): the rendered prompt, its tool/model policy, and the
// Signing Proxy coordinates it should use for any signature it needs.
type AgentInput struct {
	RequestID       string
	JobDefinitionID string
	ProxyURL        string
	ProxySecret     string
	Prompt          string
	EnabledTools    []string
	Model           string
}

// AgentArtifact is one file the agent produced during execution.
type AgentArtifact struct {
	Name        string
	ContentType string
	Data        []byte
}

// AgentOutput is the agent subprocess's collected result (spec §4.10 step
// 7): structured output, telemetry, any artifacts, and a final status.
type AgentOutput struct {
	Status     string // "COMPLETED" or "FAILED"
	Output     string
	Result     map[string]interface{}
	ToolTrace  []map[string]interface{}
	Artifacts  []AgentArtifact
	TokenCount int64
	ErrorInfo  string
}

const (
	AgentStatusCompleted = "COMPLETED"
	AgentStatusFailed    = "FAILED"
)

// SituationArtifact is the JSON document persisted at step 8. It is
// encoded from scratch from the agent's outcome; no earlier recognition
// situation is read or enriched.
type SituationArtifact struct {
	RequestID  string                 `json:"requestId"`
	Status     string                 `json:"status"`
	Summary    string                 `json:"summary"`
	Result     map[string]interface{} `json:"result,omitempty"`
	Embedding  []float64              `json:"embedding,omitempty"`
	ToolTrace  []map[string]interface{} `json:"toolTrace,omitempty"`
	ErrorInfo  string                 `json:"errorInfo,omitempty"`
	RecordedAt time.Time              `json:"recordedAt"`
}

// deliveryPayload is the document uploaded to IPFS and referenced by the
// on-chain deliver() call (spec §4.10 step 9): output, structured summary,
// artifacts, provenance, telemetry, and the execution policy the job ran
// under.
type deliveryPayload struct {
	RequestID             string                   `json:"requestId"`
	Status                string                   `json:"status"`
	Output                string                   `json:"output,omitempty"`
	Result                map[string]interface{}   `json:"result,omitempty"`
	Artifacts             []deliveryArtifactRef    `json:"artifacts,omitempty"`
	SourceRequestID       string                   `json:"sourceRequestId,omitempty"`
	SourceJobDefinitionID string                   `json:"sourceJobDefinitionId,omitempty"`
	ToolTrace             []map[string]interface{} `json:"toolTrace,omitempty"`
	TokenCount            int64                    `json:"tokenCount"`
	ExecutionPolicy       json.RawMessage          `json:"executionPolicy,omitempty"`
	SituationCID          string                   `json:"situationCid,omitempty"`
}

type deliveryArtifactRef struct {
	Name string `json:"name"`
	CID  string `json:"cid"`
}
