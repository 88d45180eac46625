// Package ipfspayload builds the canonical JSON job payload pushed to IPFS
// and referenced on-chain (spec §4.5), the single source of truth an Agent
// subprocess needs to reconstruct hierarchy, tool policy, model policy, and
// execution branch from nothing but the payload itself.
package ipfspayload

import "encoding/json"

// ToolAnnotation is a single entry in the payload's annotated tools list.
type ToolAnnotation struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// CodeMetadata records the repo/branch a coding job executes against.
type CodeMetadata struct {
	RepoURL    string `json:"repoUrl"`
	Branch     string `json:"branch"`
	BaseBranch string `json:"baseBranch,omitempty"`
}

// AdditionalContext is the payload's free-form execution context, merged
// from the parent job's inherited env, the child hierarchy lookup, and any
// per-dispatch overrides.
type AdditionalContext struct {
	Hierarchy     interface{}       `json:"hierarchy,omitempty"`
	Summary       string            `json:"summary,omitempty"`
	Env           map[string]string `json:"env,omitempty"`
	Message       string            `json:"message,omitempty"`
	WorkspaceRepo string            `json:"workspaceRepo,omitempty"`
}

// Lineage records the dispatch chain this job descends from.
type Lineage struct {
	SourceRequestID       string   `json:"sourceRequestId,omitempty"`
	SourceJobDefinitionID string   `json:"sourceJobDefinitionId,omitempty"`
	ParentJobDefinitionID string   `json:"parentJobDefinitionId,omitempty"`
	ParentBranches        []string `json:"parentBranches,omitempty"`
}

// JobPayload is the IPFS Job Payload entity (spec §3): the object pushed to
// IPFS and referenced on-chain via its CID/multihash.
type JobPayload struct {
	NetworkID             string             `json:"networkId"`
	Blueprint             json.RawMessage    `json:"blueprint"`
	JobName               string             `json:"jobName"`
	JobDefinitionID       string             `json:"jobDefinitionId"`
	EnabledTools          []string           `json:"enabledTools"`
	Tools                 []ToolAnnotation   `json:"tools,omitempty"`
	AllowedModels         []string           `json:"allowedModels,omitempty"`
	Model                 string             `json:"model,omitempty"`
	Nonce                 string             `json:"nonce"`
	AdditionalContext     *AdditionalContext `json:"additionalContext,omitempty"`
	WorkstreamID          string             `json:"workstreamId,omitempty"`
	VentureID             string             `json:"ventureId,omitempty"`
	TemplateID            string             `json:"templateId,omitempty"`
	Lineage               *Lineage           `json:"lineage,omitempty"`
	CodeMetadata          *CodeMetadata      `json:"codeMetadata,omitempty"`
	BranchName            string             `json:"branchName,omitempty"`
	BaseBranch            string             `json:"baseBranch,omitempty"`
	ExecutionPolicy       json.RawMessage    `json:"executionPolicy,omitempty"`
	SourceRequestID       string             `json:"sourceRequestId,omitempty"`
	SourceJobDefinitionID string             `json:"sourceJobDefinitionId,omitempty"`
	Dependencies          []string           `json:"dependencies,omitempty"`
	InputSpec             json.RawMessage    `json:"inputSpec,omitempty"`
	OutputSpec            json.RawMessage    `json:"outputSpec,omitempty"`
	Cyclic                bool               `json:"cyclic,omitempty"`
}

// AdditionalContextOverrides lets a dispatcher force env vars or a
// workspace repo onto the built payload, taking precedence over inherited
// values.
type AdditionalContextOverrides struct {
	Env           map[string]string
	WorkspaceRepo string
}

// Input is everything the Builder needs to assemble one JobPayload.
type Input struct {
	BlueprintText               json.RawMessage
	JobName                     string
	JobDefinitionID             string
	Model                       string
	EnabledTools                []string
	Tools                       []ToolAnnotation
	Dependencies                []string
	Message                     string
	InputSchema                 json.RawMessage
	AllowedModels               []string
	Cyclic                      bool
	CodeMetadata                *CodeMetadata
	IsCodingJob                 bool
	WorkstreamID                string
	VentureID                   string
	TemplateID                  string
	AdditionalContextOverrides  AdditionalContextOverrides
	SourceRequestID             string
	SourceJobDefinitionID       string
	ExecutionPolicy             json.RawMessage
	InputSpec                   json.RawMessage
	OutputSpec                  json.RawMessage
}

// Result is the Builder's output: the marketplace-API-shaped payload array
// plus the branch/code-metadata decisions made along the way, for
// downstream logging.
type Result struct {
	Payloads     []JobPayload
	Branch       *BranchResult
	CodeMetadata *CodeMetadata
}
