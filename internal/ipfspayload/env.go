package ipfspayload

import "strings"

// Environment variable names the current agent's job context is dispatched
// under — set by the Request Lifecycle Engine when it spawns the Agent
// subprocess for this job. This block is the internal parent-context
// read-back the Builder itself consumes (LoadAgentJobContext, below): it
// predates and has no 1:1 correspondence to spec §6's published list,
// since the spec never names a parent-job-definition or parent-branch
// propagation variable of its own.
const (
	EnvRequestID             = "JINN_REQUEST_ID"
	EnvParentJobDefinitionID = "JINN_PARENT_JOB_DEFINITION_ID"
	EnvParentBranch          = "JINN_PARENT_BRANCH"
	EnvWorkstreamID          = "JINN_WORKSTREAM_ID"
	EnvVentureID             = "JINN_VENTURE_ID"
	EnvAllowedModels         = "JINN_ALLOWED_MODELS" // comma-separated
	EnvInheritedEnvPrefix    = "JINN_INHERITED_ENV_" // JINN_INHERITED_ENV_FOO=bar -> env["FOO"]=bar
)

// Published, write-only environment variables (spec §6's literal JINN_*
// list): the Request Lifecycle Engine sets these for the Agent subprocess
// to read directly; nothing in this worker reads them back. Distinct from
// the read-back block above, which feeds the Builder's own parent-context
// resolution rather than the spawned agent.
const (
	EnvJobDefinitionID       = "JINN_JOB_DEFINITION_ID"
	EnvParentRequestID       = "JINN_PARENT_REQUEST_ID"
	EnvBranchName            = "JINN_BRANCH_NAME"
	EnvBaseBranch            = "JINN_BASE_BRANCH"
	EnvCompletedChildren     = "JINN_COMPLETED_CHILDREN"     // comma-separated child job IDs
	EnvChildWorkReviewed     = "JINN_CHILD_WORK_REVIEWED"    // comma-separated child job IDs whose branch is already integrated
	EnvRequiredTools         = "JINN_REQUIRED_TOOLS"         // comma-separated
	EnvAvailableTools        = "JINN_AVAILABLE_TOOLS"        // comma-separated
	EnvBlueprintInvariantIDs = "JINN_BLUEPRINT_INVARIANT_IDS" // comma-separated
	EnvDefaultModel          = "JINN_DEFAULT_MODEL"
	// EnvInheritedEnv is the literal spec-named single variable, a
	// JSON-encoded object; it mirrors EnvInheritedEnvPrefix's per-key
	// encoding (which LoadAgentJobContext reads back) in the exact shape
	// spec §6 names, for any consumer that expects one JINN_INHERITED_ENV
	// variable rather than a family of prefixed ones.
	EnvInheritedEnv = "JINN_INHERITED_ENV"
)

// AgentJobContext is the current-agent job context read from the process
// environment the dispatcher set up before exec'ing this worker's own
// request-processing path (spec §4.5 "fetch current-agent job context").
type AgentJobContext struct {
	RequestID             string
	ParentJobDefinitionID string
	ParentBranch          string
	WorkstreamID          string
	VentureID             string
	AllowedModels         []string
	InheritedEnv          map[string]string
}

// LoadAgentJobContext reads the dispatch-time environment from environ,
// a list of KEY=VALUE entries (os.Environ(), or a fake in tests).
func LoadAgentJobContext(environ []string) AgentJobContext {
	lookup := make(map[string]string, len(environ))
	for _, kv := range environ {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			lookup[kv[:idx]] = kv[idx+1:]
		}
	}

	ctx := AgentJobContext{
		RequestID:             lookup[EnvRequestID],
		ParentJobDefinitionID: lookup[EnvParentJobDefinitionID],
		ParentBranch:          lookup[EnvParentBranch],
		WorkstreamID:          lookup[EnvWorkstreamID],
		VentureID:             lookup[EnvVentureID],
		InheritedEnv:          make(map[string]string),
	}
	if raw := lookup[EnvAllowedModels]; raw != "" {
		for _, m := range strings.Split(raw, ",") {
			if m = strings.TrimSpace(m); m != "" {
				ctx.AllowedModels = append(ctx.AllowedModels, m)
			}
		}
	}
	for k, v := range lookup {
		if strings.HasPrefix(k, EnvInheritedEnvPrefix) {
			ctx.InheritedEnv[strings.TrimPrefix(k, EnvInheritedEnvPrefix)] = v
		}
	}
	return ctx
}
