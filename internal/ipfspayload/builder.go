package ipfspayload

import (
	"context"

	"github.com/google/uuid"

	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

// networkID is the fixed value the spec requires on every payload.
const networkID = "jinn"

// Builder assembles IPFS Job Payloads (spec §4.5). It is the single source
// of truth for the on-chain-referenced JSON payload: given an Input, it
// produces a self-contained document an Agent subprocess can execute from
// without any further lookups.
type Builder struct {
	Hierarchy HierarchyIndex
	Branches  BranchCreator
	// Environ supplies the dispatch-time environment (normally os.Environ());
	// overridable in tests.
	Environ []string
}

// NewBuilder constructs a Builder. hierarchy and branches may be nil; a nil
// HierarchyIndex skips hierarchy enrichment, a nil BranchCreator means
// coding jobs must always arrive with a CodeMetadata override.
func NewBuilder(hierarchy HierarchyIndex, branches BranchCreator, environ []string) *Builder {
	if hierarchy == nil {
		hierarchy = noHierarchyIndex{}
	}
	return &Builder{Hierarchy: hierarchy, Branches: branches, Environ: environ}
}

// Build assembles one JobPayload from in, per spec §4.5's process:
// universal-tool injection, model normalization/policy cascade, current-job
// env overlay, hierarchy attachment, and (for coding jobs) branch
// resolution.
func (b *Builder) Build(ctx context.Context, in Input) (*Result, error) {
	agentCtx := LoadAgentJobContext(b.Environ)

	tools := mergeUnique(in.EnabledTools, universalTools...)
	if in.IsCodingJob {
		tools = mergeUnique(tools, codingOnlyTool)
	}

	model := in.Model
	if deprecatedModels[model] {
		return nil, svcerrors.UnauthorizedModel(model)
	}
	allowedModels := resolveAllowedModels(in.AllowedModels, agentCtx.AllowedModels)
	if model != "" && !isAllowed(model, allowedModels) {
		return nil, svcerrors.UnauthorizedModel(model)
	}

	env := make(map[string]string, len(agentCtx.InheritedEnv)+len(in.AdditionalContextOverrides.Env))
	for k, v := range agentCtx.InheritedEnv {
		env[k] = v
	}
	for k, v := range in.AdditionalContextOverrides.Env {
		env[k] = v
	}

	hierarchy, err := b.Hierarchy.ChildHierarchy(ctx, in.JobDefinitionID)
	if err != nil {
		return nil, err
	}

	message := in.Message
	if message == "" {
		message = extractLegacyMessage(in.BlueprintText)
	}

	additionalContext := &AdditionalContext{
		Hierarchy:     hierarchy.Hierarchy,
		Summary:       hierarchy.Summary,
		Env:           env,
		Message:       message,
		WorkspaceRepo: in.AdditionalContextOverrides.WorkspaceRepo,
	}

	codeMetadata := in.CodeMetadata
	var branchResult *BranchResult
	var branchName, baseBranch string
	if in.IsCodingJob {
		switch {
		case codeMetadata != nil:
			branchName = codeMetadata.Branch
			baseBranch = codeMetadata.BaseBranch
			branchResult = &BranchResult{BranchName: branchName, BaseBranch: baseBranch, Created: false}
		case b.Branches != nil:
			base := firstNonEmpty(baseBranch, agentCtx.ParentBranch, defaultBaseBranch)
			repo := in.AdditionalContextOverrides.WorkspaceRepo
			result, err := b.Branches.CreateBranch(ctx, repo, base)
			if err != nil {
				return nil, err
			}
			branchResult = &result
			branchName = result.BranchName
			baseBranch = result.BaseBranch
			codeMetadata = &CodeMetadata{RepoURL: repo, Branch: branchName, BaseBranch: baseBranch}
		default:
			return nil, svcerrors.InvalidInput("codeMetadata", "coding job requires codeMetadata or a BranchCreator")
		}
	}

	nonce := uuid.NewString()

	payload := JobPayload{
		NetworkID:             networkID,
		Blueprint:             in.BlueprintText,
		JobName:               in.JobName,
		JobDefinitionID:       in.JobDefinitionID,
		EnabledTools:          tools,
		Tools:                 in.Tools,
		AllowedModels:         allowedModels,
		Model:                 model,
		Nonce:                 nonce,
		AdditionalContext:     additionalContext,
		WorkstreamID:          in.WorkstreamID,
		VentureID:             in.VentureID,
		TemplateID:            in.TemplateID,
		CodeMetadata:          codeMetadata,
		BranchName:            branchName,
		BaseBranch:            baseBranch,
		ExecutionPolicy:       in.ExecutionPolicy,
		SourceRequestID:       in.SourceRequestID,
		SourceJobDefinitionID: in.SourceJobDefinitionID,
		Dependencies:          in.Dependencies,
		InputSpec:             in.InputSpec,
		OutputSpec:            in.OutputSpec,
		Cyclic:                in.Cyclic,
		Lineage: &Lineage{
			SourceRequestID:       in.SourceRequestID,
			SourceJobDefinitionID: in.SourceJobDefinitionID,
			ParentJobDefinitionID: agentCtx.ParentJobDefinitionID,
			ParentBranches:        nonEmptySlice(agentCtx.ParentBranch),
		},
	}

	return &Result{
		Payloads:     []JobPayload{payload},
		Branch:       branchResult,
		CodeMetadata: codeMetadata,
	}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func nonEmptySlice(v string) []string {
	if v == "" {
		return nil
	}
	return []string{v}
}
