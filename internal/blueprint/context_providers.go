package blueprint

import (
	"context"
	"net/http"
)

// ChildIndex fetches the children of a job definition from the ledger
// index. Implementations live outside this package (the index client).
type ChildIndex interface {
	Children(ctx context.Context, jobDefinitionID string) ([]ChildJob, error)
}

// BranchIntegrationChecker reports whether a child's branch is already
// merged into the parent, preferring local git inspection when a repo root
// is available.
type BranchIntegrationChecker interface {
	IsIntegrated(ctx context.Context, branch string) (bool, error)
	MergeConflicts(ctx context.Context, branch string) ([]string, error)
}

// ContextProvider populates one facet of a BlueprintContext during Phase 1.
// Modeled on the teacher's named-handler registration style
// (SetupEventTriggerListener's eventListener.On("Name", fn)), adapted to a
// synchronous two-phase pipeline: each provider is registered once, by
// name, and run in order instead of reacting to an async event bus.
type ContextProvider interface {
	Name() string
	Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) error
}

// JobContextProvider fetches child jobs and attaches their integration and
// delivered-summary state.
type JobContextProvider struct {
	Index      ChildIndex
	Git        BranchIntegrationChecker // nil if no repo root is available
	HTTPClient *http.Client
	Gateway    string
}

func (p *JobContextProvider) Name() string { return "JobContext" }

func (p *JobContextProvider) Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) error {
	if p.Index == nil {
		return nil
	}
	children, err := p.Index.Children(ctx, in.JobDefinitionID)
	if err != nil {
		return err
	}

	for i := range children {
		child := &children[i]
		if child.Status != ChildCompleted {
			continue
		}
		if child.HasBranch() && p.Git != nil {
			integrated, err := p.Git.IsIntegrated(ctx, child.Branch)
			if err == nil && !integrated {
				bc.UnintegratedBranches = append(bc.UnintegratedBranches, child.Branch)
				if conflicts, err := p.Git.MergeConflicts(ctx, child.Branch); err == nil {
					bc.MergeConflicts = append(bc.MergeConflicts, conflicts...)
				}
			}
		}
		if p.Gateway != "" && child.DeliveryIPFSHash != "" {
			if cidStr, err := reconstructDirectoryCID(child.DeliveryIPFSHash); err == nil {
				child.Summary = FetchDeliveredSummary(ctx, p.HTTPClient, p.Gateway, cidStr, child.ID)
			}
		}
	}

	bc.Children = children
	return nil
}

// ProgressCheckpointProvider stashes cumulative progress information
// alongside the context, when supplied.
type ProgressCheckpointProvider struct {
	Progress map[string]interface{}
}

func (p *ProgressCheckpointProvider) Name() string { return "ProgressCheckpoint" }

func (p *ProgressCheckpointProvider) Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) error {
	bc.Progress = p.Progress
	return nil
}

// MeasurementContextProvider includes prior invariant measurements when
// re-running a job.
type MeasurementContextProvider struct{}

func (p *MeasurementContextProvider) Name() string { return "MeasurementContext" }

func (p *MeasurementContextProvider) Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) error {
	if in.IsRerun {
		bc.PriorMeasurements = in.PriorMeasurements
	}
	return nil
}
