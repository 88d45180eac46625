package blueprint

import "context"

// InvariantProvider emits invariants during Phase 2, with read-only access
// to the BlueprintContext Phase 1 built.
type InvariantProvider interface {
	Name() string
	Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) ([]Invariant, error)
}

// SystemInvariantProvider emits the fixed system-level invariants every job
// carries regardless of its own content.
type SystemInvariantProvider struct{}

func (SystemInvariantProvider) Name() string { return "System" }

func (SystemInvariantProvider) Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) ([]Invariant, error) {
	return []Invariant{
		{ID: "SYS-NO-SECRETS", Kind: KindBoolean, Condition: "no secret material is written to shared outputs", Assessment: "grep outputs for key-like patterns"},
	}, nil
}

// OutputInvariantProvider derives invariants from the job's outputSpec.
type OutputInvariantProvider struct{}

func (OutputInvariantProvider) Name() string { return "Output" }

func (OutputInvariantProvider) Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) ([]Invariant, error) {
	if in.OutputSpec == nil {
		return nil, nil
	}
	return []Invariant{
		{ID: "OUT-SPEC-SATISFIED", Kind: KindBoolean, Condition: "final output conforms to outputSpec", Assessment: "compare output against outputSpec"},
	}, nil
}

// StrategyInvariantProvider emits execution-strategy invariants.
type StrategyInvariantProvider struct{}

func (StrategyInvariantProvider) Name() string { return "Strategy" }

func (StrategyInvariantProvider) Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) ([]Invariant, error) {
	return []Invariant{
		{ID: "STRAT-MINIMAL-CHANGE", Kind: KindBoolean, Condition: "changes are scoped to what the goal requires", Assessment: "diff review"},
	}, nil
}

// RecoveryInvariantProvider emits invariants about handling failure cases.
type RecoveryInvariantProvider struct{}

func (RecoveryInvariantProvider) Name() string { return "Recovery" }

func (RecoveryInvariantProvider) Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) ([]Invariant, error) {
	return []Invariant{
		{ID: "RECOV-NO-SILENT-FAILURE", Kind: KindBoolean, Condition: "failures are surfaced, not swallowed", Assessment: "review error handling paths"},
	}, nil
}

// GoalInvariantProvider passes the blueprint document's own invariants[]
// straight through, preserving their IDs and prefixes verbatim.
type GoalInvariantProvider struct{}

func (GoalInvariantProvider) Name() string { return "Goal" }

func (GoalInvariantProvider) Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) ([]Invariant, error) {
	return in.GoalInvariants, nil
}

// LearningInvariantProvider emits invariants about capturing lessons learned.
type LearningInvariantProvider struct{}

func (LearningInvariantProvider) Name() string { return "Learning" }

func (LearningInvariantProvider) Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) ([]Invariant, error) {
	return []Invariant{
		{ID: "LEARN-RECORD-SURPRISES", Kind: KindBoolean, Condition: "unexpected findings are recorded in the summary", Assessment: "summary review"},
	}, nil
}

// StateInvariantProvider emits invariants about consistent state tracking.
type StateInvariantProvider struct{}

func (StateInvariantProvider) Name() string { return "State" }

func (StateInvariantProvider) Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) ([]Invariant, error) {
	return []Invariant{
		{ID: "STATE-CONSISTENT", Kind: KindBoolean, Condition: "no contradictory state is left behind", Assessment: "state review"},
	}, nil
}

// ToolingInvariantProvider emits invariants about tool usage discipline.
type ToolingInvariantProvider struct{}

func (ToolingInvariantProvider) Name() string { return "Tooling" }

func (ToolingInvariantProvider) Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) ([]Invariant, error) {
	if len(in.EnabledTools) == 0 {
		return nil, nil
	}
	return []Invariant{
		{ID: "TOOL-WITHIN-ENABLED-SET", Kind: KindBoolean, Condition: "only enabledTools are invoked", Assessment: "tool-call audit"},
	}, nil
}

// QualityInvariantProvider emits generic output-quality invariants.
type QualityInvariantProvider struct{}

func (QualityInvariantProvider) Name() string { return "Quality" }

func (QualityInvariantProvider) Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) ([]Invariant, error) {
	return []Invariant{
		{ID: "QUAL-ACTIONABLE-SUMMARY", Kind: KindBoolean, Condition: "the final summary is specific and actionable", Assessment: "summary review"},
	}, nil
}

// CycleInvariantProvider holds the Cycle slot in the provider order. It
// emits no invariants: BuildInput carries no cyclic flag for it to act on.
type CycleInvariantProvider struct{}

func (CycleInvariantProvider) Name() string { return "Cycle" }

func (CycleInvariantProvider) Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) ([]Invariant, error) {
	return nil, nil
}

// CoordinationInvariantProvider emits the dynamic COORD-* invariants
// derived from the child hierarchy Phase 1 built.
type CoordinationInvariantProvider struct{}

func (CoordinationInvariantProvider) Name() string { return "Coordination" }

func (CoordinationInvariantProvider) Provide(ctx context.Context, in BuildInput, bc *BlueprintContext) ([]Invariant, error) {
	var out []Invariant

	var failed, completedNoBranch []string
	var activeExists bool
	for _, c := range bc.Children {
		switch c.Status {
		case ChildFailed:
			failed = append(failed, c.ID)
		case ChildActive:
			activeExists = true
		case ChildCompleted:
			if !c.HasBranch() {
				completedNoBranch = append(completedNoBranch, c.ID)
			}
		}
	}

	if len(failed) > 0 {
		out = append(out, Invariant{
			ID:        "COORD-FAILED-CHILDREN",
			Kind:      KindBoolean,
			Condition: "all failed children are addressed before completion",
			Examples:  failed,
		})
	} else if !in.IsVerificationTask {
		out = append(out, Invariant{
			ID:        "COORD-PARENT-ROLE",
			Kind:      KindBoolean,
			Condition: "children are reviewed before the parent proceeds",
		})
	}

	if len(bc.UnintegratedBranches) > 0 {
		out = append(out, Invariant{
			ID:        "COORD-BRANCH-REVIEW",
			Kind:      KindBoolean,
			Condition: "unintegrated child branches are reviewed and merged or rejected",
			Examples:  bc.UnintegratedBranches,
		})
	}

	if len(completedNoBranch) > 0 {
		out = append(out, Invariant{
			ID:        "COORD-ARTIFACT-CHILDREN",
			Kind:      KindBoolean,
			Condition: "completed non-code children's artifacts are reviewed",
			Examples:  completedNoBranch,
		})
	}

	if len(bc.MergeConflicts) > 0 {
		out = append(out, Invariant{
			ID:        "COORD-MERGE-CONFLICTS",
			Kind:      KindBoolean,
			Condition: "merge conflicts in dependency branches are resolved",
			Examples:  bc.MergeConflicts,
		})
	}

	if in.IsRerun {
		missionIDs := missionInvariantIDs(append(in.GoalInvariants))
		var unmeasured []string
		for _, id := range missionIDs {
			if _, measured := bc.PriorMeasurements[id]; !measured {
				unmeasured = append(unmeasured, id)
			}
		}
		allUnmeasured := len(unmeasured) == len(missionIDs) && len(missionIDs) > 0
		if len(unmeasured) > 0 && !(allUnmeasured && activeExists) {
			out = append(out, Invariant{
				ID:        "COORD-UNMEASURED",
				Kind:      KindBoolean,
				Condition: "unmeasured mission invariants from a prior run are addressed",
				Examples:  unmeasured,
			})
		}
	}

	return out, nil
}

func missionInvariantIDs(invariants []Invariant) []string {
	var ids []string
	for _, inv := range invariants {
		if isMissionInvariant(inv.ID) {
			ids = append(ids, inv.ID)
		}
	}
	return ids
}
