package blueprint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jinn-network/jinn-worker/internal/logging"
	"github.com/jinn-network/jinn-worker/internal/metrics"
)

// Builder runs the two-phase provider pipeline. Context and invariant
// providers are registered once, in order, and run synchronously — the
// teacher's named-handler registration style
// (eventListener.On("EventName", fn)) adapted from an async event bus to a
// deterministic pipeline where ordering (not event arrival) determines
// execution order.
type Builder struct {
	contextProviders   []ContextProvider
	invariantProviders []InvariantProvider
	log                *logging.Logger
}

// NewBuilder constructs a Builder with the standard provider set, in the
// spec's §4.6 order. log may be nil, in which case provider failures are
// silently skipped rather than logged.
func NewBuilder(log *logging.Logger, jobContext *JobContextProvider, progress *ProgressCheckpointProvider) *Builder {
	b := &Builder{log: log}
	b.contextProviders = []ContextProvider{
		jobContext,
		progress,
		&MeasurementContextProvider{},
	}
	b.invariantProviders = []InvariantProvider{
		SystemInvariantProvider{},
		OutputInvariantProvider{},
		StrategyInvariantProvider{},
		RecoveryInvariantProvider{},
		GoalInvariantProvider{},
		LearningInvariantProvider{},
		CoordinationInvariantProvider{},
		StateInvariantProvider{},
		ToolingInvariantProvider{},
		QualityInvariantProvider{},
		CycleInvariantProvider{},
	}
	return b
}

// Build runs both phases and returns the assembled Blueprint. Individual
// provider failures are isolated: logged and skipped, never failing the
// whole build.
func (b *Builder) Build(ctx context.Context, in BuildInput) (*BuildResult, error) {
	start := time.Now()

	bc := &BlueprintContext{
		JobDefinitionID:    in.JobDefinitionID,
		IsVerificationTask: in.IsVerificationTask,
		OutputSpec:         in.OutputSpec,
		GoalInvariants:     in.GoalInvariants,
		EnabledTools:       in.EnabledTools,
		AllowedModels:      in.AllowedModels,
	}

	for _, p := range b.contextProviders {
		if err := p.Provide(ctx, in, bc); err != nil {
			b.logProviderFailure("context", p.Name(), err)
		}
	}

	var invariants []Invariant
	for _, p := range b.invariantProviders {
		emitted, err := p.Provide(ctx, in, bc)
		if err != nil {
			b.logProviderFailure("invariant", p.Name(), err)
			continue
		}
		invariants = append(invariants, emitted...)
	}

	sortByLayer(invariants)

	buildTime := time.Since(start)
	metrics.BlueprintBuilds.WithLabelValues("success").Inc()
	return &BuildResult{
		Blueprint: Blueprint{
			Invariants: invariants,
			Context:    bc,
			Metadata:   Metadata{BuildTime: buildTime},
		},
		BuildTime: buildTime,
	}, nil
}

func (b *Builder) logProviderFailure(phase, name string, err error) {
	if b.log == nil {
		return
	}
	b.log.WithField("phase", phase).WithField("provider", name).WithError(err).
		Warn("blueprint provider failed, skipping")
}

// BuildPrompt renders bp to prose with three semantic layers: IMMEDIATE
// (COORD/QUAL/RECOV), MISSION (JOB/GOAL/OUT/STRAT), and PROTOCOL (the
// rest), in that order.
func BuildPrompt(bp Blueprint) string {
	sections := map[PromptLayer][]Invariant{}
	for _, inv := range bp.Invariants {
		layer := promptLayerOf(inv.ID)
		sections[layer] = append(sections[layer], inv)
	}

	var sb strings.Builder
	for _, layer := range []PromptLayer{PromptImmediate, PromptMission, PromptProtocol} {
		invariants := sections[layer]
		if len(invariants) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "## %s\n", layer)
		for _, inv := range invariants {
			writeInvariantLine(&sb, inv)
		}
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

func writeInvariantLine(sb *strings.Builder, inv Invariant) {
	switch inv.Kind {
	case KindFloor, KindCeiling, KindRange:
		fmt.Fprintf(sb, "- [%s] %s", inv.ID, inv.Metric)
		if inv.Min != nil {
			fmt.Fprintf(sb, " min=%v", *inv.Min)
		}
		if inv.Max != nil {
			fmt.Fprintf(sb, " max=%v", *inv.Max)
		}
		sb.WriteByte('\n')
	default:
		fmt.Fprintf(sb, "- [%s] %s", inv.ID, inv.Condition)
		if len(inv.Examples) > 0 {
			fmt.Fprintf(sb, " (%s)", strings.Join(inv.Examples, ", "))
		}
		sb.WriteByte('\n')
	}
}
