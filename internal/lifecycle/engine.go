package lifecycle

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"time"

	"github.com/jinn-network/jinn-worker/internal/blueprint"
	"github.com/jinn-network/jinn-worker/internal/controlapi"
	"github.com/jinn-network/jinn-worker/internal/credentialbridge"
	"github.com/jinn-network/jinn-worker/internal/ipfspayload"
	"github.com/jinn-network/jinn-worker/internal/logging"
	"github.com/jinn-network/jinn-worker/internal/metrics"
	"github.com/jinn-network/jinn-worker/internal/signingproxy"
	"github.com/jinn-network/jinn-worker/internal/stakingfilter"
	"github.com/jinn-network/jinn-worker/internal/txqueue"
)

// Config wires every collaborator the Request Lifecycle Engine's eleven
// steps (spec §4.10) depend on.
type Config struct {
	WorkerID        string
	Credentials     []credentialbridge.Credential
	Rotator         *credentialbridge.Rotator
	Stake           *stakingfilter.Filter
	StakingContract string
	Index           RequestIndex
	IPFS            IPFSFetcher
	Control         *controlapi.Client
	Proxy           *signingproxy.Server

	BlueprintBuilder *blueprint.Builder
	PayloadBuilder   *ipfspayload.Builder

	Agent    AgentRunner
	Embedder Embedder // optional
	Uploader ArtifactUploader

	TxStore *txqueue.Store
	Log     *logging.Logger
}

// Engine runs the main request-processing loop.
type Engine struct {
	workerID string

	credentials []credentialbridge.Credential
	rotator     *credentialbridge.Rotator

	stake           *stakingfilter.Filter
	stakingContract string

	index RequestIndex
	ipfs  IPFSFetcher

	control *controlapi.Client
	proxy   *signingproxy.Server

	blueprintBuilder *blueprint.Builder
	payloadBuilder   *ipfspayload.Builder

	agent    AgentRunner
	embedder Embedder
	uploader ArtifactUploader

	txStore *txqueue.Store
	log     *logging.Logger
}

// NewEngine constructs an Engine from cfg.
func NewEngine(cfg Config) *Engine {
	return &Engine{
		workerID:         cfg.WorkerID,
		credentials:      cfg.Credentials,
		rotator:          cfg.Rotator,
		stake:            cfg.Stake,
		stakingContract:  cfg.StakingContract,
		index:            cfg.Index,
		ipfs:             cfg.IPFS,
		control:          cfg.Control,
		proxy:            cfg.Proxy,
		blueprintBuilder: cfg.BlueprintBuilder,
		payloadBuilder:   cfg.PayloadBuilder,
		agent:            cfg.Agent,
		embedder:         cfg.Embedder,
		uploader:         cfg.Uploader,
		txStore:          cfg.TxStore,
		log:              cfg.Log,
	}
}

// Run executes RunCycle forever, sleeping between cycles per the
// idle/error rule, until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	for {
		outcome, err := e.RunCycle(ctx)
		if err != nil {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepFor(outcome)):
		}
	}
}

// RunCycle executes one pass of the main loop (spec §4.10 steps 1-3, then
// the full per-request pipeline for the first claimable candidate). A
// non-nil error means ctx was cancelled and the caller should stop
// calling RunCycle; any other failure is reflected in the returned
// Outcome and logged, never returned as an error.
func (e *Engine) RunCycle(ctx context.Context) (Outcome, error) {
	cred, err := e.rotator.Acquire(ctx, e.credentials)
	if err != nil {
		if ctx.Err() != nil {
			return OutcomeCriticalError, ctx.Err()
		}
		e.log.WithError(err).Warn("credential rotation failed")
		return OutcomeCriticalError, nil
	}

	mechs, err := e.stake.Resolve(ctx, e.stakingContract)
	if err != nil {
		e.log.WithError(err).Error("staking filter resolve failed")
		return OutcomeCriticalError, nil
	}

	candidates, err := e.index.CandidateRequests(ctx, mechs)
	if err != nil {
		e.log.WithError(err).Error("ledger index candidate query failed")
		return OutcomeCriticalError, nil
	}
	if len(candidates) == 0 {
		return OutcomeNoWork, nil
	}

	for _, req := range candidates {
		alreadyClaimed, err := e.control.ClaimRequest(ctx, req.ID, e.workerID)
		if err != nil {
			e.log.WithError(err).WithField("requestId", req.ID).Warn("claim request failed")
			metrics.RequestsClaimed.WithLabelValues("error").Inc()
			continue
		}
		if alreadyClaimed {
			metrics.RequestsClaimed.WithLabelValues("already_claimed").Inc()
			continue
		}
		metrics.RequestsClaimed.WithLabelValues("claimed").Inc()
		return e.processRequest(ctx, req, cred), nil
	}
	return OutcomeNoWork, nil
}

// processRequest runs spec §4.10 steps 4-11 for one claimed request. It
// never returns an error: every failure degrades the Outcome to Partial
// and is logged, since one bad request must not stall the loop or leave
// the Signing Proxy running.
func (e *Engine) processRequest(ctx context.Context, req Request, _ credentialbridge.Credential) Outcome {
	reqLog := e.log.WithField("requestId", req.ID)
	startedAt := time.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, ipfsFetchTimeout)
	raw, err := e.ipfs.Fetch(fetchCtx, req.IPFSHash)
	cancel()
	if err != nil {
		reqLog.WithError(err).Warn("ipfs metadata fetch failed, abandoning this request")
		return OutcomePartial
	}

	meta, err := extractRequestMetadata(raw)
	if err != nil {
		reqLog.WithError(err).Warn("ipfs metadata extraction failed, abandoning this request")
		return OutcomePartial
	}

	proxyURL, proxySecret, err := e.proxy.Start(ctx)
	if err != nil {
		reqLog.WithError(err).Error("signing proxy failed to start")
		return OutcomePartial
	}
	setJobContextEnv(req, meta)
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.proxy.Stop(stopCtx); err != nil {
			reqLog.WithError(err).Warn("signing proxy stop failed")
		}
		clearJobContextEnv()
	}()

	buildResult, err := e.blueprintBuilder.Build(ctx, blueprint.BuildInput{
		JobDefinitionID:    meta.JobDefinitionID,
		OutputSpec:         meta.OutputSpec,
		GoalInvariants:     meta.GoalInvariants,
		EnabledTools:       meta.EnabledTools,
		AllowedModels:      meta.AllowedModels,
		IsVerificationTask: meta.IsVerificationTask,
	})
	if err != nil {
		reqLog.WithError(err).Warn("blueprint build failed")
		return OutcomePartial
	}
	prompt := blueprint.BuildPrompt(buildResult.Blueprint)

	payloadResult, err := e.payloadBuilder.Build(ctx, ipfspayload.Input{
		BlueprintText:         meta.BlueprintRaw,
		JobName:               meta.JobName,
		JobDefinitionID:       meta.JobDefinitionID,
		Model:                 meta.Model,
		EnabledTools:          meta.EnabledTools,
		Tools:                 meta.Tools,
		Dependencies:          meta.Dependencies,
		Message:               meta.Message,
		AllowedModels:         meta.AllowedModels,
		IsCodingJob:           meta.IsCodingJob,
		WorkstreamID:          meta.WorkstreamID,
		VentureID:             meta.VentureID,
		TemplateID:            meta.TemplateID,
		SourceRequestID:       req.SourceRequestID,
		SourceJobDefinitionID: req.SourceJobDefinitionID,
		ExecutionPolicy:       meta.ExecutionPolicy,
		InputSchema:           meta.InputSpec,
		OutputSpec:            meta.OutputSpec,
	})
	if err != nil {
		reqLog.WithError(err).Warn("job payload build rejected, abandoning this request")
		return OutcomePartial
	}
	setDerivedJobContextEnv(buildResult, payloadResult)

	var enabledTools []string
	if len(payloadResult.Payloads) > 0 {
		enabledTools = payloadResult.Payloads[0].EnabledTools
	}

	agentOut, err := e.agent.Run(ctx, AgentInput{
		RequestID:       req.ID,
		JobDefinitionID: meta.JobDefinitionID,
		ProxyURL:        proxyURL,
		ProxySecret:     proxySecret,
		Prompt:          prompt,
		EnabledTools:    enabledTools,
		Model:           meta.Model,
	})
	if err != nil {
		reqLog.WithError(err).Warn("agent subprocess failed, still delivering a FAILED status")
		agentOut = AgentOutput{Status: AgentStatusFailed, ErrorInfo: err.Error()}
	}
	promoteOutputSpecFields(&agentOut, meta.OutputSpec)

	partial := false

	situationCID, err := e.generateSituationArtifact(ctx, req, agentOut)
	if err != nil {
		reqLog.WithError(err).Warn("situation artifact generation failed")
		partial = true
	}

	if err := e.deliver(ctx, req, meta, agentOut, situationCID); err != nil {
		reqLog.WithError(err).Warn("on-chain delivery enqueue failed")
		partial = true
	}

	if err := e.record(ctx, req, agentOut, situationCID, time.Since(startedAt)); err != nil {
		reqLog.WithError(err).Warn("control api reporting failed")
		partial = true
	}

	if partial {
		return OutcomePartial
	}
	return OutcomeSuccess
}

// record implements spec §4.10 step 10: persist the job report, any new
// artifacts, a transcript message, and the final job status.
func (e *Engine) record(ctx context.Context, req Request, out AgentOutput, situationCID string, duration time.Duration) error {
	var firstErr error

	if _, err := e.control.CreateJobReport(ctx, controlapi.JobReportInput{
		RequestID:  req.ID,
		Status:     out.Status,
		DurationMS: duration.Milliseconds(),
		TokenCount: out.TokenCount,
		ToolTrace:  encodeToolTrace(out.ToolTrace),
		ErrorInfo:  out.ErrorInfo,
	}); err != nil {
		firstErr = err
	}

	if situationCID != "" {
		if _, err := e.control.CreateArtifact(ctx, controlapi.ArtifactInput{
			RequestID: req.ID,
			Name:      "situation",
			CID:       situationCID,
			Kind:      "SITUATION",
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if out.Output != "" {
		if _, err := e.control.CreateMessage(ctx, controlapi.MessageInput{
			RequestID: req.ID,
			Role:      "assistant",
			Body:      out.Output,
		}); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := e.control.UpdateJobStatus(ctx, req.ID, out.Status); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// encodeToolTrace flattens the agent's structured tool-call trace into the
// plain-string entries controlapi.JobReportInput.ToolTrace expects, one
// compact JSON object per call.
func encodeToolTrace(trace []map[string]interface{}) []string {
	if len(trace) == 0 {
		return nil
	}
	out := make([]string, 0, len(trace))
	for _, entry := range trace {
		encoded, err := json.Marshal(entry)
		if err != nil {
			continue
		}
		out = append(out, string(encoded))
	}
	return out
}

// setJobContextEnv publishes the JINN_* environment variables (spec §6)
// known as soon as the request's metadata is fetched, ahead of the
// Blueprint and Payload Builder calls that still need to run before the
// rest (branch, invariants, tool sets) are known.
func setJobContextEnv(req Request, meta RequestMetadata) {
	os.Setenv(ipfspayload.EnvRequestID, req.ID)
	os.Setenv(ipfspayload.EnvJobDefinitionID, meta.JobDefinitionID)
	os.Setenv(ipfspayload.EnvWorkstreamID, meta.WorkstreamID)
	os.Setenv(ipfspayload.EnvVentureID, meta.VentureID)
	os.Setenv(ipfspayload.EnvParentRequestID, req.SourceRequestID)
	os.Setenv(ipfspayload.EnvDefaultModel, meta.Model)
	if len(meta.AllowedModels) > 0 {
		os.Setenv(ipfspayload.EnvAllowedModels, strings.Join(meta.AllowedModels, ","))
	}
	if len(meta.EnabledTools) > 0 {
		os.Setenv(ipfspayload.EnvRequiredTools, strings.Join(meta.EnabledTools, ","))
	}
}

// setDerivedJobContextEnv publishes the remaining spec §6 variables that
// only become known once the Blueprint and Payload Builders have run:
// the resolved branch, the structured invariant ID list, the completed/
// reviewed child sets, the full available-tool set, and the inherited env
// this job is handing down to anything it dispatches in turn.
func setDerivedJobContextEnv(buildResult *blueprint.BuildResult, payloadResult *ipfspayload.Result) {
	if buildResult != nil {
		ids := make([]string, 0, len(buildResult.Blueprint.Invariants))
		for _, inv := range buildResult.Blueprint.Invariants {
			ids = append(ids, inv.ID)
		}
		if len(ids) > 0 {
			os.Setenv(ipfspayload.EnvBlueprintInvariantIDs, strings.Join(ids, ","))
		}

		if bc := buildResult.Blueprint.Context; bc != nil {
			unintegrated := make(map[string]bool, len(bc.UnintegratedBranches))
			for _, b := range bc.UnintegratedBranches {
				unintegrated[b] = true
			}
			var completed, reviewed []string
			for _, child := range bc.Children {
				if child.Status != blueprint.ChildCompleted {
					continue
				}
				completed = append(completed, child.ID)
				if !child.HasBranch() || !unintegrated[child.Branch] {
					reviewed = append(reviewed, child.ID)
				}
			}
			if len(completed) > 0 {
				os.Setenv(ipfspayload.EnvCompletedChildren, strings.Join(completed, ","))
			}
			if len(reviewed) > 0 {
				os.Setenv(ipfspayload.EnvChildWorkReviewed, strings.Join(reviewed, ","))
			}
		}
	}

	if payloadResult == nil || len(payloadResult.Payloads) == 0 {
		return
	}
	payload := payloadResult.Payloads[0]
	if len(payload.EnabledTools) > 0 {
		os.Setenv(ipfspayload.EnvAvailableTools, strings.Join(payload.EnabledTools, ","))
	}
	if payload.BranchName != "" {
		os.Setenv(ipfspayload.EnvBranchName, payload.BranchName)
	}
	if payload.BaseBranch != "" {
		os.Setenv(ipfspayload.EnvBaseBranch, payload.BaseBranch)
	}
	if payload.AdditionalContext != nil && len(payload.AdditionalContext.Env) > 0 {
		if encoded, err := json.Marshal(payload.AdditionalContext.Env); err == nil {
			os.Setenv(ipfspayload.EnvInheritedEnv, string(encoded))
		}
	}
}

// clearJobContextEnv implements spec §4.10 step 11's cleanup.
func clearJobContextEnv() {
	os.Unsetenv(ipfspayload.EnvRequestID)
	os.Unsetenv(ipfspayload.EnvJobDefinitionID)
	os.Unsetenv(ipfspayload.EnvParentJobDefinitionID)
	os.Unsetenv(ipfspayload.EnvParentBranch)
	os.Unsetenv(ipfspayload.EnvParentRequestID)
	os.Unsetenv(ipfspayload.EnvWorkstreamID)
	os.Unsetenv(ipfspayload.EnvVentureID)
	os.Unsetenv(ipfspayload.EnvAllowedModels)
	os.Unsetenv(ipfspayload.EnvRequiredTools)
	os.Unsetenv(ipfspayload.EnvAvailableTools)
	os.Unsetenv(ipfspayload.EnvBlueprintInvariantIDs)
	os.Unsetenv(ipfspayload.EnvCompletedChildren)
	os.Unsetenv(ipfspayload.EnvChildWorkReviewed)
	os.Unsetenv(ipfspayload.EnvBranchName)
	os.Unsetenv(ipfspayload.EnvBaseBranch)
	os.Unsetenv(ipfspayload.EnvDefaultModel)
	os.Unsetenv(ipfspayload.EnvInheritedEnv)
}
