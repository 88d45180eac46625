package lifecycle

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/jinn-network/jinn-worker/internal/metrics"
	"github.com/jinn-network/jinn-worker/internal/svcerrors"
	"github.com/jinn-network/jinn-worker/internal/txqueue"
)

// deliverABIJSON is the mech's deliver() selector, ABI-encoded here rather
// than in internal/safetx since the Safe Transaction Engine only knows how
// to submit arbitrary allowlisted calldata (CallAllowlisted); building
// that calldata is the delivering caller's job, per the teacher's
// inline-ABI-per-call-site pattern (safetx/abi.go, checkpoint/abi.go).
const deliverABIJSON = `[
	{"type":"function","name":"deliver","stateMutability":"nonpayable","inputs":[
		{"name":"requestId","type":"bytes32"},
		{"name":"data","type":"bytes"}
	],"outputs":[]}
]`

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("lifecycle: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

var deliverABI = mustParseABI(deliverABIJSON)

// buildDeliverCalldata ABI-encodes the mech's deliver(requestId, data)
// call, where data is the raw bytes of the uploaded delivery payload's CID.
func buildDeliverCalldata(requestID common.Hash, cidStr string) ([]byte, error) {
	packed, err := deliverABI.Pack("deliver", requestID, []byte(cidStr))
	if err != nil {
		return nil, svcerrors.Internal("encode deliver calldata", err)
	}
	return packed, nil
}

const situationSummaryMaxLen = 4000

// generateSituationArtifact implements spec §4.10 step 8: build a
// situation document from the agent's outcome, optionally embed its
// summary, and upload it as a named artifact.
func (e *Engine) generateSituationArtifact(ctx context.Context, req Request, out AgentOutput) (string, error) {
	summary := out.Output
	if len(summary) > situationSummaryMaxLen {
		summary = summary[:situationSummaryMaxLen]
	}

	situation := SituationArtifact{
		RequestID:  req.ID,
		Status:     out.Status,
		Summary:    summary,
		Result:     out.Result,
		ToolTrace:  out.ToolTrace,
		ErrorInfo:  out.ErrorInfo,
		RecordedAt: time.Now().UTC(),
	}

	if e.embedder != nil && summary != "" {
		vec, err := e.embedder.Embed(ctx, summary)
		if err != nil {
			e.log.WithError(err).WithField("requestId", req.ID).Warn("situation embedding failed, continuing without it")
		} else {
			situation.Embedding = vec
		}
	}

	encoded, err := json.Marshal(situation)
	if err != nil {
		return "", svcerrors.Internal("marshal situation artifact", err)
	}

	return e.uploader.Upload(ctx, "situation-"+req.ID+".json", encoded)
}

// deliver implements spec §4.10 step 9: assemble the delivery payload,
// upload it, ABI-encode the mech's deliver() call, and enqueue it onto the
// Tx Queue for the Tx Queue processor to submit through the Safe
// Transaction Engine.
func (e *Engine) deliver(ctx context.Context, req Request, meta RequestMetadata, out AgentOutput, situationCID string) error {
	payload := deliveryPayload{
		RequestID:             req.ID,
		Status:                out.Status,
		Output:                out.Output,
		Result:                out.Result,
		SourceRequestID:       req.SourceRequestID,
		SourceJobDefinitionID: req.SourceJobDefinitionID,
		ToolTrace:             out.ToolTrace,
		TokenCount:            out.TokenCount,
		ExecutionPolicy:       meta.ExecutionPolicy,
		SituationCID:          situationCID,
	}
	for _, artifact := range out.Artifacts {
		artifactCID, err := e.uploader.Upload(ctx, artifact.Name, artifact.Data)
		if err != nil {
			e.log.WithError(err).WithField("requestId", req.ID).WithField("artifact", artifact.Name).
				Warn("artifact upload failed, omitting from delivery")
			continue
		}
		payload.Artifacts = append(payload.Artifacts, deliveryArtifactRef{Name: artifact.Name, CID: artifactCID})
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return svcerrors.Internal("marshal delivery payload", err)
	}

	deliveryCID, err := e.uploader.Upload(ctx, "delivery-"+req.ID+".json", encoded)
	if err != nil {
		return err
	}

	if !common.IsHexAddress(req.Mech) {
		metrics.RequestsDelivered.WithLabelValues("error").Inc()
		return svcerrors.InvalidInput("mech", "not a valid address")
	}
	calldata, err := buildDeliverCalldata(common.HexToHash(req.ID), deliveryCID)
	if err != nil {
		metrics.RequestsDelivered.WithLabelValues("error").Inc()
		return err
	}

	_, err = e.txStore.Enqueue(ctx, txqueue.Payload{
		ChainID:           req.ChainID,
		To:                req.Mech,
		Data:              "0x" + hex.EncodeToString(calldata),
		Value:             "0",
		ExecutionStrategy: txqueue.StrategySafe,
	})
	if err != nil {
		metrics.RequestsDelivered.WithLabelValues("error").Inc()
		return err
	}
	metrics.RequestsDelivered.WithLabelValues("enqueued").Inc()
	return nil
}
