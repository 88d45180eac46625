package lifecycle

import (
	"context"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jinn-network/jinn-worker/internal/safetx"
	"github.com/jinn-network/jinn-worker/internal/signingproxy"
	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

// SafeDispatcher implements signingproxy.Dispatcher by forwarding an
// agent-initiated POST /dispatch to the Safe Transaction Engine, so a
// running agent can post a follow-on marketplace request (spawning a
// child job) without ever holding the service key itself.
type SafeDispatcher struct {
	safe        *safetx.Engine
	uploader    ArtifactUploader
	marketplace common.Address
	serviceSafe common.Address
	chainID     int64
}

// NewSafeDispatcher constructs a SafeDispatcher bound to one chain's
// marketplace and Service Safe.
func NewSafeDispatcher(safe *safetx.Engine, uploader ArtifactUploader, marketplace, serviceSafe common.Address, chainID int64) *SafeDispatcher {
	return &SafeDispatcher{safe: safe, uploader: uploader, marketplace: marketplace, serviceSafe: serviceSafe, chainID: chainID}
}

// Dispatch uploads the agent-supplied job payload to IPFS and submits a
// marketplace request pointing at it.
func (d *SafeDispatcher) Dispatch(ctx context.Context, req signingproxy.DispatchRequest) (interface{}, error) {
	if len(req.IPFSJSONContents) == 0 {
		return nil, svcerrors.InvalidInput("ipfsJsonContents", "dispatch requires the built job payload's IPFS contents")
	}

	cidStr, err := d.uploader.Upload(ctx, "dispatch-payload.json", req.IPFSJSONContents)
	if err != nil {
		return nil, err
	}

	var priorityMech common.Address
	if req.PriorityMech != "" {
		if !common.IsHexAddress(req.PriorityMech) {
			return nil, svcerrors.InvalidInput("priorityMech", "not a valid address")
		}
		priorityMech = common.HexToAddress(req.PriorityMech)
	}

	responseTimeout := uint64(60)
	if req.ResponseTimeout != nil {
		responseTimeout = *req.ResponseTimeout
	}

	result, err := d.safe.SubmitMarketplaceRequest(ctx, safetx.RequestParams{
		ChainID:         d.chainID,
		Mech:            priorityMech,
		Marketplace:     d.marketplace,
		ServiceSafe:     d.serviceSafe,
		RequestDataHex:  "0x" + hex.EncodeToString([]byte(cidStr)),
		PriorityMech:    priorityMech,
		ResponseTimeout: responseTimeout,
	})
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(result.RequestIDs))
	for i, id := range result.RequestIDs {
		ids[i] = id.Hex()
	}
	return map[string]interface{}{
		"safeTxHash": result.SafeTxHash.Hex(),
		"txHash":     result.TxHash.Hex(),
		"requestIds": ids,
		"cid":        cidStr,
	}, nil
}
