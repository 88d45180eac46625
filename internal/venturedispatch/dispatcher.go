// Package venturedispatch implements the one concrete venture.Dispatcher
// this worker runs: starting a job from a venture's template by uploading
// a template-reference payload to IPFS and submitting a marketplace
// request pointing at it, mirroring internal/lifecycle's SafeDispatcher
// (the agent-initiated counterpart of the same on-chain dispatch step).
package venturedispatch

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/jinn-network/jinn-worker/internal/safetx"
	"github.com/jinn-network/jinn-worker/internal/svcerrors"
	"github.com/jinn-network/jinn-worker/internal/venture"
)

// Uploader uploads a named JSON document to IPFS and returns its CID. This
// mirrors internal/lifecycle.ArtifactUploader without importing that
// package, keeping this adapter's dependency surface to the safetx engine
// and its own seam.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (cid string, err error)
}

// Dispatcher implements venture.Dispatcher against the Safe Transaction
// Engine.
type Dispatcher struct {
	safe            *safetx.Engine
	uploader        Uploader
	marketplace     common.Address
	serviceSafe     common.Address
	defaultMech     common.Address
	chainID         int64
	responseTimeout uint64
}

// New constructs a Dispatcher bound to one chain's marketplace and
// Service Safe. Every request it submits names defaultMech as both mech
// and priority mech; schedule entries carry no mech of their own.
func New(safe *safetx.Engine, uploader Uploader, marketplace, serviceSafe, defaultMech common.Address, chainID int64, responseTimeout uint64) *Dispatcher {
	if responseTimeout == 0 {
		responseTimeout = 60
	}
	return &Dispatcher{
		safe:            safe,
		uploader:        uploader,
		marketplace:     marketplace,
		serviceSafe:     serviceSafe,
		defaultMech:     defaultMech,
		chainID:         chainID,
		responseTimeout: responseTimeout,
	}
}

// templateDispatchPayload is the minimal document uploaded to IPFS to
// reference a venture template dispatch: the ledger index's indexer picks
// this request up like any other, and the Request Lifecycle Engine's own
// IPFS fetch (spec §4.10 step 4) resolves templateId/ventureId/
// jobDefinitionId from it the same way it resolves a root-level blueprint.
type templateDispatchPayload struct {
	TemplateID      string    `json:"templateId"`
	VentureID       string    `json:"ventureId"`
	JobDefinitionID string    `json:"jobDefinitionId"`
	ScheduleEntryID string    `json:"scheduleEntryId"`
	DispatchedAt    time.Time `json:"dispatchedAt"`
}

// DispatchFromTemplate implements venture.Dispatcher.
func (d *Dispatcher) DispatchFromTemplate(ctx context.Context, v venture.Venture, entry venture.ScheduleEntry, jobDefinitionID string) error {
	payload := templateDispatchPayload{
		TemplateID:      entry.TemplateID,
		VentureID:       v.VentureID,
		JobDefinitionID: jobDefinitionID,
		ScheduleEntryID: entry.EntryID,
		DispatchedAt:    time.Now(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return svcerrors.Internal("marshal venture dispatch payload", err)
	}

	cidStr, err := d.uploader.Upload(ctx, "venture-dispatch.json", raw)
	if err != nil {
		return err
	}

	_, err = d.safe.SubmitMarketplaceRequest(ctx, safetx.RequestParams{
		ChainID:         d.chainID,
		Mech:            d.defaultMech,
		Marketplace:     d.marketplace,
		ServiceSafe:     d.serviceSafe,
		RequestDataHex:  "0x" + hex.EncodeToString([]byte(cidStr)),
		PriorityMech:    d.defaultMech,
		ResponseTimeout: d.responseTimeout,
	})
	return err
}
