package lifecycle

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/jinn-network/jinn-worker/internal/chainrpc"
	"github.com/jinn-network/jinn-worker/internal/controlapi"
	"github.com/jinn-network/jinn-worker/internal/logging"
	"github.com/jinn-network/jinn-worker/internal/metrics"
	"github.com/jinn-network/jinn-worker/internal/safetx"
	"github.com/jinn-network/jinn-worker/internal/svcerrors"
	"github.com/jinn-network/jinn-worker/internal/txqueue"
)

const txClaimTimeout = 2 * time.Minute

// errEOATxReverted is the wrapped cause reported when an EOA-direct
// submission mines with a failure status.
var errEOATxReverted = errors.New("eoa transaction reverted")

// TxProcessor is the "Tx Queue processor" spec §7's error-propagation
// section refers to: it claims queued rows, validates them against the
// allowlist, submits them through the Safe Transaction Engine, and
// records the outcome. It runs as an independent periodic task on its own
// workerloop.Worker goroutine, concurrently with the main request
// lifecycle rather than between requests.
type TxProcessor struct {
	store       *txqueue.Store
	allowlist   *txqueue.Allowlist
	safe        *safetx.Engine
	control     *controlapi.Client
	client      *chainrpc.Client
	eoaKey      *ecdsa.PrivateKey
	serviceSafe common.Address
	chainID     int64
	workerID    string
	log         *logging.Logger
}

// NewTxProcessor constructs a TxProcessor. control may be nil, in which
// case the cross-worker Control API claim layer is skipped and only the
// Tx Queue's own atomic DB claim guards against double submission. client
// and eoaKey back the EOA-direct execution strategy; safe/serviceSafe back
// the SAFE strategy — both paths share the same claim/allowlist/record flow.
func NewTxProcessor(store *txqueue.Store, allowlist *txqueue.Allowlist, safe *safetx.Engine, control *controlapi.Client, client *chainrpc.Client, eoaKey *ecdsa.PrivateKey, serviceSafe common.Address, chainID int64, workerID string, log *logging.Logger) *TxProcessor {
	return &TxProcessor{
		store:       store,
		allowlist:   allowlist,
		safe:        safe,
		control:     control,
		client:      client,
		eoaKey:      eoaKey,
		serviceSafe: serviceSafe,
		chainID:     chainID,
		workerID:    workerID,
		log:         log,
	}
}

// ProcessOne claims and submits at most one queued transaction. It returns
// false, nil when the queue has nothing eligible.
func (p *TxProcessor) ProcessOne(ctx context.Context) (bool, error) {
	if qm, err := p.store.GetMetrics(ctx); err == nil {
		metrics.TxQueueDepth.Set(float64(qm.Pending))
	}

	row, err := p.store.Claim(ctx, p.workerID, txClaimTimeout)
	if err != nil {
		return false, err
	}
	if row == nil {
		return false, nil
	}

	log := p.log.WithField("txRequestId", row.ID).WithField("to", row.To)

	if p.control != nil {
		claimed, err := p.control.ClaimTransactionRequest(ctx, row.ID, p.workerID)
		if err != nil {
			log.WithError(err).Warn("control api tx claim failed, proceeding on local claim alone")
		} else if claimed {
			log.Info("another worker already claimed this transaction, skipping")
			p.failRow(ctx, row.ID, svcerrors.AlreadyDelivered(row.ID))
			return true, nil
		}
	}

	if err := p.allowlist.Validate(txqueue.ValidateInput{
		WorkerChainID:     p.chainID,
		ChainID:           row.ChainID,
		To:                row.To,
		Data:              row.Data,
		Value:             row.Value,
		ExecutionStrategy: row.Strategy,
		Executor:          p.workerID,
	}); err != nil {
		log.WithError(err).Warn("queued transaction rejected by allowlist")
		p.failRow(ctx, row.ID, err)
		return true, nil
	}

	value, ok := new(big.Int).SetString(row.Value, 10)
	if !ok {
		value = big.NewInt(0)
	}

	var txHash, safeTxHash string
	if row.Strategy == txqueue.StrategyEOA {
		receipt, err := p.sendEOATransaction(ctx, common.HexToAddress(row.To), value, common.FromHex(row.Data))
		if err != nil {
			log.WithError(err).Warn("on-chain submission failed")
			p.failRow(ctx, row.ID, err)
			return true, nil
		}
		if receipt.Status != 1 {
			err := svcerrors.Revert(receipt.TxHash.Hex(), errEOATxReverted)
			log.WithError(err).Warn("on-chain submission reverted")
			p.failRow(ctx, row.ID, err)
			return true, nil
		}
		txHash = receipt.TxHash.Hex()
	} else {
		result, err := p.safe.CallAllowlisted(ctx, p.serviceSafe, common.HexToAddress(row.To), value, common.FromHex(row.Data))
		if err != nil {
			log.WithError(err).Warn("on-chain submission failed")
			p.failRow(ctx, row.ID, err)
			return true, nil
		}
		txHash = result.TxHash.Hex()
		safeTxHash = result.SafeTxHash.Hex()
	}

	update := txqueue.StatusUpdate{Status: txqueue.StatusConfirmed, TxHash: &txHash}
	if safeTxHash != "" {
		update.SafeTxHash = &safeTxHash
	}
	if err := p.store.UpdateStatus(ctx, row.ID, update); err != nil {
		log.WithError(err).Error("failed to record confirmed status")
	}
	metrics.TxConfirmations.WithLabelValues("confirmed").Inc()
	if p.control != nil {
		if err := p.control.UpdateTransactionStatus(ctx, row.ID, string(txqueue.StatusConfirmed), txHash, ""); err != nil {
			log.WithError(err).Warn("control api status update failed")
		}
	}
	return true, nil
}

// sendEOATransaction submits an allowlisted call directly from the Agent
// EOA, bypassing the Service Safe. Grounded on checkpoint.Driver's
// sendAndWait: fetch nonce/gas price (with a 1 gwei floor), estimate gas
// (falling back to a fixed limit on failure), sign, send, and wait for one
// confirmation.
func (p *TxProcessor) sendEOATransaction(ctx context.Context, to common.Address, value *big.Int, data []byte) (*types.Receipt, error) {
	from := gethcrypto.PubkeyToAddress(p.eoaKey.PublicKey)

	nonce, err := p.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, err
	}
	gasPrice, err := p.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	minGasPrice := big.NewInt(1e9)
	if gasPrice.Cmp(minGasPrice) < 0 {
		gasPrice = minGasPrice
	}

	gasLimit, err := p.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil {
		gasLimit = 200_000
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(p.client.ChainID()), p.eoaKey)
	if err != nil {
		return nil, svcerrors.Internal("sign eoa transaction", err)
	}
	if err := p.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()
	return p.client.WaitMined(waitCtx, signedTx)
}

func (p *TxProcessor) failRow(ctx context.Context, id string, cause error) {
	code := "UNKNOWN"
	if se := svcerrors.As(cause); se != nil {
		code = string(se.Code)
	}
	message := cause.Error()
	if err := p.store.UpdateStatus(ctx, id, txqueue.StatusUpdate{
		Status:       txqueue.StatusFailed,
		ErrorCode:    &code,
		ErrorMessage: &message,
	}); err != nil {
		p.log.WithError(err).WithField("txRequestId", id).Error("failed to record failed status")
	}
	metrics.TxConfirmations.WithLabelValues("failed").Inc()
	if p.control != nil {
		if err := p.control.UpdateTransactionStatus(ctx, id, string(txqueue.StatusFailed), "", message); err != nil {
			p.log.WithError(err).WithField("txRequestId", id).Warn("control api status update failed")
		}
	}
}
