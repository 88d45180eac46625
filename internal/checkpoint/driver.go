// Package checkpoint implements the Checkpoint Driver (spec §4.8): a
// periodic, permissionless, idempotent-per-epoch task that advances the
// staking contract's reward checkpoint once its cooldown has elapsed.
// Concurrent calls from multiple workers are wasteful but harmless, so no
// cross-worker coordination is attempted.
package checkpoint

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
	"github.com/jinn-network/jinn-worker/internal/logging"
	"github.com/jinn-network/jinn-worker/internal/metrics"
	"github.com/jinn-network/jinn-worker/internal/svcerrors"
	"github.com/jinn-network/jinn-worker/internal/workerloop"
)

// errCheckpointReverted is the wrapped cause reported when the on-chain
// checkpoint() call mines with a failure status.
var errCheckpointReverted = errors.New("checkpoint transaction reverted")

// MinBalanceWei is the minimum native-coin balance the signing EOA must
// hold before the driver attempts checkpoint() — 0.0001 native coin.
var MinBalanceWei = new(big.Int).SetUint64(100_000_000_000_000) // 1e14 wei

// Driver runs the periodic checkpoint tick on a workerloop ticker,
// grounded on the teacher's AddTickerWorker(5*time.Second,
// s.confirmationWorkerWithError) confirmation-tracking ticker shape.
type Driver struct {
	client          *chainrpc.Client
	key             *ecdsa.PrivateKey
	stakingContract common.Address
	log             *logging.Logger
	worker          *workerloop.Worker
}

// New constructs a Driver polling every interval.
func New(client *chainrpc.Client, key *ecdsa.PrivateKey, stakingContract common.Address, interval time.Duration, log *logging.Logger) *Driver {
	d := &Driver{client: client, key: key, stakingContract: stakingContract, log: log}
	d.worker = workerloop.New("checkpoint", interval, log, d.tick)
	return d
}

// Start begins the periodic tick.
func (d *Driver) Start(ctx context.Context) { d.worker.Start(ctx) }

// Stop halts the periodic tick.
func (d *Driver) Stop() { d.worker.Stop() }

func (d *Driver) tick(ctx context.Context) {
	txHash, err := d.RunOnce(ctx)
	if err != nil {
		if d.log != nil {
			d.log.WithError(err).Warn("checkpoint tick failed")
		}
		return
	}
	if txHash != "" && d.log != nil {
		d.log.WithField("tx_hash", txHash).Info("checkpoint submitted")
	}
}

// RunOnce performs one checkpoint attempt: reads the next reward
// checkpoint timestamp, no-ops if it hasn't elapsed, otherwise verifies the
// EOA balance and submits checkpoint(), waiting for one confirmation.
// Returns "" (no error) on a no-op.
func (d *Driver) RunOnce(ctx context.Context) (string, error) {
	next, err := d.readNextCheckpoint(ctx)
	if err != nil {
		return "", err
	}
	if time.Now().Unix() < next {
		return "", nil
	}

	address := gethcrypto.PubkeyToAddress(d.key.PublicKey)
	balance, err := d.client.BalanceAt(ctx, address)
	if err != nil {
		return "", err
	}
	if balance.Cmp(MinBalanceWei) < 0 {
		return "", svcerrors.InvalidPayload("signing EOA balance below checkpoint minimum").
			WithDetails("balance", balance.String()).WithDetails("required", MinBalanceWei.String())
	}

	data, err := stakingABI.Pack("checkpoint")
	if err != nil {
		return "", svcerrors.Internal("pack checkpoint() call", err)
	}

	receipt, err := d.sendAndWait(ctx, address, data)
	if err != nil {
		metrics.CheckpointSubmissions.WithLabelValues("error").Inc()
		return "", err
	}
	if receipt.Status != 1 {
		metrics.CheckpointSubmissions.WithLabelValues("reverted").Inc()
		return "", svcerrors.Revert(receipt.TxHash.Hex(), errCheckpointReverted)
	}
	metrics.CheckpointSubmissions.WithLabelValues("confirmed").Inc()
	return receipt.TxHash.Hex(), nil
}

func (d *Driver) readNextCheckpoint(ctx context.Context) (int64, error) {
	packed, err := stakingABI.Pack("getNextRewardCheckpointTimestamp")
	if err != nil {
		return 0, svcerrors.Internal("pack getNextRewardCheckpointTimestamp call", err)
	}
	out, err := d.client.CallContract(ctx, ethereum.CallMsg{To: &d.stakingContract, Data: packed})
	if err != nil {
		return 0, err
	}
	values, err := stakingABI.Unpack("getNextRewardCheckpointTimestamp", out)
	if err != nil || len(values) != 1 {
		return 0, svcerrors.Internal("unpack getNextRewardCheckpointTimestamp", err)
	}
	return values[0].(*big.Int).Int64(), nil
}

func (d *Driver) sendAndWait(ctx context.Context, from common.Address, data []byte) (*types.Receipt, error) {
	nonce, err := d.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, err
	}
	gasPrice, err := d.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	minGasPrice := big.NewInt(1e9)
	if gasPrice.Cmp(minGasPrice) < 0 {
		gasPrice = minGasPrice
	}

	to := d.stakingContract
	gasLimit, err := d.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		gasLimit = 200_000
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(d.client.ChainID()), d.key)
	if err != nil {
		return nil, svcerrors.Internal("sign checkpoint transaction", err)
	}
	if err := d.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()
	return d.client.WaitMined(waitCtx, signedTx)
}
