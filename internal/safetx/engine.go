// Package safetx implements the Safe Transaction Engine (spec §4.4):
// building, signing (pre-EIP-712 eth_sign + v+4), and executing Gnosis
// Safe transactions from the Service Safe, and parsing the resulting
// MarketplaceRequest events. Grounded on certenIO-certen-validator's
// ABI-pack/call/sign/send/wait pattern, the pack's only go-ethereum
// client (the teacher is NEO-based).
package safetx

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/jinn-network/jinn-worker/internal/chainrpc"
	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

// nativePaymentType is the marketplace's constant identifying native-token
// payment, checked in step 2 when validateNativePayment is requested.
var nativePaymentType = [32]byte(common.HexToHash("0xba699a34be8fe0e7725e93dcbce1701b0211a8ca61330aaeb8a05bf2ec7abed1"))

// Signer produces an eth_sign-style (r||s||v) signature over a 32-byte
// digest. The worker's own Safe Transaction Engine runs in the trusted
// main process and signs directly with the Agent EOA key (unlike the
// sandboxed agent subprocess, which must go through the Signing Proxy).
type Signer interface {
	Address() common.Address
	SignDigest(digest [32]byte) ([]byte, error)
}

// KeySigner is a Signer backed by a raw private key.
type KeySigner struct {
	key *ecdsa.PrivateKey
}

// NewKeySigner wraps key as a Signer.
func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner { return &KeySigner{key: key} }

func (s *KeySigner) Address() common.Address { return gethcrypto.PubkeyToAddress(s.key.PublicKey) }

// SignDigest signs digest the way Gnosis Safe's eth_sign verification path
// expects: personal_sign over the raw digest bytes, with v adjusted to
// v+4 to mark it as an eth_sign proof rather than a raw ECDSA signature.
func (s *KeySigner) SignDigest(digest [32]byte) ([]byte, error) {
	prefixed := gethcrypto.Keccak256(
		[]byte("\x19Ethereum Signed Message:\n32"),
		digest[:],
	)
	sig, err := gethcrypto.Sign(prefixed, s.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 4 + 27 // v -> v+27 (standard) -> v+4 (eth_sign proof marker)
	return sig, nil
}

// RequestParams describes a marketplace request submission.
type RequestParams struct {
	ChainID               int64
	Mech                  common.Address
	Marketplace           common.Address
	ServiceSafe           common.Address
	RequestDataHex        string // 0x-prefixed; already-built hex (protocol step 1a)
	PriorityMech          common.Address
	ResponseTimeout       uint64
	RequestPriceWei       *big.Int // overrides maxDeliveryRate if set and smaller
	ValidateNativePayment bool
}

// SubmitResult is returned on a successful marketplace request submission.
type SubmitResult struct {
	SafeTxHash common.Hash
	TxHash     common.Hash
	RequestIDs []common.Hash
}

// Engine executes Safe-signed transactions against a single chain.
type Engine struct {
	client *chainrpc.Client
	signer Signer
}

// New constructs an Engine bound to client and signing as signer.
func New(client *chainrpc.Client, signer Signer) *Engine {
	return &Engine{client: client, signer: signer}
}

// SubmitMarketplaceRequest implements spec §4.4's ten-step protocol for
// posting a request on the mech marketplace from the Service Safe.
func (e *Engine) SubmitMarketplaceRequest(ctx context.Context, p RequestParams) (*SubmitResult, error) {
	requestData := common.FromHex(p.RequestDataHex)
	if len(requestData) == 0 {
		return nil, svcerrors.InvalidPayload("requestDataHex must be non-empty 0x-hex")
	}

	paymentType, err := e.readMechPaymentType(ctx, p.Mech)
	if err != nil {
		return nil, err
	}
	if p.ValidateNativePayment && paymentType != nativePaymentType {
		return nil, svcerrors.InvalidPayload("mech payment type is not native payment")
	}

	maxDeliveryRate, err := e.readMechMaxDeliveryRate(ctx, p.Mech)
	if err != nil {
		return nil, err
	}

	finalPrice := new(big.Int).Set(maxDeliveryRate)
	if p.RequestPriceWei != nil && p.RequestPriceWei.Sign() > 0 && p.RequestPriceWei.Cmp(maxDeliveryRate) < 0 {
		finalPrice = p.RequestPriceWei
	}

	minTimeout, maxTimeout, err := e.readMarketplaceTimeoutBounds(ctx, p.Marketplace)
	if err != nil {
		return nil, err
	}
	clampedTimeout := clampUint64(p.ResponseTimeout, minTimeout, maxTimeout)

	balance, err := e.client.BalanceAt(ctx, p.ServiceSafe)
	if err != nil {
		return nil, err
	}
	if balance.Cmp(finalPrice) < 0 {
		return nil, svcerrors.New(svcerrors.CodeInvalidPayload, "service safe balance below required price", 400).
			WithDetails("balance", balance.String()).WithDetails("required", finalPrice.String())
	}

	callData, err := marketplaceABI.Pack("request", requestData, finalPrice, paymentType, p.PriorityMech, new(big.Int).SetUint64(clampedTimeout), []byte{})
	if err != nil {
		return nil, svcerrors.Internal("pack marketplace.request call", err)
	}

	receipt, safeTxHash, err := e.execSafeTransaction(ctx, p.ServiceSafe, p.Marketplace, finalPrice, callData)
	if err != nil {
		return nil, err
	}

	requestIDs, err := parseMarketplaceRequestEvent(receipt)
	if err != nil {
		return nil, err
	}

	return &SubmitResult{SafeTxHash: safeTxHash, TxHash: receipt.TxHash, RequestIDs: requestIDs}, nil
}

// CallAllowlisted submits an arbitrary Safe-signed call, for allowlisted
// transactions that are not marketplace request submissions.
func (e *Engine) CallAllowlisted(ctx context.Context, safe, to common.Address, value *big.Int, data []byte) (*SubmitResult, error) {
	if value == nil {
		value = big.NewInt(0)
	}
	receipt, safeTxHash, err := e.execSafeTransaction(ctx, safe, to, value, data)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{SafeTxHash: safeTxHash, TxHash: receipt.TxHash}, nil
}

func (e *Engine) readMechPaymentType(ctx context.Context, mech common.Address) ([32]byte, error) {
	out, err := e.call(ctx, mech, mechABI, "paymentType")
	if err != nil {
		return [32]byte{}, err
	}
	values, err := mechABI.Unpack("paymentType", out)
	if err != nil || len(values) != 1 {
		return [32]byte{}, svcerrors.Internal("unpack mech.paymentType", err)
	}
	return values[0].([32]byte), nil
}

func (e *Engine) readMechMaxDeliveryRate(ctx context.Context, mech common.Address) (*big.Int, error) {
	out, err := e.call(ctx, mech, mechABI, "maxDeliveryRate")
	if err != nil {
		return nil, err
	}
	values, err := mechABI.Unpack("maxDeliveryRate", out)
	if err != nil || len(values) != 1 {
		return nil, svcerrors.Internal("unpack mech.maxDeliveryRate", err)
	}
	return values[0].(*big.Int), nil
}

func (e *Engine) readMarketplaceTimeoutBounds(ctx context.Context, marketplace common.Address) (min, max uint64, err error) {
	minOut, err := e.call(ctx, marketplace, marketplaceABI, "minResponseTimeout")
	if err != nil {
		return 0, 0, err
	}
	minVals, err := marketplaceABI.Unpack("minResponseTimeout", minOut)
	if err != nil || len(minVals) != 1 {
		return 0, 0, svcerrors.Internal("unpack marketplace.minResponseTimeout", err)
	}

	maxOut, err := e.call(ctx, marketplace, marketplaceABI, "maxResponseTimeout")
	if err != nil {
		return 0, 0, err
	}
	maxVals, err := marketplaceABI.Unpack("maxResponseTimeout", maxOut)
	if err != nil || len(maxVals) != 1 {
		return 0, 0, svcerrors.Internal("unpack marketplace.maxResponseTimeout", err)
	}

	return uint64(minVals[0].(uint32)), uint64(maxVals[0].(uint32)), nil
}

func clampUint64(value, min, max uint64) uint64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// execSafeTransaction performs steps 5-9: read the safe nonce, compute
// getTransactionHash, sign it, call execTransaction, and wait for a
// successful receipt.
func (e *Engine) execSafeTransaction(ctx context.Context, safe, to common.Address, value *big.Int, data []byte) (*types.Receipt, common.Hash, error) {
	nonce, err := e.readSafeNonce(ctx, safe)
	if err != nil {
		return nil, common.Hash{}, err
	}

	safeTxHash, err := e.readTransactionHash(ctx, safe, to, value, data, nonce)
	if err != nil {
		return nil, common.Hash{}, err
	}

	sig, err := e.signer.SignDigest(safeTxHash)
	if err != nil {
		return nil, common.Hash{}, svcerrors.Internal("sign safe transaction hash", err)
	}

	execData, err := safeABI.Pack("execTransaction",
		to, value, data, uint8(OperationCall),
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
		common.Address{}, common.Address{}, sig,
	)
	if err != nil {
		return nil, common.Hash{}, svcerrors.Internal("pack execTransaction call", err)
	}

	receipt, err := e.sendAndWait(ctx, safe, execData)
	if err != nil {
		return nil, common.Hash{}, err
	}
	if receipt.Status != 1 {
		return nil, common.Hash{}, svcerrors.Revert(receipt.TxHash.Hex(), fmt.Errorf("execTransaction reverted"))
	}

	return receipt, common.Hash(safeTxHash), nil
}

func (e *Engine) readSafeNonce(ctx context.Context, safe common.Address) (*big.Int, error) {
	out, err := e.call(ctx, safe, safeABI, "nonce")
	if err != nil {
		return nil, err
	}
	values, err := safeABI.Unpack("nonce", out)
	if err != nil || len(values) != 1 {
		return nil, svcerrors.Internal("unpack safe.nonce", err)
	}
	return values[0].(*big.Int), nil
}

func (e *Engine) readTransactionHash(ctx context.Context, safe, to common.Address, value *big.Int, data []byte, nonce *big.Int) ([32]byte, error) {
	packed, err := safeABI.Pack("getTransactionHash",
		to, value, data, uint8(OperationCall),
		big.NewInt(0), big.NewInt(0), big.NewInt(0),
		common.Address{}, common.Address{}, nonce,
	)
	if err != nil {
		return [32]byte{}, svcerrors.Internal("pack getTransactionHash call", err)
	}

	out, err := e.client.CallContract(ctx, ethereum.CallMsg{To: &safe, Data: packed})
	if err != nil {
		return [32]byte{}, err
	}

	values, err := safeABI.Unpack("getTransactionHash", out)
	if err != nil || len(values) != 1 {
		return [32]byte{}, svcerrors.Internal("unpack getTransactionHash", err)
	}
	return values[0].([32]byte), nil
}

// parseMarketplaceRequestEvent extracts the requestIds emitted by the
// marketplace's MarketplaceRequest event in the execTransaction receipt.
func parseMarketplaceRequestEvent(receipt *types.Receipt) ([]common.Hash, error) {
	eventABI := marketplaceABI.Events["MarketplaceRequest"]
	for _, logEntry := range receipt.Logs {
		if len(logEntry.Topics) == 0 || logEntry.Topics[0] != eventABI.ID {
			continue
		}
		values, err := marketplaceABI.Unpack("MarketplaceRequest", logEntry.Data)
		if err != nil {
			return nil, svcerrors.Internal("unpack MarketplaceRequest event", err)
		}
		// Non-indexed fields in declaration order: numRequests, requestIds, requestDatas.
		rawIDs, ok := values[1].([][32]byte)
		if !ok {
			return nil, svcerrors.Internal("unexpected requestIds type in MarketplaceRequest event", nil)
		}
		ids := make([]common.Hash, len(rawIDs))
		for i, raw := range rawIDs {
			ids[i] = common.Hash(raw)
		}
		return ids, nil
	}
	return nil, svcerrors.Internal("no MarketplaceRequest event found in receipt", nil)
}

func (e *Engine) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...interface{}) ([]byte, error) {
	packed, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, svcerrors.Internal("pack "+method+" call", err)
	}
	return e.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: packed})
}

func (e *Engine) sendAndWait(ctx context.Context, to common.Address, data []byte) (*types.Receipt, error) {
	from := e.signer.Address()
	nonce, err := e.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, err
	}
	gasPrice, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	minGasPrice := big.NewInt(1e9)
	if gasPrice.Cmp(minGasPrice) < 0 {
		gasPrice = minGasPrice
	}

	gasLimit, err := e.client.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Data: data})
	if err != nil {
		gasLimit = 500_000 // conservative fallback if estimation reverts pre-send
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	agentKey, ok := e.signer.(*KeySigner)
	if !ok {
		return nil, svcerrors.Internal("sendAndWait requires a KeySigner for raw transaction signing", nil)
	}
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(e.client.ChainID()), agentKey.key)
	if err != nil {
		return nil, svcerrors.Internal("sign execTransaction envelope", err)
	}

	if err := e.client.SendTransaction(ctx, signedTx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()
	receipt, err := e.client.WaitMined(ctx, signedTx)
	if err != nil {
		return nil, err
	}
	return receipt, nil
}
