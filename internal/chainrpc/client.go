// Package chainrpc wraps a go-ethereum JSON-RPC client with request pacing
// and metrics, grounded on certenIO-certen-validator/pkg/ethereum/client.go
// (the pack's only full go-ethereum client; the teacher itself is NEO-based
// and has no go-ethereum usage to draw from).
package chainrpc

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"golang.org/x/time/rate"

	"github.com/jinn-network/jinn-worker/internal/metrics"
	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

// Client is a rate-limited, metrics-instrumented wrapper around ethclient,
// used by the Safe Transaction Engine and Checkpoint Driver.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	url     string
	limiter *rate.Limiter
}

// Config controls Client construction.
type Config struct {
	URL     string
	ChainID int64
	// RequestsPerSecond caps outbound RPC calls; the Safe Transaction Engine
	// requires >=200ms between independent read calls (spec §4.4), which a
	// 5 req/s limiter satisfies exactly.
	RequestsPerSecond float64
}

// Dial connects to an Ethereum-compatible JSON-RPC endpoint.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, svcerrors.Unavailable("chainrpc.dial", err)
	}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}

	return &Client{
		eth:     eth,
		chainID: big.NewInt(cfg.ChainID),
		url:     cfg.URL,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}, nil
}

func (c *Client) wait(ctx context.Context, method string) error {
	start := time.Now()
	err := c.limiter.Wait(ctx)
	metrics.RecordRPCCall(c.chainID.String(), method, statusOf(err), time.Since(start))
	return err
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ChainID returns the configured chain ID.
func (c *Client) ChainID() *big.Int { return c.chainID }

// Raw returns the underlying ethclient, for packages that need direct access
// (e.g. event-log filtering with a custom ABI).
func (c *Client) Raw() *ethclient.Client { return c.eth }

// BalanceAt returns address's balance, rate-limited.
func (c *Client) BalanceAt(ctx context.Context, address common.Address) (*big.Int, error) {
	if err := c.wait(ctx, "eth_getBalance"); err != nil {
		return nil, err
	}
	balance, err := c.eth.BalanceAt(ctx, address, nil)
	if err != nil {
		return nil, svcerrors.Unavailable("chainrpc.balance", err)
	}
	return balance, nil
}

// PendingNonceAt returns address's next nonce, rate-limited.
func (c *Client) PendingNonceAt(ctx context.Context, address common.Address) (uint64, error) {
	if err := c.wait(ctx, "eth_getTransactionCount"); err != nil {
		return 0, err
	}
	nonce, err := c.eth.PendingNonceAt(ctx, address)
	if err != nil {
		return 0, svcerrors.Unavailable("chainrpc.nonce", err)
	}
	return nonce, nil
}

// SuggestGasPrice returns the network-suggested gas price, rate-limited.
func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if err := c.wait(ctx, "eth_gasPrice"); err != nil {
		return nil, err
	}
	price, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, svcerrors.Unavailable("chainrpc.gasprice", err)
	}
	return price, nil
}

// EstimateGas estimates gas for msg, rate-limited.
func (c *Client) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	if err := c.wait(ctx, "eth_estimateGas"); err != nil {
		return 0, err
	}
	gas, err := c.eth.EstimateGas(ctx, msg)
	if err != nil {
		return 0, svcerrors.Unavailable("chainrpc.estimategas", err)
	}
	return gas, nil
}

// CallContract performs a read-only contract call, rate-limited.
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if err := c.wait(ctx, "eth_call"); err != nil {
		return nil, err
	}
	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, svcerrors.Unavailable("chainrpc.call", err)
	}
	return out, nil
}

// SendTransaction broadcasts a signed transaction, rate-limited.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if err := c.wait(ctx, "eth_sendRawTransaction"); err != nil {
		return err
	}
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return svcerrors.Unavailable("chainrpc.send", err)
	}
	return nil
}

// WaitMined blocks until tx is mined or ctx is done, polling for a receipt.
func (c *Client) WaitMined(ctx context.Context, tx *types.Transaction) (*types.Receipt, error) {
	receipt, err := bind.WaitMined(ctx, c.eth, tx)
	if err != nil {
		return nil, svcerrors.Timeout(fmt.Sprintf("chainrpc.waitmined(%s)", tx.Hash().Hex()))
	}
	return receipt, nil
}

// FilterLogs returns logs matching q, rate-limited.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := c.wait(ctx, "eth_getLogs"); err != nil {
		return nil, err
	}
	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, svcerrors.Unavailable("chainrpc.filterlogs", err)
	}
	return logs, nil
}

// TransactionReceipt fetches a transaction's receipt, rate-limited.
func (c *Client) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := c.wait(ctx, "eth_getTransactionReceipt"); err != nil {
		return nil, err
	}
	receipt, err := c.eth.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, svcerrors.Unavailable("chainrpc.receipt", err)
	}
	return receipt, nil
}
