package safetx

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/jinn-network/jinn-worker/internal/chainrpc"
)

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
}

type callParam struct {
	To   string `json:"to"`
	Data string `json:"data"`
}

var fixedSafeTxHash = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111a")
var fixedRequestID = common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222b")
var fixedTxHash = common.HexToHash("0x3333333333333333333333333333333333333333333333333333333333333c")

// selectorHex returns the 0x-prefixed 4-byte selector for method on contractABI.
func selectorHex(t *testing.T, contractABI abi.ABI, method string) string {
	t.Helper()
	m, ok := contractABI.Methods[method]
	require.True(t, ok)
	return "0x" + common.Bytes2Hex(m.ID)
}

// newMockChainServer serves just enough of the Ethereum JSON-RPC surface for
// the Safe Transaction Engine's read/sign/send/wait protocol, grounded on
// chainrpc's own httptest mock-server pattern.
func newMockChainServer(t *testing.T) *httptest.Server {
	t.Helper()

	mechPaymentType := selectorHex(t, mechABI, "paymentType")
	mechMaxDeliveryRate := selectorHex(t, mechABI, "maxDeliveryRate")
	marketMinTimeout := selectorHex(t, marketplaceABI, "minResponseTimeout")
	marketMaxTimeout := selectorHex(t, marketplaceABI, "maxResponseTimeout")
	safeNonce := selectorHex(t, safeABI, "nonce")
	safeGetTxHash := selectorHex(t, safeABI, "getTransactionHash")

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}
		switch req.Method {
		case "eth_chainId":
			resp.Result = "0x2105"
		case "eth_getBalance":
			resp.Result = "0xde0b6b3a7640000" // 1e18
		case "eth_getTransactionCount":
			resp.Result = "0x5"
		case "eth_gasPrice":
			resp.Result = "0x3b9aca00" // 1 gwei
		case "eth_estimateGas":
			resp.Result = "0x7a120" // 500000
		case "eth_sendRawTransaction":
			resp.Result = fixedTxHash.Hex()
		case "eth_getTransactionReceipt":
			resp.Result = mockReceipt(t)
		case "eth_call":
			var params []json.RawMessage
			require.NoError(t, json.Unmarshal(req.Params, &params))
			var call callParam
			require.NoError(t, json.Unmarshal(params[0], &call))
			selector := call.Data[:10]

			var packed []byte
			var err error
			switch selector {
			case mechPaymentType:
				packed, err = mechABI.Methods["paymentType"].Outputs.Pack(nativePaymentType)
			case mechMaxDeliveryRate:
				packed, err = mechABI.Methods["maxDeliveryRate"].Outputs.Pack(big.NewInt(1000))
			case marketMinTimeout:
				packed, err = marketplaceABI.Methods["minResponseTimeout"].Outputs.Pack(uint32(60))
			case marketMaxTimeout:
				packed, err = marketplaceABI.Methods["maxResponseTimeout"].Outputs.Pack(uint32(3600))
			case safeNonce:
				packed, err = safeABI.Methods["nonce"].Outputs.Pack(big.NewInt(7))
			case safeGetTxHash:
				packed, err = safeABI.Methods["getTransactionHash"].Outputs.Pack([32]byte(fixedSafeTxHash))
			default:
				t.Fatalf("unexpected eth_call selector %s", selector)
			}
			require.NoError(t, err)
			resp.Result = "0x" + common.Bytes2Hex(packed)
		default:
			resp.Result = "0x0"
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

// mockReceipt builds a successful execTransaction receipt carrying one
// MarketplaceRequest log, with requestIds = [fixedRequestID].
func mockReceipt(t *testing.T) map[string]interface{} {
	t.Helper()
	eventABI := marketplaceABI.Events["MarketplaceRequest"]
	data, err := marketplaceABI.Events["MarketplaceRequest"].Inputs.NonIndexed().Pack(
		big.NewInt(1),
		[][32]byte{fixedRequestID},
		[][]byte{{}},
	)
	require.NoError(t, err)

	return map[string]interface{}{
		"status":            "0x1",
		"transactionHash":   fixedTxHash.Hex(),
		"blockNumber":       "0x10",
		"blockHash":         common.Hash{}.Hex(),
		"transactionIndex":  "0x0",
		"contractAddress":   nil,
		"cumulativeGasUsed": "0x1",
		"gasUsed":           "0x1",
		"effectiveGasPrice": "0x3b9aca00",
		"type":              "0x0",
		"logs": []map[string]interface{}{
			{
				"address":          common.Address{}.Hex(),
				"topics":           []string{eventABI.ID.Hex()},
				"data":             "0x" + common.Bytes2Hex(data),
				"blockNumber":      "0x10",
				"transactionHash":  fixedTxHash.Hex(),
				"transactionIndex": "0x0",
				"blockHash":        common.Hash{}.Hex(),
				"logIndex":         "0x0",
				"removed":          false,
			},
		},
		"logsBloom": "0x" + common.Bytes2Hex(make([]byte, 256)),
	}
}

func newTestEngine(t *testing.T) (*Engine, *KeySigner) {
	t.Helper()
	server := newMockChainServer(t)
	t.Cleanup(server.Close)

	client, err := chainrpc.Dial(context.Background(), chainrpc.Config{URL: server.URL, ChainID: 8453, RequestsPerSecond: 1000})
	require.NoError(t, err)

	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := NewKeySigner(key)

	return New(client, signer), signer
}

func TestClampUint64(t *testing.T) {
	require.Equal(t, uint64(60), clampUint64(10, 60, 3600))
	require.Equal(t, uint64(3600), clampUint64(10000, 60, 3600))
	require.Equal(t, uint64(120), clampUint64(120, 60, 3600))
}

func TestKeySigner_SignDigest_UsesEthSignMarker(t *testing.T) {
	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := NewKeySigner(key)

	var digest [32]byte
	copy(digest[:], []byte("some safe transaction hash-----"))

	prefixed := gethcrypto.Keccak256([]byte("\x19Ethereum Signed Message:\n32"), digest[:])
	rawSig, err := gethcrypto.Sign(prefixed, key)
	require.NoError(t, err)

	sig, err := signer.SignDigest(digest)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.Equal(t, rawSig[64]+27+4, sig[64]) // recovery id (0 or 1) + 27 (standard) + 4 (eth_sign marker)

	recoverSig := make([]byte, 65)
	copy(recoverSig, sig)
	recoverSig[64] -= 4 + 27

	pubKey, err := gethcrypto.SigToPub(prefixed, recoverSig)
	require.NoError(t, err)
	require.Equal(t, signer.Address(), gethcrypto.PubkeyToAddress(*pubKey))
}

func TestSubmitMarketplaceRequest_HappyPath(t *testing.T) {
	engine, _ := newTestEngine(t)

	result, err := engine.SubmitMarketplaceRequest(context.Background(), RequestParams{
		ChainID:         8453,
		Mech:            common.HexToAddress("0xaaaa"),
		Marketplace:     common.HexToAddress("0xbbbb"),
		ServiceSafe:     common.HexToAddress("0xcccc"),
		RequestDataHex:  "0x" + common.Bytes2Hex([]byte("ipfs-pointer")),
		PriorityMech:    common.HexToAddress("0xaaaa"),
		ResponseTimeout: 120,
	})
	require.NoError(t, err)
	require.Equal(t, fixedTxHash, result.TxHash)
	require.Equal(t, fixedSafeTxHash, result.SafeTxHash)
	require.Equal(t, []common.Hash{fixedRequestID}, result.RequestIDs)
}

func TestSubmitMarketplaceRequest_RejectsEmptyRequestData(t *testing.T) {
	engine, _ := newTestEngine(t)

	_, err := engine.SubmitMarketplaceRequest(context.Background(), RequestParams{
		ChainID:        8453,
		Mech:           common.HexToAddress("0xaaaa"),
		Marketplace:    common.HexToAddress("0xbbbb"),
		ServiceSafe:    common.HexToAddress("0xcccc"),
		RequestDataHex: "",
	})
	require.Error(t, err)
}

func TestCallAllowlisted_HappyPath(t *testing.T) {
	engine, _ := newTestEngine(t)

	result, err := engine.CallAllowlisted(context.Background(),
		common.HexToAddress("0xcccc"), common.HexToAddress("0xdddd"), nil, []byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)
	require.Equal(t, fixedTxHash, result.TxHash)
	require.Equal(t, fixedSafeTxHash, result.SafeTxHash)
}
