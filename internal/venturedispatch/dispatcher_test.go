package venturedispatch

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/jinn-network/jinn-worker/internal/chainrpc"
	"github.com/jinn-network/jinn-worker/internal/safetx"
	"github.com/jinn-network/jinn-worker/internal/venture"
)

// Reduced local duplicate of safetx's own mech/marketplace/safe ABI
// fragments, since safetx's equivalents are unexported — mirrors
// safetx/engine_test.go's newMockChainServer pattern, trimmed to the
// surface SubmitMarketplaceRequest actually touches.

const testMechABIJSON = `[
	{"type":"function","name":"paymentType","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]},
	{"type":"function","name":"maxDeliveryRate","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]}
]`

const testMarketplaceABIJSON = `[
	{"type":"function","name":"minResponseTimeout","stateMutability":"view","inputs":[],"outputs":[{"type":"uint32"}]},
	{"type":"function","name":"maxResponseTimeout","stateMutability":"view","inputs":[],"outputs":[{"type":"uint32"}]},
	{"type":"event","name":"MarketplaceRequest","anonymous":false,"inputs":[
		{"name":"priorityMech","type":"address","indexed":true},
		{"name":"requester","type":"address","indexed":true},
		{"name":"numRequests","type":"uint256","indexed":false},
		{"name":"requestIds","type":"bytes32[]","indexed":false},
		{"name":"requestDatas","type":"bytes[]","indexed":false}
	]}
]`

const testSafeABIJSON = `[
	{"type":"function","name":"nonce","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"getTransactionHash","stateMutability":"view","inputs":[
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"data","type":"bytes"},
		{"name":"operation","type":"uint8"},
		{"name":"safeTxGas","type":"uint256"},
		{"name":"baseGas","type":"uint256"},
		{"name":"gasPrice","type":"uint256"},
		{"name":"gasToken","type":"address"},
		{"name":"refundReceiver","type":"address"},
		{"name":"_nonce","type":"uint256"}
	],"outputs":[{"type":"bytes32"}]}
]`

func mustParseTestABI(t *testing.T, raw string) abi.ABI {
	t.Helper()
	parsed, err := abi.JSON(strings.NewReader(raw))
	require.NoError(t, err)
	return parsed
}

var testNativePaymentType = [32]byte(common.HexToHash("0xba699a34be8fe0e7725e93dcbce1701b0211a8ca61330aaeb8a05bf2ec7abed1"))

var testFixedSafeTxHash = common.HexToHash("0x1111111111111111111111111111111111111111111111111111111111111a")
var testFixedRequestID = common.HexToHash("0x2222222222222222222222222222222222222222222222222222222222222b")
var testFixedTxHash = common.HexToHash("0x3333333333333333333333333333333333333333333333333333333333333c")

func selectorHex(t *testing.T, contractABI abi.ABI, method string) string {
	t.Helper()
	m, ok := contractABI.Methods[method]
	require.True(t, ok)
	return "0x" + common.Bytes2Hex(m.ID)
}

func newMockChainServer(t *testing.T) *httptest.Server {
	t.Helper()
	mechABI := mustParseTestABI(t, testMechABIJSON)
	marketplaceABI := mustParseTestABI(t, testMarketplaceABIJSON)
	safeABI := mustParseTestABI(t, testSafeABIJSON)

	mechPaymentType := selectorHex(t, mechABI, "paymentType")
	mechMaxDeliveryRate := selectorHex(t, mechABI, "maxDeliveryRate")
	marketMinTimeout := selectorHex(t, marketplaceABI, "minResponseTimeout")
	marketMaxTimeout := selectorHex(t, marketplaceABI, "maxResponseTimeout")
	safeNonce := selectorHex(t, safeABI, "nonce")
	safeGetTxHash := selectorHex(t, safeABI, "getTransactionHash")

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		switch req.Method {
		case "eth_chainId":
			resp["result"] = "0x2105"
		case "eth_getTransactionCount":
			resp["result"] = "0x5"
		case "eth_getBalance":
			resp["result"] = "0xde0b6b3a7640000"
		case "eth_gasPrice":
			resp["result"] = "0x3b9aca00"
		case "eth_estimateGas":
			resp["result"] = "0x7a120"
		case "eth_sendRawTransaction":
			resp["result"] = testFixedTxHash.Hex()
		case "eth_getTransactionReceipt":
			resp["result"] = mockReceipt(t, marketplaceABI)
		case "eth_call":
			var params []json.RawMessage
			require.NoError(t, json.Unmarshal(req.Params, &params))
			var call struct {
				To   string `json:"to"`
				Data string `json:"data"`
			}
			require.NoError(t, json.Unmarshal(params[0], &call))
			selector := call.Data[:10]

			var packed []byte
			var err error
			switch selector {
			case mechPaymentType:
				packed, err = mechABI.Methods["paymentType"].Outputs.Pack(testNativePaymentType)
			case mechMaxDeliveryRate:
				packed, err = mechABI.Methods["maxDeliveryRate"].Outputs.Pack(big.NewInt(1000))
			case marketMinTimeout:
				packed, err = marketplaceABI.Methods["minResponseTimeout"].Outputs.Pack(uint32(60))
			case marketMaxTimeout:
				packed, err = marketplaceABI.Methods["maxResponseTimeout"].Outputs.Pack(uint32(3600))
			case safeNonce:
				packed, err = safeABI.Methods["nonce"].Outputs.Pack(big.NewInt(7))
			case safeGetTxHash:
				packed, err = safeABI.Methods["getTransactionHash"].Outputs.Pack([32]byte(testFixedSafeTxHash))
			default:
				t.Fatalf("unexpected eth_call selector %s", selector)
			}
			require.NoError(t, err)
			resp["result"] = "0x" + common.Bytes2Hex(packed)
		default:
			resp["result"] = "0x0"
		}

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func mockReceipt(t *testing.T, marketplaceABI abi.ABI) map[string]interface{} {
	t.Helper()
	eventABI := marketplaceABI.Events["MarketplaceRequest"]
	data, err := eventABI.Inputs.NonIndexed().Pack(
		big.NewInt(1),
		[][32]byte{testFixedRequestID},
		[][]byte{{}},
	)
	require.NoError(t, err)

	return map[string]interface{}{
		"status":            "0x1",
		"transactionHash":   testFixedTxHash.Hex(),
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
				"transactionHash":  testFixedTxHash.Hex(),
				"transactionIndex": "0x0",
				"blockHash":        common.Hash{}.Hex(),
				"logIndex":         "0x0",
				"removed":          false,
			},
		},
		"logsBloom": "0x" + common.Bytes2Hex(make([]byte, 256)),
	}
}

func newTestSafeEngine(t *testing.T) *safetx.Engine {
	t.Helper()
	server := newMockChainServer(t)
	t.Cleanup(server.Close)

	client, err := chainrpc.Dial(context.Background(), chainrpc.Config{URL: server.URL, ChainID: 8453, RequestsPerSecond: 1000})
	require.NoError(t, err)

	key, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	signer := safetx.NewKeySigner(key)

	return safetx.New(client, signer)
}

type fakeUploader struct {
	cid string
	err error
}

func (f fakeUploader) Upload(_ context.Context, _ string, _ []byte) (string, error) {
	return f.cid, f.err
}

func TestDispatchFromTemplate_UploadsAndSubmitsMarketplaceRequest(t *testing.T) {
	d := New(newTestSafeEngine(t), fakeUploader{cid: "bafy-venture"},
		common.HexToAddress("0xbbbb"), common.HexToAddress("0xcccc"), common.HexToAddress("0xaaaa"), 8453, 120)

	v := venture.Venture{VentureID: "v-1"}
	entry := venture.ScheduleEntry{EntryID: "e-1", TemplateID: "t-1", Cron: "0 * * * *", Enabled: true}

	err := d.DispatchFromTemplate(context.Background(), v, entry, "jd-1")
	require.NoError(t, err)
}

func TestDispatchFromTemplate_PropagatesUploadFailure(t *testing.T) {
	d := New(newTestSafeEngine(t), fakeUploader{err: context.DeadlineExceeded},
		common.HexToAddress("0xbbbb"), common.HexToAddress("0xcccc"), common.HexToAddress("0xaaaa"), 8453, 120)

	v := venture.Venture{VentureID: "v-1"}
	entry := venture.ScheduleEntry{EntryID: "e-1", TemplateID: "t-1"}

	err := d.DispatchFromTemplate(context.Background(), v, entry, "jd-1")
	require.Error(t, err)
}
