package safetx

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Partial ABI fragments for the three contracts the Safe Transaction
// Engine touches, in the teacher's pack-style of parsing an inline ABI
// JSON string per call site (certenIO-certen-validator/pkg/ethereum/
// client.go's CallContract/SendContractTransaction).

const mechABIJSON = `[
	{"type":"function","name":"paymentType","stateMutability":"view","inputs":[],"outputs":[{"type":"bytes32"}]},
	{"type":"function","name":"maxDeliveryRate","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]}
]`

const marketplaceABIJSON = `[
	{"type":"function","name":"minResponseTimeout","stateMutability":"view","inputs":[],"outputs":[{"type":"uint32"}]},
	{"type":"function","name":"maxResponseTimeout","stateMutability":"view","inputs":[],"outputs":[{"type":"uint32"}]},
	{"type":"function","name":"request","stateMutability":"payable","inputs":[
		{"name":"requestData","type":"bytes"},
		{"name":"maxDeliveryRate","type":"uint256"},
		{"name":"paymentType","type":"bytes32"},
		{"name":"priorityMech","type":"address"},
		{"name":"responseTimeout","type":"uint256"},
		{"name":"paymentData","type":"bytes"}
	],"outputs":[]},
	{"type":"event","name":"MarketplaceRequest","anonymous":false,"inputs":[
		{"name":"priorityMech","type":"address","indexed":true},
		{"name":"requester","type":"address","indexed":true},
		{"name":"numRequests","type":"uint256","indexed":false},
		{"name":"requestIds","type":"bytes32[]","indexed":false},
		{"name":"requestDatas","type":"bytes[]","indexed":false}
	]}
]`

const safeABIJSON = `[
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
	],"outputs":[{"type":"bytes32"}]},
	{"type":"function","name":"execTransaction","stateMutability":"nonpayable","inputs":[
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"data","type":"bytes"},
		{"name":"operation","type":"uint8"},
		{"name":"safeTxGas","type":"uint256"},
		{"name":"baseGas","type":"uint256"},
		{"name":"gasPrice","type":"uint256"},
		{"name":"gasToken","type":"address"},
		{"name":"refundReceiver","type":"address"},
		{"name":"signatures","type":"bytes"}
	],"outputs":[{"type":"bool"}]}
]`

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("safetx: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

var (
	mechABI        = mustParseABI(mechABIJSON)
	marketplaceABI = mustParseABI(marketplaceABIJSON)
	safeABI        = mustParseABI(safeABIJSON)
)

// CallOperation mirrors Gnosis Safe's Enum.Operation.
type CallOperation uint8

const (
	OperationCall         CallOperation = 0
	OperationDelegateCall CallOperation = 1
)
