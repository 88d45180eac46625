package checkpoint

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const stakingABIJSON = `[
	{"type":"function","name":"getNextRewardCheckpointTimestamp","stateMutability":"view","inputs":[],"outputs":[{"type":"uint256"}]},
	{"type":"function","name":"checkpoint","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("checkpoint: invalid embedded ABI: " + err.Error())
	}
	return parsed
}

var stakingABI = mustParseABI(stakingABIJSON)
