package txqueue

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

func writeAllowlist(t *testing.T, cfg map[string]map[string]interface{}) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "allowlist.json")
	raw, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
	return path
}

func TestLoadAllowlist_PlainSelectorStrings(t *testing.T) {
	path := writeAllowlist(t, map[string]map[string]interface{}{
		"8453": {
			"0xcontract0000000000000000000000000000001": []string{"0xdeadbeef"},
		},
	})

	al, err := LoadAllowlist(path)
	require.NoError(t, err)

	err = al.Validate(ValidateInput{
		WorkerChainID: 8453,
		ChainID:       8453,
		To:            "0xCONTRACT0000000000000000000000000000001",
		Data:          "0xdeadbeefcafe",
		Value:         "0",
	})
	require.NoError(t, err)
}

func TestValidate_ChainNotSupported(t *testing.T) {
	path := writeAllowlist(t, map[string]map[string]interface{}{
		"8453": {"0xc1": []string{"0xdeadbeef"}},
	})
	al, err := LoadAllowlist(path)
	require.NoError(t, err)

	err = al.Validate(ValidateInput{WorkerChainID: 1, ChainID: 1, To: "0xc1", Data: "0xdeadbeef00"})
	require.True(t, svcerrors.IsCode(err, svcerrors.CodeChainNotSupported))
}

func TestValidate_ChainMismatch(t *testing.T) {
	path := writeAllowlist(t, map[string]map[string]interface{}{
		"8453": {"0xc1": []string{"0xdeadbeef"}},
		"1":    {"0xc1": []string{"0xdeadbeef"}},
	})
	al, err := LoadAllowlist(path)
	require.NoError(t, err)

	err = al.Validate(ValidateInput{WorkerChainID: 1, ChainID: 8453, To: "0xc1", Data: "0xdeadbeef00"})
	require.True(t, svcerrors.IsCode(err, svcerrors.CodeChainMismatch))
}

func TestValidate_SelectorNotAllowlisted(t *testing.T) {
	path := writeAllowlist(t, map[string]map[string]interface{}{
		"8453": {"0xc1": []string{"0xdeadbeef"}},
	})
	al, err := LoadAllowlist(path)
	require.NoError(t, err)

	err = al.Validate(ValidateInput{WorkerChainID: 8453, ChainID: 8453, To: "0xc1", Data: "0xcafebabe00"})
	require.True(t, svcerrors.IsCode(err, svcerrors.CodeAllowlistViolation))
}

func TestValidate_RejectsNonZeroValue(t *testing.T) {
	path := writeAllowlist(t, map[string]map[string]interface{}{
		"8453": {"0xc1": []string{"0xdeadbeef"}},
	})
	al, err := LoadAllowlist(path)
	require.NoError(t, err)

	err = al.Validate(ValidateInput{WorkerChainID: 8453, ChainID: 8453, To: "0xc1", Data: "0xdeadbeef00", Value: "100"})
	require.True(t, svcerrors.IsCode(err, svcerrors.CodeInvalidPayload))
}

func TestValidate_ObjectSelectorWithExecutorAllowlist(t *testing.T) {
	path := writeAllowlist(t, map[string]map[string]interface{}{
		"8453": {
			"0xc1": []map[string]interface{}{
				{"selector": "0xdeadbeef", "allowed_executors": []string{"0xWORKER"}},
			},
		},
	})
	al, err := LoadAllowlist(path)
	require.NoError(t, err)

	err = al.Validate(ValidateInput{
		WorkerChainID: 8453, ChainID: 8453, To: "0xc1", Data: "0xdeadbeef00", Executor: "0xworker",
	})
	require.NoError(t, err)

	err = al.Validate(ValidateInput{
		WorkerChainID: 8453, ChainID: 8453, To: "0xc1", Data: "0xdeadbeef00", Executor: "0xother",
	})
	require.True(t, svcerrors.IsCode(err, svcerrors.CodeExecutionStrategyViolation))
}
