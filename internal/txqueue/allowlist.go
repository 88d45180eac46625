package txqueue

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

// selectorEntry is either a plain 4-byte hex string or an object with
// allowed_executors/strategy/notes, per spec §4.3.
type selectorEntry struct {
	Selector         string   `json:"selector"`
	AllowedExecutors []string `json:"allowed_executors,omitempty"`
	// Strategy, when set, is the one executionStrategy ("EOA" or "SAFE")
	// this selector may be submitted under. Empty means either is fine.
	Strategy string `json:"strategy,omitempty"`
	Notes    string `json:"notes,omitempty"`
}

// contractAllowlist maps a contract address to its allowed selectors.
type contractAllowlist map[string][]selectorEntry

// rawAllowlistConfig mirrors the on-disk allowlist JSON file:
// chainId (string) -> contract address (lowercase hex) -> selector list.
type rawAllowlistConfig map[string]map[string]json.RawMessage

// Allowlist is the loaded, normalized allowlist config.
type Allowlist struct {
	// chains[chainID][contract] = selectors
	chains map[int64]contractAllowlist
}

// LoadAllowlist reads and validates the allowlist config file at path.
func LoadAllowlist(path string) (*Allowlist, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, svcerrors.MissingConfig("allowlist file: " + err.Error())
	}

	var cfg rawAllowlistConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, svcerrors.Wrap(svcerrors.CodeMissingConfig, "allowlist config is malformed JSON", 500, err)
	}

	al := &Allowlist{chains: map[int64]contractAllowlist{}}
	for chainIDStr, contracts := range cfg {
		var chainID int64
		if _, err := fmt.Sscanf(chainIDStr, "%d", &chainID); err != nil {
			return nil, fmt.Errorf("allowlist: invalid chain id key %q", chainIDStr)
		}

		normalized := contractAllowlist{}
		for contract, selectorsRaw := range contracts {
			selectors, err := parseSelectors(selectorsRaw)
			if err != nil {
				return nil, fmt.Errorf("allowlist: chain %s contract %s: %w", chainIDStr, contract, err)
			}
			normalized[strings.ToLower(contract)] = selectors
		}
		al.chains[chainID] = normalized
	}
	return al, nil
}

func parseSelectors(raw json.RawMessage) ([]selectorEntry, error) {
	var plain []string
	if err := json.Unmarshal(raw, &plain); err == nil {
		entries := make([]selectorEntry, len(plain))
		for i, s := range plain {
			entries[i] = selectorEntry{Selector: strings.ToLower(s)}
		}
		return entries, nil
	}

	var objects []selectorEntry
	if err := json.Unmarshal(raw, &objects); err != nil {
		return nil, fmt.Errorf("selectors must be a list of hex strings or {selector,...} objects: %w", err)
	}
	for i := range objects {
		objects[i].Selector = strings.ToLower(objects[i].Selector)
		objects[i].Strategy = strings.ToUpper(objects[i].Strategy)
		for j := range objects[i].AllowedExecutors {
			objects[i].AllowedExecutors[j] = strings.ToLower(objects[i].AllowedExecutors[j])
		}
	}
	return objects, nil
}

// ValidateInput is the set of fields checked against the allowlist.
type ValidateInput struct {
	WorkerChainID     int64
	ChainID           int64
	To                string
	Data              string
	Value             string
	ExecutionStrategy string
	Executor          string
}

// Validate enforces spec §4.3's allowlist rules, returning the specific
// ServiceError code the spec names on each violation.
func (a *Allowlist) Validate(in ValidateInput) error {
	if in.Value != "" && in.Value != "0" {
		return svcerrors.InvalidPayload("value must be zero for allowlisted calls")
	}
	if len(in.Data) < 10 || !strings.HasPrefix(in.Data, "0x") {
		return svcerrors.InvalidPayload("data must be 0x-prefixed with at least a 4-byte selector")
	}

	contracts, ok := a.chains[in.ChainID]
	if !ok {
		return svcerrors.ChainNotSupported(in.ChainID)
	}
	if in.WorkerChainID != in.ChainID {
		return svcerrors.ChainMismatch(in.WorkerChainID, in.ChainID)
	}

	selectors, ok := contracts[strings.ToLower(in.To)]
	if !ok {
		return svcerrors.AllowlistViolation(in.ChainID, in.To, "")
	}

	selector := strings.ToLower(in.Data[:10])
	var matched *selectorEntry
	for i := range selectors {
		if selectors[i].Selector == selector {
			matched = &selectors[i]
			break
		}
	}
	if matched == nil {
		return svcerrors.AllowlistViolation(in.ChainID, in.To, selector)
	}

	if matched.Strategy != "" && !strings.EqualFold(matched.Strategy, in.ExecutionStrategy) {
		return svcerrors.ExecutionStrategyMismatch(matched.Strategy, in.ExecutionStrategy)
	}

	if len(matched.AllowedExecutors) > 0 {
		allowed := false
		executor := strings.ToLower(in.Executor)
		for _, e := range matched.AllowedExecutors {
			if e == executor {
				allowed = true
				break
			}
		}
		if !allowed {
			return svcerrors.ExecutionStrategyViolation(in.ExecutionStrategy)
		}
	}

	return nil
}
