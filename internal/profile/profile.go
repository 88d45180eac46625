// Package profile loads and decrypts the on-disk operator profile: the
// hierarchical wallet (Master EOA -> Master Safe -> Service Safe -> Agent
// EOA) and the service addresses a worker process needs for its lifetime.
// Grounded on the teacher's account-pool lifecycle in
// infrastructure/accountpool/marble/service.go (the "private keys never
// leave this service" invariant and the directory-scan/cleanup pattern),
// adapted from HD-derived pool accounts to a single decrypted keystore.
package profile

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/jinn-network/jinn-worker/internal/svcerrors"
)

// Profile is the decrypted operator wallet hierarchy plus the service's
// on-chain addresses. Once loaded it lives for the process lifetime.
type Profile struct {
	mu sync.RWMutex

	masterEOA  common.Address
	masterSafe map[int64]common.Address // chainId -> safe
	serviceSafe common.Address
	agentEOA   common.Address
	agentKey   *ecdsa.PrivateKey

	mechAddress        common.Address
	marketplaceAddress common.Address
	stakingContract    common.Address
	chainID            int64

	basePath   string
	servicePath string
}

// ethereumWallet mirrors <base>/.operate/wallets/ethereum.json.
type ethereumWallet struct {
	Address string                    `json:"address"`
	Safes   map[string]string         `json:"safes"` // chainId string -> safe address
	SafeChains []string               `json:"safe_chains,omitempty"`
}

// serviceConfig mirrors <base>/.operate/services/sc-<uuid>/config.json.
type serviceConfig struct {
	ChainConfigs map[string]chainServiceConfig `json:"chain_configs"`
}

type chainServiceConfig struct {
	ChainData struct {
		Token     *int64 `json:"token"`
		Multisig  string `json:"multisig"`
		Instances []struct {
			Multisig string `json:"multisig"`
		} `json:"instances"`
	} `json:"chain_data"`
	MechAddress        string `json:"mech_address"`
	MarketplaceAddress string `json:"marketplace_address"`
	StakingContract    string `json:"staking_contract"`
}

// keysEntry is one element of keys.json: either a V3-encrypted blob (as a
// JSON string) or a legacy 0x-hex private key.
type keysEntry struct {
	PrivateKey string `json:"private_key"`
}

// Load decrypts the operator profile rooted at basePath (typically
// <home>/.operate), using password to unlock both the master keystore and
// any V3-encrypted service keys. chainID selects which chain_configs entry
// (and master safe) this profile resolves addresses for.
func Load(basePath, password string, chainID int64) (*Profile, error) {
	if password == "" {
		return nil, svcerrors.MissingConfig("OPERATE_PASSWORD")
	}

	p := &Profile{basePath: basePath, chainID: chainID, masterSafe: map[int64]common.Address{}}

	if err := p.loadMasterWallet(); err != nil {
		return nil, err
	}

	servicePath, err := latestServiceDir(filepath.Join(basePath, "services"))
	if err != nil {
		return nil, err
	}
	p.servicePath = servicePath

	if err := p.loadServiceConfig(servicePath); err != nil {
		return nil, err
	}
	if err := p.loadAgentKey(servicePath, password); err != nil {
		return nil, err
	}

	if err := cleanupUndeployedServices(filepath.Join(basePath, "services"), servicePath); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Profile) loadMasterWallet() error {
	walletPath := filepath.Join(p.basePath, "wallets", "ethereum.json")
	raw, err := os.ReadFile(walletPath)
	if err != nil {
		return svcerrors.NoProfile()
	}

	var wallet ethereumWallet
	if err := json.Unmarshal(raw, &wallet); err != nil {
		return svcerrors.MalformedKeystore(err)
	}
	if !common.IsHexAddress(wallet.Address) {
		return svcerrors.MalformedKeystore(fmt.Errorf("invalid master EOA address %q", wallet.Address))
	}
	p.masterEOA = common.HexToAddress(wallet.Address)

	for chainStr, safeAddr := range wallet.Safes {
		chainID, err := strconv.ParseInt(chainStr, 10, 64)
		if err != nil || !common.IsHexAddress(safeAddr) {
			continue
		}
		p.masterSafe[chainID] = common.HexToAddress(safeAddr)
	}

	return nil
}

// latestServiceDir returns the "sc-*" directory with the most recent
// modification time under servicesDir.
func latestServiceDir(servicesDir string) (string, error) {
	entries, err := os.ReadDir(servicesDir)
	if err != nil {
		return "", svcerrors.NoProfile()
	}

	type candidate struct {
		path    string
		modTime int64
	}
	var candidates []candidate
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "sc-") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, candidate{
			path:    filepath.Join(servicesDir, e.Name()),
			modTime: info.ModTime().UnixNano(),
		})
	}
	if len(candidates) == 0 {
		return "", svcerrors.NoProfile()
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].modTime > candidates[j].modTime })
	return candidates[0].path, nil
}

func (p *Profile) loadServiceConfig(servicePath string) error {
	raw, err := os.ReadFile(filepath.Join(servicePath, "config.json"))
	if err != nil {
		return svcerrors.MalformedKeystore(err)
	}

	var cfg serviceConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return svcerrors.MalformedKeystore(err)
	}

	chainCfg, ok := cfg.ChainConfigs[strconv.FormatInt(p.chainID, 10)]
	if !ok && len(cfg.ChainConfigs) == 1 {
		// Fall back to the only entry when there is exactly one chain.
		for _, c := range cfg.ChainConfigs {
			chainCfg = c
			ok = true
			break
		}
	}
	if !ok {
		return svcerrors.MalformedKeystore(fmt.Errorf("no chain_configs entry in %s", servicePath))
	}

	multisig := chainCfg.ChainData.Multisig
	if multisig == "" && len(chainCfg.ChainData.Instances) > 0 {
		multisig = chainCfg.ChainData.Instances[0].Multisig
	}
	if !common.IsHexAddress(multisig) {
		return svcerrors.MalformedKeystore(fmt.Errorf("missing service safe address in %s", servicePath))
	}
	p.serviceSafe = common.HexToAddress(multisig)

	if common.IsHexAddress(chainCfg.MechAddress) {
		p.mechAddress = common.HexToAddress(chainCfg.MechAddress)
	}
	if common.IsHexAddress(chainCfg.MarketplaceAddress) {
		p.marketplaceAddress = common.HexToAddress(chainCfg.MarketplaceAddress)
	}
	if common.IsHexAddress(chainCfg.StakingContract) {
		p.stakingContract = common.HexToAddress(chainCfg.StakingContract)
	}

	return nil
}

// loadAgentKey accepts either a keys.json array of {private_key: <V3-JSON
// string | 0x-hex>} entries or the legacy plaintext key file, per spec §4.1.
func (p *Profile) loadAgentKey(servicePath, password string) error {
	key, err := p.loadAgentKeyFromKeysJSON(servicePath, password)
	if err == nil {
		p.setAgentKey(key)
		return nil
	}

	legacyPath := filepath.Join(servicePath, "deployment", "agent_keys", "agent_0", "ethereum_private_key.txt")
	raw, legacyErr := os.ReadFile(legacyPath)
	if legacyErr != nil {
		return err
	}

	key, parseErr := parseHexPrivateKey(strings.TrimSpace(string(raw)))
	if parseErr != nil {
		return svcerrors.MalformedKeystore(parseErr)
	}
	p.setAgentKey(key)
	return nil
}

func (p *Profile) loadAgentKeyFromKeysJSON(servicePath, password string) (*ecdsa.PrivateKey, error) {
	raw, err := os.ReadFile(filepath.Join(servicePath, "keys.json"))
	if err != nil {
		return nil, svcerrors.MalformedKeystore(err)
	}

	var entries []keysEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, svcerrors.MalformedKeystore(err)
	}
	if len(entries) == 0 {
		return nil, svcerrors.MalformedKeystore(fmt.Errorf("keys.json has no entries"))
	}

	return decodePrivateKeyEntry(entries[0].PrivateKey, password)
}

// decodePrivateKeyEntry decrypts a V3-keystore JSON string, or parses a
// plain 0x-hex private key, matching both shapes spec.md §4.1 accepts.
func decodePrivateKeyEntry(value, password string) (*ecdsa.PrivateKey, error) {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "0x") || isHexString(trimmed) {
		return parseHexPrivateKey(trimmed)
	}

	key, err := keystore.DecryptKey([]byte(trimmed), password)
	if err != nil {
		return nil, svcerrors.BadPassword()
	}
	return key.PrivateKey, nil
}

func parseHexPrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(hexKey, "0x")
	return gethcrypto.HexToECDSA(hexKey)
}

func isHexString(s string) bool {
	if s == "" {
		return false
	}
	_, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	return err == nil
}

func (p *Profile) setAgentKey(key *ecdsa.PrivateKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.agentKey = key
	p.agentEOA = gethcrypto.PubkeyToAddress(key.PublicKey)
}

// cleanupUndeployedServices deletes any "sc-*" directory (other than the
// active one) whose on-chain token is absent/-1 and whose multisig is
// absent -- i.e. was created but never actually deployed on-chain.
func cleanupUndeployedServices(servicesDir, activeServicePath string) error {
	entries, err := os.ReadDir(servicesDir)
	if err != nil {
		return nil
	}

	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "sc-") {
			continue
		}
		path := filepath.Join(servicesDir, e.Name())
		if path == activeServicePath {
			continue
		}

		raw, err := os.ReadFile(filepath.Join(path, "config.json"))
		if err != nil {
			continue
		}
		var cfg serviceConfig
		if err := json.Unmarshal(raw, &cfg); err != nil {
			continue
		}

		everDeployed := false
		for _, chainCfg := range cfg.ChainConfigs {
			tokenPresent := chainCfg.ChainData.Token != nil && *chainCfg.ChainData.Token >= 0
			multisigPresent := chainCfg.ChainData.Multisig != "" || len(chainCfg.ChainData.Instances) > 0
			if tokenPresent || multisigPresent {
				everDeployed = true
				break
			}
		}
		if !everDeployed {
			_ = os.RemoveAll(path)
		}
	}
	return nil
}

// Accessors.

func (p *Profile) MasterEOA() common.Address { return p.masterEOA }

func (p *Profile) MasterSafe(chainID int64) (common.Address, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	safe, ok := p.masterSafe[chainID]
	if !ok {
		return common.Address{}, svcerrors.MissingConfig(fmt.Sprintf("masterSafe[%d]", chainID))
	}
	return safe, nil
}

func (p *Profile) ServiceSafe() common.Address { return p.serviceSafe }

func (p *Profile) AgentEOA() common.Address {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.agentEOA
}

// AgentPrivateKey returns the decrypted agent key. It is used in-process by
// the Signing Proxy and by the signing components cmd/jinn-worker wires
// up; the agent subprocess never observes the result.
func (p *Profile) AgentPrivateKey() (*ecdsa.PrivateKey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.agentKey == nil {
		return nil, svcerrors.MissingConfig("agentPrivateKey")
	}
	return p.agentKey, nil
}

func (p *Profile) MechAddress() common.Address        { return p.mechAddress }
func (p *Profile) MarketplaceAddress() common.Address { return p.marketplaceAddress }
func (p *Profile) StakingContract() common.Address    { return p.stakingContract }
func (p *Profile) ChainID() int64                     { return p.chainID }
