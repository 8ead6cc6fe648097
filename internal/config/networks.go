// Known EVM network registry used by the wallet for native currency and explorer links
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// NetworkInfo static network metadata
type NetworkInfo struct {
	ChainID      uint64 `yaml:"chain_id" json:"chain_id"`
	Name         string `yaml:"name" json:"name"`
	NativeSymbol string `yaml:"native_symbol" json:"native_symbol"`
	Explorer     string `yaml:"explorer" json:"explorer"`
	Testnet      bool   `yaml:"testnet" json:"testnet"`
}

// NetworkRegistry chain id indexed network metadata
type NetworkRegistry struct {
	networks map[uint64]NetworkInfo
	mu       sync.RWMutex
}

var (
	globalNetworkRegistry *NetworkRegistry
	registryOnce          sync.Once
)

// GetNetworkRegistry returns the process-wide registry, seeded with built-in networks
func GetNetworkRegistry() *NetworkRegistry {
	registryOnce.Do(func() {
		globalNetworkRegistry = NewNetworkRegistry()
	})
	return globalNetworkRegistry
}

// NewNetworkRegistry creates a registry holding the built-in networks
func NewNetworkRegistry() *NetworkRegistry {
	r := &NetworkRegistry{networks: make(map[uint64]NetworkInfo)}
	for _, n := range defaultNetworks() {
		r.networks[n.ChainID] = n
	}
	return r
}

func defaultNetworks() []NetworkInfo {
	return []NetworkInfo{
		{ChainID: 1, Name: "Ethereum", NativeSymbol: "ETH", Explorer: "https://etherscan.io"},
		{ChainID: 11155111, Name: "Sepolia", NativeSymbol: "ETH", Explorer: "https://sepolia.etherscan.io", Testnet: true},
		{ChainID: 8453, Name: "Base", NativeSymbol: "ETH", Explorer: "https://basescan.org"},
		{ChainID: 84532, Name: "Base Sepolia", NativeSymbol: "ETH", Explorer: "https://sepolia.basescan.org", Testnet: true},
		{ChainID: 10, Name: "Optimism", NativeSymbol: "ETH", Explorer: "https://optimistic.etherscan.io"},
		{ChainID: 42161, Name: "Arbitrum One", NativeSymbol: "ETH", Explorer: "https://arbiscan.io"},
		{ChainID: 56, Name: "Binance Smart Chain", NativeSymbol: "BNB", Explorer: "https://bscscan.com"},
		{ChainID: 137, Name: "Polygon", NativeSymbol: "POL", Explorer: "https://polygonscan.com"},
		{ChainID: 1337, Name: "Local Dev Chain", NativeSymbol: "ETH", Testnet: true},
	}
}

// LoadFile merges networks from a YAML file (list under "networks")
func (r *NetworkRegistry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read network file: %w", err)
	}

	var doc struct {
		Networks []NetworkInfo `yaml:"networks"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse network file: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range doc.Networks {
		if n.ChainID == 0 {
			logrus.Warnf("⚠️ [Networks] Skipping entry without chain_id: %q", n.Name)
			continue
		}
		r.networks[n.ChainID] = n
	}
	return nil
}

// Lookup finds a network by chain id
func (r *NetworkRegistry) Lookup(chainID uint64) (NetworkInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.networks[chainID]
	return n, ok
}

// NativeSymbol returns the native currency symbol, ETH for unknown chains
func (r *NetworkRegistry) NativeSymbol(chainID uint64) string {
	if n, ok := r.Lookup(chainID); ok && n.NativeSymbol != "" {
		return n.NativeSymbol
	}
	return "ETH"
}

// TransactionURL explorer link for a transaction, "" when the chain has no explorer
func (r *NetworkRegistry) TransactionURL(chainID uint64, txHash string) string {
	n, ok := r.Lookup(chainID)
	if !ok || n.Explorer == "" {
		return ""
	}
	return strings.TrimRight(n.Explorer, "/") + "/tx/" + txHash
}

// DisplayName GetNetwork display name
func (r *NetworkRegistry) DisplayName(chainID uint64) string {
	n, ok := r.Lookup(chainID)
	if !ok {
		return fmt.Sprintf("Unknown Network (%d)", chainID)
	}
	return n.Name
}
