package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNetworkRegistry_Defaults(t *testing.T) {
	r := NewNetworkRegistry()

	assert.Equal(t, "ETH", r.NativeSymbol(1))
	assert.Equal(t, "BNB", r.NativeSymbol(56))
	assert.Equal(t, "ETH", r.NativeSymbol(999999))
	assert.Equal(t, "https://etherscan.io/tx/0xabc", r.TransactionURL(1, "0xabc"))
	assert.Empty(t, r.TransactionURL(1337, "0xabc"))
	assert.Equal(t, "Unknown Network (5)", r.DisplayName(5))
}

func TestNetworkRegistry_LoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "networks.yaml")
	body := `
networks:
  - chain_id: 43114
    name: Avalanche
    native_symbol: AVAX
    explorer: https://snowtrace.io/
  - name: broken
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	r := NewNetworkRegistry()
	require.NoError(t, r.LoadFile(path))

	n, ok := r.Lookup(43114)
	require.True(t, ok)
	assert.Equal(t, "Avalanche", n.Name)
	assert.Equal(t, "AVAX", r.NativeSymbol(43114))
	assert.Equal(t, "https://snowtrace.io/tx/0x1", r.TransactionURL(43114, "0x1"))

	assert.Error(t, r.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")))
}
