package chainspec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tristanlee/substrate/internal/fault"
)

// TestLoadBuiltins tests built-in chain resolution
func TestLoadBuiltins(t *testing.T) {
	tests := []struct {
		chain string
		id    string
		typ   ChainType
	}{
		{"", "dev", Development},
		{"dev", "dev", Development},
		{"local", "local_testnet", Local},
	}

	for _, tt := range tests {
		t.Run(tt.chain, func(t *testing.T) {
			spec, err := Load(tt.chain)
			require.NoError(t, err)
			assert.Equal(t, tt.id, spec.ID)
			assert.Equal(t, tt.typ, spec.ChainType)
		})
	}
}

// TestGenesisHashStable tests that the genesis hash depends only on genesis content
func TestGenesisHashStable(t *testing.T) {
	a, _ := Load("dev")
	b, _ := Load("dev")
	assert.Equal(t, a.GenesisHash(), b.GenesisHash())

	b.Name = "Renamed"
	assert.Equal(t, a.GenesisHash(), b.GenesisHash())

	b.Genesis.Timestamp = 1
	assert.NotEqual(t, a.GenesisHash(), b.GenesisHash())

	local, _ := Load("local")
	assert.NotEqual(t, a.GenesisHash(), local.GenesisHash())
}

// TestLoadFileRoundTrip tests that a raw spec written to disk loads back
func TestLoadFileRoundTrip(t *testing.T) {
	spec, _ := Load("local")
	raw, err := spec.JSON(true)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "spec.json")
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, spec.GenesisHash(), loaded.GenesisHash())
	assert.Equal(t, spec.GenesisHashString(), loaded.GenesisHashHex)
}

// TestLoadErrors tests that resolution failures are configuration errors
func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}

	tests := []struct {
		name  string
		chain string
	}{
		{"unknown name", "polkadot"},
		{"malformed json", write("bad.json", "{")},
		{"missing id", write("noid.json", `{"name":"x"}`)},
		{"bad chain type", write("type.json", `{"name":"x","id":"x","chainType":"Weird"}`)},
		{"bad boot node", write("boot.json", `{"name":"x","id":"x","bootNodes":["nope"]}`)},
		{"hash mismatch", write("hash.json", `{"name":"x","id":"x","genesisHash":"0x00"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(tt.chain)
			assert.True(t, fault.Is(err, fault.ConfigError), "got %v", err)
		})
	}
}

// TestJSONOmitsHashUnlessRaw tests build-spec output modes
func TestJSONOmitsHashUnlessRaw(t *testing.T) {
	spec, _ := Load("dev")

	plain, err := spec.JSON(false)
	require.NoError(t, err)
	assert.NotContains(t, string(plain), "genesisHash")

	raw, err := spec.JSON(true)
	require.NoError(t, err)
	assert.Contains(t, string(raw), spec.GenesisHashString())
}
