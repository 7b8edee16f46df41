package client

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tristanlee/substrate/internal/chainspec"
	"github.com/tristanlee/substrate/internal/fault"
)

func devSpec(t *testing.T) *chainspec.Spec {
	t.Helper()
	spec, err := chainspec.Load("dev")
	require.NoError(t, err)
	return spec
}

func openClient(t *testing.T, spec *chainspec.Spec, dir string) *Client {
	t.Helper()
	c, err := Open(spec, dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })
	return c
}

// extend appends n empty blocks to the best chain
func extend(t *testing.T, c *Client, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		b := NewBlock(c.Best(), uint64(1000+i), "alice", []byte{byte(i)})
		require.NoError(t, c.ImportBlock(b))
	}
}

// TestOpenWritesGenesis tests fresh database initialization
func TestOpenWritesGenesis(t *testing.T) {
	spec := devSpec(t)
	c := openClient(t, spec, t.TempDir())

	info := c.Info()
	assert.Equal(t, uint64(0), info.BestNumber)
	assert.Equal(t, Hash(spec.GenesisHash()), info.GenesisHash)
	assert.Equal(t, info.GenesisHash, info.BestHash)
}

// TestReopenKeepsChain tests persistence across restarts
func TestReopenKeepsChain(t *testing.T) {
	spec := devSpec(t)
	dir := t.TempDir()

	c, err := Open(spec, dir)
	require.NoError(t, err)
	extend(t, c, 5)
	best := c.Info().BestHash
	require.NoError(t, c.Shutdown())

	reopened := openClient(t, spec, dir)
	assert.Equal(t, uint64(5), reopened.Info().BestNumber)
	assert.Equal(t, best, reopened.Info().BestHash)
}

// TestGenesisMismatchRejected tests that a database from another chain is refused
func TestGenesisMismatchRejected(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(devSpec(t), dir)
	require.NoError(t, err)
	require.NoError(t, c.Shutdown())

	local, err := chainspec.Load("local")
	require.NoError(t, err)

	_, err = Open(local, dir)
	assert.True(t, fault.Is(err, fault.ConfigError), "got %v", err)
}

// TestDirectoryLocked tests that a second open of the same directory fails
func TestDirectoryLocked(t *testing.T) {
	spec := devSpec(t)
	dir := t.TempDir()
	openClient(t, spec, dir)

	_, err := Open(spec, dir)
	assert.True(t, fault.Is(err, fault.ConfigError), "got %v", err)
}

// TestImportValidation tests block linkage checks
func TestImportValidation(t *testing.T) {
	c := openClient(t, devSpec(t), t.TempDir())
	genesis := c.Best()

	good := NewBlock(genesis, 1, "alice", nil)

	badParent := NewBlock(genesis, 1, "alice", nil)
	badParent.ParentHash = Hash{1}
	badParent.Hash = badParent.ComputeHash()

	badHash := NewBlock(genesis, 1, "alice", nil)
	badHash.Hash = Hash{2}

	gap := NewBlock(good, 2, "alice", nil)
	gap.Number = 5
	gap.Hash = gap.ComputeHash()

	assert.Error(t, c.ImportBlock(badParent))
	assert.Error(t, c.ImportBlock(badHash))
	assert.Error(t, c.ImportBlock(gap))
	require.NoError(t, c.ImportBlock(good))
	assert.ErrorIs(t, c.ImportBlock(good), ErrKnownBlock)

	got, err := c.BlockByNumber(1)
	require.NoError(t, err)
	assert.Equal(t, good.Hash, got.Hash)

	byHash, err := c.BlockByHash(good.Hash)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), byHash.Number)

	_, err = c.BlockByNumber(7)
	assert.ErrorIs(t, err, ErrBlockNotFound)
}

// TestRevertNeverBelowGenesis tests revert bounds
func TestRevertNeverBelowGenesis(t *testing.T) {
	c := openClient(t, devSpec(t), t.TempDir())
	extend(t, c, 10)

	n, err := c.Revert(3)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), n)
	assert.Equal(t, uint64(7), c.Info().BestNumber)

	_, err = c.BlockByNumber(8)
	assert.ErrorIs(t, err, ErrBlockNotFound)

	n, err = c.Revert(256)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), n)
	assert.Equal(t, uint64(0), c.Info().BestNumber)
	assert.Equal(t, c.Info().GenesisHash, c.Info().BestHash)

	n, err = c.Revert(1)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)

	extend(t, c, 1)
	assert.Equal(t, uint64(1), c.Info().BestNumber)
}

// TestExportImportRoundTrip tests every transfer format
func TestExportImportRoundTrip(t *testing.T) {
	spec := devSpec(t)
	src := openClient(t, spec, t.TempDir())
	extend(t, src, 12)

	tests := []struct {
		name       string
		binary     bool
		compressed bool
	}{
		{"json", false, false},
		{"binary", true, false},
		{"json zstd", false, true},
		{"binary zstd", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			var w = &buf
			var stats ExportStats
			var err error

			if tt.compressed {
				zw, zerr := NewCompressedWriter(w)
				require.NoError(t, zerr)
				stats, err = src.Export(context.Background(), zw, 0, nil, tt.binary)
				require.NoError(t, err)
				require.NoError(t, zw.Close())
			} else {
				stats, err = src.Export(context.Background(), w, 0, nil, tt.binary)
				require.NoError(t, err)
			}
			assert.Equal(t, uint64(13), stats.Blocks)

			dst := openClient(t, spec, t.TempDir())
			imported, err := dst.Import(context.Background(), &buf, tt.binary)
			require.NoError(t, err)

			assert.Equal(t, uint64(12), imported.Imported)
			assert.Equal(t, uint64(1), imported.Skipped)
			assert.Equal(t, src.Info(), dst.Info())
		})
	}
}

// TestExportRange tests bounded exports
func TestExportRange(t *testing.T) {
	c := openClient(t, devSpec(t), t.TempDir())
	extend(t, c, 5)

	to := uint64(3)
	var buf bytes.Buffer
	stats, err := c.Export(context.Background(), &buf, 2, &to, false)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), stats.Blocks)
	assert.Equal(t, uint64(buf.Len()), stats.Bytes)

	bad := uint64(1)
	_, err = c.Export(context.Background(), &buf, 2, &bad, false)
	assert.Error(t, err)
}

// TestImportRejectsGarbage tests that malformed input stops the import
func TestImportRejectsGarbage(t *testing.T) {
	c := openClient(t, devSpec(t), t.TempDir())

	_, err := c.Import(context.Background(), bytes.NewReader([]byte("{nope\n")), false)
	assert.Error(t, err)

	_, err = c.Import(context.Background(), bytes.NewReader([]byte{0, 0, 0, 9, 1, 2}), true)
	assert.Error(t, err)
	assert.Equal(t, uint64(0), c.Info().BestNumber)
}

// TestAuthor tests development block authoring
func TestAuthor(t *testing.T) {
	c := openClient(t, devSpec(t), t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- c.Author(ctx, 10*time.Millisecond, "alice") }()

	require.Eventually(t, func() bool { return c.Info().BestNumber >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	b, err := c.BlockByNumber(1)
	require.NoError(t, err)
	assert.Equal(t, "alice", b.Author)
}

// TestPurge tests database removal
func TestPurge(t *testing.T) {
	spec := devSpec(t)
	dir := t.TempDir()

	removed, err := Purge(dir)
	require.NoError(t, err)
	assert.False(t, removed)

	c, err := Open(spec, dir)
	require.NoError(t, err)

	_, err = Purge(dir)
	assert.True(t, fault.Is(err, fault.ConfigError), "purge of a locked directory must fail")

	require.NoError(t, c.Shutdown())
	removed, err = Purge(dir)
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = os.Stat(filepath.Join(dir, dbDirName))
	assert.True(t, os.IsNotExist(err))
}

// TestShutdownIdempotent tests repeated shutdown
func TestShutdownIdempotent(t *testing.T) {
	c, err := Open(devSpec(t), t.TempDir())
	require.NoError(t, err)

	require.NoError(t, c.Shutdown())
	require.NoError(t, c.Shutdown())

	select {
	case <-c.Done():
	default:
		t.Error("Expected Done to be closed after shutdown")
	}
	assert.NoError(t, c.Err())
}

// TestBlockBinaryRoundTrip tests the binary block encoding
func TestBlockBinaryRoundTrip(t *testing.T) {
	parent := &Block{Number: 41, Hash: Hash{9}}
	b := NewBlock(parent, 1700000000, "bob", []byte("payload"))

	enc, err := b.MarshalBinary()
	require.NoError(t, err)

	var decoded Block
	require.NoError(t, decoded.UnmarshalBinary(enc))
	assert.Equal(t, *b, decoded)
	assert.Error(t, decoded.UnmarshalBinary(enc[:len(enc)-1]))
}
