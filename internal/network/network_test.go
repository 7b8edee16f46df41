package network

import (
	"bytes"
	"context"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/serf/serf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tristanlee/substrate/internal/chainspec"
	"github.com/tristanlee/substrate/internal/client"
	"github.com/tristanlee/substrate/internal/executor"
)

// recordingTasks runs tasks on a real manager and remembers their names.
type recordingTasks struct {
	*executor.TaskManager

	mu    sync.Mutex
	names []string
}

func (r *recordingTasks) Spawn(name string, fn executor.TaskFunc) *executor.Task {
	r.mu.Lock()
	r.names = append(r.names, name)
	r.mu.Unlock()
	return r.TaskManager.Spawn(name, fn)
}

func (r *recordingTasks) spawned() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.names...)
}

func newTestTasks(t *testing.T) *recordingTasks {
	t.Helper()
	ex, err := executor.Build(executor.Config{Workers: 2})
	require.NoError(t, err)
	tm := ex.NewTaskManager(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tm.Shutdown(ctx)
	})
	return &recordingTasks{TaskManager: tm}
}

func openChain(t *testing.T, blocks int) *client.Client {
	t.Helper()
	spec, err := chainspec.Load("dev")
	require.NoError(t, err)

	c, err := client.Open(spec, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Shutdown() })

	for i := 0; i < blocks; i++ {
		b := client.NewBlock(c.Best(), uint64(1000+i), "alice", []byte{byte(i)})
		require.NoError(t, c.ImportBlock(b))
	}
	return c
}

func testConfig(name string) *Config {
	cfg := DefaultConfig()
	cfg.NodeName = name
	cfg.BindAddr = "127.0.0.1"
	cfg.P2PPort = 0
	cfg.SyncPort = 0
	cfg.SyncInterval = 50 * time.Millisecond
	cfg.JoinTimeout = 2 * time.Second
	cfg.LogLevel = "ERROR"
	return cfg
}

func newTestNetwork(t *testing.T, name string, chain ChainSource) *Network {
	t.Helper()
	id, err := LoadOrCreateIdentity(filepath.Join(t.TempDir(), NodeKeyFileName))
	require.NoError(t, err)

	n, err := New(testConfig(name), id, chain, newTestTasks(t))
	require.NoError(t, err)
	return n
}

func stopNetwork(t *testing.T, n *Network) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	assert.NoError(t, n.Stop(ctx))
}

// TestValidateConfig tests configuration validation
func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"empty name", func(c *Config) { c.NodeName = "" }, "invalid node name"},
		{"bad bind address", func(c *Config) { c.BindAddr = "localhost" }, "invalid bind address"},
		{"port out of range", func(c *Config) { c.P2PPort = 70000 }, "invalid p2p port"},
		{"shared ports", func(c *Config) { c.P2PPort = 4000; c.SyncPort = 4000 }, "must differ"},
		{"bad boot node", func(c *Config) { c.BootNodes = []string{"nowhere"} }, "invalid boot nodes"},
		{"zero batch", func(c *Config) { c.SyncBatch = 0 }, "batch"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("node-a")
			tt.modify(cfg)

			err := validateConfig(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// TestBlockFraming tests the block stream encoding
func TestBlockFraming(t *testing.T) {
	c := openChain(t, 3)

	var blocks []*client.Block
	for i := uint64(1); i <= 3; i++ {
		b, err := c.BlockByNumber(i)
		require.NoError(t, err)
		blocks = append(blocks, b)
	}

	var buf bytes.Buffer
	require.NoError(t, writeBlocks(&buf, blocks))

	got, err := readBlocks(bytes.NewReader(buf.Bytes()), 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range blocks {
		assert.Equal(t, blocks[i].Hash, got[i].Hash)
	}

	_, err = readBlocks(bytes.NewReader(buf.Bytes()), 2)
	assert.ErrorContains(t, err, "more than 2 blocks")

	_, err = readBlocks(bytes.NewReader(buf.Bytes()[:buf.Len()-6]), 3)
	assert.Error(t, err, "truncated stream must fail")
}

// TestMessageTooLarge tests the size limit on both sides of the framing
func TestMessageTooLarge(t *testing.T) {
	err := writeMessage(&bytes.Buffer{}, make([]byte, maxMessageSize+1))
	assert.ErrorContains(t, err, "too large")

	_, err = readMessage(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
	assert.ErrorContains(t, err, "too large")
}

// TestPeerFromMember tests reading chain status out of gossip tags
func TestPeerFromMember(t *testing.T) {
	member := serf.Member{
		Name:   "node-b",
		Addr:   net.ParseIP("10.0.0.2"),
		Port:   30333,
		Status: serf.StatusAlive,
		Tags: map[string]string{
			tagPeerID:   "abcd",
			tagGenesis:  "0x01",
			tagBest:     "42",
			tagSyncPort: "30334",
			tagRole:     "authority",
		},
	}

	p := peerFromMember(member)
	assert.Equal(t, "abcd", p.PeerID)
	assert.Equal(t, uint64(42), p.BestNumber)
	assert.Equal(t, RoleAuthority, p.Role)
	assert.Equal(t, "10.0.0.2:30334", p.SyncAddr())

	member.Tags[tagBest] = "not-a-number"
	assert.Zero(t, peerFromMember(member).BestNumber)
}

// TestFetchBlocks tests a block request against a live sync endpoint
func TestFetchBlocks(t *testing.T) {
	source := newTestNetwork(t, "source", openChain(t, 10))
	require.NoError(t, source.startSyncServer())
	defer stopNetwork(t, source)

	sink := newTestNetwork(t, "sink", openChain(t, 0))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	blocks, err := sink.fetchBlocks(ctx, source.SyncAddr(), 1, 4)
	require.NoError(t, err)
	require.Len(t, blocks, 4)
	assert.Equal(t, uint64(1), blocks[0].Number)
	assert.Equal(t, uint64(4), blocks[3].Number)

	// Past the tip returns what exists
	blocks, err = sink.fetchBlocks(ctx, source.SyncAddr(), 9, 5)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)
}

// TestFetchBlocksOtherChain tests that peers on another genesis get nothing
func TestFetchBlocksOtherChain(t *testing.T) {
	source := newTestNetwork(t, "source", openChain(t, 5))
	require.NoError(t, source.startSyncServer())
	defer stopNetwork(t, source)

	sink := newTestNetwork(t, "sink", openChain(t, 0))
	sink.genesis = "0x" + strings.Repeat("00", 32)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	blocks, err := sink.fetchBlocks(ctx, source.SyncAddr(), 1, 5)
	require.NoError(t, err)
	assert.Empty(t, blocks)
}

// TestSyncOverGossip tests that a joining node catches up with its peer
func TestSyncOverGossip(t *testing.T) {
	source := newTestNetwork(t, "source", openChain(t, 20))
	require.NoError(t, source.Start())
	defer stopNetwork(t, source)

	sinkChain := openChain(t, 0)
	sink := newTestNetwork(t, "sink", sinkChain)
	require.NoError(t, sink.Start())
	defer stopNetwork(t, sink)

	require.NoError(t, sink.Join([]string{source.GossipAddr()}))

	require.Eventually(t, func() bool {
		return sinkChain.Info().BestNumber == 20
	}, 15*time.Second, 50*time.Millisecond)

	peers := sink.Peers()
	require.Len(t, peers, 1)
	assert.Equal(t, source.PeerID(), peers[0].PeerID)
	assert.False(t, sink.IsSyncing())
}

// TestStopIdempotent tests repeated stops and the done channel
func TestStopIdempotent(t *testing.T) {
	n := newTestNetwork(t, "solo", openChain(t, 0))
	require.NoError(t, n.Start())

	stopNetwork(t, n)
	stopNetwork(t, n)

	select {
	case <-n.Done():
	default:
		t.Fatal("Expected done channel to be closed after stop")
	}
	assert.NoError(t, n.Err())
}

// TestLoopsRunAsTasks tests that every background loop is supervised
func TestLoopsRunAsTasks(t *testing.T) {
	id, err := LoadOrCreateIdentity(filepath.Join(t.TempDir(), NodeKeyFileName))
	require.NoError(t, err)
	tasks := newTestTasks(t)

	n, err := New(testConfig("tasks"), id, openChain(t, 0), tasks)
	require.NoError(t, err)
	require.NoError(t, n.Start())

	assert.ElementsMatch(t,
		[]string{"network-accept", "network-events", "network-gossip-watch", "network-sync"},
		tasks.spawned())

	stopNetwork(t, n)
	assert.Eventually(t, func() bool { return tasks.Running() == 0 }, 5*time.Second, 20*time.Millisecond)
}

// TestTaskShutdownStopsLoops tests that stopping the task manager ends the loops
func TestTaskShutdownStopsLoops(t *testing.T) {
	id, err := LoadOrCreateIdentity(filepath.Join(t.TempDir(), NodeKeyFileName))
	require.NoError(t, err)
	tasks := newTestTasks(t)

	n, err := New(testConfig("cancel"), id, openChain(t, 0), tasks)
	require.NoError(t, err)
	require.NoError(t, n.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tasks.Shutdown(ctx))

	stopNetwork(t, n)
	assert.NoError(t, n.Err())
}

// TestNewRequiresTasks tests that a network cannot be built without a task manager
func TestNewRequiresTasks(t *testing.T) {
	id, err := LoadOrCreateIdentity(filepath.Join(t.TempDir(), NodeKeyFileName))
	require.NoError(t, err)

	_, err = New(testConfig("orphan"), id, openChain(t, 0), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task manager")
}

// TestGossipBindFailureReleasesLogWriter tests cleanup when gossip cannot bind
func TestGossipBindFailureReleasesLogWriter(t *testing.T) {
	taken, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer taken.Close()

	cfg := testConfig("busy")
	cfg.LogLevel = "INFO"
	cfg.P2PPort = taken.Addr().(*net.TCPAddr).Port

	id, err := LoadOrCreateIdentity(filepath.Join(t.TempDir(), NodeKeyFileName))
	require.NoError(t, err)
	n, err := New(cfg, id, openChain(t, 0), newTestTasks(t))
	require.NoError(t, err)

	require.Error(t, n.Start())
	require.NotNil(t, n.logWriter)

	_, err = n.logWriter.Write([]byte("late line\n"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
