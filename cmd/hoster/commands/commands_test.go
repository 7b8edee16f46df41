package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tristanlee/substrate/cmd/hoster/config"
	"github.com/tristanlee/substrate/internal/chainspec"
	"github.com/tristanlee/substrate/internal/client"
	defaults "github.com/tristanlee/substrate/internal/config"
	"github.com/tristanlee/substrate/internal/executor"
	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/keystore"
	"github.com/tristanlee/substrate/internal/network"
	"github.com/tristanlee/substrate/internal/supervisor"
)

const testSeed = "0x9d61b19deffd5a60ba844af492ec2cc44449c5697b326919703bac031cae7f60"

// countingPrompter fails the test path that would block on a terminal.
type countingPrompter struct {
	mu    sync.Mutex
	calls int
}

func (p *countingPrompter) IsTerminal() bool { return false }

func (p *countingPrompter) Prompt(string) (string, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return "", errors.New("no terminal")
}

func testDeps(stdin string) (*Deps, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &Deps{
		Stdin:    strings.NewReader(stdin),
		Stdout:   out,
		Stderr:   &bytes.Buffer{},
		Prompter: &countingPrompter{},
		Exit:     func(int) {},
		NewComponents: func(cfg supervisor.NodeConfig) (supervisor.Components, error) {
			return nil, errors.New("no components in tests")
		},
	}, out
}

func execute(t *testing.T, deps *Deps, args ...string) int {
	t.Helper()
	return ExecuteWith(context.Background(), args, deps)
}

func clearEnv(t *testing.T) {
	t.Setenv(defaults.EnvPassword, "")
	t.Setenv(defaults.EnvBasePath, "")
	t.Setenv(defaults.EnvLogLevel, "")
	t.Setenv(config.EnvDebug, "")
}

// seedChain authors n blocks on the dev chain under base.
func seedChain(t *testing.T, base string, n int) {
	t.Helper()
	spec, err := chainspec.Load("dev")
	require.NoError(t, err)
	c, err := client.Open(spec, config.ChainDir(base, spec.ID))
	require.NoError(t, err)
	for i := 0; i < n; i++ {
		require.NoError(t, c.ImportBlock(client.NewBlock(c.Best(), uint64(i+1), "alice", nil)))
	}
	require.NoError(t, c.Shutdown())
}

func bestOf(t *testing.T, base string) uint64 {
	t.Helper()
	spec, err := chainspec.Load("dev")
	require.NoError(t, err)
	c, err := client.Open(spec, config.ChainDir(base, spec.ID))
	require.NoError(t, err)
	defer c.Shutdown()
	return c.Info().BestNumber
}

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string // invocation name, empty when parsing fails
	}{
		{"run", []string{"run", "--chain=dev"}, "run"},
		{"build spec", []string{"build-spec", "--raw"}, "build-spec"},
		{"purge", []string{"purge-chain", "-y"}, "purge-chain"},
		{"export", []string{"export-blocks", "--from=1", "--to=4", "out.jsonl"}, "export-blocks"},
		{"import", []string{"import-blocks", "--binary"}, "import-blocks"},
		{"revert", []string{"revert", "10"}, "revert"},
		{"generate", []string{"generate-key", "--key-type=gran"}, "generate-key"},
		{"insert", []string{"insert-key", "--key-type=babe", "--suri=" + testSeed}, "insert-key"},
		{"help", []string{"--help"}, "help"},
		{"version", []string{"--version"}, "help"},

		{"no subcommand", nil, ""},
		{"unknown command", []string{"frobnicate"}, ""},
		{"unknown flag", []string{"run", "--bogus"}, ""},
		{"extra argument", []string{"run", "extra"}, ""},
		{"bad log level", []string{"run", "--log-level=LOUD"}, ""},
		{"bad duration", []string{"run", "--grace-period=soon"}, ""},
		{"bad revert count", []string{"revert", "many"}, ""},
		{"reversed range", []string{"export-blocks", "--from=5", "--to=2"}, ""},
		{"missing suri", []string{"insert-key", "--key-type=babe"}, ""},
		{"unknown key type", []string{"insert-key", "--key-type=zzzz", "--suri=" + testSeed}, ""},
		{"scheme mismatch", []string{"insert-key", "--key-type=gran", "--scheme=sr25519", "--suri=" + testSeed}, ""},
		{"conflicting passwords", []string{"generate-key", "--password=a", "--password-interactive"}, ""},
		{"bad output format", []string{"generate-key", "--output=yaml"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := Parse(tt.args, &bytes.Buffer{}, &bytes.Buffer{})
			if tt.expected == "" {
				require.Error(t, err)
				assert.Equal(t, fault.ExitUsage, fault.ExitCode(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, inv.Name())
		})
	}
}

func TestParseCapturesValues(t *testing.T) {
	inv, err := Parse([]string{"export-blocks", "--chain=local", "--from=3", "--binary", "out.bin"}, &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)

	export, ok := inv.(*ExportBlocks)
	require.True(t, ok)
	assert.Equal(t, "local", export.Config.Chain)
	assert.Equal(t, uint64(3), export.From)
	assert.Nil(t, export.To)
	assert.True(t, export.Binary)
	assert.Equal(t, "out.bin", export.Output)

	inv, err = Parse([]string{"revert"}, &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, uint64(defaults.DefaultRevertBlocks), inv.(*Revert).Blocks)

	inv, err = Parse([]string{"generate-key", "--key-type=gran"}, &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, keystore.Ed25519, inv.(*GenerateKey).Scheme)
}

func TestUsageErrorTouchesNothing(t *testing.T) {
	clearEnv(t)
	base := t.TempDir()
	deps, _ := testDeps("")

	code := execute(t, deps, "run", "--base-path="+base, "--listen-addr=nowhere")
	assert.Equal(t, fault.ExitUsage, code)

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestConfigFileFillsUnsetFlags(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "hoster.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
NodeName = "from-file"
RPCPort = 9955
`), 0o644))

	inv, err := Parse([]string{"run", "--config=" + path, "--rpc-port=9977"}, &bytes.Buffer{}, &bytes.Buffer{})
	require.NoError(t, err)

	closeLog, err := setupLogging(inv)
	require.NoError(t, err)
	defer closeLog()

	cfg := inv.(*Run).Config
	assert.Equal(t, "from-file", cfg.NodeName)
	assert.Equal(t, 9977, cfg.RPCPort)
}

func TestBadConfigFileIsConfigError(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "hoster.toml")
	require.NoError(t, os.WriteFile(path, []byte(`Colour = "blue"`), 0o644))

	deps, _ := testDeps("")
	assert.Equal(t, fault.ExitConfig, execute(t, deps, "build-spec", "--config="+path))
}

func TestBadConfigFileValues(t *testing.T) {
	tests := []struct {
		name     string
		contents string
	}{
		{"force signal", `ForceSignal = "SIGBOGUS"`},
		{"rpc methods", `RPCMethods = "everything"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			base := t.TempDir()
			path := filepath.Join(t.TempDir(), "hoster.toml")
			require.NoError(t, os.WriteFile(path, []byte(tt.contents), 0o644))

			deps, _ := testDeps("")
			code := execute(t, deps, "run", "--base-path="+base, "--config="+path)
			assert.Equal(t, fault.ExitConfig, code)

			entries, err := os.ReadDir(base)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestBuildNodeConfigRejectsMethodPolicy(t *testing.T) {
	spec, err := chainspec.Load("dev")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.RPCMethods = "everything"
	_, _, err = buildNodeConfig(cfg, spec, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, fault.ExitConfig, fault.ExitCode(err))
}

func TestGenerateKey(t *testing.T) {
	clearEnv(t)

	t.Run("password required", func(t *testing.T) {
		deps, out := testDeps("")
		assert.Equal(t, fault.ExitMissingCredential, execute(t, deps, "generate-key", "--key-type=acco"))
		assert.Empty(t, out.String())
	})

	t.Run("empty password file", func(t *testing.T) {
		pwFile := filepath.Join(t.TempDir(), "pw")
		require.NoError(t, os.WriteFile(pwFile, []byte("\n"), 0o600))

		deps, out := testDeps("")
		code := execute(t, deps, "generate-key", "--key-type=acco", "--password-filename="+pwFile)
		assert.Equal(t, fault.ExitMissingCredential, code)
		assert.Empty(t, out.String())
	})

	t.Run("text", func(t *testing.T) {
		deps, out := testDeps("")
		require.Equal(t, fault.ExitOK, execute(t, deps, "generate-key", "--key-type=babe"))
		assert.Contains(t, out.String(), "Secret phrase:")
		assert.Contains(t, out.String(), "Public key:     0x")
	})

	t.Run("json", func(t *testing.T) {
		deps, out := testDeps("")
		require.Equal(t, fault.ExitOK, execute(t, deps, "generate-key", "--words=24", "--output=json", "--password=pw", "--key-type=acco"))

		var key generatedKey
		require.NoError(t, json.Unmarshal(out.Bytes(), &key))
		assert.Len(t, strings.Fields(key.Phrase), 24)
		assert.Equal(t, "sr25519", key.Scheme)

		// The printed phrase reproduces the printed key
		km, err := keystore.ParseSURI(keystore.Sr25519, key.Phrase, "pw")
		require.NoError(t, err)
		assert.Equal(t, key.PublicKey, km.PublicHex())
	})

	t.Run("bad word count", func(t *testing.T) {
		deps, _ := testDeps("")
		assert.Equal(t, fault.ExitUsage, execute(t, deps, "generate-key", "--words=13"))
	})
}

func TestInsertKey(t *testing.T) {
	clearEnv(t)

	t.Run("stores key", func(t *testing.T) {
		base := t.TempDir()
		deps, _ := testDeps("")
		require.Equal(t, fault.ExitOK, execute(t, deps, "insert-key", "--base-path="+base, "--key-type=babe", "--suri="+testSeed))

		km, err := keystore.ParseSURI(keystore.Sr25519, testSeed, "")
		require.NoError(t, err)
		ks, err := keystore.Open(config.KeystoreDir(config.ChainDir(base, "dev")))
		require.NoError(t, err)
		assert.True(t, ks.Has("babe", km.Public))
	})

	t.Run("invalid suri leaves keystore unchanged", func(t *testing.T) {
		base := t.TempDir()
		deps, _ := testDeps("")
		code := execute(t, deps, "insert-key", "--base-path="+base, "--key-type=babe", "--suri=0x1234")
		assert.Equal(t, fault.ExitKeystore, code)

		entries, _ := os.ReadDir(config.KeystoreDir(config.ChainDir(base, "dev")))
		assert.Empty(t, entries)
	})

	t.Run("password file without prompt", func(t *testing.T) {
		base := t.TempDir()
		pwFile := filepath.Join(t.TempDir(), "pw")
		require.NoError(t, os.WriteFile(pwFile, []byte("secret\n"), 0o600))

		deps, _ := testDeps("")
		prompter := deps.Prompter.(*countingPrompter)
		code := execute(t, deps, "insert-key", "--base-path="+base, "--key-type=acco",
			"--suri="+testSeed, "--password-filename="+pwFile)
		require.Equal(t, fault.ExitOK, code)
		assert.Zero(t, prompter.calls)

		km, err := keystore.ParseSURI(keystore.Sr25519, testSeed, "")
		require.NoError(t, err)
		ks, err := keystore.Open(config.KeystoreDir(config.ChainDir(base, "dev")))
		require.NoError(t, err)
		loaded, err := ks.Load("acco", km.Public, "secret")
		require.NoError(t, err)
		assert.Equal(t, km.Seed, loaded.Seed)
	})

	t.Run("missing password", func(t *testing.T) {
		base := t.TempDir()
		deps, _ := testDeps("")
		code := execute(t, deps, "insert-key", "--base-path="+base, "--key-type=acco", "--suri="+testSeed)
		assert.Equal(t, fault.ExitMissingCredential, code)
	})

	t.Run("password from environment", func(t *testing.T) {
		t.Setenv(defaults.EnvPassword, "from-env")
		base := t.TempDir()
		deps, _ := testDeps("")
		code := execute(t, deps, "insert-key", "--base-path="+base, "--key-type=acco", "--suri="+testSeed)
		assert.Equal(t, fault.ExitOK, code)
	})
}

func TestBuildSpec(t *testing.T) {
	clearEnv(t)
	deps, out := testDeps("")
	require.Equal(t, fault.ExitOK, execute(t, deps, "build-spec", "--chain=local", "--raw"))

	spec, err := chainspec.Parse(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "local_testnet", spec.ID)
}

func TestExportImportRoundTrip(t *testing.T) {
	clearEnv(t)

	for _, binary := range []bool{false, true} {
		name := "json"
		if binary {
			name = "binary"
		}
		t.Run(name, func(t *testing.T) {
			src, dst := t.TempDir(), t.TempDir()
			seedChain(t, src, 5)

			file := filepath.Join(t.TempDir(), "blocks.zst")
			args := []string{"export-blocks", "--base-path=" + src, file}
			if binary {
				args = append(args, "--binary")
			}
			deps, _ := testDeps("")
			require.Equal(t, fault.ExitOK, execute(t, deps, args...))

			args = []string{"import-blocks", "--base-path=" + dst, file}
			if binary {
				args = append(args, "--binary")
			}
			deps, _ = testDeps("")
			require.Equal(t, fault.ExitOK, execute(t, deps, args...))
			assert.Equal(t, uint64(5), bestOf(t, dst))

			// A second import skips every block
			deps, _ = testDeps("")
			require.Equal(t, fault.ExitOK, execute(t, deps, args...))
			assert.Equal(t, uint64(5), bestOf(t, dst))
		})
	}
}

func TestExportFlushFailure(t *testing.T) {
	clearEnv(t)
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full is not available")
	}
	base := t.TempDir()
	seedChain(t, base, 3)

	for _, name := range []string{"blocks.zst", "blocks.jsonl"} {
		t.Run(name, func(t *testing.T) {
			file := filepath.Join(t.TempDir(), name)
			require.NoError(t, os.Symlink("/dev/full", file))

			deps, _ := testDeps("")
			code := execute(t, deps, "export-blocks", "--base-path="+base, file)
			assert.Equal(t, fault.ExitInternal, code)
		})
	}
}

type closeRecorder struct {
	name   string
	err    error
	closed *[]string
}

func (c closeRecorder) Close() error {
	*c.closed = append(*c.closed, c.name)
	return c.err
}

func TestFlushOutput(t *testing.T) {
	errDisk := errors.New("no space left on device")
	errFrame := errors.New("short frame")

	tests := []struct {
		name      string
		fileErr   error
		streamErr error
		expected  error
	}{
		{"clean", nil, nil, nil},
		{"file fails", errDisk, nil, errDisk},
		{"stream fails", nil, errFrame, errFrame},
		{"both fail", errDisk, errFrame, errFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var closed []string
			closers := []io.Closer{
				closeRecorder{"file", tt.fileErr, &closed},
				closeRecorder{"stream", tt.streamErr, &closed},
			}

			err := flushOutput("out.zst", closers)
			assert.Equal(t, []string{"stream", "file"}, closed)
			if tt.expected == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.expected)
			assert.Contains(t, err.Error(), "flush out.zst")
		})
	}
}

func TestExportToStdout(t *testing.T) {
	clearEnv(t)
	base := t.TempDir()
	seedChain(t, base, 3)

	deps, out := testDeps("")
	require.Equal(t, fault.ExitOK, execute(t, deps, "export-blocks", "--base-path="+base, "--from=1", "--to=2"))

	// Logo-free JSON lines, one per block
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 2)
}

func TestRevert(t *testing.T) {
	clearEnv(t)
	base := t.TempDir()
	seedChain(t, base, 5)

	deps, _ := testDeps("")
	require.Equal(t, fault.ExitOK, execute(t, deps, "revert", "--base-path="+base, "2"))
	assert.Equal(t, uint64(3), bestOf(t, base))

	deps, _ = testDeps("")
	require.Equal(t, fault.ExitOK, execute(t, deps, "revert", "--base-path="+base))
	assert.Equal(t, uint64(0), bestOf(t, base), "genesis is never reverted")
}

func TestPurgeChain(t *testing.T) {
	clearEnv(t)

	t.Run("nothing to purge", func(t *testing.T) {
		deps, _ := testDeps("")
		assert.Equal(t, fault.ExitOK, execute(t, deps, "purge-chain", "--base-path="+t.TempDir(), "-y"))
	})

	t.Run("declined", func(t *testing.T) {
		base := t.TempDir()
		seedChain(t, base, 1)
		deps, out := testDeps("n\n")
		require.Equal(t, fault.ExitOK, execute(t, deps, "purge-chain", "--base-path="+base))
		assert.Contains(t, out.String(), "Are you sure to remove")
		assert.DirExists(t, client.DatabasePath(config.ChainDir(base, "dev")))
	})

	t.Run("confirmed", func(t *testing.T) {
		base := t.TempDir()
		seedChain(t, base, 1)
		deps, _ := testDeps("y\n")
		require.Equal(t, fault.ExitOK, execute(t, deps, "purge-chain", "--base-path="+base))
		assert.NoDirExists(t, client.DatabasePath(config.ChainDir(base, "dev")))
	})
}

// failingNetwork starts a client handle and fails to start the network.
type failingNetwork struct {
	mu      sync.Mutex
	stops   int
	started []string
}

type stubHandle struct {
	owner *failingNetwork
	name  string
	done  chan struct{}
	once  sync.Once
}

func (h *stubHandle) Name() string          { return h.name }
func (h *stubHandle) Done() <-chan struct{} { return h.done }
func (h *stubHandle) Err() error            { return nil }

func (h *stubHandle) Stop(context.Context) error {
	h.owner.mu.Lock()
	h.owner.stops++
	h.owner.mu.Unlock()
	h.once.Do(func() { close(h.done) })
	return nil
}

func (f *failingNetwork) StartClient(*executor.TaskManager) (supervisor.Handle, error) {
	f.mu.Lock()
	f.started = append(f.started, supervisor.ClientName)
	f.mu.Unlock()
	return &stubHandle{owner: f, name: supervisor.ClientName, done: make(chan struct{})}, nil
}

func (f *failingNetwork) StartNetwork() (supervisor.Handle, error) {
	f.mu.Lock()
	f.started = append(f.started, supervisor.NetworkName)
	f.mu.Unlock()
	return nil, errors.New("address already in use")
}

func (f *failingNetwork) StartRPC() (supervisor.Handle, error) {
	f.mu.Lock()
	f.started = append(f.started, supervisor.RPCName)
	f.mu.Unlock()
	return nil, nil
}

func (f *failingNetwork) StartTelemetry() (supervisor.Handle, error) {
	return nil, nil
}

func TestRunNetworkStartFailure(t *testing.T) {
	clearEnv(t)
	base := t.TempDir()
	components := &failingNetwork{}

	deps, _ := testDeps("")
	var nodeCfg supervisor.NodeConfig
	deps.NewComponents = func(cfg supervisor.NodeConfig) (supervisor.Components, error) {
		nodeCfg = cfg
		return components, nil
	}

	code := execute(t, deps, "run", "--base-path="+base, "--name=Alice", "--no-telemetry", "--max-open-files=0")
	assert.Equal(t, fault.ExitSubsystemStart, code)

	components.mu.Lock()
	defer components.mu.Unlock()
	assert.Equal(t, []string{supervisor.ClientName, supervisor.NetworkName}, components.started)
	assert.Equal(t, 1, components.stops)

	assert.Equal(t, "alice", nodeCfg.NodeName)
	assert.Equal(t, config.ChainDir(base, "dev"), nodeCfg.ChainDir)
	assert.NotNil(t, nodeCfg.Identity)
	assert.NotNil(t, nodeCfg.RPC)
	assert.Nil(t, nodeCfg.Telemetry)
	assert.FileExists(t, filepath.Join(config.NetworkDir(nodeCfg.ChainDir), network.NodeKeyFileName))
}

func TestCorsOrigins(t *testing.T) {
	tests := []struct {
		name     string
		values   []string
		expected []string
	}{
		{"all", []string{"all"}, []string{"*"}},
		{"none", []string{"none"}, []string{}},
		{"list", []string{"http://a.example", " https://b.example "}, []string{"http://a.example", "https://b.example"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, corsOrigins(tt.values))
		})
	}
}
