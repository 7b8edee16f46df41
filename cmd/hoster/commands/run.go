package commands

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/tristanlee/substrate/cmd/hoster/config"
	"github.com/tristanlee/substrate/cmd/hoster/utils"
	"github.com/tristanlee/substrate/internal/chainspec"
	"github.com/tristanlee/substrate/internal/executor"
	"github.com/tristanlee/substrate/internal/fault"
	"github.com/tristanlee/substrate/internal/keystore"
	"github.com/tristanlee/substrate/internal/logging"
	"github.com/tristanlee/substrate/internal/names"
	"github.com/tristanlee/substrate/internal/network"
	"github.com/tristanlee/substrate/internal/rpc"
	"github.com/tristanlee/substrate/internal/supervisor"
	"github.com/tristanlee/substrate/internal/telemetry"
	"github.com/tristanlee/substrate/internal/validate"
	"github.com/tristanlee/substrate/internal/version"
)

func newRunCmd(capture func(Invocation)) *cobra.Command {
	inv := &Run{Shared: Shared{Config: config.Default()}}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a full node",
		Long: `Start the block database, gossip network, RPC server and telemetry reporter
and keep them running until SIGINT or SIGTERM. The force signal (SIGQUIT by
default) exits immediately without teardown.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			CheckExplicitFlags(cmd, inv.Config)
			if err := inv.Config.Validate(); err != nil {
				return err
			}
			capture(inv)
			return nil
		},
	}

	setupSharedFlags(cmd, &inv.Shared)
	setupRunFlags(cmd, inv.Config)
	return cmd
}

// runNode resolves the node configuration and hands the node to the supervisor.
func runNode(ctx context.Context, inv *Run, deps *Deps) error {
	cfg := inv.Config
	if err := cfg.Validate(); err != nil {
		return fault.Config("%v", err)
	}

	utils.DisplayLogo(deps.Stdout, version.HosterVersion)
	logging.Info("Starting %s v%s", version.ImplName, version.HosterVersion)

	// Generate node name only after validation has passed
	if cfg.NodeName == "" {
		cfg.NodeName = names.Generate()
		logging.Info("Generated node name: %s", cfg.NodeName)
	}
	logging.Info("Node: %s", cfg.NodeName)

	exec, err := executor.Build(executor.Config{
		Workers:      cfg.Workers,
		MaxOpenFiles: cfg.MaxOpenFiles,
	})
	if err != nil {
		return err
	}

	spec, err := chainspec.Load(cfg.Chain)
	if err != nil {
		return err
	}
	chainDir := config.ChainDir(cfg.ResolvedBasePath(), spec.ID)
	logging.Info("Chain: %s (%s), data in %s", spec.Name, spec.ID, chainDir)

	ks, err := keystore.Open(config.KeystoreDir(chainDir))
	if err != nil {
		return err
	}

	identity, err := loadIdentity(cfg, chainDir)
	if err != nil {
		return err
	}
	logging.Info("Peer ID: %s", identity.PeerID())

	nodeCfg, registry, err := buildNodeConfig(cfg, spec, chainDir)
	if err != nil {
		return err
	}
	nodeCfg.Keystore = ks
	nodeCfg.Identity = identity

	components, err := deps.NewComponents(nodeCfg)
	if err != nil {
		return fault.Config("%v", err)
	}

	sup, err := supervisor.New(&supervisor.Config{
		GracePeriod: cfg.GracePeriod.Duration,
		Registerer:  registry,
	}, components, deps.Signal, exec.NewTaskManager(ctx))
	if err != nil {
		return err
	}
	return sup.Run(ctx)
}

func loadIdentity(cfg *config.Config, chainDir string) (*network.Identity, error) {
	if cfg.NodeKey != "" {
		id, err := network.ParseNodeKey(cfg.NodeKey)
		if err != nil {
			return nil, fault.Config("%v", err)
		}
		return id, nil
	}
	id, err := network.LoadOrCreateIdentity(filepath.Join(config.NetworkDir(chainDir), network.NodeKeyFileName))
	if err != nil {
		return nil, fault.Config("%v", err)
	}
	return id, nil
}

// buildNodeConfig converts the command configuration into subsystem configs.
// The returned registry backs /metrics and the node state gauge.
func buildNodeConfig(cfg *config.Config, spec *chainspec.Spec, chainDir string) (supervisor.NodeConfig, *prometheus.Registry, error) {
	listen, err := cfg.ListenAddress()
	if err != nil {
		return supervisor.NodeConfig{}, nil, fault.Config("invalid listen address: %v", err)
	}

	netCfg := network.DefaultConfig()
	netCfg.BindAddr = listen.Host
	netCfg.P2PPort = listen.Port
	netCfg.SyncPort = cfg.SyncPort
	netCfg.BootNodes = append(append([]string(nil), spec.BootNodes...), cfg.BootNodes...)
	netCfg.LogLevel = cfg.LogLevel

	registry := rpc.NewRegistry()

	var rpcCfg *rpc.Config
	if !cfg.NoRPC {
		rpcCfg = rpc.DefaultConfig()
		rpcCfg.Port = cfg.RPCPort
		if cfg.RPCExternal {
			rpcCfg.BindAddr = "0.0.0.0"
		}
		if len(cfg.RPCCors) > 0 {
			rpcCfg.CORSOrigins = corsOrigins(cfg.RPCCors)
		}
		methods, err := rpc.ParseMethodPolicy(cfg.RPCMethods)
		if err != nil {
			return supervisor.NodeConfig{}, nil, fault.Config("%v", err)
		}
		rpcCfg.Methods = methods
		rpcCfg.Prometheus = cfg.Prometheus
		rpcCfg.Registry = registry
	}

	var telCfg *telemetry.Config
	if !cfg.NoTelemetry {
		endpoints, err := telemetryEndpoints(cfg, spec)
		if err != nil {
			return supervisor.NodeConfig{}, nil, err
		}
		if len(endpoints) > 0 {
			telCfg = telemetry.DefaultConfig()
			telCfg.Endpoints = endpoints
		}
	}

	return supervisor.NodeConfig{
		NodeName:       cfg.NodeName,
		Spec:           spec,
		ChainDir:       chainDir,
		Network:        netCfg,
		RPC:            rpcCfg,
		Telemetry:      telCfg,
		Validator:      cfg.Validator,
		AuthorInterval: cfg.AuthorInterval.Duration,
	}, registry, nil
}

// corsOrigins maps the operator's list onto rpc origins: "all" allows any
// origin and "none" denies every browser.
func corsOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, v := range values {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "all", "*":
			return []string{"*"}
		case "none":
			return []string{}
		case "":
		default:
			origins = append(origins, strings.TrimSpace(v))
		}
	}
	return origins
}

// telemetryEndpoints prefers the flags and falls back to the chain spec.
func telemetryEndpoints(cfg *config.Config, spec *chainspec.Spec) ([]validate.Endpoint, error) {
	if len(cfg.TelemetryURLs) > 0 {
		return cfg.TelemetryEndpoints()
	}

	endpoints := make([]validate.Endpoint, 0, len(spec.TelemetryEndpoints))
	for _, raw := range spec.TelemetryEndpoints {
		ep, err := validate.ParseTelemetryEndpoint(raw)
		if err != nil {
			return nil, fault.Config("chain spec %s: %v", spec.ID, err)
		}
		endpoints = append(endpoints, ep)
	}
	if len(endpoints) > 0 {
		logging.Debug("Using %d telemetry endpoints from the chain spec", len(endpoints))
	}
	return endpoints, nil
}
