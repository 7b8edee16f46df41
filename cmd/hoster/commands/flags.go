package commands

import (
	"github.com/spf13/cobra"

	"github.com/tristanlee/substrate/cmd/hoster/config"
	defaults "github.com/tristanlee/substrate/internal/config"
	"github.com/tristanlee/substrate/internal/keystore"
)

// flagFields maps flag names to the configuration field they set
var flagFields = map[string]config.ConfigField{
	"chain":           config.ChainField,
	"base-path":       config.BasePathField,
	"log-level":       config.LogLevelField,
	"log-file":        config.LogFileField,
	"name":            config.NodeNameField,
	"node-key":        config.NodeKeyField,
	"validator":       config.ValidatorField,
	"listen-addr":     config.ListenAddrField,
	"sync-port":       config.SyncPortField,
	"bootnodes":       config.BootNodesField,
	"rpc-port":        config.RPCPortField,
	"rpc-external":    config.RPCExternalField,
	"rpc-cors":        config.RPCCorsField,
	"rpc-methods":     config.RPCMethodsField,
	"no-rpc":          config.NoRPCField,
	"prometheus":      config.PrometheusField,
	"telemetry-url":   config.TelemetryField,
	"no-telemetry":    config.NoTelemetryField,
	"grace-period":    config.GracePeriodField,
	"author-interval": config.AuthorIntervalField,
	"max-open-files":  config.MaxOpenFilesField,
	"workers":         config.WorkersField,
	"force-signal":    config.ForceSignalField,
}

// setupSharedFlags adds the flags every chain command accepts
func setupSharedFlags(cmd *cobra.Command, shared *Shared) {
	cfg := shared.Config
	cmd.Flags().StringVar(&cfg.Chain, "chain", cfg.Chain,
		"Chain to use: a built-in name (dev, local) or a chain spec JSON file")
	cmd.Flags().StringVar(&cfg.BasePath, "base-path", "",
		"Base directory for chain data (default "+defaults.DefaultBasePath()+", env "+defaults.EnvBasePath+")")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel,
		"Log level: DEBUG, INFO, WARN, ERROR (env "+defaults.EnvLogLevel+")")
	cmd.Flags().StringVar(&cfg.LogFile, "log-file", "",
		"Write logs to this file instead of stdout/stderr")
	cmd.Flags().StringVar(&shared.ConfigFile, "config", "",
		"TOML configuration file; flags given on the command line take precedence")
}

// setupRunFlags adds the node flags
func setupRunFlags(cmd *cobra.Command, cfg *config.Config) {
	// Node identity
	cmd.Flags().StringVar(&cfg.NodeName, "name", "",
		"Node name (defaults to generated name like 'amber-beacon')")
	cmd.Flags().StringVar(&cfg.NodeKey, "node-key", "",
		"Hex ed25519 seed for the network identity (default: generated and stored under the chain directory)")
	cmd.Flags().BoolVar(&cfg.Validator, "validator", false,
		"Author blocks and advertise the authority role")
	cmd.Flags().Var(&cfg.AuthorInterval, "author-interval",
		"Interval between authored blocks on validator nodes")

	// Network
	cmd.Flags().StringVar(&cfg.ListenAddr, "listen-addr", cfg.ListenAddr,
		"Address and port for gossip membership (e.g., 0.0.0.0:30333)")
	cmd.Flags().IntVar(&cfg.SyncPort, "sync-port", cfg.SyncPort,
		"UDP port for block sync over QUIC (0 picks a free port)")
	cmd.Flags().StringSliceVar(&cfg.BootNodes, "bootnodes", nil,
		"Comma-separated gossip addresses to join (e.g., node1:30333,node2:30333)\n"+
			"Added to the boot nodes listed in the chain spec")

	// RPC
	cmd.Flags().IntVar(&cfg.RPCPort, "rpc-port", cfg.RPCPort,
		"JSON-RPC port for HTTP and WebSocket")
	cmd.Flags().BoolVar(&cfg.RPCExternal, "rpc-external", false,
		"Listen for RPC on all interfaces instead of loopback")
	cmd.Flags().StringSliceVar(&cfg.RPCCors, "rpc-cors", nil,
		"Browser origins allowed to call RPC (default: localhost origins; 'all' allows any)")
	cmd.Flags().StringVar(&cfg.RPCMethods, "rpc-methods", cfg.RPCMethods,
		"RPC methods to expose: auto, safe, unsafe (auto exposes unsafe methods only on loopback)")
	cmd.Flags().BoolVar(&cfg.NoRPC, "no-rpc", false,
		"Disable the RPC server")
	cmd.Flags().BoolVar(&cfg.Prometheus, "prometheus", false,
		"Serve Prometheus metrics at /metrics on the RPC port")

	// Telemetry
	cmd.Flags().StringArrayVar(&cfg.TelemetryURLs, "telemetry-url", nil,
		"Telemetry endpoint as 'URL VERBOSITY' (repeatable; default: the chain spec's endpoints)")
	cmd.Flags().BoolVar(&cfg.NoTelemetry, "no-telemetry", false,
		"Disable telemetry, including endpoints from the chain spec")

	// Runtime
	cmd.Flags().Var(&cfg.GracePeriod, "grace-period",
		"Time each subsystem gets to stop during shutdown")
	cmd.Flags().Uint64Var(&cfg.MaxOpenFiles, "max-open-files", cfg.MaxOpenFiles,
		"Open file limit to request at startup (0 leaves it unchanged)")
	cmd.Flags().IntVar(&cfg.Workers, "workers", 0,
		"Scheduler worker threads (0 uses one per CPU)")
	cmd.Flags().StringVar(&cfg.ForceSignal, "force-signal", cfg.ForceSignal,
		"Signal that exits immediately without teardown, or 'none'")
}

// setupPasswordFlags adds the key password sources
func setupPasswordFlags(cmd *cobra.Command, src *keystore.PasswordSource) {
	cmd.Flags().StringVar(&src.Value, "password", "",
		"Key password (visible in process listings, prefer --password-filename)")
	cmd.Flags().StringVar(&src.File, "password-filename", "",
		"File holding the key password")
	cmd.Flags().BoolVar(&src.Interactive, "password-interactive", false,
		"Prompt for the key password on the terminal")
	cmd.MarkFlagsMutuallyExclusive("password", "password-filename", "password-interactive")
	src.EnvVar = defaults.EnvPassword
}

// CheckExplicitFlags records which flags were explicitly set by the user
func CheckExplicitFlags(cmd *cobra.Command, cfg *config.Config) {
	for name, field := range flagFields {
		if cmd.Flags().Lookup(name) == nil {
			continue
		}
		cfg.SetExplicitlySet(field, cmd.Flags().Changed(name))
	}
}
