// Package config provides the default values shared by the hoster command line,
// the node configuration file and the subsystems the node supervisor starts.
package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// DefaultBindAddr is the listen address for peer-facing services.
	// TODO: Add support for IPv6 bind addresses (::)
	DefaultBindAddr = "0.0.0.0"

	// DefaultRPCBindAddr keeps RPC on loopback unless --rpc-external is given
	DefaultRPCBindAddr = "127.0.0.1"

	// DefaultLogLevel is the default log level for all components
	DefaultLogLevel = "INFO"

	// DefaultChain is used when --chain is not given
	DefaultChain = "dev"

	// Network ports
	DefaultP2PPort  = 30333 // gossip membership (UDP+TCP)
	DefaultSyncPort = 30334 // block sync over QUIC (UDP)
	DefaultRPCPort  = 9944  // JSON-RPC over HTTP and WebSocket

	// DefaultGracePeriod bounds each subsystem stop during teardown
	DefaultGracePeriod = 10 * time.Second

	// DefaultMaxOpenFiles is the open-file ceiling requested at startup
	DefaultMaxOpenFiles = 10240

	// DefaultRevertBlocks is how many blocks `revert` removes without an argument
	DefaultRevertBlocks = 256

	// DefaultForceSignal bypasses graceful teardown
	DefaultForceSignal = "SIGQUIT"

	// EnvBasePath, EnvLogLevel and EnvPassword override flags when set
	EnvBasePath = "HOSTER_BASE_PATH"
	EnvLogLevel = "HOSTER_LOG_LEVEL"
	EnvPassword = "HOSTER_PASSWORD"
)

// DefaultBasePath returns the data directory used when --base-path is not set:
// $XDG_DATA_HOME/hoster, ~/.local/share/hoster, or ./data as a last resort.
func DefaultBasePath() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "hoster")
	}
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".local", "share", "hoster")
	}
	return "./data"
}
