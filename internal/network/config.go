package network

import (
	"fmt"
	"time"

	"github.com/tristanlee/substrate/internal/config"
	"github.com/tristanlee/substrate/internal/validate"
)

// Role is the part a node plays in the network.
type Role string

const (
	RoleFull      Role = "full"
	RoleAuthority Role = "authority"
)

// Config holds network configuration.
type Config struct {
	NodeName  string   // Gossip member name
	BindAddr  string   // Bind address for gossip and sync
	P2PPort   int      // Gossip port, 0 picks a free port
	SyncPort  int      // QUIC sync port, 0 picks a free port
	BootNodes []string // host:port gossip seeds
	Role      Role     // Advertised role

	EventBufferSize int           // Membership event buffer size
	JoinRetries     int           // Join retries
	JoinTimeout     time.Duration // Join timeout per attempt
	SyncInterval    time.Duration // Interval between sync rounds
	SyncBatch       int           // Blocks requested per round
	LogLevel        string        // Gossip library log level
}

// DefaultConfig returns a default network configuration.
func DefaultConfig() *Config {
	return &Config{
		BindAddr:        config.DefaultBindAddr,
		P2PPort:         config.DefaultP2PPort,
		SyncPort:        config.DefaultSyncPort,
		Role:            RoleFull,
		EventBufferSize: 1024,
		JoinRetries:     3,
		JoinTimeout:     10 * time.Second,
		SyncInterval:    2 * time.Second,
		SyncBatch:       128,
		LogLevel:        "INFO",
	}
}

// validateConfig validates network configuration
func validateConfig(cfg *Config) error {
	if err := validate.NodeNameFormat(cfg.NodeName); err != nil {
		return fmt.Errorf("invalid node name: %w", err)
	}

	if err := validate.ValidateField(cfg.BindAddr, "required,ip"); err != nil {
		return fmt.Errorf("invalid bind address: %w", err)
	}

	if err := validate.ValidateField(cfg.P2PPort, "min=0,max=65535"); err != nil {
		return fmt.Errorf("invalid p2p port: %w", err)
	}

	if err := validate.ValidateField(cfg.SyncPort, "min=0,max=65535"); err != nil {
		return fmt.Errorf("invalid sync port: %w", err)
	}

	if cfg.P2PPort != 0 && cfg.P2PPort == cfg.SyncPort {
		return fmt.Errorf("p2p and sync ports must differ, both are %d", cfg.P2PPort)
	}

	if len(cfg.BootNodes) > 0 {
		if err := validate.ValidateAddressList(cfg.BootNodes); err != nil {
			return fmt.Errorf("invalid boot nodes: %w", err)
		}
	}

	if cfg.EventBufferSize < 1 {
		return fmt.Errorf("event buffer size must be positive, got: %d", cfg.EventBufferSize)
	}

	if cfg.SyncBatch < 1 {
		return fmt.Errorf("sync batch must be positive, got: %d", cfg.SyncBatch)
	}

	if err := validate.ValidatePositiveTimeout(cfg.SyncInterval, "sync interval"); err != nil {
		return err
	}

	switch cfg.Role {
	case RoleFull, RoleAuthority:
	default:
		return fmt.Errorf("unknown role %q", cfg.Role)
	}

	return nil
}
