package config

import (
	"fmt"
	"strings"

	"github.com/tristanlee/substrate/internal/logging"
	"github.com/tristanlee/substrate/internal/network"
	"github.com/tristanlee/substrate/internal/rpc"
	"github.com/tristanlee/substrate/internal/shutdown"
	"github.com/tristanlee/substrate/internal/validate"
)

// ValidateShared checks the values every chain command uses and normalizes
// the log level.
func (c *Config) ValidateShared() error {
	c.LogLevel = strings.ToUpper(strings.TrimSpace(c.LogLevel))
	if err := logging.ValidateLogLevel(c.LogLevel); err != nil {
		return err
	}
	if err := validate.ValidateRequiredString(c.Chain, "chain"); err != nil {
		return err
	}
	return nil
}

// Validate checks and normalizes every value a node run uses. Errors name the
// offending setting; the caller decides how they are classified.
func (c *Config) Validate() error {
	if err := c.ValidateShared(); err != nil {
		return err
	}

	// Node names are case-insensitive, store them lowercase
	if c.NodeName != "" {
		c.NodeName = strings.ToLower(c.NodeName)
		if err := validate.NodeNameFormat(c.NodeName); err != nil {
			return fmt.Errorf("invalid node name: %w", err)
		}
	}

	if c.NodeKey != "" {
		if _, err := network.ParseNodeKey(c.NodeKey); err != nil {
			return err
		}
	}

	listen, err := validate.ParseBindAddress(c.ListenAddr)
	if err != nil {
		return fmt.Errorf("invalid listen address: %w", err)
	}
	if err := validate.ValidateField(c.SyncPort, "min=0,max=65535"); err != nil {
		return fmt.Errorf("invalid sync port %d", c.SyncPort)
	}
	if listen.Port != 0 && listen.Port == c.SyncPort {
		return fmt.Errorf("listen port and sync port must differ, both are %d", c.SyncPort)
	}
	if len(c.BootNodes) > 0 {
		if err := validate.ValidateAddressList(c.BootNodes); err != nil {
			return fmt.Errorf("invalid boot nodes: %w", err)
		}
	}

	if err := validate.ValidateField(c.RPCPort, "min=0,max=65535"); err != nil {
		return fmt.Errorf("invalid rpc port %d", c.RPCPort)
	}
	if _, err := rpc.ParseMethodPolicy(c.RPCMethods); err != nil {
		return err
	}

	for _, raw := range c.TelemetryURLs {
		if _, err := validate.ParseTelemetryEndpoint(raw); err != nil {
			return err
		}
	}

	if err := validate.ValidatePositiveTimeout(c.GracePeriod.Duration, "grace period"); err != nil {
		return err
	}
	if err := validate.ValidatePositiveTimeout(c.AuthorInterval.Duration, "author interval"); err != nil {
		return err
	}
	if c.Workers < 0 {
		return fmt.Errorf("worker count cannot be negative: %d", c.Workers)
	}
	if _, err := shutdown.ParseForceSignal(c.ForceSignal); err != nil {
		return err
	}

	return nil
}

// ListenAddress splits ListenAddr. Call after Validate.
func (c *Config) ListenAddress() (*validate.NetworkAddress, error) {
	return validate.ParseBindAddress(c.ListenAddr)
}

// TelemetryEndpoints parses TelemetryURLs. Call after Validate.
func (c *Config) TelemetryEndpoints() ([]validate.Endpoint, error) {
	endpoints := make([]validate.Endpoint, 0, len(c.TelemetryURLs))
	for _, raw := range c.TelemetryURLs {
		ep, err := validate.ParseTelemetryEndpoint(raw)
		if err != nil {
			return nil, err
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints, nil
}
