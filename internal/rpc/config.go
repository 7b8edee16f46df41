package rpc

import (
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tristanlee/substrate/internal/config"
	"github.com/tristanlee/substrate/internal/validate"
)

// MethodPolicy selects which RPC methods are exposed.
type MethodPolicy string

const (
	// MethodsAuto exposes unsafe methods only on a loopback listener
	MethodsAuto   MethodPolicy = "auto"
	MethodsSafe   MethodPolicy = "safe"
	MethodsUnsafe MethodPolicy = "unsafe"
)

// ParseMethodPolicy validates a --rpc-methods value.
func ParseMethodPolicy(s string) (MethodPolicy, error) {
	switch p := MethodPolicy(s); p {
	case MethodsAuto, MethodsSafe, MethodsUnsafe:
		return p, nil
	default:
		return "", fmt.Errorf("unknown rpc methods policy %q (expected auto, safe or unsafe)", s)
	}
}

// Config holds RPC server configuration.
type Config struct {
	BindAddr    string       // Listen address
	Port        int          // Listen port, 0 picks a free port
	CORSOrigins []string     // Allowed browser origins, "*" allows any
	Methods     MethodPolicy // Method exposure policy
	MaxBatch    int          // Maximum calls in one batch request

	// Prometheus serves Registry on GET /metrics.
	Prometheus bool
	Registry   *prometheus.Registry
}

// DefaultConfig returns the RPC defaults: loopback, safe origins, auto policy.
func DefaultConfig() *Config {
	return &Config{
		BindAddr: config.DefaultRPCBindAddr,
		Port:     config.DefaultRPCPort,
		CORSOrigins: []string{
			"http://localhost:*",
			"http://127.0.0.1:*",
			"https://localhost:*",
			"https://127.0.0.1:*",
		},
		Methods:  MethodsAuto,
		MaxBatch: 100,
	}
}

// Validate checks the configuration before the listener is bound.
func (c *Config) Validate() error {
	if err := validate.ValidateField(c.BindAddr, "required,ip"); err != nil {
		return fmt.Errorf("invalid rpc bind address: %w", err)
	}
	if err := validate.ValidateField(c.Port, "min=0,max=65535"); err != nil {
		return fmt.Errorf("invalid rpc port: %w", err)
	}
	if _, err := ParseMethodPolicy(string(c.Methods)); err != nil {
		return err
	}
	if c.MaxBatch < 1 {
		return fmt.Errorf("rpc batch limit must be positive, got: %d", c.MaxBatch)
	}
	return nil
}

// allowUnsafe resolves the policy against the bind address.
func (c *Config) allowUnsafe() bool {
	switch c.Methods {
	case MethodsUnsafe:
		return true
	case MethodsAuto:
		ip := net.ParseIP(c.BindAddr)
		return ip != nil && ip.IsLoopback()
	default:
		return false
	}
}
