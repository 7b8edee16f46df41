// Package validate provides input validation for hoster configuration, built
// on a single go-playground/validator instance.
//
// Network addresses, node names, telemetry endpoints, key type tags and block
// ranges all flow through here before any subsystem sees them, so a bad value
// is rejected while the process is still in its configuration phase.
//
// VALIDATION FEATURES:
//   - Bind addresses: "host:port" with IP host and bounded port
//   - Peer addresses: boot node lists for gossip joining
//   - Endpoints: telemetry "URL VERBOSITY" pairs
//   - Identifiers: node names and four character key type tags
package validate

import (
	"fmt"
	"net"
	"strconv"

	"github.com/go-playground/validator/v10"
)

var (
	// Global validator instance using built-in validations
	validate *validator.Validate
)

func init() {
	validate = validator.New()
}

// NetworkAddress represents a validated "host:port" bind address.
type NetworkAddress struct {
	Host string `validate:"required,ip"`
	Port int    `validate:"min=0,max=65535"`
}

// String returns the address in "host:port" form.
func (na NetworkAddress) String() string {
	return net.JoinHostPort(na.Host, strconv.Itoa(na.Port))
}

// ParseBindAddress parses and validates a "host:port" address string. Port 0 is
// accepted here; callers that need a fixed port check it separately with
// ValidatePortRange.
func ParseBindAddress(addr string) (*NetworkAddress, error) {
	if addr == "" {
		return nil, fmt.Errorf("address cannot be empty")
	}

	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address format '%s': %w", addr, err)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port '%s': %w", portStr, err)
	}

	netAddr := &NetworkAddress{
		Host: host,
		Port: port,
	}

	if err := validate.Struct(netAddr); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return netAddr, nil
}

// ValidateField validates a single value against validator tags.
//
// Example: ValidateField("192.168.1.1", "required,ip")
func ValidateField(value interface{}, tag string) error {
	return validate.Var(value, tag)
}

// ValidateAddressList validates boot node addresses. Hostnames are allowed
// since gossip resolves them at join time; the port must be explicit.
func ValidateAddressList(addresses []string) error {
	if len(addresses) == 0 {
		return fmt.Errorf("address list cannot be empty")
	}

	for i, addr := range addresses {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("invalid address at index %d: %w", i, err)
		}
		if err := ValidateField(host, "required,hostname_rfc1123|ip"); err != nil {
			return fmt.Errorf("invalid host at index %d: %q", i, host)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid port at index %d: %q", i, portStr)
		}
		if err := ValidatePortRange(port); err != nil {
			return fmt.Errorf("invalid port at index %d: %w", i, err)
		}
	}

	return nil
}
