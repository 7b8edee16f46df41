// Package netutil classifies bind failures and binds the node's TCP listeners.
//
// Errors are checked by type rather than by message so that "address already
// in use" is recognised the same way on every platform, whether it came from
// a TCP listener, a QUIC (UDP) socket or the gossip transport.
package netutil

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// AddressInUseError reports a port that another process already holds. The
// original error is kept for errors.Is and errors.As.
type AddressInUseError struct {
	Port    int
	Address string
	Err     error
}

func (e *AddressInUseError) Error() string {
	return fmt.Sprintf("port %d is already in use on %s", e.Port, e.Address)
}

func (e *AddressInUseError) Unwrap() error {
	return e.Err
}

// IsAddressInUseError checks if an error indicates "address already in use".
func IsAddressInUseError(err error) bool {
	var inUse *AddressInUseError
	if errors.As(err, &inUse) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, syscall.EADDRINUSE)
	}
	return errors.Is(err, syscall.EADDRINUSE)
}

// BindError describes a failure to bind what on address:port. Port conflicts
// become an AddressInUseError.
func BindError(what, address string, port int, err error) error {
	if IsAddressInUseError(err) {
		return fmt.Errorf("bind %s: %w", what, &AddressInUseError{Port: port, Address: address, Err: err})
	}
	return fmt.Errorf("bind %s to %s: %w", what, net.JoinHostPort(address, fmt.Sprint(port)), err)
}
