package netutil

import (
	"fmt"
	"net"
	"strconv"
)

// ListenTCP binds a TCP listener on address:port and holds it until the
// caller closes it. Port 0 lets the kernel pick a free port; use ListenerPort
// to learn which.
func ListenTCP(what, address string, port int) (net.Listener, error) {
	listener, err := net.Listen("tcp", net.JoinHostPort(address, strconv.Itoa(port)))
	if err != nil {
		return nil, BindError(what, address, port, err)
	}
	return listener, nil
}

// ListenerPort extracts the port number from a bound listener.
func ListenerPort(listener net.Listener) (int, error) {
	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		return 0, fmt.Errorf("listener is not a TCP listener: %T", listener.Addr())
	}
	return tcpAddr.Port, nil
}
