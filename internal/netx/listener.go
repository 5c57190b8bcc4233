package netx

import (
	"context"
	"net"
)

// Listener is a TCPListener. Connections accepted by this listener provide
// extra methods to interact with the connection's underlying file descriptor.
type Listener struct {
	*net.TCPListener
}

// NewListener returns a netx.Listener.
func NewListener(l *net.TCPListener) *Listener {
	return &Listener{
		TCPListener: l,
	}
}

// Listen binds a TCP listening socket to addr. On platforms supporting it,
// the socket is opened with SO_REUSEPORT so that multiple server processes
// can share the same address.
func Listen(addr string) (*Listener, error) {
	lc := net.ListenConfig{
		Control: listenControl,
	}
	l, err := lc.Listen(context.Background(), "tcp", addr)
	if err != nil {
		return nil, err
	}
	return NewListener(l.(*net.TCPListener)), nil
}

// Accept accepts a connection and returns a netx.Conn which includes the
// connection's "accept time" and provides operations on the underlying file
// descriptor.
func (ln *Listener) Accept() (net.Conn, error) {
	tc, err := ln.AcceptTCP()
	if err != nil {
		return nil, err
	}
	// The "accept time" is recorded immediately after AcceptTCP inside
	// fromTCPConn. This is the closest thing we can get to a reference
	// "start time" for TCPInfo metrics since the TCP_INFO struct does not
	// include time fields.
	mc, err := fromTCPConn(tc)
	if err != nil {
		tc.Close()
		return nil, err
	}
	return mc, nil
}
