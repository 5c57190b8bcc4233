//go:build !linux
// +build !linux

package netx

import "syscall"

func listenControl(network, address string, c syscall.RawConn) error {
	// SO_REUSEPORT is not portable. Plain binding semantics apply.
	return nil
}
