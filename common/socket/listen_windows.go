//go:build windows

package socket

import "syscall"

// Windows has no SO_REUSEPORT, and Go's net package already sets
// SO_REUSEADDR semantics close enough for a restarted proxy; there is
// nothing additional to control here.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
