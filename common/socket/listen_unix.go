//go:build linux || darwin || freebsd

package socket

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reuseAddrControl sets SO_REUSEADDR (and, best-effort, SO_REUSEPORT, which
// lets a restarted proxy rebind the port immediately without waiting out
// TIME_WAIT) on the raw listening socket before bind(2) runs.
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var ctrlErr error
	err := c.Control(func(fd uintptr) {
		ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
		if ctrlErr != nil {
			return
		}
		// best-effort; lets a restarted proxy rebind without TIME_WAIT delay
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return ctrlErr
}
