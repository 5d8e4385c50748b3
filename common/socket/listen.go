// Package socket builds the TCP listener the acceptor binds to: address
// reuse enabled, a minimum accept backlog, non-blocking by construction
// (every net.Listener produced by the net package already is).
package socket

import (
	"context"
	"fmt"
	"net"
)

// MinBacklog is the floor spec.md §6 requires ("backlog ≥ 100"). Listen
// does not pass it anywhere: the Go net package picks the backlog itself
// (the system's maximum listen queue length), which on every platform
// this proxy targets is already well above 100.
const MinBacklog = 100

// Listen resolves a bindable address for port and returns a TCP listener
// with SO_REUSEADDR set, ready for Accept. IPv4 and IPv6 are both
// accepted; an empty host lets the kernel pick.
func Listen(port int) (net.Listener, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	ln, err := lc.Listen(context.Background(), "tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	return ln, nil
}
