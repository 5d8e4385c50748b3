package rendezvous

import (
	"net"
	"strings"

	"github.com/op/go-logging"
)

// acceptor is component A of spec.md §4.1. Listener.Accept blocking *is*
// the accept-set readiness wait (SPEC_FULL.md §2.1); each accepted
// connection is handed straight to the rendezvous actor.
type acceptor struct {
	log      *logging.Logger
	listener net.Listener
	hs       *handshake

	done chan struct{}
}

func newAcceptor(log *logging.Logger, ln net.Listener, hs *handshake) *acceptor {
	return &acceptor{log: log, listener: ln, hs: hs, done: make(chan struct{})}
}

// run accepts connections until the listener is closed by Stop, at which
// point Accept returns a "use of closed network connection" error and the
// loop exits — the Go equivalent of the wakeup object unblocking the
// accept set (spec.md §4.4).
func (a *acceptor) run() {
	defer close(a.done)
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if isClosedErr(err) {
				return
			}
			a.log.Warningf("accept error (continuing): %v", err)
			continue
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}
		a.hs.admit(conn)
	}
}

func isClosedErr(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}
