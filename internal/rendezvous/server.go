// Package rendezvous is the core of the proxy: the Acceptor →
// Handshake/Rendezvous → Forwarder pipeline and the Shutdown/Disconnect
// path described in spec.md §2–§5, translated to idiomatic Go per
// SPEC_FULL.md §2.1.
package rendezvous

import (
	"fmt"
	"net"
	"runtime/debug"
	"sync/atomic"

	"github.com/op/go-logging"

	"github.com/An7ar35/fwdproxy/common/socket"
	"github.com/An7ar35/fwdproxy/common/util"
)

// DefaultPendingCap bounds the number of connections the handshake actor
// will track concurrently (SPEC_FULL.md §3).
const DefaultPendingCap = 4096

// Config configures one Server instance.
type Config struct {
	Port       int
	PendingCap int // 0 means DefaultPendingCap
}

// Server owns the three pipeline stages, the pairing table, and the
// run flag (spec.md §3 "Run Flag", §4.4 "Shutdown/Disconnect"). Start and
// Stop form the boundary's contract; Stop is idempotent and a no-op on a
// server that was never started.
type Server struct {
	log    *logging.Logger
	cfg    Config
	table  *PairingTable
	fwd    *forwarder
	hs     *handshake
	accept *acceptor

	listener net.Listener
	running  atomic.Bool
}

// NewServer constructs a Server without binding any socket — that
// happens in Start, matching the teacher's constructor-injected-logger
// lifecycle shape (daemon/control/server.go NewControlServer).
func NewServer(log *logging.Logger, cfg Config) *Server {
	if cfg.PendingCap <= 0 {
		cfg.PendingCap = DefaultPendingCap
	}
	table := newPairingTable()
	fwd := newForwarder(log, table)
	return &Server{
		log:   log,
		cfg:   cfg,
		table: table,
		fwd:   fwd,
		hs:    newHandshake(log, table, fwd, cfg.PendingCap),
	}
}

// Start binds the listening socket (spec.md §4.1 "start-listening") and
// launches the acceptor and rendezvous-actor goroutines. A bind/listen
// failure is fatal to start-up and releases any descriptor already
// created (spec.md §4.4 "partial start-up failure").
func (s *Server) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return util.ErrAlreadyRunning
	}

	ln, err := socket.Listen(s.cfg.Port)
	if err != nil {
		s.running.Store(false)
		return fmt.Errorf("start-listening on port %d: %w", s.cfg.Port, err)
	}
	s.listener = ln
	s.accept = newAcceptor(s.log, ln, s.hs)

	go s.runGuarded("rendezvous-actor", s.hs.run)
	go s.runGuarded("acceptor", s.accept.run)

	s.log.Noticef("rendezvous proxy listening on port %d", s.cfg.Port)
	return nil
}

// runGuarded recovers a panic in one of the long-lived pipeline
// goroutines, logging a stack trace instead of taking the process down
// (SPEC_FULL.md §7) — the generalization of krd/main.go's top-level
// recover to every pipeline stage instead of just main.
func (s *Server) runGuarded(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("panic in %s: %v\n%s", name, r, debug.Stack())
		}
	}()
	fn()
}

// Stop closes the listener and waits for the acceptor to return, stops
// the rendezvous actor (which closes every connection still pending),
// closes every paired connection, and then waits for the forwarding
// goroutines to return. Closing a socket is what unblocks the goroutine
// reading it, so each socket is closed before, not after, the goroutine
// using it is joined. Idempotent.
func (s *Server) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	s.listener.Close()
	<-s.accept.done

	s.hs.stop()
	s.table.CloseAll()
	s.fwd.wait()

	return nil
}

// Addr returns the address the server is listening on, once Start has
// succeeded.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// PairCount reports the number of directed pairing-table entries
// currently installed (an even number whenever invariant I1 holds);
// exposed for tests asserting spec.md §8's idempotence properties.
func (s *Server) PairCount() int {
	return s.table.Len()
}
