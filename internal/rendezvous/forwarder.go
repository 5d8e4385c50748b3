package rendezvous

import (
	"errors"
	"io"
	"sync"

	"github.com/op/go-logging"
)

// forwarder is component C of spec.md §4.3. One pair gets two lightweight
// goroutines, one per direction, each driving its own blocking
// forwardBufferSize-byte read loop — the idiomatic Go realization of "a
// single thread watches both sockets of every pair" described in
// SPEC_FULL.md §2.1: the runtime's netpoller is the shared readiness
// set, so per-direction goroutines cost a stack, not an OS thread.
type forwarder struct {
	log   *logging.Logger
	table *PairingTable

	wg sync.WaitGroup
}

func newForwarder(log *logging.Logger, table *PairingTable) *forwarder {
	return &forwarder{log: log, table: table}
}

// promote starts forwarding both directions of a freshly paired
// connection. The pairing-table entry must already be installed by the
// caller (the rendezvous actor, under its own discipline — spec.md §4.2
// step 1).
func (f *forwarder) promote(a, b *Conn) {
	f.wg.Add(2)
	go f.direction(a, b)
	go f.direction(b, a)
}

// direction copies bytes read from r to c until r errors (orderly close
// or otherwise — io.Reader collapses spec.md's "n==0 EOF" and "n<0
// error" cases into the single non-nil-error signal).
// Exactly one of the two per-pair goroutines will win the table.Erase
// race and perform teardown; the other finds the entry already gone and
// returns quietly (spec.md §4.3, §7 "missing counterpart ⇒ skip").
func (f *forwarder) direction(r, c *Conn) {
	defer f.wg.Done()
	buf := make([]byte, forwardBufferSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := c.Write(buf[:n]); werr != nil {
				f.log.Warningf("forward write %s -> %s failed: %v", r.ID, c.ID, werr)
			} else {
				f.log.Debugf("%s -> %s: %q", r.ID, c.ID, buf[:n])
			}
		}

		if err != nil {
			f.teardown(r, c, err)
			return
		}
	}
}

func (f *forwarder) teardown(r, c *Conn, readErr error) {
	peer := f.table.Erase(r)
	if peer == nil {
		return // already torn down by the other direction
	}

	if !errors.Is(readErr, io.EOF) {
		f.log.Errorf("read error on %s, treating as disconnect: %v", r.ID, readErr)
	}

	writeFrame(c, frameDisconnected)
	r.Close()
	c.Close()
}

// wait blocks until every forwarding goroutine this instance started has
// returned — used by Server.Stop after it has closed the listener and
// every paired connection.
func (f *forwarder) wait() {
	f.wg.Wait()
}
