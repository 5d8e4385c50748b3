package rendezvous

import (
	"io"
	"net"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/op/go-logging"
)

// outcome is the terminal classification a per-connection handshake
// goroutine reports back to the rendezvous actor. Everything up to that
// terminal report (the INIT/AUTH1 progression of spec.md §4.2) is local
// to the goroutine that performed the reads; only the classified result
// needs the actor's single-threaded bookkeeping.
type outcome int

const (
	outcomeReady outcome = iota
	outcomeDCN
)

type handshakeEvent struct {
	conn    *Conn
	secret  string
	outcome outcome
}

// handshake is the rendezvous actor of spec.md §4.2: a single goroutine
// that owns pendingEntries, rendezvousSlots, and fd→secret with no
// locking whatsoever, fed by per-connection reader goroutines over one
// channel — the generalization of the teacher's
// Agent.hostAuthCallbacksBySessionID callback/LRU/select pattern
// (daemon/ssh_agent.go) from "one channel per session" to "one channel
// for the whole actor."
type handshake struct {
	log   *logging.Logger
	table *PairingTable
	fwd   *forwarder

	admissions chan net.Conn
	events     chan handshakeEvent
	stopCh     chan struct{}
	done       chan struct{}

	// actor-owned state — touched only inside run(), never locked.
	pending         *lru.Cache
	rendezvousSlots map[string]*Conn
	waiterSecret    map[*Conn]string
	waiterStopped   map[*Conn]chan struct{}
}

func newHandshake(log *logging.Logger, table *PairingTable, fwd *forwarder, pendingCap int) *handshake {
	h := &handshake{
		log:             log,
		table:           table,
		fwd:             fwd,
		admissions:      make(chan net.Conn, 64),
		events:          make(chan handshakeEvent, 64),
		stopCh:          make(chan struct{}),
		done:            make(chan struct{}),
		rendezvousSlots: make(map[string]*Conn),
		waiterSecret:    make(map[*Conn]string),
		waiterStopped:   make(map[*Conn]chan struct{}),
	}
	pending, err := lru.NewWithEvict(pendingCap, h.onPendingEvicted)
	if err != nil {
		// only fails for a non-positive size, which callers never pass.
		pending, _ = lru.New(4096)
	}
	h.pending = pending
	return h
}

// onPendingEvicted closes a connection dropped from the bounded pending
// cache (SPEC_FULL.md §3). The evicted connection's own goroutine will
// observe the close as a read error and report outcomeDCN like any other
// disconnect — this callback only releases the socket.
func (h *handshake) onPendingEvicted(key interface{}, value interface{}) {
	if c, ok := value.(*Conn); ok {
		c.Close()
	}
}

// admit hands a freshly accepted net.Conn to the actor. Called by the
// acceptor; never blocks the acceptor on actor internals beyond the
// channel send.
func (h *handshake) admit(nc net.Conn) {
	select {
	case h.admissions <- nc:
	case <-h.stopCh:
		nc.Close()
	}
}

func (h *handshake) run() {
	defer close(h.done)
	for {
		select {
		case <-h.stopCh:
			h.shutdown()
			return
		case nc := <-h.admissions:
			h.onAdmission(nc)
		case ev := <-h.events:
			h.onEvent(ev)
		}
	}
}

func (h *handshake) onAdmission(nc net.Conn) {
	c := newConn(nc)
	h.pending.Add(c, c)
	go h.readHandshake(c)
}

func (h *handshake) onEvent(ev handshakeEvent) {
	h.pending.Remove(ev.conn)

	switch ev.outcome {
	case outcomeDCN:
		h.dropWaiter(ev.conn)
		ev.conn.Close()

	case outcomeReady:
		if partner, waiting := h.rendezvousSlots[ev.secret]; waiting {
			h.pair(ev.conn, partner, ev.secret)
			return
		}
		h.makeWaiter(ev.conn, ev.secret)
	}
}

// dropWaiter removes conn from whatever rendezvous slot it occupies, if
// any — spec.md §4.2 "On DCN from pending stage. If the connection had
// previously been READY and thus is a waiter ... remove it from the
// slot ... and drop the fd→secret mapping."
func (h *handshake) dropWaiter(conn *Conn) {
	secret, waiting := h.waiterSecret[conn]
	if !waiting {
		return
	}
	delete(h.waiterSecret, conn)
	if h.rendezvousSlots[secret] == conn {
		delete(h.rendezvousSlots, secret)
	}
}

// makeWaiter installs conn as the lone waiter under secret and starts a
// watcher goroutine that drops any bytes it sends (spec.md §4.2, "READY:
// any bytes ⇒ drop") and reports a disconnect if it closes first.
func (h *handshake) makeWaiter(conn *Conn, secret string) {
	h.rendezvousSlots[secret] = conn
	h.waiterSecret[conn] = secret
	h.pending.Add(conn, conn)

	stopped := make(chan struct{})
	h.waiterStopped[conn] = stopped
	go h.watchWaiter(conn, stopped)
}

// pair promotes self and partner to a forwarding pair: install the
// symmetric pairing-table entry, interrupt partner's waiter-watcher so
// it stops reading before the forwarder starts, send READY to both
// outside the mutex, then hand both off to the forwarder.
func (h *handshake) pair(self, partner *Conn, secret string) {
	delete(h.rendezvousSlots, secret)
	delete(h.waiterSecret, partner)
	h.pending.Remove(partner)

	h.table.Insert(self, partner)
	h.stopWaiterWatch(partner)

	writeFrame(self, frameReady)
	writeFrame(partner, frameReady)

	h.fwd.promote(self, partner)
}

// stopWaiterWatch interrupts partner's blocked Read (via a past
// deadline) and waits for its watcher goroutine to actually return,
// so the forwarder never reads the same socket concurrently with it.
func (h *handshake) stopWaiterWatch(partner *Conn) {
	stopped, ok := h.waiterStopped[partner]
	if !ok {
		return
	}
	delete(h.waiterStopped, partner)
	partner.conn.SetReadDeadline(time.Unix(0, 1))
	<-stopped
	partner.conn.SetReadDeadline(time.Time{})
}

func (h *handshake) watchWaiter(conn *Conn, stopped chan struct{}) {
	defer close(stopped)
	buf := make([]byte, 64)
	for {
		_, err := conn.Read(buf)
		if err != nil {
			if isDeadlineErr(err) {
				return // interrupted for promotion, not a real disconnect
			}
			h.reportEvent(handshakeEvent{conn: conn, outcome: outcomeDCN})
			return
		}
		// any bytes while waiting are dropped (spec.md §4.2 READY state)
	}
}

func isDeadlineErr(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}

// reportEvent sends ev to the actor, abandoning the send once stopCh is
// closed. shutdown() closes every pending connection itself, which wakes
// every reader/waiter goroutine still in flight; without this escape
// hatch each of those goroutines would block forever trying to deliver
// an event nobody is left to read off h.events, leaking a goroutine per
// in-flight connection at shutdown (up to PendingCap of them).
func (h *handshake) reportEvent(ev handshakeEvent) {
	select {
	case h.events <- ev:
	case <-h.stopCh:
	}
}

// readHandshake performs the INIT→AUTH1→READY/DCN progression for one
// connection (spec.md §4.2) entirely locally, then reports exactly one
// terminal event to the actor.
func (h *handshake) readHandshake(c *Conn) {
	greeting := make([]byte, greetingLength)
	if _, err := io.ReadFull(c, greeting); err != nil {
		h.reportEvent(handshakeEvent{conn: c, outcome: outcomeDCN})
		return
	}

	secured, ok := classifyGreeting(greeting)
	if !ok {
		writeFrame(c, frameMalformed)
		h.reportEvent(handshakeEvent{conn: c, outcome: outcomeDCN})
		return
	}

	if !secured {
		h.reportEvent(handshakeEvent{conn: c, secret: "", outcome: outcomeReady})
		return
	}

	secret, err := readSecret(c)
	if err != nil {
		h.reportEvent(handshakeEvent{conn: c, outcome: outcomeDCN})
		return
	}
	h.reportEvent(handshakeEvent{conn: c, secret: secret, outcome: outcomeReady})
}

// readSecret reads up to maxSecretLen printable bytes, stopping at the
// first whitespace byte (consumed and discarded) or once the cap is
// reached (spec.md §4.2, §8 boundary case).
func readSecret(c *Conn) (string, error) {
	buf := make([]byte, 0, maxSecretLen)
	single := make([]byte, 1)
	for len(buf) < maxSecretLen {
		n, err := c.Read(single)
		if n == 1 {
			b := single[0]
			if isWhitespace(b) {
				return string(buf), nil
			}
			buf = append(buf, b)
		}
		if err != nil {
			return "", err
		}
	}
	return string(buf), nil
}

// controlWriteTimeout bounds how long a control-frame write (READY,
// DISCONNECTED, WTF?) may block a caller. Control frames are a handful
// of bytes, always far under any realistic send-window size; a peer that
// still can't absorb them within this window is unresponsive and must
// not be allowed to stall the rendezvous actor or a forwarding goroutine.
const controlWriteTimeout = 5 * time.Second

// writeFrame best-effort writes a control frame; failures are logged by
// the caller's own error path where one exists (the forwarder's) and are
// otherwise non-fatal — the peer that never got its frame will simply
// see its socket close next.
func writeFrame(c *Conn, frame string) {
	c.conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
	defer c.conn.SetWriteDeadline(time.Time{})

	payload := []byte(frame)
	for written := 0; written < len(payload); {
		n, err := c.Write(payload[written:])
		if err != nil {
			return
		}
		written += n
	}
}

// shutdown runs once, from run(), after stopCh closes: every connection
// still tracked by the actor (waiting or mid-handshake) is closed so its
// reader goroutine unblocks and exits. Waiters are also present in
// pending, so closing pending's keys is sufficient.
func (h *handshake) shutdown() {
	for _, key := range h.pending.Keys() {
		if c, ok := key.(*Conn); ok {
			c.Close()
		}
	}
}

func (h *handshake) stop() {
	close(h.stopCh)
	<-h.done
}
