package rendezvous

import "sync"

// PairingTable is the process-wide map from connection handle to
// counterpart handle, guarded by a single mutex (spec.md §3 "Pairing
// Table"). Entries are always added and removed as a symmetric pair —
// never as a lone directed entry — which is what keeps invariant I1
// (symmetry) and I2 (uniqueness) true at every instant a caller can
// observe the table.
//
// Modeled per spec.md §9's design note: a plain map keyed by handle,
// value the counterpart handle — not a pair of mutually-referencing
// owned objects. Grounded on the teacher's PairingSecret
// (common/protocol/pair.go), which embeds its mutex directly in the
// domain struct rather than wrapping a separate lock type.
type PairingTable struct {
	mu    sync.Mutex
	peers map[*Conn]*Conn
}

func newPairingTable() *PairingTable {
	return &PairingTable{peers: make(map[*Conn]*Conn)}
}

// Insert installs {a, b} as a symmetric pair. O(1), no I/O — the only
// thing ever done while mu is held (spec.md §5).
func (t *PairingTable) Insert(a, b *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[a] = b
	t.peers[b] = a
}

// Counterpart looks up the peer of c. ok is false once the pair has
// already been torn down by the other side — the caller's contract is to
// treat that as "already torn down, skip" (spec.md §4.3).
func (t *PairingTable) Counterpart(c *Conn) (peer *Conn, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	peer, ok = t.peers[c]
	return
}

// Erase removes both directed entries of the pair containing c, if any.
// Returns the counterpart that was removed, or nil if c was not paired.
func (t *PairingTable) Erase(c *Conn) (peer *Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	peer, ok := t.peers[c]
	if !ok {
		return nil
	}
	delete(t.peers, c)
	delete(t.peers, peer)
	return peer
}

// Len reports the number of directed entries currently installed — used
// only by tests to assert the table drains to empty (spec.md §8).
func (t *PairingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// CloseAll closes every connection still paired and empties the table.
// Used only by Server.Stop: closing each socket unblocks whichever
// forwarder goroutine is blocked reading it, which then finds its
// pairing-table entry already gone and returns without re-notifying a
// peer that the whole server is going down anyway.
func (t *PairingTable) CloseAll() {
	t.mu.Lock()
	peers := t.peers
	t.peers = make(map[*Conn]*Conn)
	t.mu.Unlock()

	closed := make(map[*Conn]bool, len(peers))
	for c := range peers {
		if !closed[c] {
			closed[c] = true
			c.Close()
		}
	}
}
