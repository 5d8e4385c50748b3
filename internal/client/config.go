// Package client is the boundary companion program of spec.md §1: it
// dials the proxy, performs the handshake, and exchanges user-typed
// lines with its paired counterpart. None of its internals are held to
// the core's invariants (SPEC_FULL.md §1).
package client

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/youtube/vitess/go/ioutil2"
)

// cache is a small local convenience record — the last address and
// secret this client used — so re-running `fwdproxy talk` without flags
// reconnects to the same rendezvous. This is client-side UX, not state
// the proxy persists across restarts (spec.md §1 Non-goals are about the
// server); grounded on the teacher's own atomic-write cache
// (common/version/latest_version.go).
type cache struct {
	Addr   string `json:"addr"`
	Secret string `json:"secret,omitempty"`
}

func cachePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir = filepath.Join(dir, "fwdproxy")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return filepath.Join(dir, "last-session.json"), nil
}

func loadCache() (cache, error) {
	var c cache
	path, err := cachePath()
	if err != nil {
		return c, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	err = json.Unmarshal(data, &c)
	return c, err
}

// LastSession returns the address and secret cached by a previous
// successful talk session, if any — the actual implementation of the
// "re-running fwdproxy talk without flags reconnects to the same
// rendezvous" UX described above. ok is false if nothing usable was
// cached (no prior session, an unreadable file, or a cleared address).
func LastSession() (addr, secret string, ok bool) {
	c, err := loadCache()
	if err != nil || c.Addr == "" {
		return "", "", false
	}
	return c.Addr, c.Secret, true
}

func saveCache(c cache) error {
	path, err := cachePath()
	if err != nil {
		return err
	}
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return ioutil2.WriteFileAtomic(path, data, 0600)
}
