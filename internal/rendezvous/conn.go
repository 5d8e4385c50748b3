package rendezvous

import (
	"net"
	"sync"

	uuid "github.com/satori/go.uuid"
)

// Conn is the connection handle of spec.md §3: an opaque, unique
// identifier for one accepted TCP socket. It is closed exactly once, by
// whichever component last owns it.
type Conn struct {
	ID   string
	conn net.Conn

	closeOnce sync.Once
	closeErr  error
}

func newConn(c net.Conn) *Conn {
	id := ""
	if v4, err := uuid.NewV4(); err == nil {
		id = v4.String()
	}
	return &Conn{
		ID:   id,
		conn: c,
	}
}

// Close releases the underlying socket. Safe to call more than once and
// from more than one goroutine; every caller observes the same error.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

// Read and Write pass straight through to the underlying net.Conn; the
// handshake stage sets read and write deadlines on the conn field
// directly.
func (c *Conn) Read(p []byte) (int, error)  { return c.conn.Read(p) }
func (c *Conn) Write(p []byte) (int, error) { return c.conn.Write(p) }

func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
