package rendezvous

import (
	"net"
	"testing"
	"time"

	"github.com/op/go-logging"

	krlog "github.com/An7ar35/fwdproxy/common/log"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	return krlog.SetupLogging("rendezvous-test", logging.CRITICAL, false)
}

func startTestServer(t *testing.T) (*Server, func()) {
	t.Helper()
	srv := NewServer(testLogger(t), Config{Port: 0})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return srv, func() { srv.Stop() }
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func expectBytes(t *testing.T, conn net.Conn, want string) {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, len(want))
	n, err := readFull(conn, buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := string(buf[:n]); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// TestAnonymousPair covers end-to-end scenario 1 of spec.md §8.
func TestAnonymousPair(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	x := dial(t, srv.Addr())
	defer x.Close()
	y := dial(t, srv.Addr())
	defer y.Close()

	if _, err := x.Write([]byte("AUTH0")); err != nil {
		t.Fatal(err)
	}
	if _, err := y.Write([]byte("AUTH0")); err != nil {
		t.Fatal(err)
	}

	expectBytes(t, x, "READY")
	expectBytes(t, y, "READY")

	if _, err := x.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	expectBytes(t, y, "hello")

	if _, err := y.Write([]byte("hi")); err != nil {
		t.Fatal(err)
	}
	expectBytes(t, x, "hi")
}

// TestSecuredPair covers end-to-end scenario 2.
func TestSecuredPair(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	x := dial(t, srv.Addr())
	defer x.Close()
	y := dial(t, srv.Addr())
	defer y.Close()

	x.Write([]byte("AUTH1topsecret\n"))
	y.Write([]byte("AUTH1topsecret\n"))

	expectBytes(t, x, "READY")
	expectBytes(t, y, "READY")

	x.Write([]byte("hello"))
	expectBytes(t, y, "hello")
	y.Write([]byte("hi"))
	expectBytes(t, x, "hi")
}

// TestMismatchedSecretsNeverPair covers end-to-end scenario 3.
func TestMismatchedSecretsNeverPair(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	x := dial(t, srv.Addr())
	defer x.Close()
	y := dial(t, srv.Addr())
	defer y.Close()

	x.Write([]byte("AUTH1alpha\n"))
	y.Write([]byte("AUTH1beta\n"))

	x.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 5)
	if _, err := x.Read(buf); err == nil {
		t.Fatalf("expected no data for mismatched secrets, got %q", buf)
	}
}

// TestBadGreeting covers end-to-end scenario 4.
func TestBadGreeting(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	x := dial(t, srv.Addr())
	defer x.Close()

	x.Write([]byte("HELLO"))
	expectBytes(t, x, "WTF?")

	x.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := x.Read(buf); err == nil {
		t.Fatalf("expected server to close connection after WTF?")
	}
}

// TestCounterpartDisconnect covers end-to-end scenario 5.
func TestCounterpartDisconnect(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	x := dial(t, srv.Addr())
	y := dial(t, srv.Addr())
	defer y.Close()

	x.Write([]byte("AUTH0"))
	y.Write([]byte("AUTH0"))
	expectBytes(t, x, "READY")
	expectBytes(t, y, "READY")

	x.Close()

	expectBytes(t, y, "DISCONNECTED")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if srv.PairCount() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("pairing table not empty after counterpart disconnect: %d", srv.PairCount())
}

// TestServerStopWithLivePair covers end-to-end scenario 6.
func TestServerStopWithLivePair(t *testing.T) {
	srv := NewServer(testLogger(t), Config{Port: 0})
	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	x := dial(t, srv.Addr())
	defer x.Close()
	y := dial(t, srv.Addr())
	defer y.Close()

	x.Write([]byte("AUTH0"))
	y.Write([]byte("AUTH0"))
	expectBytes(t, x, "READY")
	expectBytes(t, y, "READY")

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	x.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := x.Read(buf); err == nil {
		t.Fatalf("expected socket closed after server Stop")
	}
}

// TestStopIdempotentAndNoOpUnstarted covers spec.md §8's idempotence
// properties.
func TestStopIdempotentAndNoOpUnstarted(t *testing.T) {
	srv := NewServer(testLogger(t), Config{Port: 0})
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop on unstarted server: %v", err)
	}

	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("first Stop: %v", err)
	}
	if err := srv.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

// TestShortGreetingThenCloseIsQuietDisconnect covers the boundary case:
// fewer than 5 bytes followed by close ⇒ DCN, no WTF?.
func TestShortGreetingThenCloseIsQuietDisconnect(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	x := dial(t, srv.Addr())
	x.Write([]byte("AU"))
	x.Close()

	// Nothing to assert against x (it is already closed); give the
	// server time to process the DCN and confirm no pair was formed.
	time.Sleep(100 * time.Millisecond)
	if srv.PairCount() != 0 {
		t.Fatalf("expected no pairing from a short greeting, got %d", srv.PairCount())
	}
}

// TestSecretCapAtSixtyFourBytes covers the boundary case: a 64-byte
// secret with no terminator is accepted in full.
func TestSecretCapAtSixtyFourBytes(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	secret := make([]byte, 64)
	for i := range secret {
		secret[i] = 'a'
	}

	x := dial(t, srv.Addr())
	defer x.Close()
	y := dial(t, srv.Addr())
	defer y.Close()

	x.Write(append([]byte("AUTH1"), secret...))
	y.Write(append([]byte("AUTH1"), secret...))

	expectBytes(t, x, "READY")
	expectBytes(t, y, "READY")
}

// TestThirdClientWaitsForNextPairing covers: a third client arriving
// under a secret that already has two paired peers is held, not
// coalesced into the existing pair (spec.md §4.2 "Tie-break / ordering").
func TestThirdClientWaitsForNextPairing(t *testing.T) {
	srv, stop := startTestServer(t)
	defer stop()

	x := dial(t, srv.Addr())
	defer x.Close()
	y := dial(t, srv.Addr())
	defer y.Close()
	z := dial(t, srv.Addr())
	defer z.Close()

	x.Write([]byte("AUTH1shared\n"))
	y.Write([]byte("AUTH1shared\n"))
	expectBytes(t, x, "READY")
	expectBytes(t, y, "READY")

	z.Write([]byte("AUTH1shared\n"))
	z.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	buf := make([]byte, 5)
	if _, err := z.Read(buf); err == nil {
		t.Fatalf("third client should not be paired immediately, got %q", buf)
	}

	// x/y's pair is untouched by z's arrival.
	x.Write([]byte("still-there"))
	expectBytes(t, y, "still-there")

	// a fourth client now completes a fresh pair with z.
	w := dial(t, srv.Addr())
	defer w.Close()
	w.Write([]byte("AUTH1shared\n"))

	expectBytes(t, z, "READY")
	expectBytes(t, w, "READY")
}
