package rendezvous

// Wire protocol, spec.md §6 — fixed byte literals, no framing header.
const (
	greetingUnsecured = "AUTH0"
	greetingSecured   = "AUTH1"
	greetingLength    = 5

	frameReady        = "READY"
	frameDisconnected = "DISCONNECTED"
	frameMalformed    = "WTF?"

	// maxSecretLen caps the secret at 64 bytes, whitespace-terminated or
	// buffer-exhausted (spec.md §4.2).
	maxSecretLen = 64

	// forwardBufferSize is the only framing quantum the forwarder knows
	// about (spec.md §4.3).
	forwardBufferSize = 511
)

func isWhitespace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r', '\v', '\f':
		return true
	default:
		return false
	}
}

// classifyGreeting reports which of the two 5-byte greetings buf holds,
// or false if it matches neither (spec.md §4.2, "INIT, 5 other bytes ⇒
// DCN").
func classifyGreeting(buf []byte) (secured bool, ok bool) {
	if len(buf) != greetingLength {
		return false, false
	}
	switch string(buf) {
	case greetingUnsecured:
		return false, true
	case greetingSecured:
		return true, true
	default:
		return false, false
	}
}
