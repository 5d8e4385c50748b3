package util

import "fmt"

var ErrClosed = fmt.Errorf("connection closed")
var ErrMalformedGreeting = fmt.Errorf("malformed handshake greeting")
var ErrSecretTooLong = fmt.Errorf("secret exceeds 64 byte cap")
var ErrNotRunning = fmt.Errorf("server is not running")
var ErrAlreadyRunning = fmt.Errorf("server is already running")
