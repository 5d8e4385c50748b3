//go:build !windows

package log

import "github.com/op/go-logging"

func newSyslogBackend(module string) (logging.Backend, error) {
	return logging.NewSyslogBackend(module)
}
