// Package log wires github.com/op/go-logging the way the proxy and the
// client both want it: one named, leveled logger per process, optionally
// duplicated to syslog on unix.
package log

import (
	"fmt"
	"os"

	"github.com/op/go-logging"
)

const format = `%{color}%{time:15:04:05.000} %{module} %{level:.4s}%{color:reset} %{message}`

// SetupLogging returns a *logging.Logger named module, logging at level
// and above to stderr, and additionally to syslog when useSyslog is true
// and a syslog backend is available on this platform.
func SetupLogging(module string, level logging.Level, useSyslog bool) *logging.Logger {
	logger := logging.MustGetLogger(module)

	stderrBackend := logging.NewLogBackend(os.Stderr, "", 0)
	formatter := logging.MustStringFormatter(format)
	formatted := logging.NewBackendFormatter(stderrBackend, formatter)
	leveled := logging.AddModuleLevel(formatted)
	leveled.SetLevel(level, "")

	backends := []logging.Backend{leveled}

	if useSyslog {
		if syslogBackend, err := newSyslogBackend(module); err == nil {
			backends = append(backends, syslogBackend)
		} else {
			fmt.Fprintln(os.Stderr, "log: syslog backend unavailable: "+err.Error())
		}
	}

	logging.SetBackend(backends...)
	return logger
}
