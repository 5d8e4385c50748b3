//go:build windows

package log

import (
	"fmt"

	"github.com/op/go-logging"
)

func newSyslogBackend(module string) (logging.Backend, error) {
	return nil, fmt.Errorf("syslog logging is not available on windows")
}
