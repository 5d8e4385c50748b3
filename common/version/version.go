// Package version holds the single version stamp shared by the proxy and
// the client commands of the fwdproxy binary.
package version

import "github.com/blang/semver"

// CURRENT_VERSION is bumped on release; the fwdproxy binary surfaces it
// through --version and the version command.
var CURRENT_VERSION = semver.MustParse("1.0.0")
