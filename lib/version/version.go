// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"strconv"
)

// These variables are set via -ldflags at build time.
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the user-facing release name.
	Version = "27.0"

	// Code is the monotonically increasing integer version. It is a
	// string so that -ldflags -X can set it.
	Code = "27000"

	// Debug is "true" for debug builds.
	Debug = "false"
)

// VersionCode returns [Code] as an integer, or 0 if it was set to
// something unparsable at build time.
func VersionCode() int {
	n, err := strconv.Atoi(Code)
	if err != nil {
		return 0
	}
	return n
}

// IsDebug reports whether this is a debug build.
func IsDebug() bool {
	return Debug == "true"
}

// Daemon returns the string the daemon sends in response to a version
// check: "<version>:MAGISK:R" for release builds and "<version>:MAGISK:D"
// for debug builds.
func Daemon() string {
	kind := "R"
	if IsDebug() {
		kind = "D"
	}
	return Version + ":MAGISK:" + kind
}

// Info returns a formatted version string suitable for --version output.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s) [%s%s, %s]", Version, Code, GitCommit, dirty, BuildTime)
}

// Full returns detailed version information including Go version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}
