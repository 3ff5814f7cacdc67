// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package buildinfo

import (
	"fmt"
	"runtime"
)

var (
	Version = "dev"
	Commit  = ""
	Date    = ""

	UserAgent = "upbrr/" + Version
)

// New sets build metadata injected by the linker and refreshes the user agent.
func New(version, commit, date string) {
	if version != "" {
		Version = version
	}
	Commit = commit
	Date = date
	UserAgent = fmt.Sprintf("upbrr/%s (%s %s)", Version, runtime.GOOS, runtime.GOARCH)
}
