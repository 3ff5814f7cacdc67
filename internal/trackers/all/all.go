// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package all registers every built-in tracker variant.
package all

import (
	"github.com/autobrr/upbrr/internal/trackers"
	"github.com/autobrr/upbrr/internal/trackers/nbl"
	"github.com/autobrr/upbrr/internal/trackers/ptp"
)

func Registry() *trackers.Registry {
	r := trackers.NewRegistry()
	r.Register(ptp.ID, ptp.New)
	r.Register(nbl.ID, nbl.New)
	return r
}
