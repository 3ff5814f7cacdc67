// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trackers

import "strings"

const (
	TierSD  = "SD"
	TierHD  = "HD"
	TierUHD = "UHD"
)

// ResolutionTier matches on the exact resolution.
func ResolutionTier(resolution string, sd bool) string {
	return strings.ToLower(strings.TrimSpace(resolution))
}

// QualityTier groups resolutions into SD, HD and UHD.
func QualityTier(resolution string, sd bool) string {
	if sd {
		return TierSD
	}
	switch strings.ToLower(strings.TrimSpace(resolution)) {
	case "720p", "1080i", "1080p", "1440p":
		return TierHD
	case "2160p", "4320p", "8640p":
		return TierUHD
	case "480p", "480i", "576p", "576i", "540p":
		return TierSD
	default:
		return ""
	}
}
