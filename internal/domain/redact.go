// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"regexp"
	"strings"
)

const RedactedStr = "<redacted>"

var (
	passkeyPathRe = regexp.MustCompile(`(https?://[^/\s]+/)([A-Za-z0-9]{16,})(/announce)`)
	queryParamRe  = regexp.MustCompile(`(?i)((?:api_?key|passkey|password|token|authkey)=)[^&\s"]+`)
)

// RedactString masks passkeys embedded in announce URLs and secret query parameters.
func RedactString(s string) string {
	if s == "" {
		return s
	}
	s = passkeyPathRe.ReplaceAllString(s, "${1}"+RedactedStr+"${3}")
	s = queryParamRe.ReplaceAllString(s, "${1}"+RedactedStr)
	return s
}

// RedactSecret returns a masked form of a secret suitable for logs.
func RedactSecret(secret string) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}
	return RedactedStr
}
