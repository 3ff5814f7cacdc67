// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package auth

import (
	"fmt"
)

type Reason string

const (
	ReasonBadCredentials    Reason = "badCredentials"
	ReasonQuotaExceeded     Reason = "quotaExceeded"
	ReasonTwoFactorRejected Reason = "twoFactorRejected"
)

// Error is a terminal login failure for one tracker.
type Error struct {
	Tracker string
	Reason  Reason
	// Message is the tracker's own text, kept verbatim.
	Message string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s login failed (%s): %s", e.Tracker, e.Reason, e.Message)
	}
	return fmt.Sprintf("%s login failed (%s)", e.Tracker, e.Reason)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// IsRetryableLater reports whether the failure is time-bound rather than a configuration problem.
func (e *Error) IsRetryableLater() bool {
	return e.Reason == ReasonQuotaExceeded
}

type InputKind string

const (
	InputTwoFactorCode InputKind = "2fa"
	// InputConfirm expects "y" or "yes" to proceed.
	InputConfirm InputKind = "confirm"
)

// NeedsInput suspends a flow until the orchestration boundary supplies a value.
type NeedsInput struct {
	Tracker string
	Kind    InputKind
	Prompt  string
}

func (n *NeedsInput) Error() string {
	return fmt.Sprintf("%s needs input: %s", n.Tracker, n.Kind)
}
