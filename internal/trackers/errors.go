// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trackers

import (
	"fmt"
	"net/http"
)

// SearchError is a duplicate search that could not produce a trustworthy answer.
type SearchError struct {
	Tracker    string
	StatusCode int
	Err        error
}

func (e *SearchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s search returned status %d: %v", e.Tracker, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s search failed: %v", e.Tracker, e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

func (e *SearchError) Is(target error) bool {
	_, ok := target.(*SearchError)
	return ok
}

// IsRateLimited returns true if the tracker answered with HTTP 429.
func (e *SearchError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

type SubmitErrorKind string

const (
	SubmitStillOnFormPage    SubmitErrorKind = "stillOnFormPage"
	SubmitUnexpectedRedirect SubmitErrorKind = "unexpectedRedirect"
	SubmitRejected           SubmitErrorKind = "rejected"
)

// SubmitError is a submission the tracker did not confirm. The raw response is kept.
type SubmitError struct {
	Tracker    string
	Kind       SubmitErrorKind
	StatusCode int
	URL        string
	Message    string
	Body       []byte
}

func (e *SubmitError) Error() string {
	msg := fmt.Sprintf("%s upload %s (status %d)", e.Tracker, e.Kind, e.StatusCode)
	if e.URL != "" {
		msg += " at " + e.URL
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *SubmitError) Is(target error) bool {
	t, ok := target.(*SubmitError)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}
