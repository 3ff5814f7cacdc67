// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import "time"

type OutcomeKind string

const (
	OutcomeDuplicateFound  OutcomeKind = "duplicate-found"
	OutcomeSkippedByPolicy OutcomeKind = "skipped-by-policy"
	OutcomeSubmitSucceeded OutcomeKind = "submit-succeeded"
	OutcomeSubmitFailed    OutcomeKind = "submit-failed"
	OutcomeSearchFailed    OutcomeKind = "search-failed"
)

// SubmissionOutcome is the terminal result for one (item, tracker) pair.
type SubmissionOutcome struct {
	Tracker    string      `json:"tracker"`
	Kind       OutcomeKind `json:"kind"`
	Reason     string      `json:"reason,omitempty"`
	StatusCode int         `json:"status_code,omitempty"`
	URL        string      `json:"url,omitempty"`
	Matches    []string    `json:"matches,omitempty"`
	// Ambiguous marks a submission that timed out and could not be reconciled.
	Ambiguous  bool      `json:"ambiguous,omitempty"`
	Reconciled bool      `json:"reconciled,omitempty"`
	Debug      bool      `json:"debug,omitempty"`
	At         time.Time `json:"at"`
}

func (o SubmissionOutcome) Succeeded() bool {
	return o.Kind == OutcomeSubmitSucceeded
}

// SuccessCount counts submit-succeeded outcomes.
func SuccessCount(outcomes []SubmissionOutcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

// Upload describes one confirmed submission, handed to post-upload integrations.
type Upload struct {
	Tracker     string
	Name        string
	ContentPath string
	TorrentPath string
	URL         string
}
