// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/upbrr/internal/models"
)

func TestObserveOutcome(t *testing.T) {
	r := New()
	r.ObserveOutcome(models.SubmissionOutcome{Tracker: "PTP", Kind: models.OutcomeSubmitSucceeded})
	r.ObserveOutcome(models.SubmissionOutcome{Tracker: "PTP", Kind: models.OutcomeSubmitSucceeded, Reconciled: true})
	r.ObserveOutcome(models.SubmissionOutcome{Tracker: "NBL", Kind: models.OutcomeSubmitFailed, Ambiguous: true})
	r.ObserveOutcome(models.SubmissionOutcome{Tracker: "NBL", Kind: models.OutcomeSubmitSucceeded, Debug: true})
	r.ObserveItem("uploaded")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.outcomes.WithLabelValues("PTP", "submit-succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.outcomes.WithLabelValues("NBL", "submit-succeeded-debug")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reconciled.WithLabelValues("PTP", "true")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.reconciled.WithLabelValues("NBL", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.items.WithLabelValues("uploaded")))
}

func TestWriteTextfile(t *testing.T) {
	r := New()
	r.ObserveItem("failed")

	path := filepath.Join(t.TempDir(), "upbrr.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `upbrr_items_total{result="failed"} 1`)
	assert.Contains(t, string(data), "upbrr_last_run_timestamp_seconds")
}
