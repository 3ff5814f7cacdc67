// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package metrics counts run outcomes and writes them in the node-exporter
// textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/autobrr/upbrr/internal/models"
)

type Recorder struct {
	registry *prometheus.Registry

	outcomes   *prometheus.CounterVec
	items      *prometheus.CounterVec
	reconciled *prometheus.CounterVec
	lastRun    prometheus.Gauge
}

func New() *Recorder {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upbrr",
			Name:      "tracker_outcomes_total",
			Help:      "Terminal submission outcomes by tracker and kind.",
		}, []string{"tracker", "kind"}),
		items: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upbrr",
			Name:      "items_total",
			Help:      "Processed items by result.",
		}, []string{"result"}),
		reconciled: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "upbrr",
			Name:      "submission_timeouts_total",
			Help:      "Submissions that timed out, by whether the release was found afterwards.",
		}, []string{"tracker", "found"}),
		lastRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "upbrr",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}
}

func (r *Recorder) ObserveOutcome(o models.SubmissionOutcome) {
	kind := string(o.Kind)
	if o.Debug {
		kind += "-debug"
	}
	r.outcomes.WithLabelValues(o.Tracker, kind).Inc()

	switch {
	case o.Reconciled:
		r.reconciled.WithLabelValues(o.Tracker, "true").Inc()
	case o.Ambiguous:
		r.reconciled.WithLabelValues(o.Tracker, "false").Inc()
	}
}

func (r *Recorder) ObserveItem(result string) {
	r.items.WithLabelValues(result).Inc()
}

// WriteTextfile stamps the run time and writes every metric to path atomically.
func (r *Recorder) WriteTextfile(path string) error {
	r.lastRun.Set(float64(time.Now().Unix()))
	return prometheus.WriteToTextfile(path, r.registry)
}
