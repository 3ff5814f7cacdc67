// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pipeline runs one item through every selected tracker. The check phase
// (policy, duplicate scan, login) runs before item preparation; the submit phase
// (artifact compliance, payload, submission, classification) runs after it for
// the trackers that passed.
package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/upbrr/internal/artifact"
	"github.com/autobrr/upbrr/internal/auth"
	"github.com/autobrr/upbrr/internal/domain"
	"github.com/autobrr/upbrr/internal/dupes"
	"github.com/autobrr/upbrr/internal/models"
	"github.com/autobrr/upbrr/internal/release"
	"github.com/autobrr/upbrr/internal/rules"
	"github.com/autobrr/upbrr/internal/session"
	"github.com/autobrr/upbrr/internal/trackers"
)

type Options struct {
	Config    *domain.Config
	Registry  *trackers.Registry
	Transport trackers.Options
	Scanner   *dupes.Scanner
	Flow      *auth.Flow
	Sessions  *session.Store
	Guard     *artifact.Guard
	Rules     *rules.Set
	Formatter release.Formatter
	// Input answers prompts. Nil, or an unattended item, means no prompts.
	Input auth.InputFunc
	// ReconcileDelay is the pause between reconciliation searches.
	ReconcileDelay time.Duration
}

type Pipeline struct {
	cfg            *domain.Config
	registry       *trackers.Registry
	transport      trackers.Options
	scanner        *dupes.Scanner
	flow           *auth.Flow
	sessions       *session.Store
	guard          *artifact.Guard
	rules          *rules.Set
	formatter      release.Formatter
	input          auth.InputFunc
	reconcileDelay time.Duration

	inputMu sync.Mutex
	stateMu sync.Mutex
	now     func() time.Time
}

func New(o Options) *Pipeline {
	p := &Pipeline{
		cfg:            o.Config,
		registry:       o.Registry,
		transport:      o.Transport,
		scanner:        o.Scanner,
		flow:           o.Flow,
		sessions:       o.Sessions,
		guard:          o.Guard,
		rules:          o.Rules,
		formatter:      o.Formatter,
		input:          o.Input,
		reconcileDelay: o.ReconcileDelay,
		now:            time.Now,
	}
	if p.scanner == nil {
		p.scanner = dupes.NewScanner(o.Config.SearchTimeout())
	}
	if p.guard == nil {
		p.guard = artifact.NewGuard(nil)
	}
	if p.formatter == nil {
		p.formatter = release.BBCodeFormatter{}
	}
	if p.reconcileDelay <= 0 {
		p.reconcileDelay = 5 * time.Second
	}
	return p
}

func (p *Pipeline) outcome(tracker string, kind models.OutcomeKind, reason string) models.SubmissionOutcome {
	return models.SubmissionOutcome{
		Tracker: tracker,
		Kind:    kind,
		Reason:  reason,
		At:      p.now().UTC(),
	}
}

// inputFor serializes prompts so only one is shown at a time.
func (p *Pipeline) inputFor(state *models.WorkingState) auth.InputFunc {
	if p.input == nil || state.Unattended {
		return nil
	}
	return func(ctx context.Context, req auth.NeedsInput) (string, error) {
		p.inputMu.Lock()
		defer p.inputMu.Unlock()
		return p.input(ctx, req)
	}
}

func (p *Pipeline) confirm(ctx context.Context, state *models.WorkingState, tracker, prompt string) bool {
	input := p.inputFor(state)
	if input == nil {
		return false
	}
	answer, err := input(ctx, auth.NeedsInput{Tracker: tracker, Kind: auth.InputConfirm, Prompt: prompt})
	if err != nil {
		log.Warn().Err(err).Str("tracker", tracker).Msg("Failed to read confirmation")
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func logOutcome(o models.SubmissionOutcome) {
	var ev = log.Info()
	switch o.Kind {
	case models.OutcomeSubmitFailed, models.OutcomeSearchFailed:
		ev = log.Error()
	case models.OutcomeDuplicateFound, models.OutcomeSkippedByPolicy:
		ev = log.Warn()
	}
	ev = ev.Str("tracker", o.Tracker).Str("outcome", string(o.Kind))
	if o.StatusCode != 0 {
		ev = ev.Int("status", o.StatusCode)
	}
	if o.URL != "" {
		ev = ev.Str("url", o.URL)
	}
	if len(o.Matches) > 0 {
		ev = ev.Strs("matches", o.Matches)
	}
	if o.Ambiguous {
		ev = ev.Bool("ambiguous", true)
	}
	if o.Reconciled {
		ev = ev.Bool("reconciled", true)
	}
	ev.Msgf("Tracker outcome: %s", orDash(o.Reason))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
