// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/upbrr/internal/auth"
	"github.com/autobrr/upbrr/internal/dupes"
	"github.com/autobrr/upbrr/internal/models"
	"github.com/autobrr/upbrr/internal/trackers"
)

// Check is the check-phase result for one tracker.
type Check struct {
	ID      string
	Tracker trackers.Tracker
	// Passed trackers go on to the submit phase.
	Passed bool
	// Uploaded is set when an earlier run already recorded a confirmed submission.
	Uploaded bool
	// Outcome is the terminal outcome of a tracker that did not pass.
	Outcome models.SubmissionOutcome
	Session *auth.Session
	Scan    dupes.Result
}

type Report struct {
	Checks []*Check
}

// PassCount counts trackers that may still succeed, including earlier uploads.
func (r *Report) PassCount() int {
	n := 0
	for _, c := range r.Checks {
		if c.Passed || c.Uploaded {
			n++
		}
	}
	return n
}

func (r *Report) Passed() []*Check {
	var out []*Check
	for _, c := range r.Checks {
		if c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Outcomes returns the terminal outcomes decided in the check phase.
func (r *Report) Outcomes() []models.SubmissionOutcome {
	var out []models.SubmissionOutcome
	for _, c := range r.Checks {
		if !c.Passed {
			out = append(out, c.Outcome)
		}
	}
	return out
}

// Check runs policy, duplicate scan and login for every selected tracker. Trackers
// are independent and run concurrently; each holds its tracker lock throughout. An
// unknown tracker is a ConfigError.
func (p *Pipeline) Check(ctx context.Context, state *models.WorkingState) (*Report, error) {
	ts, err := p.registry.Build(p.cfg, state.Trackers, p.transport)
	if err != nil {
		return nil, err
	}

	checks := make([]*Check, len(ts))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range ts {
		g.Go(func() error {
			checks[i] = p.checkOne(gctx, state, t)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	for _, c := range checks {
		for k, v := range c.Scan.Extensions {
			state.SetExtension(c.ID, k, v)
		}
		if !c.Passed && !c.Uploaded {
			state.RecordOutcome(c.Outcome)
		}
	}

	return &Report{Checks: checks}, nil
}

func (p *Pipeline) checkOne(ctx context.Context, state *models.WorkingState, t trackers.Tracker) *Check {
	id := t.Profile().ID
	c := &Check{ID: id, Tracker: t}

	done := func(o models.SubmissionOutcome) *Check {
		c.Outcome = o
		logOutcome(o)
		return c
	}

	if prev, ok := state.Outcomes[id]; ok && prev.Succeeded() && !prev.Debug {
		c.Uploaded = true
		c.Outcome = prev
		return c
	}

	if reason := t.Policy(state); reason != "" {
		return done(p.outcome(id, models.OutcomeSkippedByPolicy, reason))
	}
	if reason := p.rules.Skip(id, state); reason != "" {
		return done(p.outcome(id, models.OutcomeSkippedByPolicy, reason))
	}

	unlock := p.sessions.Lock(id)
	defer unlock()

	c.Scan = p.scanner.FindDuplicates(ctx, state, t)
	switch c.Scan.Verdict {
	case dupes.VerdictDupesFound:
		o := p.outcome(id, models.OutcomeDuplicateFound, fmt.Sprintf("%d existing release(s) match", len(c.Scan.Matches)))
		o.Matches = c.Scan.MatchNames()
		return done(o)
	case dupes.VerdictSearchFailed:
		prompt := fmt.Sprintf("Duplicate search on %s failed (%v). Check the site manually. Upload anyway?", id, c.Scan.Err)
		if !p.confirm(ctx, state, id, prompt) {
			return done(p.outcome(id, models.OutcomeSearchFailed, errString(c.Scan.Err)))
		}
	}

	if a := t.Authenticator(); a != nil {
		sess, err := p.flow.Authenticate(ctx, id, a, p.inputFor(state))
		if err != nil {
			var authErr *auth.Error
			if errors.As(err, &authErr) && authErr.IsRetryableLater() {
				log.Warn().Str("tracker", id).Msg("Tracker refused login for now, retry this item later")
			}
			return done(p.outcome(id, models.OutcomeSubmitFailed, err.Error()))
		}
		c.Session = sess
	}

	c.Passed = true
	return c
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
