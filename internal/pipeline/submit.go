// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/upbrr/internal/artifact"
	"github.com/autobrr/upbrr/internal/domain"
	"github.com/autobrr/upbrr/internal/dupes"
	"github.com/autobrr/upbrr/internal/fsutil"
	"github.com/autobrr/upbrr/internal/models"
	"github.com/autobrr/upbrr/internal/trackers"
)

var errNotVisible = errors.New("release not visible on tracker yet")

// Result is the submit-phase result for one tracker.
type Result struct {
	Outcome models.SubmissionOutcome
	// Torrent is the tracker-specific artifact, nil when the attempt failed before it existed.
	Torrent *artifact.Artifact
}

func TorrentPath(dir, tracker, cleanName string) string {
	return filepath.Join(dir, fmt.Sprintf("[%s]%s.torrent", tracker, cleanName))
}

func DescriptionPath(dir, tracker string) string {
	return filepath.Join(dir, fmt.Sprintf("[%s]DESCRIPTION.txt", tracker))
}

// Submit submits to every tracker that passed the check phase. base is the
// tracker-neutral artifact; src is the content it was built from, needed when a
// tracker's constraints force a regeneration.
//
// When ctx is cancelled, the outcomes of submissions that finished are still
// recorded into state and returned together with ctx.Err(). Only submissions
// interrupted mid-flight are left out.
func (p *Pipeline) Submit(ctx context.Context, state *models.WorkingState, report *Report, base *artifact.Artifact, src artifact.Source) ([]Result, error) {
	passed := report.Passed()
	results := make([]Result, len(passed))
	finished := make([]bool, len(passed))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range passed {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			unlock := p.sessions.Lock(c.ID)
			defer unlock()
			r := p.submitOne(gctx, state, c, base, src)
			if gctx.Err() != nil && !r.Outcome.Succeeded() {
				log.Warn().Str("tracker", c.ID).Msg("Submission interrupted, outcome unknown")
				return nil
			}
			results[i] = r
			finished[i] = true
			logOutcome(r.Outcome)
			return nil
		})
	}
	_ = g.Wait()

	done := make([]Result, 0, len(results))
	for i, r := range results {
		if finished[i] {
			done = append(done, r)
		}
	}

	p.stateMu.Lock()
	for _, r := range done {
		state.RecordOutcome(r.Outcome)
		if r.Torrent != nil {
			state.SetExtension(r.Outcome.Tracker, "infohash", r.Torrent.InfoHash())
		}
	}
	p.stateMu.Unlock()

	return done, ctx.Err()
}

func (p *Pipeline) submitOne(ctx context.Context, state *models.WorkingState, c *Check, base *artifact.Artifact, src artifact.Source) Result {
	id := c.ID
	t := c.Tracker
	profile := t.Profile()
	dir := filepath.Dir(base.Path)

	failed := func(reason string) Result {
		return Result{Outcome: p.outcome(id, models.OutcomeSubmitFailed, reason)}
	}

	cleanName := state.CleanName
	if cleanName == "" {
		cleanName = filepath.Base(src.Root)
	}

	art, err := artifact.Retarget(p.guard.Codec(), base, TorrentPath(dir, id, cleanName), t.AnnounceURL(), profile.Constraints.Source)
	if err != nil {
		return failed(err.Error())
	}
	art, err = p.guard.EnsureCompliant(ctx, art, profile.Constraints, src)
	if err != nil {
		return failed(err.Error())
	}
	data, err := os.ReadFile(art.Path)
	if err != nil {
		return failed(fmt.Sprintf("read torrent: %v", err))
	}

	desc, err := p.formatter.Description(ctx, state, id)
	if err != nil {
		return failed(fmt.Sprintf("build description: %v", err))
	}
	if err := fsutil.WriteFileAtomic(DescriptionPath(dir, id), []byte(desc), 0o644); err != nil {
		return failed(fmt.Sprintf("write description: %v", err))
	}

	payload, err := t.BuildPayload(ctx, trackers.PayloadInput{
		State:       state,
		Torrent:     art,
		TorrentData: data,
		Description: desc,
		Session:     c.Session,
	})
	if err != nil {
		return Result{Outcome: p.outcome(id, models.OutcomeSubmitFailed, err.Error()), Torrent: art}
	}

	if state.Debug {
		logPayload(id, payload)
		o := p.outcome(id, models.OutcomeSubmitSucceeded, "debug mode, nothing submitted")
		o.Debug = true
		return Result{Outcome: o, Torrent: art}
	}

	sctx, cancel := context.WithTimeout(ctx, p.cfg.SubmitTimeout())
	defer cancel()

	resp, err := t.Submit(sctx, c.Session, payload)
	if err != nil {
		if isTimeout(err) && ctx.Err() == nil {
			log.Warn().Str("tracker", id).Msg("Submission timed out, checking whether the tracker accepted it")
			return Result{Outcome: p.reconcile(ctx, state, t, art), Torrent: art}
		}
		return Result{Outcome: p.outcome(id, models.OutcomeSubmitFailed, err.Error()), Torrent: art}
	}

	link, err := t.ClassifyResponse(resp)
	if err != nil {
		o := p.outcome(id, models.OutcomeSubmitFailed, err.Error())
		o.StatusCode = resp.StatusCode
		return Result{Outcome: o, Torrent: art}
	}

	o := p.outcome(id, models.OutcomeSubmitSucceeded, "")
	o.StatusCode = resp.StatusCode
	o.URL = link
	return Result{Outcome: o, Torrent: art}
}

// reconcile decides a timed-out submission by searching for the release. A
// release that never shows up is reported as ambiguous and never resubmitted.
func (p *Pipeline) reconcile(ctx context.Context, state *models.WorkingState, t trackers.Tracker, art *artifact.Artifact) models.SubmissionOutcome {
	profile := t.Profile()
	attempts := p.cfg.ReconcileAttempts
	if attempts < 1 {
		attempts = 1
	}

	var found trackers.Candidate
	err := retry.Do(
		func() error {
			q, ok := dupes.SearchKey(state, profile)
			if !ok {
				return dupes.ErrNoSearchKey
			}
			sctx, cancel := context.WithTimeout(ctx, p.cfg.SearchTimeout())
			defer cancel()

			res, err := t.Search(sctx, q)
			if err != nil {
				return err
			}
			for _, c := range res.Candidates {
				if sameRelease(state, art, c) {
					found = c
					return nil
				}
			}
			return errNotVisible
		},
		retry.Attempts(uint(attempts)),
		retry.Delay(p.reconcileDelay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, dupes.ErrNoSearchKey)
		}),
	)

	if err != nil {
		o := p.outcome(profile.ID, models.OutcomeSubmitFailed,
			fmt.Sprintf("submission timed out and the release was not found (%v); check the tracker before retrying", err))
		o.Ambiguous = true
		return o
	}

	o := p.outcome(profile.ID, models.OutcomeSubmitSucceeded, "submission timed out; release found on tracker")
	o.Reconciled = true
	o.URL = found.URL
	return o
}

func sameRelease(state *models.WorkingState, art *artifact.Artifact, c trackers.Candidate) bool {
	if c.InfoHash != "" && art != nil && strings.EqualFold(c.InfoHash, art.InfoHash()) {
		return true
	}
	if c.Name == "" {
		return false
	}
	return strings.EqualFold(c.Name, state.Name) || strings.EqualFold(c.Name, state.CleanName)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

var secretFields = []string{"api_key", "apikey", "passkey", "password", "anticsrftoken", "authkey", "token"}

func logPayload(tracker string, p *trackers.Payload) {
	fields := make(map[string]string, len(p.Fields))
	for k, v := range p.Fields {
		value := strings.Join(v, ",")
		for _, s := range secretFields {
			if strings.EqualFold(k, s) {
				value = domain.RedactSecret(value)
				break
			}
		}
		if len(value) > 120 {
			value = value[:120] + "..."
		}
		fields[k] = domain.RedactString(value)
	}
	files := make([]string, 0, len(p.Files))
	for _, f := range p.Files {
		files = append(files, fmt.Sprintf("%s=%s (%d bytes)", f.Field, f.FileName, len(f.Data)))
	}

	log.Info().
		Str("tracker", tracker).
		Str("endpoint", domain.RedactString(p.Endpoint)).
		Interface("fields", fields).
		Strs("files", files).
		Msg("Debug mode, payload not submitted")
}
