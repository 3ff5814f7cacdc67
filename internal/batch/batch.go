// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package batch drives items through the tracker pipeline, one checkpointed phase
// at a time.
package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/autobrr/upbrr/internal/artifact"
	"github.com/autobrr/upbrr/internal/auth"
	"github.com/autobrr/upbrr/internal/domain"
	"github.com/autobrr/upbrr/internal/metacache"
	"github.com/autobrr/upbrr/internal/models"
	"github.com/autobrr/upbrr/internal/pipeline"
	"github.com/autobrr/upbrr/internal/queue"
	"github.com/autobrr/upbrr/internal/release"
)

const baseTorrentName = "BASE.torrent"

// HistoryRecorder stores terminal outcomes. *models.HistoryStore satisfies it.
type HistoryRecorder interface {
	Record(ctx context.Context, itemUUID, name string, o models.SubmissionOutcome) error
	HasSucceeded(ctx context.Context, itemUUID, tracker string) (bool, error)
}

type Observer interface {
	ObserveOutcome(o models.SubmissionOutcome)
	ObserveItem(result string)
}

// PostUpload runs after a confirmed, non-debug submission.
type PostUpload interface {
	AfterUpload(ctx context.Context, u models.Upload) error
}

type Options struct {
	Config   *domain.Config
	Cache    *metacache.Cache
	Pipeline *pipeline.Pipeline
	// Ledger is nil outside queue runs.
	Ledger *queue.Ledger

	Gatherer release.Gatherer
	Namer    release.Namer
	Images   release.ImageHost
	Codec    artifact.Codec

	History      HistoryRecorder
	Metrics      Observer
	Integrations []PostUpload

	Input auth.InputFunc
	// Limit caps the items processed in this run. Zero means no limit.
	Limit int
}

type Orchestrator struct {
	cfg          *domain.Config
	cache        *metacache.Cache
	pipeline     *pipeline.Pipeline
	ledger       *queue.Ledger
	gatherer     release.Gatherer
	namer        release.Namer
	images       release.ImageHost
	codec        artifact.Codec
	history      HistoryRecorder
	metrics      Observer
	integrations []PostUpload
	input        auth.InputFunc
	limit        int
}

func New(o Options) *Orchestrator {
	b := &Orchestrator{
		cfg:          o.Config,
		cache:        o.Cache,
		pipeline:     o.Pipeline,
		ledger:       o.Ledger,
		gatherer:     o.Gatherer,
		namer:        o.Namer,
		images:       o.Images,
		codec:        o.Codec,
		history:      o.History,
		metrics:      o.Metrics,
		integrations: o.Integrations,
		input:        o.Input,
		limit:        o.Limit,
	}
	if b.gatherer == nil {
		b.gatherer = release.RlsGatherer{}
	}
	if b.namer == nil {
		b.namer = release.DefaultNamer{}
	}
	if b.images == nil {
		b.images = release.ExistingImages{}
	}
	if b.codec == nil {
		b.codec = artifact.MetainfoCodec{}
	}
	return b
}

// Run processes inputs in order. Items already in the ledger are skipped and the
// limit stops the loop early. Only configuration and persistence failures are
// returned; anything else is reported per item in the summary.
func (b *Orchestrator) Run(ctx context.Context, inputs []*models.Input) (*Summary, error) {
	pending := make([]*models.Input, 0, len(inputs))
	summary := &Summary{}

	for _, in := range inputs {
		if b.ledger != nil && b.ledger.IsDone(in.State.Path) {
			log.Info().Str("path", in.State.Path).Msg("Already processed in this queue, skipping")
			summary.Items = append(summary.Items, &ItemReport{Path: in.State.Path, UUID: in.State.UUID, Result: ResultSkipped})
			continue
		}
		if b.limit > 0 && len(pending) >= b.limit {
			log.Info().Int("limit", b.limit).Msg("Queue limit reached")
			break
		}
		pending = append(pending, in)
	}

	workers := b.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	reports := make([]*ItemReport, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, in := range pending {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			r, err := b.processItem(gctx, in)
			reports[i] = r
			return err
		})
	}
	err := g.Wait()

	for _, r := range reports {
		if r != nil {
			summary.Items = append(summary.Items, r)
		}
	}
	return summary, err
}

func (b *Orchestrator) processItem(ctx context.Context, in *models.Input) (*ItemReport, error) {
	start := time.Now()
	report := &ItemReport{Path: in.State.Path, UUID: in.State.UUID}

	itemErr := func(err error) (*ItemReport, error) {
		log.Error().Err(err).Str("path", report.Path).Msg("Item failed")
		report.Result = ResultFailed
		report.Err = err
		b.observeItem(report.Result)
		return report, nil
	}

	state, restored, err := b.cache.LoadOrInit(in)
	if err != nil {
		var corrupt *metacache.CorruptStateError
		if errors.As(err, &corrupt) {
			return itemErr(err)
		}
		return report, err
	}
	b.applyDefaults(state)
	report.Name = state.Name

	log.Info().Str("path", state.Path).Str("item", state.UUID).Bool("restored", restored).Msg("Processing item")
	if !restored {
		b.warnEarlierUploads(ctx, state)
	}

	if err := b.gatherer.Gather(ctx, state); err != nil {
		return itemErr(fmt.Errorf("gather metadata: %w", err))
	}
	names := b.namer.DisplayName(state)
	state.NameNoTag = names.NameNoTag
	state.Name = names.Name
	state.CleanName = names.CleanName
	state.Warnings = names.Warnings
	for _, w := range names.Warnings {
		log.Warn().Str("item", state.UUID).Msg(w)
	}
	report.Name = state.Name

	if err := b.cache.Checkpoint(state, metacache.PhaseGathered); err != nil {
		return report, err
	}
	if err := b.cache.Checkpoint(state, metacache.PhasePreTrackers); err != nil {
		return report, err
	}

	checks, err := b.pipeline.Check(ctx, state)
	if err != nil {
		return report, err
	}
	report.Passed = checks.PassCount()
	report.Outcomes = checks.Outcomes()
	for _, c := range checks.Checks {
		if c.Uploaded {
			report.reused = append(report.reused, c.ID)
		}
	}

	threshold := b.cfg.TrackerPassChecks
	if threshold < 1 {
		threshold = 1
	}

	if report.Passed < threshold && !state.Debug {
		log.Error().
			Str("item", state.UUID).
			Str("name", state.Name).
			Int("passed", report.Passed).
			Int("required", threshold).
			Msg("Not enough trackers passed checks, not uploading")
		report.Result = ResultBelowThreshold
		return b.finish(ctx, state, report, nil)
	}

	var results []pipeline.Result
	if len(checks.Passed()) > 0 {
		base, src, err := b.prepare(ctx, state)
		if err != nil {
			if isFatal(err) {
				return report, err
			}
			_ = b.cache.Checkpoint(state, metacache.PhaseSubmission)
			return itemErr(err)
		}

		results, err = b.pipeline.Submit(ctx, state, checks, base, src)
		for _, r := range results {
			report.Outcomes = append(report.Outcomes, r.Outcome)
		}
		if err != nil {
			return b.interrupted(ctx, state, report, err)
		}
	}

	report.Succeeded = models.SuccessCount(report.Outcomes)
	switch {
	case state.Debug:
		report.Result = ResultDebug
	case report.Succeeded >= threshold:
		report.Result = ResultUploaded
	default:
		report.Result = ResultBelowThreshold
		log.Error().
			Str("item", state.UUID).
			Int("succeeded", report.Succeeded).
			Int("required", threshold).
			Msg("Fewer trackers accepted the upload than required")
	}

	report, err = b.finish(ctx, state, report, results)
	log.Info().
		Str("item", state.UUID).
		Str("result", string(report.Result)).
		Dur("took", time.Since(start)).
		Msg("Item done")
	return report, err
}

func (b *Orchestrator) applyDefaults(state *models.WorkingState) {
	if len(state.Trackers) == 0 {
		state.Trackers = append([]string(nil), b.cfg.DefaultTrackers...)
	}
	if b.cfg.Unattended {
		state.Unattended = true
	}
	if state.Screens == 0 {
		state.Screens = b.cfg.Screens
	}
}

// prepare runs item-level preparation: hosted images and the base torrent.
func (b *Orchestrator) prepare(ctx context.Context, state *models.WorkingState) (*artifact.Artifact, artifact.Source, error) {
	src := artifact.Source{Root: state.Path, Disc: state.IsDisc != models.DiscNone}

	images, err := b.images.EnsureImages(ctx, state, state.Screens)
	if err != nil {
		return nil, src, fmt.Errorf("images: %w", err)
	}
	state.ImageList = images

	if cutoff := b.cfg.CutoffScreens; len(images) < cutoff {
		if state.Unattended || b.input == nil {
			log.Warn().Int("images", len(images)).Int("cutoff", cutoff).Msg("Fewer images than the cutoff, continuing unattended")
		} else if !b.confirm(ctx, fmt.Sprintf("Only %d of %d required images are available. Continue?", len(images), cutoff)) {
			return nil, src, fmt.Errorf("only %d images, %d required", len(images), cutoff)
		}
	}
	if err := b.cache.Checkpoint(state, metacache.PhaseScreenshots); err != nil {
		return nil, src, fatal(err)
	}

	base, err := b.baseTorrent(ctx, state, src)
	if err != nil {
		return nil, src, err
	}
	state.InfoHash = base.InfoHash()
	if err := b.cache.Checkpoint(state, metacache.PhaseTorrent); err != nil {
		return nil, src, fatal(err)
	}

	return base, src, nil
}

// baseTorrent reuses BASE.torrent from the item directory or creates it.
func (b *Orchestrator) baseTorrent(ctx context.Context, state *models.WorkingState, src artifact.Source) (*artifact.Artifact, error) {
	path := filepath.Join(b.cache.ItemDir(state.UUID), baseTorrentName)

	if _, err := os.Stat(path); err == nil {
		base, err := b.codec.Read(path)
		if err == nil {
			log.Debug().Str("torrent", path).Msg("Reusing base torrent")
			return base, nil
		}
		log.Warn().Err(err).Str("torrent", path).Msg("Base torrent unreadable, recreating")
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	log.Info().Str("path", src.Root).Msg("Creating base torrent")
	return artifact.Create(ctx, b.codec, src, path, artifact.CreateOptions{Private: true})
}

func (b *Orchestrator) confirm(ctx context.Context, prompt string) bool {
	answer, err := b.input(ctx, auth.NeedsInput{Kind: auth.InputConfirm, Prompt: prompt})
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// warnEarlierUploads flags trackers that already accepted this item in a run
// whose state has since been deleted.
func (b *Orchestrator) warnEarlierUploads(ctx context.Context, state *models.WorkingState) {
	if b.history == nil {
		return
	}
	for _, id := range state.Trackers {
		ok, err := b.history.HasSucceeded(ctx, state.UUID, id)
		if err != nil {
			log.Debug().Err(err).Str("tracker", id).Msg("History lookup failed")
			continue
		}
		if ok {
			log.Warn().Str("item", state.UUID).Str("tracker", id).Msg("History shows an earlier upload of this item")
		}
	}
}

// finish persists the outcome of an item, runs post-submission work and marks the
// item done in the ledger.
func (b *Orchestrator) finish(ctx context.Context, state *models.WorkingState, report *ItemReport, results []pipeline.Result) (*ItemReport, error) {
	if err := b.cache.Checkpoint(state, metacache.PhaseSubmission); err != nil {
		return report, err
	}
	b.recordOutcomes(ctx, state, report)

	for _, r := range results {
		if !r.Outcome.Succeeded() || r.Outcome.Debug || r.Torrent == nil {
			continue
		}
		u := models.Upload{
			Tracker:     r.Outcome.Tracker,
			Name:        state.Name,
			ContentPath: state.Path,
			TorrentPath: r.Torrent.Path,
			URL:         r.Outcome.URL,
		}
		for _, p := range b.integrations {
			if err := p.AfterUpload(ctx, u); err != nil {
				log.Error().Err(err).Str("tracker", u.Tracker).Msg("Post-upload integration failed")
			}
		}
	}

	b.observeItem(report.Result)

	if state.Debug || b.ledger == nil {
		return report, nil
	}
	if err := b.ledger.MarkDone(state.Path); err != nil {
		return report, fmt.Errorf("update queue ledger: %w", err)
	}
	return report, nil
}

// interrupted keeps the outcomes of submissions that finished before the run was
// cancelled. The item stays out of the ledger so a resume picks it up, and the
// checkpointed successes stop it from submitting to those trackers again.
func (b *Orchestrator) interrupted(ctx context.Context, state *models.WorkingState, report *ItemReport, cause error) (*ItemReport, error) {
	report.Succeeded = models.SuccessCount(report.Outcomes)
	report.Result = ResultFailed
	report.Err = cause

	if err := b.cache.Checkpoint(state, metacache.PhaseSubmission); err != nil {
		return report, errors.Join(cause, err)
	}
	b.recordOutcomes(context.WithoutCancel(ctx), state, report)
	b.observeItem(report.Result)

	log.Warn().
		Str("item", state.UUID).
		Int("succeeded", report.Succeeded).
		Msg("Submission interrupted, finished outcomes saved")
	return report, cause
}

func (b *Orchestrator) recordOutcomes(ctx context.Context, state *models.WorkingState, report *ItemReport) {
	for _, o := range report.Outcomes {
		if slices.Contains(report.reused, o.Tracker) {
			continue
		}
		if b.metrics != nil {
			b.metrics.ObserveOutcome(o)
		}
		if b.history == nil {
			continue
		}
		if err := b.history.Record(ctx, state.UUID, state.Name, o); err != nil {
			log.Error().Err(err).Str("tracker", o.Tracker).Msg("Failed to record submission history")
		}
	}
}

func (b *Orchestrator) observeItem(result Result) {
	if b.metrics != nil {
		b.metrics.ObserveItem(string(result))
	}
}

type fatalError struct{ err error }

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

func fatal(err error) error { return &fatalError{err: err} }

func isFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f) || errors.Is(err, context.Canceled)
}
