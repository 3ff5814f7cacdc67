// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/autobrr/upbrr/internal/artifact"
	"github.com/autobrr/upbrr/internal/auth"
	"github.com/autobrr/upbrr/internal/batch"
	"github.com/autobrr/upbrr/internal/database"
	"github.com/autobrr/upbrr/internal/domain"
	"github.com/autobrr/upbrr/internal/dupes"
	"github.com/autobrr/upbrr/internal/hooks"
	"github.com/autobrr/upbrr/internal/metacache"
	"github.com/autobrr/upbrr/internal/metrics"
	"github.com/autobrr/upbrr/internal/models"
	"github.com/autobrr/upbrr/internal/pipeline"
	"github.com/autobrr/upbrr/internal/queue"
	"github.com/autobrr/upbrr/internal/release"
	"github.com/autobrr/upbrr/internal/rules"
	"github.com/autobrr/upbrr/internal/seeding"
	"github.com/autobrr/upbrr/internal/session"
	"github.com/autobrr/upbrr/internal/trackers"
	"github.com/autobrr/upbrr/internal/trackers/all"
)

type uploadFlags struct {
	queueName    string
	limit        int
	trackers     []string
	category     string
	typ          string
	resolution   string
	source       string
	season       int
	episode      int
	tvmaze       int
	imdb         string
	tmdb         int
	edition      string
	screens      int
	desc         string
	descFile     string
	anon         bool
	debug        bool
	unattended   bool
	personal     bool
	trackersPass int
	deleteMeta   bool
}

func RunUploadCommand(configDir *string) *cobra.Command {
	var f uploadFlags

	command := &cobra.Command{
		Use:   "upload <path>...",
		Short: "Check, prepare and submit releases",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpload(cmd, *configDir, &f, args)
		},
	}

	fl := command.Flags()
	fl.StringVar(&f.queueName, "queue", "", "process the entries of a directory as a named, resumable queue")
	fl.IntVar(&f.limit, "limit-queue", 0, "stop after processing this many items")
	fl.StringSliceVar(&f.trackers, "trackers", nil, "tracker ids, comma separated (default from config)")
	fl.StringVar(&f.category, "category", "", "MOVIE or TV")
	fl.StringVar(&f.typ, "type", "", "release type, e.g. WEBDL, ENCODE, REMUX")
	fl.StringVar(&f.resolution, "resolution", "", "resolution, e.g. 1080p")
	fl.StringVar(&f.source, "source", "", "source, e.g. BluRay, WEB")
	fl.IntVar(&f.season, "season", 0, "season number")
	fl.IntVar(&f.episode, "episode", 0, "episode number")
	fl.IntVar(&f.tvmaze, "tvmaze", 0, "TVMaze id")
	fl.StringVar(&f.imdb, "imdb", "", "IMDb id, with or without the tt prefix")
	fl.IntVar(&f.tmdb, "tmdb", 0, "TMDb id")
	fl.StringVar(&f.edition, "edition", "", "edition, e.g. Director's Cut")
	fl.IntVar(&f.screens, "screens", 0, "number of screenshots to require")
	fl.StringVar(&f.desc, "desc", "", "description text")
	fl.StringVar(&f.descFile, "descfile", "", "description file")
	fl.BoolVar(&f.anon, "anon", false, "upload anonymously where supported")
	fl.BoolVar(&f.debug, "debug", false, "build and log payloads without submitting")
	fl.BoolVar(&f.unattended, "unattended", false, "never prompt")
	fl.BoolVar(&f.personal, "personal", false, "mark as a personal release")
	fl.IntVar(&f.trackersPass, "trackers-pass", 0, "trackers that must pass checks before uploading (default from config)")
	fl.BoolVar(&f.deleteMeta, "delete-meta", false, "discard persisted state before processing")

	return command
}

func runUpload(cmd *cobra.Command, configDir string, f *uploadFlags, args []string) error {
	appCfg, err := loadConfig(configDir)
	if err != nil {
		return err
	}
	if f.debug {
		appCfg.SetLogLevel("DEBUG")
	}
	cfg := appCfg.Snapshot()
	if cmd.Flags().Changed("trackers-pass") {
		cfg.TrackerPassChecks = f.trackersPass
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topts := trackers.Options{SearchTimeout: cfg.SearchTimeout(), SubmitTimeout: cfg.SubmitTimeout()}
	registry := all.Registry()

	selected := cfg.DefaultTrackers
	if len(f.trackers) > 0 {
		selected = f.trackers
	}
	if _, err := registry.Build(cfg, selected, topts); err != nil {
		return err
	}

	ruleSet, err := rules.Compile(cfg)
	if err != nil {
		return err
	}

	var integrations []batch.PostUpload
	if cfg.Qbittorrent.Enabled() {
		integrations = append(integrations, seeding.New(cfg.Qbittorrent))
	}
	if cfg.PostUploadCommand != "" {
		runner, err := hooks.New(cfg.PostUploadCommand)
		if err != nil {
			return &domain.ConfigError{Key: "postUploadCommand", Msg: "invalid command", Err: err}
		}
		integrations = append(integrations, runner)
	}

	items, err := queue.Build(args, f.queueName)
	if err != nil {
		return errors.Wrap(err, "failed to build item list")
	}

	var ledger *queue.Ledger
	if f.queueName != "" {
		ledger, err = queue.Open(workDir(appCfg), f.queueName)
		if err != nil {
			return errors.Wrap(err, "failed to open queue")
		}
		defer ledger.Close()
	}

	db, err := database.Open(ctx, appCfg.GetDatabasePath())
	if err != nil {
		return errors.Wrap(err, "failed to open history database")
	}
	defer db.Close()

	store, err := session.NewStore(cookieDir(appCfg), cfg.SessionSecret)
	if err != nil {
		return errors.Wrap(err, "failed to open session store")
	}

	var input auth.InputFunc
	if !f.unattended && !cfg.Unattended {
		input = terminalInput()
	}

	cache := metacache.New(workDir(appCfg))

	pipe := pipeline.New(pipeline.Options{
		Config:    cfg,
		Registry:  registry,
		Transport: topts,
		Scanner:   dupes.NewScanner(cfg.SearchTimeout()),
		Flow:      auth.NewFlow(store, cfg.SearchTimeout()),
		Sessions:  store,
		Guard:     artifact.NewGuard(nil),
		Rules:     ruleSet,
		Formatter: release.BBCodeFormatter{},
		Input:     input,
	})

	var recorder *metrics.Recorder
	var observer batch.Observer
	if cfg.MetricsTextfile != "" {
		recorder = metrics.New()
		observer = recorder
	}

	orchestrator := batch.New(batch.Options{
		Config:       cfg,
		Cache:        cache,
		Pipeline:     pipe,
		Ledger:       ledger,
		History:      models.NewHistoryStore(db),
		Metrics:      observer,
		Integrations: integrations,
		Input:        input,
		Limit:        f.limit,
	})

	inputs := make([]*models.Input, 0, len(items))
	for _, path := range items {
		in, err := f.input(cmd, path)
		if err != nil {
			return err
		}
		if f.deleteMeta {
			if err := cache.Delete(in.State.UUID); err != nil {
				return err
			}
		}
		inputs = append(inputs, in)
	}

	summary, runErr := orchestrator.Run(ctx, inputs)
	if summary != nil && len(summary.Items) > 0 {
		cmd.Println(summary.Render())
	}

	if recorder != nil {
		if err := recorder.WriteTextfile(cfg.MetricsTextfile); err != nil {
			log.Error().Err(err).Str("path", cfg.MetricsTextfile).Msg("Failed to write metrics textfile")
		}
	}

	return runErr
}

// input builds the fresh per-item input, marking only flags the operator set.
func (f *uploadFlags) input(cmd *cobra.Command, path string) (*models.Input, error) {
	in := models.NewInput(path)
	s := in.State
	changed := cmd.Flags().Changed

	if changed("trackers") {
		for _, t := range f.trackers {
			s.Trackers = append(s.Trackers, strings.ToUpper(strings.TrimSpace(t)))
		}
		in.Provide(models.FieldTrackers)
	}
	if changed("category") {
		c := models.Category(strings.ToUpper(f.category))
		if c != models.CategoryMovie && c != models.CategoryTV {
			return nil, &domain.ConfigError{Key: "--category", Msg: "must be MOVIE or TV"}
		}
		s.Category = c
		in.Provide(models.FieldCategory)
	}
	if changed("type") {
		s.Type = strings.ToUpper(f.typ)
		in.Provide(models.FieldType)
	}
	if changed("resolution") {
		s.Resolution = f.resolution
		in.Provide(models.FieldResolution)
	}
	if changed("source") {
		s.Source = f.source
		in.Provide(models.FieldSource)
	}
	if changed("season") {
		s.Season = f.season
		in.Provide(models.FieldSeason)
	}
	if changed("episode") {
		s.Episode = f.episode
		in.Provide(models.FieldEpisode)
	}
	if changed("tvmaze") {
		s.TVMazeID = f.tvmaze
		in.Provide(models.FieldTVMaze)
	}
	if changed("imdb") {
		id, err := strconv.Atoi(strings.TrimPrefix(strings.ToLower(f.imdb), "tt"))
		if err != nil {
			return nil, &domain.ConfigError{Key: "--imdb", Msg: "not an IMDb id", Err: err}
		}
		s.IMDbID = id
		in.Provide(models.FieldIMDb)
	}
	if changed("tmdb") {
		s.TMDbID = f.tmdb
		in.Provide(models.FieldTMDb)
	}
	if changed("edition") {
		s.Edition = f.edition
		in.Provide(models.FieldEdition)
	}
	if changed("screens") {
		s.Screens = f.screens
		in.Provide(models.FieldScreens)
	}
	if changed("desc") {
		s.Description = f.desc
		in.Provide(models.FieldDescription)
	}
	if changed("descfile") {
		data, err := os.ReadFile(f.descFile)
		if err != nil {
			return nil, errors.Wrap(err, "failed to read description file")
		}
		s.DescFile = f.descFile
		s.Description = string(data)
		in.Provide(models.FieldDescFile, models.FieldDescription)
	}
	if changed("anon") {
		s.Anon = f.anon
		in.Provide(models.FieldAnon)
	}
	if changed("debug") {
		s.Debug = f.debug
		in.Provide(models.FieldDebug)
	}
	if changed("unattended") {
		s.Unattended = f.unattended
		in.Provide(models.FieldUnattended)
	}
	if changed("personal") {
		s.PersonalRelease = f.personal
		in.Provide(models.FieldPersonalRelease)
	}

	return in, nil
}
