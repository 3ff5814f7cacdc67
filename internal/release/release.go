// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package release holds the default metadata, naming, image and description
// collaborators used by the batch orchestrator.
package release

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/moistari/rls"

	"github.com/autobrr/upbrr/internal/models"
)

// Gatherer fills metadata on an item.
type Gatherer interface {
	Gather(ctx context.Context, state *models.WorkingState) error
}

type Names struct {
	NameNoTag string
	Name      string
	CleanName string
	Warnings  []string
}

type Namer interface {
	DisplayName(state *models.WorkingState) Names
}

// ImageHost makes sure an item has at least min hosted images.
type ImageHost interface {
	EnsureImages(ctx context.Context, state *models.WorkingState, min int) ([]models.Image, error)
}

// Formatter renders the description a tracker receives.
type Formatter interface {
	Description(ctx context.Context, state *models.WorkingState, tracker string) (string, error)
}

// RlsGatherer derives metadata from the release name. Fields already set, for
// example from a restored checkpoint or operator input, are kept.
type RlsGatherer struct{}

func (RlsGatherer) Gather(_ context.Context, state *models.WorkingState) error {
	if state.IsDisc == models.DiscNone {
		state.IsDisc = DetectDisc(state.Path)
	}

	r := rls.ParseString(releaseName(state.Path))

	if state.Category == "" {
		switch r.Type {
		case rls.Episode, rls.Series:
			state.Category = models.CategoryTV
		default:
			state.Category = models.CategoryMovie
		}
	}

	setString(&state.Title, r.Title)
	setInt(&state.Year, r.Year)
	setString(&state.Resolution, r.Resolution)
	setString(&state.Source, r.Source)
	setString(&state.Group, r.Group)
	if len(r.Codec) > 0 {
		setString(&state.VideoCodec, r.Codec[0])
	}
	if len(r.Audio) > 0 {
		setString(&state.AudioCodec, strings.Join(r.Audio, " "))
	}
	if len(r.Edition) > 0 {
		setString(&state.Edition, strings.Join(r.Edition, " "))
	}

	if state.IsTV() {
		setInt(&state.Season, r.Series)
		setInt(&state.Episode, r.Episode)
		if state.Season > 0 && state.Episode == 0 {
			state.TVPack = true
		}
	}

	switch state.Resolution {
	case "480p", "480i", "576p", "576i":
		state.SD = true
	}

	return nil
}

// releaseName is the directory or file name without a container extension.
func releaseName(path string) string {
	name := filepath.Base(filepath.Clean(path))
	switch strings.ToLower(filepath.Ext(name)) {
	case ".mkv", ".mp4", ".ts", ".avi", ".m2ts":
		name = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return name
}

// DetectDisc reports the disc layout found at path.
func DetectDisc(path string) models.DiscType {
	fi, err := os.Stat(path)
	if err != nil || !fi.IsDir() {
		return models.DiscNone
	}

	checks := []struct {
		dir  string
		disc models.DiscType
	}{
		{dir: "BDMV", disc: models.DiscBDMV},
		{dir: "VIDEO_TS", disc: models.DiscDVD},
		{dir: "HVDVD_TS", disc: models.DiscHDDVD},
	}

	found := models.DiscNone
	_ = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		for _, c := range checks {
			if d.Name() == c.dir {
				found = c.disc
				return filepath.SkipAll
			}
		}
		return nil
	})
	return found
}

func setString(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if *dst == 0 {
		*dst = v
	}
}
