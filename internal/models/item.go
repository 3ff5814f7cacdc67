// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
)

var itemNamespace = uuid.MustParse("6f1c7a9e-3c5b-4e61-9a55-2d8f0b7e4c11")

// ItemID returns the stable identifier for a source path. The same absolute path
// always yields the same id so cached state reattaches across runs.
func ItemID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = filepath.Clean(path)
	}
	return uuid.NewSHA1(itemNamespace, []byte(abs)).String()
}

type Category string

const (
	CategoryMovie Category = "MOVIE"
	CategoryTV    Category = "TV"
)

type DiscType string

const (
	DiscNone  DiscType = ""
	DiscBDMV  DiscType = "BDMV"
	DiscDVD   DiscType = "DVD"
	DiscHDDVD DiscType = "HDDVD"
)

type Image struct {
	ImgURL string `json:"img_url"`
	RawURL string `json:"raw_url"`
	WebURL string `json:"web_url"`
}

// WorkingState is the single source of truth for one item. Every component reads and
// writes it; nothing keeps a private copy.
type WorkingState struct {
	UUID  string `json:"uuid"`
	Path  string `json:"path"`
	Debug bool   `json:"debug"`

	Trackers   []string `json:"trackers,omitempty"`
	Category   Category `json:"category,omitempty"`
	Type       string   `json:"type,omitempty"`
	Resolution string   `json:"resolution,omitempty"`
	Source     string   `json:"source,omitempty"`
	VideoCodec string   `json:"video_codec,omitempty"`
	AudioCodec string   `json:"audio_codec,omitempty"`
	Edition    string   `json:"edition,omitempty"`
	Group      string   `json:"tag,omitempty"`
	IsDisc     DiscType `json:"is_disc,omitempty"`
	SD         bool     `json:"sd,omitempty"`

	Title    string `json:"title,omitempty"`
	Year     int    `json:"year,omitempty"`
	Season   int    `json:"season_int,omitempty"`
	Episode  int    `json:"episode_int,omitempty"`
	TVPack   bool   `json:"tv_pack,omitempty"`
	IMDbID   int    `json:"imdb_id,omitempty"`
	TMDbID   int    `json:"tmdb_id,omitempty"`
	TVMazeID int    `json:"tvmaze_id,omitempty"`

	Name      string   `json:"name,omitempty"`
	NameNoTag string   `json:"name_notag,omitempty"`
	CleanName string   `json:"clean_name,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`

	InfoHash  string `json:"infohash,omitempty"`
	MediaInfo string `json:"mediainfo,omitempty"`

	Anon            bool `json:"anon,omitempty"`
	PersonalRelease bool `json:"personalrelease,omitempty"`
	Unattended      bool `json:"unattended,omitempty"`
	Screens         int  `json:"screens,omitempty"`

	ImageList   []Image `json:"image_list,omitempty"`
	Description string  `json:"description,omitempty"`
	DescFile    string  `json:"descfile,omitempty"`

	// Outcomes holds the last terminal outcome per tracker id.
	Outcomes map[string]SubmissionOutcome `json:"outcomes,omitempty"`

	// Extensions is tracker scratch data keyed by tracker id, e.g. a resolved group id.
	Extensions map[string]map[string]string `json:"extensions,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

func NewWorkingState(path string) *WorkingState {
	return &WorkingState{
		UUID: ItemID(path),
		Path: path,
	}
}

// Clone returns a deep copy.
func (s *WorkingState) Clone() *WorkingState {
	if s == nil {
		return nil
	}
	out := *s
	out.Trackers = slices.Clone(s.Trackers)
	out.Warnings = slices.Clone(s.Warnings)
	out.ImageList = slices.Clone(s.ImageList)
	out.Outcomes = maps.Clone(s.Outcomes)
	if s.Extensions != nil {
		out.Extensions = make(map[string]map[string]string, len(s.Extensions))
		for k, v := range s.Extensions {
			out.Extensions[k] = maps.Clone(v)
		}
	}
	return &out
}

func (s *WorkingState) Extension(tracker, key string) string {
	if s.Extensions == nil {
		return ""
	}
	return s.Extensions[tracker][key]
}

func (s *WorkingState) SetExtension(tracker, key, value string) {
	if s.Extensions == nil {
		s.Extensions = make(map[string]map[string]string)
	}
	if s.Extensions[tracker] == nil {
		s.Extensions[tracker] = make(map[string]string)
	}
	s.Extensions[tracker][key] = value
}

func (s *WorkingState) RecordOutcome(o SubmissionOutcome) {
	if s.Outcomes == nil {
		s.Outcomes = make(map[string]SubmissionOutcome)
	}
	s.Outcomes[o.Tracker] = o
}

func (s *WorkingState) IsTV() bool {
	return s.Category == CategoryTV
}
