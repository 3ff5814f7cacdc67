// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func savedState() *WorkingState {
	s := NewWorkingState("/media/Show.S01E02.1080p.WEB-DL-GRP.mkv")
	s.Debug = true
	s.Trackers = []string{"PTP"}
	s.Category = CategoryTV
	s.Type = "WEBDL"
	s.Resolution = "1080p"
	s.Source = "WEB"
	s.VideoCodec = "H.264"
	s.AudioCodec = "DDP 5.1"
	s.Edition = "Extended"
	s.Group = "GRP"
	s.Title = "Show"
	s.Year = 2020
	s.Season = 1
	s.Episode = 2
	s.IMDbID = 111
	s.TMDbID = 222
	s.TVMazeID = 333
	s.Name = "Show S01E02 1080p WEB-DL DDP 5.1 H.264-GRP"
	s.NameNoTag = "Show S01E02 1080p WEB-DL DDP 5.1 H.264"
	s.CleanName = "Show.S01E02.1080p.WEB-DL.DDP.5.1.H.264-GRP"
	s.InfoHash = "abc"
	s.MediaInfo = "General..."
	s.Screens = 6
	s.ImageList = []Image{{ImgURL: "https://img/1.png"}}
	s.Description = "saved desc"
	s.DescFile = "/tmp/desc.txt"
	s.SetExtension("PTP", "groupid", "42")
	s.RecordOutcome(SubmissionOutcome{Tracker: "PTP", Kind: OutcomeSubmitFailed})
	s.UpdatedAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return s
}

// freshInput differs from savedState in every field and marks all of them provided.
func freshInput() *Input {
	in := NewInput("/media/Show.S01E02.1080p.WEB-DL-GRP.mkv")
	f := in.State
	f.Debug = false
	f.Trackers = []string{"NBL", "PTP"}
	f.Category = CategoryMovie
	f.Type = "REMUX"
	f.Resolution = "2160p"
	f.Source = "BluRay"
	f.VideoCodec = "HEVC"
	f.AudioCodec = "TrueHD"
	f.Edition = "Director's Cut"
	f.Group = "OTHER"
	f.Title = "Other"
	f.Year = 1999
	f.Season = 3
	f.Episode = 9
	f.IMDbID = 999
	f.TMDbID = 888
	f.TVMazeID = 777
	f.Name = "fresh"
	f.NameNoTag = "fresh"
	f.CleanName = "fresh"
	f.InfoHash = "def"
	f.MediaInfo = "fresh"
	f.Screens = 2
	f.ImageList = nil
	f.Description = "fresh desc"
	f.DescFile = "/tmp/other.txt"
	f.Anon = true
	f.PersonalRelease = true
	f.Unattended = true

	in.Provide(AllowList()...)
	in.Provide(FieldResolution, FieldSource)
	return in
}

func TestMergeOnlyAllowListedFieldsOverride(t *testing.T) {
	saved := savedState()
	in := freshInput()

	merged := Merge(saved, in)

	expected := saved.Clone()
	for _, f := range AllowList() {
		overwriteAllowList[f](expected, in.State)
	}
	assert.Equal(t, expected, merged)

	// fields outside the allow-list keep the persisted value even when provided
	assert.Equal(t, "1080p", merged.Resolution)
	assert.Equal(t, "WEB", merged.Source)
	assert.Equal(t, "abc", merged.InfoHash)
	assert.Equal(t, saved.ImageList, merged.ImageList)
	assert.Equal(t, "42", merged.Extension("PTP", "groupid"))
	assert.Equal(t, saved.Outcomes, merged.Outcomes)
}

func TestMergeAbsentFieldKeepsSavedValue(t *testing.T) {
	require.True(t, AllowListed(FieldCategory))

	saved := savedState()
	in := NewInput(saved.Path)
	in.Provide(FieldDebug)

	merged := Merge(saved, in)

	assert.Equal(t, CategoryTV, merged.Category, "category was not supplied")
	assert.False(t, merged.Debug, "debug was supplied as false")
	assert.Equal(t, []string{"PTP"}, merged.Trackers)
}

func TestMergeDoesNotAliasSaved(t *testing.T) {
	saved := savedState()
	merged := Merge(saved, NewInput(saved.Path))

	merged.Trackers[0] = "XXX"
	merged.SetExtension("PTP", "groupid", "1")

	assert.Equal(t, "PTP", saved.Trackers[0])
	assert.Equal(t, "42", saved.Extension("PTP", "groupid"))
}

func TestItemIDStable(t *testing.T) {
	a := ItemID("/data/Movie.2020.1080p.mkv")
	b := ItemID("/data/Movie.2020.1080p.mkv")
	c := ItemID("/data/Other.2020.1080p.mkv")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 36)
}

func TestSuccessCount(t *testing.T) {
	outcomes := []SubmissionOutcome{
		{Tracker: "A", Kind: OutcomeSubmitSucceeded},
		{Tracker: "B", Kind: OutcomeSubmitFailed},
		{Tracker: "C", Kind: OutcomeSubmitSucceeded},
		{Tracker: "D", Kind: OutcomeDuplicateFound},
	}
	assert.Equal(t, 2, SuccessCount(outcomes))
}
