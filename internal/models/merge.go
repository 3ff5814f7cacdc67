// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import "slices"

// Field names a WorkingState field that an operator may set on the command line.
type Field string

const (
	FieldTrackers        Field = "trackers"
	FieldDebug           Field = "debug"
	FieldAnon            Field = "anon"
	FieldCategory        Field = "category"
	FieldType            Field = "type"
	FieldScreens         Field = "screens"
	FieldEdition         Field = "manual_edition"
	FieldIMDb            Field = "imdb"
	FieldTMDb            Field = "tmdb_manual"
	FieldTVMaze          Field = "tvmaze_manual"
	FieldSeason          Field = "manual_season"
	FieldEpisode         Field = "manual_episode"
	FieldPersonalRelease Field = "personalrelease"
	FieldUnattended      Field = "unattended"
	FieldDescription     Field = "desc"
	FieldDescFile        Field = "descfile"

	// Not overridable on reload; listed so callers can still mark them as given.
	FieldResolution Field = "resolution"
	FieldSource     Field = "source"
)

// overwriteAllowList maps every field that fresh input may override on reload to
// the copy that applies it. Anything missing here always comes from persisted state.
var overwriteAllowList = map[Field]func(dst, src *WorkingState){
	FieldTrackers:        func(d, s *WorkingState) { d.Trackers = slices.Clone(s.Trackers) },
	FieldDebug:           func(d, s *WorkingState) { d.Debug = s.Debug },
	FieldAnon:            func(d, s *WorkingState) { d.Anon = s.Anon },
	FieldCategory:        func(d, s *WorkingState) { d.Category = s.Category },
	FieldType:            func(d, s *WorkingState) { d.Type = s.Type },
	FieldScreens:         func(d, s *WorkingState) { d.Screens = s.Screens },
	FieldEdition:         func(d, s *WorkingState) { d.Edition = s.Edition },
	FieldIMDb:            func(d, s *WorkingState) { d.IMDbID = s.IMDbID },
	FieldTMDb:            func(d, s *WorkingState) { d.TMDbID = s.TMDbID },
	FieldTVMaze:          func(d, s *WorkingState) { d.TVMazeID = s.TVMazeID },
	FieldSeason:          func(d, s *WorkingState) { d.Season = s.Season },
	FieldEpisode:         func(d, s *WorkingState) { d.Episode = s.Episode },
	FieldPersonalRelease: func(d, s *WorkingState) { d.PersonalRelease = s.PersonalRelease },
	FieldUnattended:      func(d, s *WorkingState) { d.Unattended = s.Unattended },
	FieldDescription:     func(d, s *WorkingState) { d.Description = s.Description },
	FieldDescFile:        func(d, s *WorkingState) { d.DescFile = s.DescFile },
}

// AllowListed reports whether fresh input may override f on reload.
func AllowListed(f Field) bool {
	_, ok := overwriteAllowList[f]
	return ok
}

// AllowList returns the overridable fields in a stable order.
func AllowList() []Field {
	out := make([]Field, 0, len(overwriteAllowList))
	for f := range overwriteAllowList {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Input is the fresh per-run input for one item: a state plus the set of fields the
// operator actually supplied. Unsupplied fields never override anything.
type Input struct {
	State    *WorkingState
	provided map[Field]struct{}
}

func NewInput(path string) *Input {
	return &Input{
		State:    NewWorkingState(path),
		provided: make(map[Field]struct{}),
	}
}

// Provide marks fields as explicitly supplied.
func (in *Input) Provide(fields ...Field) *Input {
	for _, f := range fields {
		in.provided[f] = struct{}{}
	}
	return in
}

func (in *Input) Provided(f Field) bool {
	_, ok := in.provided[f]
	return ok
}

// Merge overlays allow-listed, provided fields of fresh onto a copy of saved.
func Merge(saved *WorkingState, in *Input) *WorkingState {
	merged := saved.Clone()
	for f, apply := range overwriteAllowList {
		if in.Provided(f) {
			apply(merged, in.State)
		}
	}
	return merged
}
