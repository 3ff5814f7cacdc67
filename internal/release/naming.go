// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package release

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/autobrr/upbrr/internal/models"
)

// DefaultNamer builds scene-style names from the working state.
type DefaultNamer struct{}

func (DefaultNamer) DisplayName(s *models.WorkingState) Names {
	var parts []string
	var warnings []string

	if s.Title == "" {
		warnings = append(warnings, "title is unknown")
	}
	parts = append(parts, s.Title)

	if s.IsTV() {
		switch {
		case s.TVPack:
			parts = append(parts, fmt.Sprintf("S%02d", s.Season))
		case s.Season > 0 || s.Episode > 0:
			parts = append(parts, fmt.Sprintf("S%02dE%02d", s.Season, s.Episode))
		}
	} else if s.Year > 0 {
		parts = append(parts, strconv.Itoa(s.Year))
	}

	parts = append(parts, s.Edition)
	if s.Resolution == "" {
		warnings = append(warnings, "resolution is unknown")
	}
	parts = append(parts, s.Resolution, s.Source, s.AudioCodec, s.VideoCodec)

	noTag := strings.Join(strings.Fields(strings.Join(parts, " ")), " ")

	name := noTag
	if s.Group != "" {
		name += "-" + s.Group
	} else {
		warnings = append(warnings, "release group is unknown")
	}

	return Names{
		NameNoTag: noTag,
		Name:      name,
		CleanName: CleanName(name),
		Warnings:  warnings,
	}
}

// CleanName is a file-system safe form of name.
func CleanName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '.':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune('.')
		}
	}
	out := b.String()
	for strings.Contains(out, "..") {
		out = strings.ReplaceAll(out, "..", ".")
	}
	return strings.Trim(out, ".")
}
