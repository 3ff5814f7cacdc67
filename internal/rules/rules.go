// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rules evaluates operator-defined skip expressions per tracker.
package rules

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/upbrr/internal/domain"
	"github.com/autobrr/upbrr/internal/models"
)

// Env is the data a skipIf expression sees.
type Env struct {
	Tracker    string
	Category   string
	Type       string
	Resolution string
	Source     string
	VideoCodec string
	AudioCodec string
	Edition    string
	Group      string
	Disc       string
	SD         bool
	Title      string
	Year       int
	Season     int
	Episode    int
	TVPack     bool
	Name       string
	Personal   bool
}

func NewEnv(tracker string, s *models.WorkingState) Env {
	return Env{
		Tracker:    tracker,
		Category:   string(s.Category),
		Type:       s.Type,
		Resolution: s.Resolution,
		Source:     s.Source,
		VideoCodec: s.VideoCodec,
		AudioCodec: s.AudioCodec,
		Edition:    s.Edition,
		Group:      s.Group,
		Disc:       string(s.IsDisc),
		SD:         s.SD,
		Title:      s.Title,
		Year:       s.Year,
		Season:     s.Season,
		Episode:    s.Episode,
		TVPack:     s.TVPack,
		Name:       s.Name,
		Personal:   s.PersonalRelease,
	}
}

type rule struct {
	source  string
	program *vm.Program
}

// Set holds compiled skipIf expressions keyed by tracker id.
type Set struct {
	rules map[string][]rule
}

// Compile compiles every tracker's skipIf list. A bad expression is a ConfigError.
func Compile(cfg *domain.Config) (*Set, error) {
	s := &Set{rules: make(map[string][]rule)}
	for id, tcfg := range cfg.Trackers {
		id = strings.ToUpper(id)
		for i, src := range tcfg.SkipIf {
			program, err := expr.Compile(src, expr.Env(Env{}), expr.AsBool())
			if err != nil {
				return nil, &domain.ConfigError{
					Key: fmt.Sprintf("trackers.%s.skipIf[%d]", id, i),
					Msg: "invalid expression",
					Err: err,
				}
			}
			s.rules[id] = append(s.rules[id], rule{source: src, program: program})
		}
	}
	return s, nil
}

// Skip returns the first matching expression for the tracker, or "".
func (s *Set) Skip(tracker string, state *models.WorkingState) string {
	if s == nil {
		return ""
	}
	rules := s.rules[strings.ToUpper(tracker)]
	if len(rules) == 0 {
		return ""
	}

	env := NewEnv(tracker, state)
	for _, r := range rules {
		result, err := expr.Run(r.program, env)
		if err != nil {
			log.Error().Err(err).Str("tracker", tracker).Str("expr", r.source).Msg("Failed to evaluate skip expression")
			continue
		}
		if matched, ok := result.(bool); ok && matched {
			return "skipIf: " + r.source
		}
	}
	return ""
}
