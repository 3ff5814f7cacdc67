// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trackers

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/autobrr/upbrr/internal/domain"
)

// Factory builds a tracker variant from its configuration.
type Factory func(cfg domain.TrackerConfig, opts Options) (Tracker, error)

// Registry maps tracker ids to their variants.
type Registry struct {
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

func (r *Registry) Register(id string, f Factory) {
	r.factories[strings.ToUpper(id)] = f
}

func (r *Registry) IDs() []string {
	return slices.Sorted(maps.Keys(r.factories))
}

// Build instantiates the named trackers. Unknown or unconfigured trackers are a
// ConfigError.
func (r *Registry) Build(cfg *domain.Config, ids []string, opts Options) ([]Tracker, error) {
	out := make([]Tracker, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))

	for _, raw := range ids {
		id := strings.ToUpper(strings.TrimSpace(raw))
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		factory, ok := r.factories[id]
		if !ok {
			msg := fmt.Sprintf("unknown tracker %q", raw)
			if s := r.Suggest(id); s != "" {
				msg += fmt.Sprintf(", did you mean %q?", s)
			}
			return nil, &domain.ConfigError{Key: "trackers", Msg: msg}
		}

		tcfg, ok := cfg.Tracker(id)
		if !ok {
			return nil, &domain.ConfigError{Key: "trackers." + id, Msg: "tracker is not configured"}
		}

		t, err := factory(tcfg, opts)
		if err != nil {
			return nil, &domain.ConfigError{Key: "trackers." + id, Msg: "invalid tracker configuration", Err: err}
		}
		out = append(out, t)
	}

	if len(out) == 0 {
		return nil, &domain.ConfigError{Key: "trackers", Msg: "no trackers selected"}
	}

	return out, nil
}

// Suggest returns the closest registered id, or "" when nothing is close.
func (r *Registry) Suggest(id string) string {
	ids := r.IDs()

	ranks := fuzzy.RankFindNormalizedFold(id, ids)
	if len(ranks) > 0 {
		sort.Sort(ranks)
		return ranks[0].Target
	}

	best, bestDistance := "", 3
	for _, candidate := range ids {
		if d := fuzzy.LevenshteinDistance(strings.ToUpper(id), candidate); d < bestDistance {
			best, bestDistance = candidate, d
		}
	}
	return best
}
