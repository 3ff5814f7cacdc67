// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package ptp implements a cookie-session tracker with CSRF tokens and two-factor login.
package ptp

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/autobrr/upbrr/internal/artifact"
	"github.com/autobrr/upbrr/internal/auth"
	"github.com/autobrr/upbrr/internal/domain"
	"github.com/autobrr/upbrr/internal/models"
	"github.com/autobrr/upbrr/internal/trackers"
)

const (
	ID             = "PTP"
	defaultBaseURL = "https://passthepopcorn.me"

	pieceCeiling int64 = 16 << 20

	notLoggedInMarker = "login.php?act=recover"
	quotaMessage      = "Your popcorn quota has been reached, come back later!"
)

var passkeyRegex = regexp.MustCompile(`^https?://[^/]+/(.+)/announce`)

type Tracker struct {
	cfg     domain.TrackerConfig
	base    *url.URL
	passkey string
	opts    trackers.Options
}

var _ trackers.Tracker = (*Tracker)(nil)
var _ auth.Authenticator = (*Tracker)(nil)

func New(cfg domain.TrackerConfig, opts trackers.Options) (trackers.Tracker, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errors.New("username and password are required")
	}
	if cfg.APIUser == "" || cfg.APIKey == "" {
		return nil, errors.New("apiUser and apiKey are required")
	}

	m := passkeyRegex.FindStringSubmatch(cfg.AnnounceURL)
	if m == nil {
		return nil, fmt.Errorf("announce url %s does not contain a passkey", domain.RedactString(cfg.AnnounceURL))
	}

	rawBase := cfg.BaseURL
	if rawBase == "" {
		rawBase = defaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(rawBase, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	return &Tracker{cfg: cfg, base: base, passkey: m[1], opts: opts}, nil
}

func (t *Tracker) Profile() trackers.Profile {
	ceiling := pieceCeiling
	if t.cfg.MaxPieceLength > 0 && t.cfg.MaxPieceLength < ceiling {
		ceiling = t.cfg.MaxPieceLength
	}
	return trackers.Profile{
		ID:          ID,
		Constraints: artifact.Constraints{MaxPieceLength: ceiling, Source: ID},
		SearchKeys:  []trackers.KeyKind{trackers.KeyGroupID, trackers.KeyIMDb, trackers.KeyTitle},
		Tier:        trackers.QualityTier,
	}
}

func (t *Tracker) Policy(state *models.WorkingState) string {
	if state.Category != models.CategoryMovie {
		return "only movies are accepted"
	}
	return ""
}

func (t *Tracker) Authenticator() auth.Authenticator {
	return t
}

func (t *Tracker) AnnounceURL() string {
	return t.cfg.AnnounceURL
}

func (t *Tracker) BaseURL() *url.URL {
	return t.base
}

func (t *Tracker) endpoint(path string, query url.Values) string {
	u := *t.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}
