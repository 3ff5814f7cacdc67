// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package dupes decides whether a release already exists on a tracker.
package dupes

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/avast/retry-go"
	"github.com/moistari/rls"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/autobrr/upbrr/internal/models"
	"github.com/autobrr/upbrr/internal/trackers"
)

type Verdict string

const (
	VerdictClear        Verdict = "clear"
	VerdictDupesFound   Verdict = "dupes-found"
	VerdictSearchFailed Verdict = "search-failed"
)

var ErrNoSearchKey = errors.New("item has no usable search key")

// Result is the terminal verdict of one duplicate scan.
type Result struct {
	Verdict    Verdict
	Query      trackers.SearchQuery
	Matches    []trackers.Candidate
	Extensions map[string]string
	Err        error
}

func (r Result) MatchNames() []string {
	names := make([]string, 0, len(r.Matches))
	for _, m := range r.Matches {
		names = append(names, m.Name)
	}
	return names
}

type Scanner struct {
	timeout  time.Duration
	releases *ttlcache.Cache[string, rls.Release]

	// rate-limited searches are retried, every other failure is final
	rateLimitAttempts uint
	rateLimitDelay    time.Duration
}

func NewScanner(timeout time.Duration) *Scanner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Scanner{
		timeout: timeout,
		releases: ttlcache.New(ttlcache.Options[string, rls.Release]{}.
			SetDefaultTTL(30 * time.Minute)),
		rateLimitAttempts: 3,
		rateLimitDelay:    2 * time.Second,
	}
}

// SearchKey picks the first key in the tracker's preference order the item can fill.
// A group id is only known after an earlier search on the same tracker pinned it.
func SearchKey(state *models.WorkingState, profile trackers.Profile) (trackers.SearchQuery, bool) {
	for _, kind := range profile.SearchKeys {
		switch kind {
		case trackers.KeyGroupID:
			if id := state.Extension(profile.ID, trackers.ExtGroupID); id != "" {
				return trackers.SearchQuery{Kind: kind, Value: id}, true
			}
		case trackers.KeyTVMaze:
			if state.TVMazeID > 0 {
				return trackers.SearchQuery{Kind: kind, Value: strconv.Itoa(state.TVMazeID)}, true
			}
		case trackers.KeyIMDb:
			if state.IMDbID > 0 {
				return trackers.SearchQuery{Kind: kind, Value: strconv.Itoa(state.IMDbID)}, true
			}
		case trackers.KeyTitle:
			if title := NormalizeTitle(state.Title); title != "" {
				return trackers.SearchQuery{Kind: kind, Value: title, Year: state.Year}, true
			}
		}
	}
	return trackers.SearchQuery{}, false
}

// NormalizeTitle strips accents and punctuation for free-text searches.
func NormalizeTitle(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	s, _, _ = transform.String(t, s)
	s = strings.ReplaceAll(s, "&", "and")

	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case r == '\'' || r == '’':
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// FindDuplicates runs one search and classifies the result. Any search problem is
// search-failed, never clear. The item is not modified.
func (s *Scanner) FindDuplicates(ctx context.Context, state *models.WorkingState, t trackers.Tracker) Result {
	profile := t.Profile()

	q, ok := SearchKey(state, profile)
	if !ok {
		return Result{Verdict: VerdictSearchFailed, Err: &trackers.SearchError{Tracker: profile.ID, Err: ErrNoSearchKey}}
	}

	var res *trackers.SearchResult
	err := retry.Do(
		func() error {
			sctx, cancel := context.WithTimeout(ctx, s.timeout)
			defer cancel()

			var err error
			res, err = t.Search(sctx, q)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(s.rateLimitAttempts),
		retry.Delay(s.rateLimitDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isRateLimited),
		retry.OnRetry(func(n uint, err error) {
			log.Debug().Str("tracker", profile.ID).Uint("attempt", n+1).Msg("Search rate limited, backing off")
		}),
	)
	if err != nil {
		log.Warn().Err(err).Str("tracker", profile.ID).Str("key", string(q.Kind)).Msg("Duplicate search failed")
		return Result{Verdict: VerdictSearchFailed, Query: q, Err: err}
	}
	if res == nil {
		return Result{Verdict: VerdictSearchFailed, Query: q, Err: &trackers.SearchError{Tracker: profile.ID, Err: errors.New("empty search result")}}
	}

	matches := s.Match(state, profile, res.Candidates)

	out := Result{Verdict: VerdictClear, Query: q, Matches: matches, Extensions: res.Extensions}
	if len(matches) > 0 {
		out.Verdict = VerdictDupesFound
	}

	log.Debug().
		Str("tracker", profile.ID).
		Str("key", string(q.Kind)).
		Int("candidates", len(res.Candidates)).
		Int("matches", len(matches)).
		Str("verdict", string(out.Verdict)).
		Msg("Duplicate scan complete")

	return out
}

func isRateLimited(err error) bool {
	var searchErr *trackers.SearchError
	return errors.As(err, &searchErr) && searchErr.IsRateLimited()
}

// Match filters candidates by quality tier, then by exact season or episode number
// parsed from the candidate name. Titles are never compared.
func (s *Scanner) Match(state *models.WorkingState, profile trackers.Profile, candidates []trackers.Candidate) []trackers.Candidate {
	tier := profile.Tier
	if tier == nil {
		tier = trackers.ResolutionTier
	}
	want := tier(state.Resolution, state.SD)

	var out []trackers.Candidate
	for _, c := range candidates {
		r := s.parse(c.Name)

		if want != "" {
			got := c.Tier
			if got == "" {
				res := c.Resolution
				if res == "" {
					res = r.Resolution
				}
				got = tier(res, false)
			}
			if got != want {
				continue
			}
		}

		if state.IsTV() && !episodeMatches(state, c, r) {
			continue
		}
		out = append(out, c)
	}
	return out
}

func episodeMatches(state *models.WorkingState, c trackers.Candidate, r rls.Release) bool {
	if state.TVPack {
		if !c.Pack {
			return false
		}
		season := r.Series
		if season == 0 {
			season = 1
		}
		return season == state.Season
	}

	if r.Episode != state.Episode {
		return false
	}
	return r.Series == 0 || state.Season == 0 || r.Series == state.Season
}

func (s *Scanner) parse(name string) rls.Release {
	if r, ok := s.releases.Get(name); ok {
		return r
	}
	r := rls.ParseString(name)
	s.releases.Set(name, r, ttlcache.DefaultTTL)
	return r
}
