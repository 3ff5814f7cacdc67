// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package dupes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/upbrr/internal/auth"
	"github.com/autobrr/upbrr/internal/domain"
	"github.com/autobrr/upbrr/internal/models"
	"github.com/autobrr/upbrr/internal/trackers"
	"github.com/autobrr/upbrr/internal/trackers/nbl"
)

type fakeTracker struct {
	profile trackers.Profile
	result  *trackers.SearchResult
	err     error
	// errs are returned by the first searches before err/result apply
	errs    []error
	queries []trackers.SearchQuery
}

func (f *fakeTracker) Profile() trackers.Profile { return f.profile }
func (f *fakeTracker) Policy(*models.WorkingState) string { return "" }
func (f *fakeTracker) Authenticator() auth.Authenticator { return nil }
func (f *fakeTracker) AnnounceURL() string { return "" }
func (f *fakeTracker) ClassifyResponse(*trackers.Response) (string, error) {
	return "", nil
}
func (f *fakeTracker) BuildPayload(context.Context, trackers.PayloadInput) (*trackers.Payload, error) {
	return nil, nil
}
func (f *fakeTracker) Submit(context.Context, *auth.Session, *trackers.Payload) (*trackers.Response, error) {
	return nil, nil
}
func (f *fakeTracker) Search(_ context.Context, q trackers.SearchQuery) (*trackers.SearchResult, error) {
	f.queries = append(f.queries, q)
	if n := len(f.queries); n <= len(f.errs) {
		return nil, f.errs[n-1]
	}
	return f.result, f.err
}

func candidates(names ...string) []trackers.Candidate {
	out := make([]trackers.Candidate, 0, len(names))
	for _, n := range names {
		out = append(out, trackers.Candidate{Name: n})
	}
	return out
}

func TestSearchKeyPreference(t *testing.T) {
	profile := trackers.Profile{ID: "NBL", SearchKeys: []trackers.KeyKind{trackers.KeyGroupID, trackers.KeyTVMaze, trackers.KeyIMDb, trackers.KeyTitle}}
	pinned := models.WorkingState{TVMazeID: 82, IMDbID: 944947}
	pinned.SetExtension("NBL", trackers.ExtGroupID, "512")
	otherTracker := models.WorkingState{TVMazeID: 82}
	otherTracker.SetExtension("PTP", trackers.ExtGroupID, "512")

	tests := []struct {
		name  string
		state models.WorkingState
		want  trackers.SearchQuery
		ok    bool
	}{
		{name: "group id first", state: pinned, want: trackers.SearchQuery{Kind: trackers.KeyGroupID, Value: "512"}, ok: true},
		{name: "group id of another tracker is ignored", state: otherTracker, want: trackers.SearchQuery{Kind: trackers.KeyTVMaze, Value: "82"}, ok: true},
		{name: "tvmaze first", state: models.WorkingState{TVMazeID: 82, IMDbID: 944947, Title: "Show"}, want: trackers.SearchQuery{Kind: trackers.KeyTVMaze, Value: "82"}, ok: true},
		{name: "imdb second", state: models.WorkingState{IMDbID: 944947, Title: "Show"}, want: trackers.SearchQuery{Kind: trackers.KeyIMDb, Value: "944947"}, ok: true},
		{name: "title last", state: models.WorkingState{Title: "Amélie & Co: Part II", Year: 2001}, want: trackers.SearchQuery{Kind: trackers.KeyTitle, Value: "Amelie and Co Part II", Year: 2001}, ok: true},
		{name: "nothing usable", state: models.WorkingState{Title: " - "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := SearchKey(&tt.state, profile)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearchKeyRespectsTrackerOrder(t *testing.T) {
	state := &models.WorkingState{TVMazeID: 82, IMDbID: 1}
	got, ok := SearchKey(state, trackers.Profile{ID: "PTP", SearchKeys: []trackers.KeyKind{trackers.KeyIMDb, trackers.KeyTitle}})
	require.True(t, ok)
	assert.Equal(t, trackers.KeyIMDb, got.Kind)
}

func TestMatchTV(t *testing.T) {
	profile := trackers.Profile{ID: "NBL", Tier: trackers.ResolutionTier}
	s := NewScanner(time.Second)

	episode := &models.WorkingState{Category: models.CategoryTV, Resolution: "1080p", Season: 1, Episode: 2}
	pack := &models.WorkingState{Category: models.CategoryTV, Resolution: "1080p", Season: 2, TVPack: true}

	tests := []struct {
		name  string
		state *models.WorkingState
		cands []trackers.Candidate
		want  []string
	}{
		{
			name:  "same episode same resolution",
			state: episode,
			cands: candidates("Show.S01E02.1080p.WEB-DL.DDP5.1.H.264-GRP"),
			want:  []string{"Show.S01E02.1080p.WEB-DL.DDP5.1.H.264-GRP"},
		},
		{
			name:  "different resolution",
			state: episode,
			cands: candidates("Show.S01E02.720p.WEB-DL.DDP5.1.H.264-GRP"),
		},
		{
			name:  "different episode",
			state: episode,
			cands: candidates("Show.S01E03.1080p.WEB-DL.DDP5.1.H.264-GRP"),
		},
		{
			name:  "similar title is not a match by itself",
			state: episode,
			cands: candidates("Show.S02E02.1080p.WEB-DL.DDP5.1.H.264-GRP"),
		},
		{
			name:  "season pack matches pack",
			state: pack,
			cands: []trackers.Candidate{{Name: "Show.S02.1080p.BluRay.x264-GRP", Pack: true}},
			want:  []string{"Show.S02.1080p.BluRay.x264-GRP"},
		},
		{
			name:  "episode does not match pack",
			state: pack,
			cands: candidates("Show.S02E01.1080p.BluRay.x264-GRP"),
		},
		{
			name:  "non-pack without episode number does not match pack",
			state: pack,
			cands: candidates("Show.S02.1080p.BluRay.x264-GRP"),
		},
		{
			name:  "tracker resolution wins over name",
			state: episode,
			cands: []trackers.Candidate{{Name: "Show.S01E02.WEB-DL-GRP", Resolution: "1080p"}},
			want:  []string{"Show.S01E02.WEB-DL-GRP"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Result{Matches: s.Match(tt.state, profile, tt.cands)}
			if tt.want == nil {
				assert.Empty(t, got.Matches)
				return
			}
			assert.Equal(t, tt.want, got.MatchNames())
		})
	}
}

func TestMatchMovieByQualityTier(t *testing.T) {
	profile := trackers.Profile{ID: "PTP", Tier: trackers.QualityTier}
	s := NewScanner(time.Second)
	state := &models.WorkingState{Category: models.CategoryMovie, Resolution: "1080p"}

	cands := []trackers.Candidate{
		{Name: "Movie.2020.720p.BluRay.x264-A", Tier: trackers.TierHD},
		{Name: "Movie.2020.2160p.UHD.BluRay.x265-B", Tier: trackers.TierUHD},
		{Name: "Movie.2020.DVDRip.x264-C", Tier: trackers.TierSD},
	}
	got := Result{Matches: s.Match(state, profile, cands)}
	assert.Equal(t, []string{"Movie.2020.720p.BluRay.x264-A"}, got.MatchNames())
}

func TestFindDuplicatesVerdicts(t *testing.T) {
	profile := trackers.Profile{ID: "NBL", SearchKeys: []trackers.KeyKind{trackers.KeyTVMaze, trackers.KeyTitle}, Tier: trackers.ResolutionTier}
	state := &models.WorkingState{Category: models.CategoryTV, Resolution: "1080p", Season: 1, Episode: 2, TVMazeID: 82, Title: "Show"}

	tests := []struct {
		name    string
		tracker *fakeTracker
		want    Verdict
	}{
		{
			name:    "clear",
			tracker: &fakeTracker{profile: profile, result: &trackers.SearchResult{Candidates: candidates("Show.S01E05.1080p.WEB-GRP")}},
			want:    VerdictClear,
		},
		{
			name:    "dupes found",
			tracker: &fakeTracker{profile: profile, result: &trackers.SearchResult{Candidates: candidates("Show.S01E02.1080p.WEB-GRP")}},
			want:    VerdictDupesFound,
		},
		{
			name:    "search error",
			tracker: &fakeTracker{profile: profile, err: &trackers.SearchError{Tracker: "NBL", Err: errors.New("boom")}},
			want:    VerdictSearchFailed,
		},
		{
			name:    "nil result",
			tracker: &fakeTracker{profile: profile},
			want:    VerdictSearchFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := NewScanner(time.Second).FindDuplicates(context.Background(), state, tt.tracker)
			assert.Equal(t, tt.want, res.Verdict)
			require.Len(t, tt.tracker.queries, 1, "exactly one query per scan")
			assert.Equal(t, trackers.KeyTVMaze, tt.tracker.queries[0].Kind)
			if tt.want == VerdictSearchFailed {
				assert.Error(t, res.Err)
			}
		})
	}
}

func TestFindDuplicatesWithoutSearchKey(t *testing.T) {
	tr := &fakeTracker{profile: trackers.Profile{ID: "NBL", SearchKeys: []trackers.KeyKind{trackers.KeyTVMaze}}}
	res := NewScanner(time.Second).FindDuplicates(context.Background(), &models.WorkingState{Title: "Show"}, tr)
	assert.Equal(t, VerdictSearchFailed, res.Verdict)
	assert.ErrorIs(t, res.Err, ErrNoSearchKey)
	assert.Empty(t, tr.queries)
}

func TestFindDuplicatesUnparseableResponseIsNeverClear(t *testing.T) {
	bodies := []string{
		`<html>maintenance</html>`,
		`{"result":`,
		`{"jsonrpc":"2.0"}`,
	}

	for i, body := range bodies {
		t.Run(fmt.Sprintf("body_%d", i), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				fmt.Fprint(w, body)
			}))
			defer srv.Close()

			tr, err := nbl.New(domain.TrackerConfig{APIKey: "key", AnnounceURL: "https://x/p/announce", BaseURL: srv.URL}, trackers.Options{})
			require.NoError(t, err)

			state := &models.WorkingState{Category: models.CategoryTV, Resolution: "1080p", Season: 1, Episode: 1, TVMazeID: 1}
			res := NewScanner(time.Second).FindDuplicates(context.Background(), state, tr)
			assert.Equal(t, VerdictSearchFailed, res.Verdict)
			assert.ErrorIs(t, res.Err, &trackers.SearchError{})
		})
	}
}

func TestFindDuplicatesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	tr, err := nbl.New(domain.TrackerConfig{APIKey: "key", AnnounceURL: "https://x/p/announce", BaseURL: srv.URL}, trackers.Options{})
	require.NoError(t, err)

	state := &models.WorkingState{Category: models.CategoryTV, TVMazeID: 1}
	res := NewScanner(50*time.Millisecond).FindDuplicates(context.Background(), state, tr)
	assert.Equal(t, VerdictSearchFailed, res.Verdict)
}

func TestFindDuplicatesRetriesRateLimitedSearch(t *testing.T) {
	profile := trackers.Profile{ID: "NBL", SearchKeys: []trackers.KeyKind{trackers.KeyTVMaze}, Tier: trackers.ResolutionTier}
	state := &models.WorkingState{Category: models.CategoryTV, Resolution: "1080p", Season: 1, Episode: 2, TVMazeID: 82}
	limited := &trackers.SearchError{Tracker: "NBL", StatusCode: http.StatusTooManyRequests, Err: errors.New("slow down")}

	tests := []struct {
		name    string
		tracker *fakeTracker
		want    Verdict
		queries int
	}{
		{
			name:    "recovers after rate limit",
			tracker: &fakeTracker{profile: profile, errs: []error{limited}, result: &trackers.SearchResult{Candidates: candidates("Show.S01E02.1080p.WEB-GRP")}},
			want:    VerdictDupesFound,
			queries: 2,
		},
		{
			name:    "gives up after repeated rate limits",
			tracker: &fakeTracker{profile: profile, err: limited},
			want:    VerdictSearchFailed,
			queries: 3,
		},
		{
			name:    "other errors are not retried",
			tracker: &fakeTracker{profile: profile, err: &trackers.SearchError{Tracker: "NBL", StatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}},
			want:    VerdictSearchFailed,
			queries: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScanner(time.Second)
			s.rateLimitDelay = time.Millisecond

			res := s.FindDuplicates(context.Background(), state, tt.tracker)
			assert.Equal(t, tt.want, res.Verdict)
			assert.Len(t, tt.tracker.queries, tt.queries)
		})
	}
}
