// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package batch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/upbrr/internal/auth"
	"github.com/autobrr/upbrr/internal/domain"
	"github.com/autobrr/upbrr/internal/metacache"
	"github.com/autobrr/upbrr/internal/models"
	"github.com/autobrr/upbrr/internal/pipeline"
	"github.com/autobrr/upbrr/internal/queue"
	"github.com/autobrr/upbrr/internal/release"
	"github.com/autobrr/upbrr/internal/session"
	"github.com/autobrr/upbrr/internal/trackers"
)

type fakeTracker struct {
	id        string
	duplicate bool
	rejects   bool
	auth      auth.Authenticator
	onSubmit  func(ctx context.Context) error

	mu        sync.Mutex
	searches  int
	submitted int
}

func (f *fakeTracker) Profile() trackers.Profile {
	return trackers.Profile{ID: f.id, SearchKeys: []trackers.KeyKind{trackers.KeyIMDb}, Tier: trackers.QualityTier}
}
func (f *fakeTracker) Policy(*models.WorkingState) string { return "" }
func (f *fakeTracker) Authenticator() auth.Authenticator { return f.auth }
func (f *fakeTracker) AnnounceURL() string { return "https://tracker.example/announce" }
func (f *fakeTracker) ClassifyResponse(r *trackers.Response) (string, error) {
	if f.rejects {
		return "", &trackers.SubmitError{Tracker: f.id, Kind: trackers.SubmitStillOnFormPage, StatusCode: r.StatusCode}
	}
	return r.FinalURL, nil
}

func (f *fakeTracker) Search(context.Context, trackers.SearchQuery) (*trackers.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.duplicate {
		return &trackers.SearchResult{Candidates: []trackers.Candidate{{Name: "Some.Movie.2019.1080p.BluRay.x264-OTHER"}}}, nil
	}
	return &trackers.SearchResult{}, nil
}

func (f *fakeTracker) BuildPayload(context.Context, trackers.PayloadInput) (*trackers.Payload, error) {
	return &trackers.Payload{Endpoint: "https://tracker.example/upload", Fields: url.Values{}}, nil
}

func (f *fakeTracker) Submit(ctx context.Context, sess *auth.Session, _ *trackers.Payload) (*trackers.Response, error) {
	if f.onSubmit != nil {
		if err := f.onSubmit(ctx); err != nil {
			return nil, err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted++
	if f.auth != nil && (sess == nil || sess.Token == "") {
		return &trackers.Response{StatusCode: http.StatusForbidden}, nil
	}
	return &trackers.Response{StatusCode: http.StatusOK, FinalURL: "https://" + f.id + ".example/torrents.php?id=1&torrentid=2"}, nil
}

type okAuth struct{ logins int }

func (a *okAuth) BaseURL() *url.URL {
	u, _ := url.Parse("https://auth.example")
	return u
}
func (a *okAuth) Probe(context.Context, *http.Client) (auth.ProbeResult, error) {
	return auth.ProbeResult{}, nil
}
func (a *okAuth) Login(context.Context, *http.Client, string) (auth.LoginResult, error) {
	a.logins++
	return auth.LoginResult{Status: auth.LoginOK, Token: "csrf"}, nil
}

type movieGatherer struct{ calls int }

func (g *movieGatherer) Gather(_ context.Context, s *models.WorkingState) error {
	g.calls++
	if s.Category == "" {
		s.Category = models.CategoryMovie
	}
	s.Title = "Some Movie"
	s.Year = 2019
	s.Resolution = "1080p"
	s.IMDbID = 1234567
	return nil
}

type recordingHook struct {
	mu      sync.Mutex
	uploads []models.Upload
}

func (h *recordingHook) AfterUpload(_ context.Context, u models.Upload) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.uploads = append(h.uploads, u)
	return nil
}

type memoryHistory struct {
	mu       sync.Mutex
	outcomes []models.SubmissionOutcome
}

func (h *memoryHistory) Record(_ context.Context, _, _ string, o models.SubmissionOutcome) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcomes = append(h.outcomes, o)
	return nil
}

func (h *memoryHistory) HasSucceeded(_ context.Context, _, tracker string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, o := range h.outcomes {
		if o.Tracker == tracker && o.Succeeded() && !o.Debug {
			return true, nil
		}
	}
	return false, nil
}

type fixture struct {
	cfg     *domain.Config
	cache   *metacache.Cache
	ledger  *queue.Ledger
	hook    *recordingHook
	history *memoryHistory
	gather  *movieGatherer
	fakes   []*fakeTracker
	pipe    *pipeline.Pipeline
}

func newFixture(t *testing.T, cfg *domain.Config, fakes ...*fakeTracker) *fixture {
	t.Helper()

	registry := trackers.NewRegistry()
	cfg.Trackers = map[string]domain.TrackerConfig{}
	for _, f := range fakes {
		registry.Register(f.id, func(domain.TrackerConfig, trackers.Options) (trackers.Tracker, error) {
			return f, nil
		})
		cfg.Trackers[f.id] = domain.TrackerConfig{}
		cfg.DefaultTrackers = append(cfg.DefaultTrackers, f.id)
	}
	cfg.Unattended = true

	store, err := session.NewStore(t.TempDir(), "secret")
	require.NoError(t, err)

	ledger, err := queue.Open(t.TempDir(), "test queue")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ledger.Close() })

	return &fixture{
		cfg:     cfg,
		cache:   metacache.New(t.TempDir()),
		ledger:  ledger,
		hook:    &recordingHook{},
		history: &memoryHistory{},
		gather:  &movieGatherer{},
		fakes:   fakes,
		pipe: pipeline.New(pipeline.Options{
			Config:         cfg,
			Registry:       registry,
			Flow:           auth.NewFlow(store, time.Second),
			Sessions:       store,
			ReconcileDelay: time.Millisecond,
		}),
	}
}

func (fx *fixture) orchestrator(limit int) *Orchestrator {
	return New(Options{
		Config:       fx.cfg,
		Cache:        fx.cache,
		Pipeline:     fx.pipe,
		Ledger:       fx.ledger,
		Gatherer:     fx.gather,
		Images:       release.ExistingImages{},
		History:      fx.history,
		Integrations: []PostUpload{fx.hook},
		Limit:        limit,
	})
}

func (fx *fixture) state(t *testing.T, path string) *models.WorkingState {
	t.Helper()
	data, err := os.ReadFile(fx.cache.StatePath(models.ItemID(path)))
	require.NoError(t, err)
	var s models.WorkingState
	require.NoError(t, json.Unmarshal(data, &s))
	return &s
}

func newItem(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".mkv"), make([]byte, 64<<10), 0o644))
	return dir
}

func TestEndToEndSingleTracker(t *testing.T) {
	a := &okAuth{}
	tr := &fakeTracker{id: "PTP", auth: a}
	fx := newFixture(t, &domain.Config{}, tr)
	path := newItem(t, "Some.Movie.2019.1080p.BluRay.x264-GRP")

	summary, err := fx.orchestrator(0).Run(context.Background(), []*models.Input{models.NewInput(path)})
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, ResultUploaded, summary.Items[0].Result)
	assert.Equal(t, 1, a.logins)

	s := fx.state(t, path)
	require.Len(t, s.Outcomes, 1)
	assert.Equal(t, models.OutcomeSubmitSucceeded, s.Outcomes["PTP"].Kind)
	assert.NotEmpty(t, s.InfoHash)
	assert.Contains(t, fx.ledger.Done(), path)

	assert.FileExists(t, filepath.Join(fx.cache.ItemDir(s.UUID), "BASE.torrent"))
	require.Len(t, fx.hook.uploads, 1)
	assert.Equal(t, "PTP", fx.hook.uploads[0].Tracker)
	assert.FileExists(t, fx.hook.uploads[0].TorrentPath)
}

func TestLedgerSkipsProcessedItems(t *testing.T) {
	tr := &fakeTracker{id: "NBL"}
	fx := newFixture(t, &domain.Config{}, tr)
	path := newItem(t, "Some.Movie.2019.1080p.BluRay.x264-GRP")

	_, err := fx.orchestrator(0).Run(context.Background(), []*models.Input{models.NewInput(path)})
	require.NoError(t, err)
	require.Equal(t, 1, tr.searches)

	summary, err := fx.orchestrator(0).Run(context.Background(), []*models.Input{models.NewInput(path)})
	require.NoError(t, err)
	assert.Equal(t, 1, tr.searches)
	assert.Equal(t, 1, tr.submitted)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, ResultSkipped, summary.Items[0].Result)
}

func TestPassThreshold(t *testing.T) {
	tests := []struct {
		name       string
		duplicates []bool
		rejects    []bool
		want       Result
		submitted  int
		succeeded  int
		debug      bool
	}{
		{name: "two of three pass", duplicates: []bool{false, true, false}, want: ResultUploaded, submitted: 2, succeeded: 2},
		{name: "one of three pass", duplicates: []bool{false, true, true}, want: ResultBelowThreshold},
		{
			name:       "submit failures after passing checks",
			duplicates: []bool{false, false, false},
			rejects:    []bool{false, true, true},
			want:       ResultBelowThreshold,
			submitted:  3,
			succeeded:  1,
		},
		{name: "debug ignores threshold", duplicates: []bool{false, true, true}, want: ResultDebug, submitted: 0, succeeded: 1, debug: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var fakes []*fakeTracker
			for i, dup := range tt.duplicates {
				f := &fakeTracker{id: string(rune('A'+i)) + "TR", duplicate: dup}
				if tt.rejects != nil {
					f.rejects = tt.rejects[i]
				}
				fakes = append(fakes, f)
			}
			fx := newFixture(t, &domain.Config{TrackerPassChecks: 2}, fakes...)
			path := newItem(t, "Some.Movie.2019.1080p.BluRay.x264-GRP")

			in := models.NewInput(path)
			in.State.Debug = tt.debug
			in.Provide(models.FieldDebug)

			summary, err := fx.orchestrator(0).Run(context.Background(), []*models.Input{in})
			require.NoError(t, err)
			require.Len(t, summary.Items, 1)
			assert.Equal(t, tt.want, summary.Items[0].Result)
			assert.Equal(t, tt.succeeded, summary.Items[0].Succeeded)

			submitted := 0
			for _, f := range fakes {
				submitted += f.submitted
			}
			assert.Equal(t, tt.submitted, submitted)

			// below threshold still marks the item processed; debug never does
			assert.Equal(t, !tt.debug, fx.ledger.IsDone(path))
			if tt.debug {
				assert.Empty(t, fx.hook.uploads)
			}
		})
	}
}

func TestInterruptedSubmitKeepsFinishedUploads(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accepted := make(chan struct{})
	a := &fakeTracker{id: "ATR", onSubmit: func(context.Context) error {
		close(accepted)
		return nil
	}}
	b := &fakeTracker{id: "BTR", onSubmit: func(ctx context.Context) error {
		<-accepted
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}}
	fx := newFixture(t, &domain.Config{}, a, b)
	path := newItem(t, "Some.Movie.2019.1080p.BluRay.x264-GRP")

	summary, err := fx.orchestrator(0).Run(ctx, []*models.Input{models.NewInput(path)})
	require.ErrorIs(t, err, context.Canceled)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, ResultFailed, summary.Items[0].Result)
	assert.Equal(t, 1, summary.Items[0].Succeeded)

	s := fx.state(t, path)
	assert.Equal(t, models.OutcomeSubmitSucceeded, s.Outcomes["ATR"].Kind)
	_, recorded := s.Outcomes["BTR"]
	assert.False(t, recorded)

	require.Len(t, fx.history.outcomes, 1)
	assert.Equal(t, "ATR", fx.history.outcomes[0].Tracker)
	assert.False(t, fx.ledger.IsDone(path))

	// resuming submits only to the tracker that never finished
	b.onSubmit = nil
	summary, err = fx.orchestrator(0).Run(context.Background(), []*models.Input{models.NewInput(path)})
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
	assert.Equal(t, ResultUploaded, summary.Items[0].Result)
	assert.Equal(t, 1, a.submitted)
	assert.Equal(t, 1, b.submitted)
	assert.True(t, fx.ledger.IsDone(path))
}

func TestRestoredCategoryIsKept(t *testing.T) {
	tr := &fakeTracker{id: "NBL", duplicate: true}
	fx := newFixture(t, &domain.Config{}, tr)
	path := newItem(t, "Show.S01E01.1080p.WEB-DL.DDP5.1.H.264-GRP")

	seed := models.NewInput(path)
	state, _, err := fx.cache.LoadOrInit(seed)
	require.NoError(t, err)
	state.Category = models.CategoryTV
	require.NoError(t, fx.cache.Checkpoint(state, metacache.PhaseGathered))

	_, err = fx.orchestrator(0).Run(context.Background(), []*models.Input{models.NewInput(path)})
	require.NoError(t, err)
	assert.Equal(t, models.CategoryTV, fx.state(t, path).Category)
}

func TestLimitStopsLoop(t *testing.T) {
	tr := &fakeTracker{id: "NBL"}
	fx := newFixture(t, &domain.Config{}, tr)

	inputs := []*models.Input{
		models.NewInput(newItem(t, "A.Movie.2019.1080p.BluRay.x264-GRP")),
		models.NewInput(newItem(t, "B.Movie.2019.1080p.BluRay.x264-GRP")),
		models.NewInput(newItem(t, "C.Movie.2019.1080p.BluRay.x264-GRP")),
	}

	summary, err := fx.orchestrator(2).Run(context.Background(), inputs)
	require.NoError(t, err)
	assert.Len(t, summary.Items, 2)
	assert.Equal(t, 2, fx.gather.calls)
	assert.Len(t, fx.ledger.Done(), 2)
}

func TestCorruptStateIsItemLevel(t *testing.T) {
	tr := &fakeTracker{id: "NBL"}
	fx := newFixture(t, &domain.Config{}, tr)

	bad := newItem(t, "Bad.Movie.2019.1080p.BluRay.x264-GRP")
	good := newItem(t, "Good.Movie.2019.1080p.BluRay.x264-GRP")

	badID := models.ItemID(bad)
	require.NoError(t, os.MkdirAll(fx.cache.ItemDir(badID), 0o755))
	require.NoError(t, os.WriteFile(fx.cache.StatePath(badID), []byte("{not json"), 0o600))

	summary, err := fx.orchestrator(0).Run(context.Background(), []*models.Input{models.NewInput(bad), models.NewInput(good)})
	require.NoError(t, err)
	require.Len(t, summary.Items, 2)
	assert.Equal(t, ResultFailed, summary.Items[0].Result)
	assert.ErrorIs(t, summary.Items[0].Err, &metacache.CorruptStateError{})
	assert.Equal(t, ResultUploaded, summary.Items[1].Result)
	assert.False(t, fx.ledger.IsDone(bad))
	assert.Contains(t, summary.Render(), "submit-succeeded")
}

func TestUnknownTrackerHaltsBatch(t *testing.T) {
	tr := &fakeTracker{id: "NBL"}
	fx := newFixture(t, &domain.Config{}, tr)
	path := newItem(t, "Some.Movie.2019.1080p.BluRay.x264-GRP")

	in := models.NewInput(path)
	in.State.Trackers = []string{"NOPE"}
	in.Provide(models.FieldTrackers)

	_, err := fx.orchestrator(0).Run(context.Background(), []*models.Input{in})
	require.Error(t, err)
	assert.ErrorIs(t, err, &domain.ConfigError{})
}
