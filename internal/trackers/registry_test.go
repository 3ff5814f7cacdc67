// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trackers

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/upbrr/internal/auth"
	"github.com/autobrr/upbrr/internal/domain"
	"github.com/autobrr/upbrr/internal/models"
)

type stubTracker struct{ id string }

func (s stubTracker) Profile() Profile { return Profile{ID: s.id} }
func (s stubTracker) Policy(*models.WorkingState) string { return "" }
func (s stubTracker) Authenticator() auth.Authenticator { return nil }
func (s stubTracker) AnnounceURL() string { return "" }
func (s stubTracker) ClassifyResponse(*Response) (string, error) { return "", nil }
func (s stubTracker) Search(context.Context, SearchQuery) (*SearchResult, error) {
	return &SearchResult{}, nil
}
func (s stubTracker) BuildPayload(context.Context, PayloadInput) (*Payload, error) {
	return &Payload{}, nil
}
func (s stubTracker) Submit(context.Context, *auth.Session, *Payload) (*Response, error) {
	return &Response{}, nil
}

func testRegistry() *Registry {
	r := NewRegistry()
	for _, id := range []string{"ptp", "NBL", "BLU"} {
		r.Register(id, func(cfg domain.TrackerConfig, _ Options) (Tracker, error) {
			if cfg.APIKey == "bad" {
				return nil, errors.New("bad key")
			}
			return stubTracker{id: cfg.AnnounceURL}, nil
		})
	}
	return r
}

func TestRegistryBuild(t *testing.T) {
	cfg := &domain.Config{Trackers: map[string]domain.TrackerConfig{
		"PTP": {AnnounceURL: "PTP"},
		"NBL": {AnnounceURL: "NBL"},
		"BLU": {APIKey: "bad"},
	}}

	tests := []struct {
		name    string
		ids     []string
		want    []string
		wantErr string
	}{
		{name: "case insensitive and deduplicated", ids: []string{"ptp", "NBL", "PTP"}, want: []string{"PTP", "NBL"}},
		{name: "unknown with suggestion", ids: []string{"PPT"}, wantErr: `did you mean "PTP"`},
		{name: "unknown without suggestion", ids: []string{"XYZABC"}, wantErr: `unknown tracker "XYZABC"`},
		{name: "factory rejects configuration", ids: []string{"ptp", "blu"}, wantErr: "invalid tracker configuration"},
		{name: "empty selection", ids: []string{" "}, wantErr: "no trackers selected"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := testRegistry().Build(cfg, tt.ids, Options{})
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.ErrorIs(t, err, &domain.ConfigError{})
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			var ids []string
			for _, tr := range got {
				ids = append(ids, tr.Profile().ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRegistryNotConfigured(t *testing.T) {
	cfg := &domain.Config{Trackers: map[string]domain.TrackerConfig{}}
	_, err := testRegistry().Build(cfg, []string{"PTP"}, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not configured")
}

func TestQualityTier(t *testing.T) {
	tests := []struct {
		resolution string
		sd         bool
		want       string
	}{
		{resolution: "1080p", want: TierHD},
		{resolution: "720p", want: TierHD},
		{resolution: "2160p", want: TierUHD},
		{resolution: "576p", want: TierSD},
		{resolution: "1080p", sd: true, want: TierSD},
		{resolution: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.resolution, func(t *testing.T) {
			assert.Equal(t, tt.want, QualityTier(tt.resolution, tt.sd))
		})
	}
}

func TestSubmitErrorIs(t *testing.T) {
	err := &SubmitError{Tracker: "PTP", Kind: SubmitStillOnFormPage, StatusCode: 200}
	assert.ErrorIs(t, err, &SubmitError{})
	assert.ErrorIs(t, err, &SubmitError{Kind: SubmitStillOnFormPage})
	assert.NotErrorIs(t, err, &SubmitError{Kind: SubmitUnexpectedRedirect})
	assert.Contains(t, err.Error(), "stillOnFormPage")
}
