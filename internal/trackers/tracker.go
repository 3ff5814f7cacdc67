// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package trackers defines the capability interface every tracker variant implements
// and the registry that selects a variant by tracker id.
package trackers

import (
	"context"
	"net/url"

	"github.com/autobrr/upbrr/internal/artifact"
	"github.com/autobrr/upbrr/internal/auth"
	"github.com/autobrr/upbrr/internal/models"
)

// KeyKind is a duplicate-search key, listed by trackers in preference order.
type KeyKind string

const (
	KeyGroupID KeyKind = "groupid"
	KeyTVMaze  KeyKind = "tvmaze"
	KeyIMDb    KeyKind = "imdb"
	KeyTitle   KeyKind = "title"
)

// ExtGroupID is the item extension key holding the tracker's own group id for the release.
const ExtGroupID = "groupid"

type SearchQuery struct {
	Kind  KeyKind
	Value string
	// Year narrows free-text searches when known.
	Year int
}

// Candidate is one existing release returned by a tracker search.
type Candidate struct {
	Name       string
	Resolution string
	// Tier is set when the tracker reports the quality class itself.
	Tier string
	// Pack is set when the tracker reports the release as a season pack.
	Pack     bool
	InfoHash string
	URL      string
}

type SearchResult struct {
	Candidates []Candidate
	// Extensions is tracker scratch data worth keeping on the item, e.g. a group id.
	Extensions map[string]string
}

// TierFunc maps a resolution to the coarse quality class used for duplicate matching.
type TierFunc func(resolution string, sd bool) string

// Profile is the static description of a tracker.
type Profile struct {
	ID          string
	Constraints artifact.Constraints
	SearchKeys  []KeyKind
	Tier        TierFunc
}

type PayloadInput struct {
	State       *models.WorkingState
	Torrent     *artifact.Artifact
	TorrentData []byte
	Description string
	// Session is nil for trackers without an Authenticator.
	Session *auth.Session
}

type FormFile struct {
	Field    string
	FileName string
	Data     []byte
}

// Payload is a multipart form submission.
type Payload struct {
	Endpoint string
	Fields   url.Values
	Files    []FormFile
}

// Response is the raw submission response kept for classification and diagnosis.
type Response struct {
	StatusCode int
	FinalURL   string
	Body       []byte
}

// Tracker is implemented by each tracker variant.
type Tracker interface {
	Profile() Profile
	// Policy returns a non-empty reason when the tracker does not accept the item.
	Policy(state *models.WorkingState) string
	Search(ctx context.Context, q SearchQuery) (*SearchResult, error)
	// Authenticator returns nil for trackers that authenticate every request by API key.
	Authenticator() auth.Authenticator
	AnnounceURL() string
	BuildPayload(ctx context.Context, in PayloadInput) (*Payload, error)
	Submit(ctx context.Context, sess *auth.Session, p *Payload) (*Response, error)
	// ClassifyResponse returns the uploaded release URL, or a *SubmitError.
	ClassifyResponse(resp *Response) (string, error)
}
