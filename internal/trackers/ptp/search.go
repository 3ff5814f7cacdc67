// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ptp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/autobrr/upbrr/internal/trackers"
)

// ExtGroupID is the item extension key holding the matched movie group.
const ExtGroupID = trackers.ExtGroupID

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type torrentEntry struct {
	ID          flexString `json:"Id"`
	Quality     string     `json:"Quality"`
	Resolution  string     `json:"Resolution"`
	ReleaseName string     `json:"ReleaseName"`
	InfoHash    string     `json:"InfoHash"`
}

type movieEntry struct {
	GroupID  flexString     `json:"GroupId"`
	Title    string         `json:"Title"`
	Year     flexString     `json:"Year"`
	Torrents []torrentEntry `json:"Torrents"`
}

type searchResponse struct {
	Page     string         `json:"Page"`
	GroupID  flexString     `json:"GroupId"`
	Name     string         `json:"Name"`
	Torrents []torrentEntry `json:"Torrents"`
	Movies   []movieEntry   `json:"Movies"`
}

var qualityTiers = map[string]string{
	"Standard Definition":   trackers.TierSD,
	"High Definition":       trackers.TierHD,
	"Ultra High Definition": trackers.TierUHD,
}

func (t *Tracker) Search(ctx context.Context, q trackers.SearchQuery) (*trackers.SearchResult, error) {
	params := url.Values{"json": {"noredirect"}}
	switch q.Kind {
	case trackers.KeyGroupID:
		params.Set("id", q.Value)
	case trackers.KeyIMDb:
		params.Set("imdb", q.Value)
	case trackers.KeyTitle:
		params.Set("searchstr", q.Value)
		if q.Year > 0 {
			params.Set("year", strconv.Itoa(q.Year))
		}
	default:
		return nil, &trackers.SearchError{Tracker: ID, Err: fmt.Errorf("unsupported search key %s", q.Kind)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint("torrents.php", params), nil)
	if err != nil {
		return nil, &trackers.SearchError{Tracker: ID, Err: err}
	}
	req.Header.Set("ApiUser", t.cfg.APIUser)
	req.Header.Set("ApiKey", t.cfg.APIKey)

	var resp searchResponse
	if err := trackers.DoJSON(t.opts.SearchClient(), ID, req, &resp); err != nil {
		return nil, err
	}

	page := resp.Page
	if page == "" && q.Kind == trackers.KeyGroupID {
		// the group page carries no Page marker
		page = "Details"
		if resp.GroupID == "" {
			resp.GroupID = flexString(q.Value)
		}
	}

	result := &trackers.SearchResult{}
	switch page {
	case "Details":
		result.Extensions = map[string]string{ExtGroupID: string(resp.GroupID)}
		result.Candidates = t.candidates(string(resp.GroupID), resp.Torrents)
	case "Browse":
		// a free-text search can only pin a group when exactly one movie matches the year
		var matched []movieEntry
		for _, m := range resp.Movies {
			if q.Year > 0 && string(m.Year) != strconv.Itoa(q.Year) {
				continue
			}
			matched = append(matched, m)
		}
		if len(matched) == 1 {
			result.Extensions = map[string]string{ExtGroupID: string(matched[0].GroupID)}
		}
		for _, m := range matched {
			result.Candidates = append(result.Candidates, t.candidates(string(m.GroupID), m.Torrents)...)
		}
	default:
		return nil, &trackers.SearchError{Tracker: ID, Err: fmt.Errorf("unexpected page %q", resp.Page)}
	}

	return result, nil
}

func (t *Tracker) candidates(groupID string, torrents []torrentEntry) []trackers.Candidate {
	out := make([]trackers.Candidate, 0, len(torrents))
	for _, e := range torrents {
		name := strings.TrimSpace(e.ReleaseName)
		if name == "" {
			name = "RELEASE NAME NOT FOUND"
		}
		out = append(out, trackers.Candidate{
			Name:       name,
			Resolution: e.Resolution,
			Tier:       qualityTiers[e.Quality],
			InfoHash:   strings.ToLower(e.InfoHash),
			URL:        t.endpoint("torrents.php", url.Values{"id": {groupID}, "torrentid": {string(e.ID)}}),
		})
	}
	return out
}
