// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ptp

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/autobrr/upbrr/internal/auth"
	"github.com/autobrr/upbrr/internal/models"
	"github.com/autobrr/upbrr/internal/trackers"
)

var (
	successRegex = regexp.MustCompile(`torrents\.php\?id=(\d+)&torrentid=(\d+)`)

	knownResolutions = []string{"480p", "576p", "720p", "1080i", "1080p", "2160p"}
)

func (t *Tracker) BuildPayload(_ context.Context, in trackers.PayloadInput) (*trackers.Payload, error) {
	if in.Session == nil || in.Session.Token == "" {
		return nil, errors.New("ptp payload requires an authenticated session")
	}
	state := in.State

	fields := url.Values{}
	fields.Set("submit", "true")
	fields.Set("AntiCsrfToken", in.Session.Token)
	fields.Set("type", orDefault(state.Type, "Feature Film"))
	fields.Set("codec", "Other")
	fields.Set("other_codec", state.VideoCodec)
	fields.Set("container", "Other")
	fields.Set("other_container", container(state))
	fields.Set("source", "Other")
	fields.Set("other_source", state.Source)
	fields.Set("release_desc", in.Description)
	fields.Set("nfo_text", "")

	if slices.Contains(knownResolutions, state.Resolution) {
		fields.Set("resolution", state.Resolution)
	} else {
		fields.Set("resolution", "Other")
		fields.Set("other_resolution", state.Resolution)
	}
	if state.Edition != "" {
		fields.Set("remaster", "on")
		fields.Set("remaster_title", state.Edition)
		fields.Set("remaster_year", "")
	}
	if state.PersonalRelease {
		fields.Set("internalrip", "on")
	}
	if state.IMDbID > 0 {
		fields.Set("imdb", strconv.Itoa(state.IMDbID))
	} else {
		fields.Set("imdb", "0")
	}

	query := url.Values{}
	if groupID := state.Extension(ID, ExtGroupID); groupID != "" {
		query.Set("groupid", groupID)
		fields.Set("groupid", groupID)
	} else {
		fields.Set("title", state.Title)
		if state.Year > 0 {
			fields.Set("year", strconv.Itoa(state.Year))
		}
		if len(state.ImageList) > 0 {
			fields.Set("image", state.ImageList[0].RawURL)
		}
	}

	return &trackers.Payload{
		Endpoint: t.endpoint("upload.php", query),
		Fields:   fields,
		Files: []trackers.FormFile{
			{Field: "file_input", FileName: "placeholder.torrent", Data: in.TorrentData},
		},
	}, nil
}

func (t *Tracker) Submit(ctx context.Context, sess *auth.Session, p *trackers.Payload) (*trackers.Response, error) {
	if sess == nil || sess.Client == nil {
		return nil, errors.New("ptp submit requires an authenticated session")
	}
	return trackers.PostMultipart(ctx, t.opts.SubmitClient(sess.Client.Jar), p)
}

// ClassifyResponse accepts only a landing on the new torrent's page.
func (t *Tracker) ClassifyResponse(resp *trackers.Response) (string, error) {
	if successRegex.MatchString(resp.FinalURL) && resp.StatusCode == http.StatusOK {
		return resp.FinalURL, nil
	}

	final, _ := url.Parse(resp.FinalURL)
	onForm := bytes.Contains(resp.Body, []byte(t.cfg.AnnounceURL)) ||
		(final != nil && strings.HasSuffix(final.Path, "/upload.php"))

	if onForm {
		var msg string
		if doc, err := parseHTML(resp.Body); err == nil {
			msg = alertText(doc)
		}
		return "", &trackers.SubmitError{
			Tracker:    ID,
			Kind:       trackers.SubmitStillOnFormPage,
			StatusCode: resp.StatusCode,
			URL:        resp.FinalURL,
			Message:    msg,
			Body:       resp.Body,
		}
	}

	return "", &trackers.SubmitError{
		Tracker:    ID,
		Kind:       trackers.SubmitUnexpectedRedirect,
		StatusCode: resp.StatusCode,
		URL:        resp.FinalURL,
		Body:       resp.Body,
	}
}

func container(state *models.WorkingState) string {
	if state.IsDisc != models.DiscNone {
		return string(state.IsDisc)
	}
	ext := strings.TrimPrefix(strings.ToUpper(filepath.Ext(state.Path)), ".")
	if ext == "" {
		return "MKV"
	}
	return ext
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
