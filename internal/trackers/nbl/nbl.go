// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package nbl implements an API-key tracker with a JSON-RPC search endpoint.
package nbl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/autobrr/upbrr/internal/artifact"
	"github.com/autobrr/upbrr/internal/auth"
	"github.com/autobrr/upbrr/internal/domain"
	"github.com/autobrr/upbrr/internal/models"
	"github.com/autobrr/upbrr/internal/trackers"
)

const (
	ID             = "NBL"
	defaultBaseURL = "https://nebulance.io"

	categoryEpisode = "1"
	categorySeason  = "3"
)

var bannedGroups = []string{
	"0neshot", "3LTON", "4yEo", "[Oj]", "AFG", "AkihitoSubs", "AniHLS", "Anime Time", "AnimeRG", "AniURL", "ASW", "BakedFish",
	"bonkai77", "Cleo", "DeadFish", "DeeJayAhmed", "ELiTE", "EMBER", "eSc", "EVO", "FGT", "FUM", "GERMini", "HAiKU", "Hi10", "ION10",
	"JacobSwaggedUp", "JIVE", "Judas", "LOAD", "MeGusta", "Mr.Deadpool", "mSD", "NemDiggers", "neoHEVC", "NhaNc3", "NOIVTC",
	"PlaySD", "playXD", "project-gxs", "PSA", "QaS", "Ranger", "RAPiDCOWS", "Raze", "Reaktor", "REsuRRecTioN", "RMTeam", "ROBOTS",
	"SpaceFish", "SPASM", "SSA", "Telly", "Tenrai-Sensei", "TM", "Trix", "URANiME", "VipapkStudios", "ViSiON", "Wardevil", "xRed",
	"XS", "YakuboEncodes", "YuiSubs", "ZKBL", "ZmN", "ZMNT",
}

var resolutionTag = regexp.MustCompile(`^\d{3,4}[pi]$`)

type Tracker struct {
	cfg  domain.TrackerConfig
	base *url.URL
	opts trackers.Options
}

var _ trackers.Tracker = (*Tracker)(nil)

func New(cfg domain.TrackerConfig, opts trackers.Options) (trackers.Tracker, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("apiKey is required")
	}
	if cfg.AnnounceURL == "" {
		return nil, errors.New("announceURL is required")
	}

	rawBase := cfg.BaseURL
	if rawBase == "" {
		rawBase = defaultBaseURL
	}
	base, err := url.Parse(strings.TrimRight(rawBase, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)

	return &Tracker{cfg: cfg, base: base, opts: opts}, nil
}

func (t *Tracker) Profile() trackers.Profile {
	return trackers.Profile{
		ID:          ID,
		Constraints: artifact.Constraints{MaxPieceLength: t.cfg.MaxPieceLength, Source: ID},
		SearchKeys:  []trackers.KeyKind{trackers.KeyTVMaze, trackers.KeyIMDb, trackers.KeyTitle},
		Tier:        trackers.ResolutionTier,
	}
}

func (t *Tracker) Policy(state *models.WorkingState) string {
	if state.Category != models.CategoryTV {
		return "only TV is allowed"
	}
	if state.IsDisc != models.DiscNone {
		return "raw discs are not allowed"
	}
	if state.Group != "" && slices.ContainsFunc(bannedGroups, func(g string) bool { return strings.EqualFold(g, state.Group) }) {
		return fmt.Sprintf("group %s is banned", state.Group)
	}
	return ""
}

func (t *Tracker) Authenticator() auth.Authenticator {
	return nil
}

func (t *Tracker) AnnounceURL() string {
	return t.cfg.AnnounceURL
}

func (t *Tracker) endpoint(path string) string {
	u := *t.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + path
	return u.String()
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcItem struct {
	RlsName string   `json:"rls_name"`
	Cat     string   `json:"cat"`
	Tags    []string `json:"tags"`
}

type rpcResponse struct {
	Result *struct {
		Items []rpcItem `json:"items"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (t *Tracker) Search(ctx context.Context, q trackers.SearchQuery) (*trackers.SearchResult, error) {
	term := map[string]any{}
	switch q.Kind {
	case trackers.KeyTVMaze, trackers.KeyIMDb:
		id, err := strconv.Atoi(strings.TrimPrefix(q.Value, "tt"))
		if err != nil {
			return nil, &trackers.SearchError{Tracker: ID, Err: fmt.Errorf("invalid %s id %q", q.Kind, q.Value)}
		}
		term[string(q.Kind)] = id
	case trackers.KeyTitle:
		term["series"] = q.Value
	default:
		return nil, &trackers.SearchError{Tracker: ID, Err: fmt.Errorf("unsupported search key %s", q.Kind)}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "getTorrents",
		Params:  []any{t.cfg.APIKey, term},
	})
	if err != nil {
		return nil, &trackers.SearchError{Tracker: ID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("api.php"), bytes.NewReader(body))
	if err != nil {
		return nil, &trackers.SearchError{Tracker: ID, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	var resp rpcResponse
	if err := trackers.DoJSON(t.opts.SearchClient(), ID, req, &resp); err != nil {
		return nil, err
	}
	if resp.Result == nil {
		msg := "response has no result"
		if resp.Error != nil {
			msg = fmt.Sprintf("%s (code %d)", resp.Error.Message, resp.Error.Code)
		}
		return nil, &trackers.SearchError{Tracker: ID, Err: errors.New(msg)}
	}

	result := &trackers.SearchResult{}
	for _, item := range resp.Result.Items {
		c := trackers.Candidate{
			Name: item.RlsName,
			Pack: item.Cat == "Season",
		}
		for _, tag := range item.Tags {
			if resolutionTag.MatchString(tag) {
				c.Resolution = tag
				break
			}
		}
		result.Candidates = append(result.Candidates, c)
	}
	return result, nil
}

func (t *Tracker) BuildPayload(_ context.Context, in trackers.PayloadInput) (*trackers.Payload, error) {
	state := in.State

	category := categoryEpisode
	if state.TVPack {
		category = categorySeason
	}

	fields := url.Values{}
	fields.Set("api_key", t.cfg.APIKey)
	fields.Set("tvmazeid", strconv.Itoa(state.TVMazeID))
	fields.Set("mediainfo", state.MediaInfo)
	fields.Set("category", category)
	fields.Set("ignoredupes", "on")

	return &trackers.Payload{
		Endpoint: t.endpoint("upload.php"),
		Fields:   fields,
		Files: []trackers.FormFile{
			{Field: "file_input", FileName: "torrent_file.torrent", Data: in.TorrentData},
		},
	}, nil
}

func (t *Tracker) Submit(ctx context.Context, _ *auth.Session, p *trackers.Payload) (*trackers.Response, error) {
	return trackers.PostMultipart(ctx, t.opts.SubmitClient(nil), p)
}

type uploadResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	URL     string `json:"url"`
	Error   string `json:"error"`
}

// ClassifyResponse accepts an OK response whose JSON body is not an error.
func (t *Tracker) ClassifyResponse(resp *trackers.Response) (string, error) {
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", &trackers.SubmitError{
			Tracker:    ID,
			Kind:       trackers.SubmitRejected,
			StatusCode: resp.StatusCode,
			URL:        resp.FinalURL,
			Body:       resp.Body,
		}
	}

	var ur uploadResponse
	if err := json.Unmarshal(resp.Body, &ur); err != nil {
		return "", &trackers.SubmitError{
			Tracker:    ID,
			Kind:       trackers.SubmitUnexpectedRedirect,
			StatusCode: resp.StatusCode,
			URL:        resp.FinalURL,
			Message:    "response is not JSON",
			Body:       resp.Body,
		}
	}

	if ur.Error != "" || strings.EqualFold(ur.Status, "error") || strings.EqualFold(ur.Status, "failure") {
		msg := ur.Error
		if msg == "" {
			msg = ur.Message
		}
		return "", &trackers.SubmitError{
			Tracker:    ID,
			Kind:       trackers.SubmitRejected,
			StatusCode: resp.StatusCode,
			URL:        resp.FinalURL,
			Message:    msg,
			Body:       resp.Body,
		}
	}

	if ur.URL != "" {
		return ur.URL, nil
	}
	return resp.FinalURL, nil
}
