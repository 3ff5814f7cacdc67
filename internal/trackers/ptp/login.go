// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package ptp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/autobrr/upbrr/internal/auth"
	"github.com/autobrr/upbrr/internal/buildinfo"
	"github.com/autobrr/upbrr/internal/trackers"
)

// Probe loads the upload form with the session cookies.
func (t *Tracker) Probe(ctx context.Context, client *http.Client) (auth.ProbeResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint("upload.php", nil), nil)
	if err != nil {
		return auth.ProbeResult{}, err
	}
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return auth.ProbeResult{}, err
	}
	defer resp.Body.Close()

	body, err := trackers.ReadBody(resp)
	if err != nil {
		return auth.ProbeResult{}, err
	}

	if bytes.Contains(body, []byte(quotaMessage)) {
		return auth.ProbeResult{}, &auth.Error{Tracker: ID, Reason: auth.ReasonQuotaExceeded, Message: quotaMessage}
	}

	doc, err := parseHTML(body)
	if err != nil {
		return auth.ProbeResult{}, fmt.Errorf("parse upload page: %w", err)
	}
	if hasLink(doc, notLoggedInMarker) {
		return auth.ProbeResult{}, nil
	}

	token := findAttr(doc, "data-AntiCsrfToken")
	return auth.ProbeResult{Authenticated: token != "", Token: token}, nil
}

type loginResponse struct {
	Result        string `json:"Result"`
	AntiCsrfToken string `json:"AntiCsrfToken"`
	Message       string `json:"Message"`
}

// Login posts credentials and the announce passkey. A non-empty code resubmits with
// the second factor.
func (t *Tracker) Login(ctx context.Context, client *http.Client, code string) (auth.LoginResult, error) {
	form := url.Values{}
	form.Set("username", t.cfg.Username)
	form.Set("password", t.cfg.Password)
	form.Set("passkey", t.passkey)
	form.Set("keeplogged", "1")
	if code != "" {
		form.Set("TfaType", "normal")
		form.Set("TfaCode", code)
	}

	endpoint := t.endpoint("ajax.php", url.Values{"action": {"login"}})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return auth.LoginResult{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return auth.LoginResult{}, err
	}
	defer resp.Body.Close()

	body, err := trackers.ReadBody(resp)
	if err != nil {
		return auth.LoginResult{}, err
	}

	if bytes.Contains(body, []byte(quotaMessage)) {
		return auth.LoginResult{Status: auth.LoginQuotaExceeded, Message: quotaMessage}, nil
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return auth.LoginResult{}, fmt.Errorf("decode login response (status %d): %w", resp.StatusCode, err)
	}

	switch lr.Result {
	case "Ok":
		if lr.AntiCsrfToken == "" {
			return auth.LoginResult{Status: auth.LoginBadCredentials, Message: "login response without token"}, nil
		}
		return auth.LoginResult{Status: auth.LoginOK, Token: lr.AntiCsrfToken}, nil
	case "TfaRequired":
		return auth.LoginResult{Status: auth.LoginTwoFactorRequired, Message: lr.Message}, nil
	default:
		msg := lr.Message
		if msg == "" {
			msg = lr.Result
		}
		return auth.LoginResult{Status: auth.LoginBadCredentials, Message: msg}, nil
	}
}
