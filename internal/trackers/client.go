// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package trackers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/autobrr/upbrr/internal/buildinfo"
)

const maxResponseBytes int64 = 8 << 20

var errUnexpectedStatus = errors.New("unexpected status")

// Options are the shared transport settings handed to every tracker variant.
type Options struct {
	SearchTimeout time.Duration
	SubmitTimeout time.Duration
	// Transport overrides the default transport, mainly in tests.
	Transport http.RoundTripper
}

// SearchClient returns a client bounded by the search timeout.
func (o Options) SearchClient() *http.Client {
	timeout := o.SearchTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &http.Client{Timeout: timeout, Transport: o.Transport}
}

// SubmitClient returns a client bounded by the submit timeout. A nil jar means no cookies.
func (o Options) SubmitClient(jar http.CookieJar) *http.Client {
	timeout := o.SubmitTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &http.Client{Timeout: timeout, Transport: o.Transport, Jar: jar}
}

// ReadBody reads at most maxResponseBytes of the response body.
func ReadBody(resp *http.Response) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if int64(len(data)) > maxResponseBytes {
		return nil, fmt.Errorf("response exceeded %d bytes limit", maxResponseBytes)
	}
	return data, nil
}

// DoJSON sends req and decodes a JSON body into v. Every failure is a *SearchError.
func DoJSON(client *http.Client, tracker string, req *http.Request, v any) error {
	req.Header.Set("User-Agent", buildinfo.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return &SearchError{Tracker: tracker, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &SearchError{Tracker: tracker, StatusCode: resp.StatusCode, Err: errUnexpectedStatus}
	}

	data, err := ReadBody(resp)
	if err != nil {
		return &SearchError{Tracker: tracker, StatusCode: resp.StatusCode, Err: err}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &SearchError{Tracker: tracker, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// PostMultipart submits p and returns the raw response. Redirects are followed; the
// final URL is recorded for classification.
func PostMultipart(ctx context.Context, client *http.Client, p *Payload) (*Response, error) {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for key, values := range p.Fields {
		for _, v := range values {
			if err := w.WriteField(key, v); err != nil {
				return nil, fmt.Errorf("write field %s: %w", key, err)
			}
		}
	}
	for _, f := range p.Files {
		part, err := w.CreateFormFile(f.Field, f.FileName)
		if err != nil {
			return nil, fmt.Errorf("create form file %s: %w", f.Field, err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, fmt.Errorf("write form file %s: %w", f.Field, err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	req.Header.Set("User-Agent", buildinfo.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := ReadBody(resp)
	if err != nil {
		return nil, err
	}

	return &Response{
		StatusCode: resp.StatusCode,
		FinalURL:   resp.Request.URL.String(),
		Body:       data,
	}, nil
}
