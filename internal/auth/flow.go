// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/autobrr/autobrr/pkg/ttlcache"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/upbrr/internal/session"
)

type State int

const (
	StateNoSession State = iota
	StateProbing
	StateLoggingIn
	StateLoggedIn
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "NoSession"
	case StateProbing:
		return "Probing"
	case StateLoggingIn:
		return "LoggingIn"
	case StateLoggedIn:
		return "LoggedIn"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// maxSubmissions bounds credential submissions per attempt: one plain, one with a code.
const maxSubmissions = 2

type ProbeResult struct {
	Authenticated bool
	// Token is the CSRF token embedded in the probed page.
	Token string
}

type LoginStatus int

const (
	LoginOK LoginStatus = iota
	LoginTwoFactorRequired
	LoginBadCredentials
	LoginQuotaExceeded
)

type LoginResult struct {
	Status  LoginStatus
	Token   string
	Message string
}

// Authenticator is the session-login capability of a tracker.
type Authenticator interface {
	BaseURL() *url.URL
	// Probe issues a cheap authenticated request using the session cookies.
	Probe(ctx context.Context, client *http.Client) (ProbeResult, error)
	// Login submits credentials. code is empty on the first submission.
	Login(ctx context.Context, client *http.Client, code string) (LoginResult, error)
}

// InputFunc answers a NeedsInput. It is supplied by the orchestration boundary.
type InputFunc func(ctx context.Context, req NeedsInput) (string, error)

type Flow struct {
	store   *session.Store
	tokens  *ttlcache.Cache[string, string]
	timeout time.Duration
}

func NewFlow(store *session.Store, timeout time.Duration) *Flow {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Flow{
		store:   store,
		timeout: timeout,
		tokens: ttlcache.New(ttlcache.Options[string, string]{}.
			SetDefaultTTL(10 * time.Minute)),
	}
}

// Attempt is one login attempt for one tracker. Callers hold the store's tracker lock
// for its whole life.
type Attempt struct {
	flow    *Flow
	tracker string
	auth    Authenticator
	sess    *session.Session
	client  *http.Client

	state       State
	submissions int
	needCode    bool
	code        string
	token       string
	err         error
}

// Begin loads the tracker session and returns an attempt in NoSession.
func (f *Flow) Begin(tracker string, a Authenticator) (*Attempt, error) {
	sess, err := f.store.Load(tracker, a.BaseURL())
	if err != nil {
		return nil, err
	}

	return &Attempt{
		flow:    f,
		tracker: tracker,
		auth:    a,
		sess:    sess,
		client: &http.Client{
			Jar:     sess.Jar,
			Timeout: f.timeout,
		},
		state: StateNoSession,
	}, nil
}

func (a *Attempt) State() State {
	return a.state
}

func (a *Attempt) Token() string {
	return a.token
}

// Client shares the session jar; use it for requests after LoggedIn.
func (a *Attempt) Client() *http.Client {
	return a.client
}

func (a *Attempt) Submissions() int {
	return a.submissions
}

// SupplyCode provides the second factor requested by a NeedsInput.
func (a *Attempt) SupplyCode(code string) {
	a.code = code
}

// Advance runs the state machine until it reaches LoggedIn, Failed, or needs input.
func (a *Attempt) Advance(ctx context.Context) (State, error) {
	for {
		switch a.state {
		case StateLoggedIn:
			return a.state, nil
		case StateFailed:
			return a.state, a.err
		case StateNoSession:
			a.fromNoSession()
		case StateProbing:
			a.probe(ctx)
		case StateLoggingIn:
			if need := a.login(ctx); need != nil {
				return a.state, need
			}
		}
	}
}

func (a *Attempt) fromNoSession() {
	if a.sess.Persisted && a.sess.Fresh {
		if token, ok := a.flow.tokens.Get(a.tracker); ok && token != "" {
			a.token = token
			a.state = StateLoggedIn
			return
		}
		a.state = StateProbing
		return
	}
	a.state = StateLoggingIn
}

func (a *Attempt) probe(ctx context.Context) {
	res, err := a.auth.Probe(ctx, a.client)
	if err != nil {
		a.fail(fmt.Errorf("%s session probe: %w", a.tracker, err))
		return
	}

	if !res.Authenticated {
		log.Debug().Str("tracker", a.tracker).Msg("Persisted session is no longer valid, logging in")
		if err := a.flow.store.Invalidate(a.tracker); err != nil {
			log.Warn().Err(err).Str("tracker", a.tracker).Msg("Failed to mark session stale")
		}
		a.flow.tokens.Set(a.tracker, "", ttlcache.DefaultTTL)
		a.state = StateLoggingIn
		return
	}

	a.loggedIn(res.Token)
}

func (a *Attempt) login(ctx context.Context) *NeedsInput {
	if a.needCode && a.code == "" {
		return &NeedsInput{
			Tracker: a.tracker,
			Kind:    InputTwoFactorCode,
			Prompt:  fmt.Sprintf("%s two-factor code", a.tracker),
		}
	}

	if a.submissions >= maxSubmissions {
		a.fail(&Error{Tracker: a.tracker, Reason: ReasonTwoFactorRejected})
		return nil
	}

	code := a.code
	a.submissions++
	res, err := a.auth.Login(ctx, a.client, code)
	if err != nil {
		a.fail(fmt.Errorf("%s login request: %w", a.tracker, err))
		return nil
	}

	switch res.Status {
	case LoginOK:
		a.loggedIn(res.Token)
	case LoginTwoFactorRequired:
		if code != "" {
			a.fail(&Error{Tracker: a.tracker, Reason: ReasonTwoFactorRejected, Message: res.Message})
			return nil
		}
		a.needCode = true
		return a.login(ctx)
	case LoginQuotaExceeded:
		a.fail(&Error{Tracker: a.tracker, Reason: ReasonQuotaExceeded, Message: res.Message})
	default:
		reason := ReasonBadCredentials
		if code != "" {
			reason = ReasonTwoFactorRejected
		}
		a.fail(&Error{Tracker: a.tracker, Reason: reason, Message: res.Message})
	}
	return nil
}

func (a *Attempt) loggedIn(token string) {
	if err := a.flow.store.Save(a.sess, a.auth.BaseURL()); err != nil {
		// state is still usable for this run
		log.Error().Err(err).Str("tracker", a.tracker).Msg("Failed to persist tracker session")
	}
	a.token = token
	a.flow.tokens.Set(a.tracker, token, ttlcache.DefaultTTL)
	a.state = StateLoggedIn
	log.Debug().Str("tracker", a.tracker).Int("submissions", a.submissions).Msg("Tracker session authenticated")
}

func (a *Attempt) fail(err error) {
	a.err = err
	a.state = StateFailed
}

// Session is the result of a completed authentication.
type Session struct {
	Tracker string
	Token   string
	Client  *http.Client
}

// Authenticate drives an attempt to a terminal state, resolving NeedsInput through input.
// A nil input turns any NeedsInput into a failure.
func (f *Flow) Authenticate(ctx context.Context, tracker string, a Authenticator, input InputFunc) (*Session, error) {
	attempt, err := f.Begin(tracker, a)
	if err != nil {
		return nil, err
	}

	for {
		state, err := attempt.Advance(ctx)
		if state == StateLoggedIn {
			return &Session{Tracker: tracker, Token: attempt.Token(), Client: attempt.Client()}, nil
		}

		var need *NeedsInput
		if !errors.As(err, &need) {
			return nil, err
		}
		if input == nil {
			return nil, fmt.Errorf("%s: %w", tracker, err)
		}

		code, inputErr := input(ctx, *need)
		if inputErr != nil {
			return nil, fmt.Errorf("%s: reading %s: %w", tracker, need.Kind, inputErr)
		}
		if code == "" {
			return nil, &Error{Tracker: tracker, Reason: ReasonTwoFactorRejected, Message: "no code supplied"}
		}
		attempt.SupplyCode(code)
	}
}
