package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/jonboulle/clockwork"
)

// RedirectState is the position of the browser redirect flow
type RedirectState int

const (
	RedirectIdle RedirectState = iota
	RedirectStarted
	RedirectAwaitingCallback
	RedirectExchanging
	RedirectSucceeded
	RedirectExchangeFailed
	RedirectCancelled
	RedirectCallbackError
)

func (s RedirectState) String() string {
	switch s {
	case RedirectIdle:
		return "idle"
	case RedirectStarted:
		return "started"
	case RedirectAwaitingCallback:
		return "awaiting_callback"
	case RedirectExchanging:
		return "exchanging"
	case RedirectSucceeded:
		return "succeeded"
	case RedirectExchangeFailed:
		return "exchange_failed"
	case RedirectCancelled:
		return "cancelled"
	case RedirectCallbackError:
		return "callback_error"
	default:
		return "unknown"
	}
}

// RedirectStart describes a redirect flow waiting for its callback
type RedirectStart struct {
	State        *OAuthState
	AuthorizeURL string
	Manual       bool // the browser could not be opened; show AuthorizeURL to the user
}

// RedirectFlowCoordinator drives the browser based OAuth flow for every provider.
// It holds at most one pending state; starting again abandons the previous one.
type RedirectFlowCoordinator struct {
	backend     Backend
	browser     Browser
	clock       clockwork.Clock
	redirectURI string
	logger      *slog.Logger

	mu      sync.Mutex
	state   RedirectState
	pending *OAuthState
}

func NewRedirectFlowCoordinator(backend Backend, browser Browser, clock clockwork.Clock, redirectURI string, logger *slog.Logger) *RedirectFlowCoordinator {
	if browser == nil {
		browser = NoBrowser{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &RedirectFlowCoordinator{
		backend:     backend,
		browser:     browser,
		clock:       clock,
		redirectURI: redirectURI,
		logger:      logger,
	}
}

func (c *RedirectFlowCoordinator) State() RedirectState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Pending returns a copy of the pending state, or nil
func (c *RedirectFlowCoordinator) Pending() *OAuthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	cp := *c.pending
	return &cp
}

func (c *RedirectFlowCoordinator) setState(state RedirectState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// Start creates a fresh state for provider and opens the authorize URL
func (c *RedirectFlowCoordinator) Start(ctx context.Context, provider Provider) (*RedirectStart, error) {
	start, err := c.Begin(provider)
	if err != nil {
		return nil, err
	}
	if err := c.Open(ctx, start); err != nil {
		return nil, err
	}
	return start, nil
}

// Begin creates the pending state and authorize URL without presenting it
func (c *RedirectFlowCoordinator) Begin(provider Provider) (*RedirectStart, error) {
	if _, err := SpecFor(provider); err != nil {
		return nil, err
	}

	state, err := NewOAuthState(provider, c.clock.Now())
	if err != nil {
		return nil, err
	}

	authURL, err := c.backend.AuthorizeURL(provider, state.Token, c.redirectURI)
	if err != nil {
		return nil, fmt.Errorf("build authorize url: %w", err)
	}

	c.mu.Lock()
	if c.pending != nil {
		c.logger.Debug("abandoning pending oauth state", "provider", c.pending.Provider)
	}
	c.pending = state
	c.state = RedirectStarted
	c.mu.Unlock()

	return &RedirectStart{State: state, AuthorizeURL: authURL}, nil
}

// Open presents start.AuthorizeURL. A browser that fails to open leaves the flow
// waiting with start.Manual set; a dismissed one cancels it.
func (c *RedirectFlowCoordinator) Open(ctx context.Context, start *RedirectStart) error {
	if err := c.browser.Open(ctx, start.AuthorizeURL); err != nil {
		if errors.Is(err, ErrBrowserDismissed) {
			c.cancelState(start.State)
			return newAuthError(KindUserCancelled, "open browser", err)
		}
		c.logger.Warn("could not open browser, falling back to manual entry", "error", err)
		start.Manual = true
	}

	c.mu.Lock()
	if c.pending == start.State {
		c.state = RedirectAwaitingCallback
	}
	c.mu.Unlock()
	return nil
}

// HandleCallback validates a redirect callback and exchanges its code. The pending
// state is consumed by every call, whatever the result, and the state check runs
// before any request is made.
func (c *RedirectFlowCoordinator) HandleCallback(ctx context.Context, rawURL string) (*Credential, error) {
	return c.handleCallback(ctx, c.takePending(), rawURL)
}

func (c *RedirectFlowCoordinator) takePending() *OAuthState {
	c.mu.Lock()
	defer c.mu.Unlock()
	pending := c.pending
	c.pending = nil
	return pending
}

func (c *RedirectFlowCoordinator) handleCallback(ctx context.Context, pending *OAuthState, rawURL string) (*Credential, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		c.setState(RedirectCallbackError)
		return nil, newAuthError(KindProtocol, "parse callback", err)
	}
	query := u.Query()

	if errParam := query.Get("error"); errParam != "" {
		c.setState(RedirectCallbackError)
		msg := errParam
		if desc := query.Get("error_description"); desc != "" {
			msg = fmt.Sprintf("%s: %s", errParam, desc)
		}
		if errParam == "access_denied" {
			return nil, newAuthError(KindServerDenied, "callback", fmt.Errorf("%w: %s", ErrAccessDenied, msg))
		}
		return nil, newAuthError(KindServerDenied, "callback", errors.New(msg))
	}

	code := query.Get("code")
	stateToken := query.Get("state")
	if code == "" || stateToken == "" {
		c.setState(RedirectCallbackError)
		return nil, newAuthError(KindProtocol, "callback", ErrMissingParameters)
	}

	if !pending.Matches(stateToken, c.clock.Now()) {
		c.setState(RedirectCallbackError)
		c.logger.Warn("rejected oauth callback", "has_pending", pending != nil)
		return nil, newAuthError(KindStateValidation, "callback", ErrInvalidState)
	}

	c.setState(RedirectExchanging)
	cred, err := c.backend.ExchangeCode(ctx, pending.Provider, CodeExchange{
		Code:        code,
		State:       stateToken,
		RedirectURI: c.redirectURI,
	})
	if err != nil {
		c.setState(RedirectExchangeFailed)
		return nil, fmt.Errorf("exchange code: %w", err)
	}
	if !cred.Complete() {
		c.setState(RedirectExchangeFailed)
		return nil, newAuthError(KindProtocol, "exchange code", errors.New("response is missing api_key or user_id"))
	}
	if cred.Provider == "" {
		cred.Provider = pending.Provider
	}

	c.setState(RedirectSucceeded)
	return cred, nil
}

// Cancel handles dismissal of the browser surface. It reports whether a flow was pending.
func (c *RedirectFlowCoordinator) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	had := c.pending != nil
	c.pending = nil
	c.state = RedirectCancelled
	return had
}

func (c *RedirectFlowCoordinator) cancelState(state *OAuthState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == state {
		c.pending = nil
		c.state = RedirectCancelled
	}
}

// Abandon drops the pending state without an outcome
func (c *RedirectFlowCoordinator) Abandon() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	c.state = RedirectIdle
}
