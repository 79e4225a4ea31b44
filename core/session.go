package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

const outcomeBuffer = 32

// Capabilities describes what the host platform can do
type Capabilities struct {
	// ReceivesCallbacks is true when redirect callbacks reach HandleCallback, for
	// example through a registered URL scheme or a loopback server.
	ReceivesCallbacks bool

	// Native holds the platform sign-in SDKs by provider
	Native map[Provider]NativeSignIn
}

type Option func(*AuthSessionController)

func WithClock(clock clockwork.Clock) Option {
	return func(c *AuthSessionController) { c.clock = clock }
}

func WithBrowser(browser Browser) Option {
	return func(c *AuthSessionController) { c.browser = browser }
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *AuthSessionController) { c.logger = logger }
}

type pendingAttempt struct {
	id        AttemptID
	provider  Provider
	method    Method
	startedAt time.Time
	cancel    context.CancelFunc
}

// AuthSessionController is the entry point the UI uses. It runs at most one
// authentication attempt at a time and publishes every outcome on one channel.
// Outcomes of superseded attempts are dropped and never reach the credential store.
type AuthSessionController struct {
	backend Backend
	store   CredentialStore
	config  *Config
	caps    Capabilities
	browser Browser
	clock   clockwork.Clock
	logger  *slog.Logger

	redirect *RedirectFlowCoordinator
	native   map[Provider]*NativeProviderAdapter

	mu       sync.Mutex
	current  *pendingAttempt
	lastPoll *DeviceAuthorizationPoller
	outcomes chan AuthOutcome
	wg       sync.WaitGroup
}

func NewAuthSessionController(backend Backend, store CredentialStore, config *Config, caps Capabilities, opts ...Option) (*AuthSessionController, error) {
	c := &AuthSessionController{
		backend:  backend,
		store:    store,
		config:   config,
		caps:     caps,
		browser:  SystemBrowser{},
		clock:    clockwork.NewRealClock(),
		logger:   slog.Default(),
		native:   make(map[Provider]*NativeProviderAdapter),
		outcomes: make(chan AuthOutcome, outcomeBuffer),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.redirect = NewRedirectFlowCoordinator(backend, c.browser, c.clock, config.RedirectURI, c.logger)

	for provider, sdk := range caps.Native {
		adapter, err := NewNativeProviderAdapter(provider, sdk, backend, c.clock, config.Audience(provider), c.logger)
		if err != nil {
			return nil, err
		}
		c.native[provider] = adapter
	}

	return c, nil
}

// Outcomes is the stream of authentication results. It must be drained; outcomes
// that do not fit in the buffer are dropped.
func (c *AuthSessionController) Outcomes() <-chan AuthOutcome {
	return c.outcomes
}

// Redirect exposes the redirect coordinator for status reporting
func (c *AuthSessionController) Redirect() *RedirectFlowCoordinator {
	return c.redirect
}

// Current returns the in-flight attempt, if any
func (c *AuthSessionController) Current() (AttemptID, Provider, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return AttemptID{}, "", false
	}
	return c.current.id, c.current.provider, true
}

// Authenticate starts an attempt for provider using the best available method
func (c *AuthSessionController) Authenticate(ctx context.Context, provider Provider) (AttemptID, error) {
	return c.AuthenticateWith(ctx, provider, MethodAuto)
}

// AuthenticateWith starts an attempt with an explicit method. ctx bounds the whole
// attempt. Any attempt already in flight is abandoned.
func (c *AuthSessionController) AuthenticateWith(ctx context.Context, provider Provider, method Method) (AttemptID, error) {
	method, err := c.resolve(provider, method)
	if err != nil {
		return AttemptID{}, err
	}

	attemptCtx, cancel := context.WithCancel(ctx)
	attempt := &pendingAttempt{
		id:        AttemptID(uuid.New()),
		provider:  provider,
		method:    method,
		startedAt: c.clock.Now(),
		cancel:    cancel,
	}

	c.mu.Lock()
	c.supersedeLocked()
	c.current = attempt

	// The redirect state is created under the lock so an older attempt can
	// never overwrite it.
	var start *RedirectStart
	if method == MethodRedirect {
		start, err = c.redirect.Begin(provider)
		if err != nil {
			c.current = nil
			c.mu.Unlock()
			cancel()
			return AttemptID{}, err
		}
	}
	c.mu.Unlock()

	c.logger.Info("authentication started",
		"attempt", attempt.id,
		"provider", provider,
		"method", method,
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(attemptCtx, attempt, start)
	}()

	return attempt.id, nil
}

func (c *AuthSessionController) resolve(provider Provider, method Method) (Method, error) {
	spec, err := SpecFor(provider)
	if err != nil {
		return "", err
	}
	adapter := c.native[provider]

	switch method {
	case MethodNative:
		if !spec.SupportsNative || adapter == nil {
			return "", fmt.Errorf("%w: native sign-in for %s", ErrUnsupportedMethod, provider)
		}
		return MethodNative, nil
	case MethodRedirect:
		return MethodRedirect, nil
	case MethodDevice:
		if !spec.SupportsDevice {
			return "", fmt.Errorf("%w: device flow for %s", ErrUnsupportedMethod, provider)
		}
		return MethodDevice, nil
	case MethodAuto, "":
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, method)
	}

	if spec.SupportsNative && adapter != nil {
		err := adapter.Available()
		if err == nil {
			return MethodNative, nil
		}
		c.logger.Info("native sign-in unavailable, falling back", "provider", provider, "error", err)
	}
	if c.caps.ReceivesCallbacks {
		return MethodRedirect, nil
	}
	if spec.SupportsDevice {
		return MethodDevice, nil
	}
	// manual entry of the callback URL is the last resort
	return MethodRedirect, nil
}

func (c *AuthSessionController) run(ctx context.Context, attempt *pendingAttempt, start *RedirectStart) {
	switch attempt.method {
	case MethodNative:
		cred, err := c.native[attempt.provider].Authenticate(ctx)
		c.finish(ctx, attempt, cred, err)

	case MethodDevice:
		c.runDevice(ctx, attempt)

	case MethodRedirect:
		if ctx.Err() != nil {
			c.finish(ctx, attempt, nil, newAuthError(KindUserCancelled, "open browser", ErrCancelled))
			return
		}
		if err := c.redirect.Open(ctx, start); err != nil {
			c.finish(ctx, attempt, nil, err)
			return
		}
		c.publish(attempt, pendingOutcome(attempt.provider, &Prompt{
			URL:    start.AuthorizeURL,
			Manual: start.Manual,
		}))
		// completes through HandleCallback
	}
}

func (c *AuthSessionController) runDevice(ctx context.Context, attempt *pendingAttempt) {
	poller := NewDeviceAuthorizationPoller(c.backend, c.clock, c.config.Device, c.logger)
	c.mu.Lock()
	c.lastPoll = poller
	c.mu.Unlock()

	auth, err := poller.Start(ctx, attempt.provider)
	if err != nil {
		c.finish(ctx, attempt, nil, err)
		return
	}

	verificationURL, needsCode := auth.VerificationURL()
	prompt := &Prompt{URL: verificationURL}
	if needsCode {
		prompt.UserCode = auth.UserCode
	}
	if err := c.browser.Open(ctx, verificationURL); err != nil {
		c.logger.Warn("could not open browser for device verification", "error", err)
		prompt.Manual = true
	}
	c.publish(attempt, pendingOutcome(attempt.provider, prompt))

	cred, err := poller.Poll(ctx, auth)
	c.finish(ctx, attempt, cred, err)
}

// HandleCallback delivers a redirect callback URL. The returned outcome is also
// published when it belongs to the in-flight redirect attempt.
func (c *AuthSessionController) HandleCallback(ctx context.Context, rawURL string) AuthOutcome {
	c.mu.Lock()
	attempt := c.current
	pending := c.redirect.takePending()
	c.mu.Unlock()

	// Without a pending state there is nothing to validate against. Either no
	// redirect is in flight, or an earlier callback took the state and owns the
	// attempt until its exchange returns; neither may be ended from here.
	if pending == nil {
		var provider Provider
		if attempt != nil {
			provider = attempt.provider
		}
		c.logger.Warn("rejected oauth callback without pending state", "in_flight", attempt != nil)
		return outcomeFromError(provider, newAuthError(KindStateValidation, "callback", ErrInvalidState))
	}

	cred, err := c.redirect.handleCallback(ctx, pending, rawURL)

	if attempt == nil || attempt.method != MethodRedirect {
		if err == nil {
			err = newAuthError(KindStateValidation, "callback", ErrInvalidState)
		}
		var provider Provider
		if attempt != nil {
			provider = attempt.provider
		}
		return outcomeFromError(provider, err)
	}

	return c.finish(ctx, attempt, cred, err)
}

// finish turns a flow result into the attempt's terminal outcome. Results of an
// attempt that is no longer current are dropped without touching the store.
func (c *AuthSessionController) finish(ctx context.Context, attempt *pendingAttempt, cred *Credential, err error) AuthOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == nil || c.current.id != attempt.id {
		c.logger.Debug("dropping outcome of superseded attempt", "attempt", attempt.id, "error", err)
		out := cancelledOutcome(attempt.provider)
		out.AttemptID = attempt.id
		out.Method = attempt.method
		return out
	}

	var out AuthOutcome
	if err != nil {
		out = outcomeFromError(attempt.provider, err)
	} else if saveErr := c.store.Save(context.WithoutCancel(ctx), cred); saveErr != nil {
		out = outcomeFromError(attempt.provider, fmt.Errorf("failed to store credential: %w", saveErr))
	} else {
		out = successOutcome(cred)
	}

	c.current = nil
	attempt.cancel()
	c.publishLocked(attempt, out)

	c.logger.Info("authentication finished",
		"attempt", attempt.id,
		"provider", attempt.provider,
		"outcome", out.Kind,
		"duration", c.clock.Since(attempt.startedAt),
	)
	return out
}

func (c *AuthSessionController) publish(attempt *pendingAttempt, out AuthOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil || c.current.id != attempt.id {
		return
	}
	c.publishLocked(attempt, out)
}

func (c *AuthSessionController) publishLocked(attempt *pendingAttempt, out AuthOutcome) {
	out.AttemptID = attempt.id
	out.Method = attempt.method
	select {
	case c.outcomes <- out:
	default:
		c.logger.Warn("outcome dropped, subscriber is not draining", "attempt", attempt.id, "outcome", out.Kind)
	}
}

// supersedeLocked abandons the in-flight attempt without publishing anything
func (c *AuthSessionController) supersedeLocked() {
	if c.current == nil {
		return
	}
	c.logger.Info("abandoning attempt", "attempt", c.current.id, "provider", c.current.provider)
	c.current.cancel()
	c.current = nil
	c.redirect.Abandon()
}

// Cancel stops the in-flight attempt and publishes Cancelled for it. It reports
// whether there was anything to cancel.
func (c *AuthSessionController) Cancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelLocked()
}

func (c *AuthSessionController) cancelLocked() bool {
	attempt := c.current
	if attempt == nil {
		return false
	}
	attempt.cancel()
	if attempt.method == MethodRedirect {
		c.redirect.Cancel()
	}
	c.current = nil
	c.publishLocked(attempt, cancelledOutcome(attempt.provider))
	return true
}

// Logout cancels any attempt, revokes the session remotely on a best-effort basis
// and clears the local credential. Only a failure to clear locally is returned.
func (c *AuthSessionController) Logout(ctx context.Context) error {
	c.mu.Lock()
	c.cancelLocked()
	c.mu.Unlock()

	cred, err := c.store.Load(ctx)
	switch {
	case err == nil && cred.APIKey != "":
		if err := c.backend.RevokeSession(ctx, cred.APIKey); err != nil {
			c.logger.Warn("remote session revocation failed", "error", err)
		}
	case err != nil && !errors.Is(err, ErrNotFound):
		c.logger.Warn("could not read credential before logout", "error", err)
	}

	if err := c.store.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear credentials: %w", err)
	}
	c.logger.Info("logged out")
	return nil
}

// IsAuthenticated reports whether the store holds both an API key and a user id
func (c *AuthSessionController) IsAuthenticated(ctx context.Context) bool {
	cred, err := c.store.Load(ctx)
	if err != nil {
		return false
	}
	return cred.Complete()
}

// CurrentCredential returns the stored credential
func (c *AuthSessionController) CurrentCredential(ctx context.Context) (*Credential, error) {
	return c.store.Load(ctx)
}

// DevicePoller returns the poller of the most recent device attempt
func (c *AuthSessionController) DevicePoller() *DeviceAuthorizationPoller {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastPoll
}

// Wait blocks until every flow goroutine has returned
func (c *AuthSessionController) Wait() {
	c.wg.Wait()
}
