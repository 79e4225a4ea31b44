package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// slowDownStep is added to the poll interval each time the server asks us to back off
const slowDownStep = 5 * time.Second

// DeviceState is the position of a device authorization in its lifecycle
type DeviceState int

const (
	DeviceIdle DeviceState = iota
	DeviceRequesting
	DeviceAwaitingUser
	DevicePolling
	DeviceSucceeded
	DeviceDenied
	DeviceExpired
	DeviceNetworkError
	DeviceCancelled
)

func (s DeviceState) String() string {
	switch s {
	case DeviceIdle:
		return "idle"
	case DeviceRequesting:
		return "requesting"
	case DeviceAwaitingUser:
		return "awaiting_user"
	case DevicePolling:
		return "polling"
	case DeviceSucceeded:
		return "succeeded"
	case DeviceDenied:
		return "denied"
	case DeviceExpired:
		return "expired"
	case DeviceNetworkError:
		return "network_error"
	case DeviceCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// DeviceAuthorizationPoller runs one device authorization: it mints the device code
// and then polls the token endpoint until the user approves, the server refuses,
// or the client-side budget runs out.
type DeviceAuthorizationPoller struct {
	backend         Backend
	clock           clockwork.Clock
	timeout         time.Duration
	defaultInterval time.Duration
	logger          *slog.Logger

	mu       sync.Mutex
	state    DeviceState
	provider Provider
	polls    int
}

func NewDeviceAuthorizationPoller(backend Backend, clock clockwork.Clock, cfg DeviceConfig, logger *slog.Logger) *DeviceAuthorizationPoller {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultDeviceTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DeviceAuthorizationPoller{
		backend:         backend,
		clock:           clock,
		timeout:         cfg.Timeout,
		defaultInterval: cfg.PollInterval,
		logger:          logger,
	}
}

func (p *DeviceAuthorizationPoller) State() DeviceState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Polls returns how many token requests have been issued
func (p *DeviceAuthorizationPoller) Polls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

func (p *DeviceAuthorizationPoller) setState(state DeviceState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// Start requests a device code for provider. The caller presents the returned
// authorization to the user and then calls Poll.
func (p *DeviceAuthorizationPoller) Start(ctx context.Context, provider Provider) (*DeviceAuthorization, error) {
	p.mu.Lock()
	p.state = DeviceRequesting
	p.provider = provider
	p.mu.Unlock()

	auth, err := p.backend.RequestDeviceCode(ctx, provider)
	if err != nil {
		p.setState(DeviceNetworkError)
		return nil, fmt.Errorf("request device code: %w", err)
	}

	if auth.DeviceCode == "" || (auth.VerificationURI == "" && auth.VerificationURIComplete == "") {
		p.setState(DeviceNetworkError)
		return nil, newAuthError(KindProtocol, "request device code", errors.New("incomplete device authorization response"))
	}

	p.setState(DeviceAwaitingUser)
	p.logger.Debug("device code issued",
		"provider", provider,
		"expires_in", auth.ExpiresIn,
		"interval", auth.Interval,
	)
	return auth, nil
}

// Poll waits for the user to approve auth. It returns ErrTimeout once the poller's
// budget has elapsed, independently of the server-advertised expiry, and stops
// issuing requests as soon as ctx is cancelled.
func (p *DeviceAuthorizationPoller) Poll(ctx context.Context, auth *DeviceAuthorization) (*Credential, error) {
	p.setState(DevicePolling)

	interval := time.Duration(auth.Interval) * time.Second
	if interval <= 0 {
		interval = p.defaultInterval
	}
	deadline := p.clock.Now().Add(p.timeout)

	for {
		wait := interval
		if remaining := deadline.Sub(p.clock.Now()); remaining < wait {
			wait = remaining
		}

		if wait > 0 {
			select {
			case <-ctx.Done():
				return nil, p.cancelled()
			case <-p.clock.After(wait):
			}
		}

		if ctx.Err() != nil {
			return nil, p.cancelled()
		}
		if !p.clock.Now().Before(deadline) {
			p.setState(DeviceExpired)
			p.logger.Info("device authorization timed out", "timeout", p.timeout)
			return nil, newAuthError(KindTimeout, "poll device token", ErrTimeout)
		}

		p.mu.Lock()
		p.polls++
		provider := p.provider
		p.mu.Unlock()

		cred, err := p.backend.PollDeviceToken(ctx, auth.DeviceCode)
		switch {
		case err == nil:
			if !cred.Complete() {
				p.setState(DeviceDenied)
				return nil, newAuthError(KindProtocol, "poll device token", errors.New("token response is missing api_key or user_id"))
			}
			if cred.Provider == "" {
				cred.Provider = provider
			}
			p.setState(DeviceSucceeded)
			return cred, nil

		case errors.Is(err, ErrAuthorizationPending):
			continue

		case errors.Is(err, ErrSlowDown):
			interval += slowDownStep
			p.logger.Debug("device poll slowed down", "interval", interval)
			continue

		case ctx.Err() != nil:
			return nil, p.cancelled()

		case errors.Is(err, ErrDeviceCodeExpired):
			p.setState(DeviceExpired)
			return nil, fmt.Errorf("poll device token: %w", err)

		case KindOf(err) == KindNetwork:
			p.setState(DeviceNetworkError)
			return nil, fmt.Errorf("poll device token: %w", err)

		default:
			p.setState(DeviceDenied)
			return nil, fmt.Errorf("poll device token: %w", err)
		}
	}
}

func (p *DeviceAuthorizationPoller) cancelled() error {
	p.setState(DeviceCancelled)
	return newAuthError(KindUserCancelled, "poll device token", ErrCancelled)
}
