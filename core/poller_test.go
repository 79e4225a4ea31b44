package core_test

import (
	"context"
	"testing"
	"time"

	"pixieauth/core"
	"pixieauth/core/backend"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pollResult struct {
	cred *core.Credential
	err  error
}

func newTestPoller(mock core.Backend, timeout time.Duration) (*core.DeviceAuthorizationPoller, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	poller := core.NewDeviceAuthorizationPoller(mock, clock, core.DeviceConfig{
		Timeout:      timeout,
		PollInterval: 5 * time.Second,
	}, nil)
	return poller, clock
}

func pollAsync(ctx context.Context, p *core.DeviceAuthorizationPoller, auth *core.DeviceAuthorization) <-chan pollResult {
	done := make(chan pollResult, 1)
	go func() {
		cred, err := p.Poll(ctx, auth)
		done <- pollResult{cred, err}
	}()
	return done
}

// tick waits for the poller to block on the clock, then advances it
func tick(t *testing.T, ctx context.Context, clock *clockwork.FakeClock, d time.Duration) {
	t.Helper()
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(d)
}

func TestPoller_SucceedsAfterPending(t *testing.T) {
	ctx := testContext(t)
	mock := backend.NewMockBackend()
	mock.SetPolls(backend.PendingPolls(3, backend.PollResult{Credential: backend.Credential1}))
	poller, clock := newTestPoller(mock, core.DefaultDeviceTimeout)

	auth, err := poller.Start(ctx, core.ProviderGitHub)
	require.NoError(t, err)
	assert.Equal(t, core.DeviceAwaitingUser, poller.State())

	done := pollAsync(ctx, poller, auth)
	for range 4 {
		tick(t, ctx, clock, 5*time.Second)
	}

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, backend.Credential1.APIKey, res.cred.APIKey)
	assert.Equal(t, core.ProviderGitHub, res.cred.Provider)
	assert.Equal(t, 4, poller.Polls())
	assert.Equal(t, core.DeviceSucceeded, poller.State())
}

func TestPoller_TimesOutAfterClientDeadline(t *testing.T) {
	ctx := testContext(t)
	mock := backend.NewMockBackend()
	poller, clock := newTestPoller(mock, core.DefaultDeviceTimeout)

	auth, err := poller.Start(ctx, core.ProviderGitHub)
	require.NoError(t, err)

	done := pollAsync(ctx, poller, auth)
	// polls at 5s..295s, the 60th wait reaches the 300s deadline
	for range 60 {
		tick(t, ctx, clock, 5*time.Second)
	}

	res := <-done
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, core.ErrTimeout)
	assert.Equal(t, core.KindTimeout, core.KindOf(res.err))
	assert.Equal(t, "authentication timed out", core.UserMessage(res.err))
	assert.Equal(t, core.DeviceExpired, poller.State())
	assert.Equal(t, 59, poller.Polls())

	clock.Advance(time.Minute)
	assert.Equal(t, 59, mock.Calls("PollDeviceToken"))
}

func TestPoller_LastWaitIsClampedToDeadline(t *testing.T) {
	ctx := testContext(t)
	mock := backend.NewMockBackend()
	poller, clock := newTestPoller(mock, 12*time.Second)

	auth, err := poller.Start(ctx, core.ProviderGitHub)
	require.NoError(t, err)

	done := pollAsync(ctx, poller, auth)
	tick(t, ctx, clock, 5*time.Second)
	tick(t, ctx, clock, 5*time.Second)
	tick(t, ctx, clock, 2*time.Second)

	res := <-done
	assert.ErrorIs(t, res.err, core.ErrTimeout)
	assert.Equal(t, 2, poller.Polls())
}

func TestPoller_SlowDownIncreasesInterval(t *testing.T) {
	ctx := testContext(t)
	mock := backend.NewMockBackend()
	mock.SetPolls([]backend.PollResult{
		{Err: core.ErrSlowDown},
		{Credential: backend.Credential2},
	})
	poller, clock := newTestPoller(mock, core.DefaultDeviceTimeout)

	auth, err := poller.Start(ctx, core.ProviderGoogle)
	require.NoError(t, err)

	done := pollAsync(ctx, poller, auth)
	tick(t, ctx, clock, 5*time.Second)

	// the interval is now 10s
	tick(t, ctx, clock, 9*time.Second)
	assert.Equal(t, 1, poller.Polls())
	clock.Advance(time.Second)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, backend.Credential2.UserID, res.cred.UserID)
	assert.Equal(t, 2, poller.Polls())
}

func TestPoller_ZeroIntervalUsesDefault(t *testing.T) {
	ctx := testContext(t)
	mock := backend.NewMockBackend()
	auth := backend.DefaultDeviceAuthorization
	auth.Interval = 0
	mock.SetDeviceAuthorization(&auth, nil)
	mock.SetPolls([]backend.PollResult{{Credential: backend.Credential1}})
	poller, clock := newTestPoller(mock, core.DefaultDeviceTimeout)

	started, err := poller.Start(ctx, core.ProviderGitHub)
	require.NoError(t, err)

	done := pollAsync(ctx, poller, started)
	tick(t, ctx, clock, 4*time.Second)
	assert.Equal(t, 0, poller.Polls())
	clock.Advance(time.Second)

	res := <-done
	require.NoError(t, res.err)
}

func TestPoller_TerminalServerErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantState core.DeviceState
		wantIs    error
	}{
		{
			name:      "access denied",
			err:       &core.AuthError{Kind: core.KindServerDenied, Op: "poll", Err: core.ErrAccessDenied},
			wantState: core.DeviceDenied,
			wantIs:    core.ErrAccessDenied,
		},
		{
			name:      "expired token",
			err:       &core.AuthError{Kind: core.KindServerDenied, Op: "poll", Err: core.ErrDeviceCodeExpired},
			wantState: core.DeviceExpired,
			wantIs:    core.ErrDeviceCodeExpired,
		},
		{
			name:      "network",
			err:       &core.AuthError{Kind: core.KindNetwork, Op: "poll", Err: core.ErrTimeout},
			wantState: core.DeviceNetworkError,
			wantIs:    core.ErrTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := testContext(t)
			mock := backend.NewMockBackend()
			mock.SetPolls([]backend.PollResult{{Err: tt.err}})
			poller, clock := newTestPoller(mock, core.DefaultDeviceTimeout)

			auth, err := poller.Start(ctx, core.ProviderGitHub)
			require.NoError(t, err)

			done := pollAsync(ctx, poller, auth)
			tick(t, ctx, clock, 5*time.Second)

			res := <-done
			assert.ErrorIs(t, res.err, tt.wantIs)
			assert.Equal(t, tt.wantState, poller.State())
			assert.Equal(t, 1, poller.Polls())
		})
	}
}

func TestPoller_CancelStopsPolling(t *testing.T) {
	ctx := testContext(t)
	mock := backend.NewMockBackend()
	poller, clock := newTestPoller(mock, core.DefaultDeviceTimeout)

	auth, err := poller.Start(ctx, core.ProviderGitHub)
	require.NoError(t, err)

	pollCtx, cancel := context.WithCancel(ctx)
	done := pollAsync(pollCtx, poller, auth)
	tick(t, ctx, clock, 5*time.Second)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	cancel()

	res := <-done
	assert.ErrorIs(t, res.err, core.ErrCancelled)
	assert.Equal(t, core.KindUserCancelled, core.KindOf(res.err))
	assert.Equal(t, core.DeviceCancelled, poller.State())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, mock.Calls("PollDeviceToken"))
}

func TestPoller_StartFailures(t *testing.T) {
	ctx := testContext(t)

	mock := backend.NewMockBackend()
	mock.SetDeviceAuthorization(nil, &core.AuthError{Kind: core.KindNetwork, Op: "request device code", Err: core.ErrTimeout})
	poller, _ := newTestPoller(mock, core.DefaultDeviceTimeout)

	_, err := poller.Start(ctx, core.ProviderGitHub)
	assert.Equal(t, core.KindNetwork, core.KindOf(err))
	assert.Equal(t, core.DeviceNetworkError, poller.State())

	mock = backend.NewMockBackend()
	mock.SetDeviceAuthorization(&core.DeviceAuthorization{UserCode: "X"}, nil)
	poller, _ = newTestPoller(mock, core.DefaultDeviceTimeout)

	_, err = poller.Start(ctx, core.ProviderGitHub)
	assert.Equal(t, core.KindProtocol, core.KindOf(err))
}
