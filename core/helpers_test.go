package core_test

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"pixieauth/core"

	"github.com/stretchr/testify/require"
)

// stubBrowser records opened URLs and fails with err when set
type stubBrowser struct {
	mu     sync.Mutex
	err    error
	opened []string
}

func (b *stubBrowser) Open(_ context.Context, rawURL string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opened = append(b.opened, rawURL)
	return b.err
}

func (b *stubBrowser) Opened() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.opened...)
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// stateFrom extracts the state parameter of an authorize URL
func stateFrom(t *testing.T, authorizeURL string) string {
	u, err := url.Parse(authorizeURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func callbackURL(code, state string) string {
	q := url.Values{}
	if code != "" {
		q.Set("code", code)
	}
	if state != "" {
		q.Set("state", state)
	}
	return core.DefaultRedirectURI + "?" + q.Encode()
}
