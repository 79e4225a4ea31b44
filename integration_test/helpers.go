package integration_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

type LoginResponse struct {
	AttemptID string `json:"attempt_id"`
	Provider  string `json:"provider"`
	Error     string `json:"error"`
}

type StatusResponse struct {
	Authenticated bool   `json:"authenticated"`
	Provider      string `json:"provider"`
	UserID        string `json:"user_id"`
	RedirectState string `json:"redirect_state"`
}

// browserVisit is the final page a followingBrowser landed on
type browserVisit struct {
	StatusCode int
	Body       string
	Err        error
}

// followingBrowser loads every URL it is asked to open and follows redirects, so
// an authorize URL ends on the callback server like a real browser would.
type followingBrowser struct {
	client *http.Client
	visits chan browserVisit

	// hold makes Open a no-op so a test can deliver the callback itself
	hold atomic.Bool
}

func newFollowingBrowser() *followingBrowser {
	return &followingBrowser{
		client: &http.Client{Timeout: 5 * time.Second},
		visits: make(chan browserVisit, 8),
	}
}

func (b *followingBrowser) Open(_ context.Context, rawURL string) error {
	if b.hold.Load() {
		return nil
	}
	go func() {
		resp, err := b.client.Get(rawURL)
		if err != nil {
			b.visits <- browserVisit{Err: err}
			return
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		b.visits <- browserVisit{StatusCode: resp.StatusCode, Body: string(body)}
	}()
	return nil
}

func postLogin(baseURL, provider, method string) (*http.Response, error) {
	body := map[string]string{
		"provider": provider,
		"method":   method,
	}
	jsonBody, _ := json.Marshal(body)

	client := &http.Client{Timeout: 5 * time.Second}
	return client.Post(baseURL+"/login", "application/json", bytes.NewReader(jsonBody))
}

func postLogout(baseURL string) (*http.Response, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	return client.Post(baseURL+"/logout", "application/json", nil)
}

func getStatus(baseURL string) (*http.Response, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	return client.Get(baseURL + "/status")
}

func getCallback(baseURL, code, state string) (*http.Response, error) {
	q := url.Values{}
	q.Set("code", code)
	q.Set("state", state)

	client := &http.Client{Timeout: 5 * time.Second}
	return client.Get(baseURL + "/auth/callback?" + q.Encode())
}

func parseLoginResponse(resp *http.Response) (*LoginResponse, error) {
	var result LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func parseStatusResponse(resp *http.Response) (*StatusResponse, error) {
	var result StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

// storedValues reads the credential rows as they sit on disk
func storedValues(dbPath string) (map[string]string, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	rows, err := db.Query("SELECT key, value FROM credentials")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		values[key] = value
	}
	return values, rows.Err()
}

func stateOf(authorizeURL string) string {
	u, err := url.Parse(authorizeURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("state")
}
