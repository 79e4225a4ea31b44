package core

import (
	"github.com/google/uuid"
)

// Provider represents an OAuth identity provider supported by the Pixie API
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGoogle Provider = "google"
	ProviderApple  Provider = "apple"
)

// ParseProvider converts user input into a known Provider
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if _, ok := providerSpecs[p]; !ok {
		return "", ErrUnsupportedProvider
	}
	return p, nil
}

// Credential is the long-lived API key issued by the backend after a successful exchange
type Credential struct {
	APIKey   string   `json:"api_key"`
	UserID   string   `json:"user_id"`
	Provider Provider `json:"provider"`
}

// Complete reports whether both halves of the credential are present
func (c *Credential) Complete() bool {
	return c != nil && c.APIKey != "" && c.UserID != ""
}

// DeviceAuthorization is the device-code grant returned by the backend
type DeviceAuthorization struct {
	DeviceCode              string `json:"device_code"`
	UserCode                string `json:"user_code"`
	VerificationURI         string `json:"verification_uri"`
	VerificationURIComplete string `json:"verification_uri_complete,omitempty"`
	ExpiresIn               int    `json:"expires_in"`
	Interval                int    `json:"interval"`
}

// VerificationURL returns the URL to present to the user. When the server did not
// supply a pre-filled URL, the bare URI is returned and the user code must be shown too.
func (d *DeviceAuthorization) VerificationURL() (url string, needsUserCode bool) {
	if d.VerificationURIComplete != "" {
		return d.VerificationURIComplete, false
	}
	return d.VerificationURI, true
}

// AttemptID identifies one call to Authenticate
type AttemptID uuid.UUID

func (id AttemptID) String() string {
	return uuid.UUID(id).String()
}

// OutcomeKind discriminates AuthOutcome
type OutcomeKind int

const (
	OutcomePending OutcomeKind = iota
	OutcomeSuccess
	OutcomeError
	OutcomeCancelled
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomePending:
		return "pending"
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Prompt is what the UI has to show the user while an attempt is pending
type Prompt struct {
	URL      string
	UserCode string // only set when the URL does not carry the code
	Manual   bool   // the browser could not be opened automatically
}

// AuthOutcome is the single result type published to the UI
type AuthOutcome struct {
	Kind       OutcomeKind
	AttemptID  AttemptID
	Provider   Provider
	Method     Method
	Credential *Credential
	Prompt     *Prompt
	Message    string
	Err        error
}

// Terminal reports whether no further outcome follows for the attempt
func (o AuthOutcome) Terminal() bool {
	return o.Kind != OutcomePending
}

func pendingOutcome(provider Provider, prompt *Prompt) AuthOutcome {
	return AuthOutcome{Kind: OutcomePending, Provider: provider, Prompt: prompt}
}

func successOutcome(cred *Credential) AuthOutcome {
	return AuthOutcome{Kind: OutcomeSuccess, Provider: cred.Provider, Credential: cred}
}

func cancelledOutcome(provider Provider) AuthOutcome {
	return AuthOutcome{Kind: OutcomeCancelled, Provider: provider, Err: ErrCancelled}
}

// outcomeFromError maps a flow error onto the terminal outcome the UI sees
func outcomeFromError(provider Provider, err error) AuthOutcome {
	if KindOf(err) == KindUserCancelled {
		return cancelledOutcome(provider)
	}
	return AuthOutcome{
		Kind:     OutcomeError,
		Provider: provider,
		Message:  UserMessage(err),
		Err:      err,
	}
}
