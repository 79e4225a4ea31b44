package integration_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"pixieauth/core"
	"pixieauth/core/backend"
	"pixieauth/core/providers"
	"pixieauth/storage"

	"github.com/stretchr/testify/suite"
)

const encryptionSecret = "integration-test-encryption-secret"

type IntegrationTestSuite struct {
	suite.Suite
	api        *MockPixieAPI
	browser    *followingBrowser
	config     *core.Config
	store      *storage.SQLiteCredentialStore
	controller *core.AuthSessionController
	callbacks  *httptest.Server
	dbPath     string
	idToken    string
}

func (s *IntegrationTestSuite) SetupTest() {
	s.api = NewMockPixieAPI()
	s.browser = newFollowingBrowser()
	s.dbPath = filepath.Join(s.T().TempDir(), "credentials.db")

	// the redirect URI must be known before the controller is built
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)

	cfg := core.DefaultConfig()
	cfg.APIURL = s.api.URL()
	cfg.RedirectURI = "http://" + listener.Addr().String() + "/auth/callback"
	cfg.RequestTimeout = 5 * time.Second
	cfg.Device.PollInterval = 20 * time.Millisecond
	cfg.Device.Timeout = 5 * time.Second
	cfg.Native.GoogleAudience = providers.MockAudience
	s.config = &cfg

	s.store, err = storage.NewSQLiteCredentialStore(s.dbPath, encryptionSecret, cfg.APIURL)
	s.Require().NoError(err)

	s.idToken, err = providers.MintIdentityToken(core.ProviderGoogle, providers.MockAudience, time.Now().Add(time.Hour))
	s.Require().NoError(err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	caps := core.Capabilities{
		ReceivesCallbacks: true,
		Native: map[core.Provider]core.NativeSignIn{
			core.ProviderGoogle: providers.StaticSignIn{IDToken: s.idToken},
			core.ProviderApple:  providers.Unavailable{},
		},
	}
	s.controller, err = core.NewAuthSessionController(backend.NewHTTPBackend(s.config), s.store, s.config, caps,
		core.WithBrowser(s.browser),
		core.WithLogger(logger),
	)
	s.Require().NoError(err)

	s.callbacks = httptest.NewUnstartedServer(core.NewServer(s.controller, s.config, logger).Handler())
	s.callbacks.Listener.Close()
	s.callbacks.Listener = listener
	s.callbacks.Start()
}

func (s *IntegrationTestSuite) TearDownTest() {
	s.controller.Cancel()
	s.controller.Wait()
	s.callbacks.Close()
	s.api.Close()
	s.store.Close()
}

// awaitFinal collects outcomes until the first one that is not pending
func (s *IntegrationTestSuite) awaitFinal() ([]core.AuthOutcome, core.AuthOutcome) {
	var pending []core.AuthOutcome
	timeout := time.After(5 * time.Second)
	for {
		select {
		case out := <-s.controller.Outcomes():
			if out.Kind == core.OutcomePending {
				pending = append(pending, out)
				continue
			}
			return pending, out
		case <-timeout:
			s.FailNow("timed out waiting for the sign-in to finish")
			return nil, core.AuthOutcome{}
		}
	}
}

func (s *IntegrationTestSuite) awaitVisit() browserVisit {
	select {
	case visit := <-s.browser.visits:
		return visit
	case <-time.After(5 * time.Second):
		s.FailNow("browser never finished loading")
		return browserVisit{}
	}
}

func (s *IntegrationTestSuite) TestHealthCheck() {
	resp, err := http.Get(s.callbacks.URL + "/health")
	s.Require().NoError(err)
	defer resp.Body.Close()

	s.Equal(http.StatusOK, resp.StatusCode)
}

func (s *IntegrationTestSuite) TestRedirectFlow() {
	ctx := context.Background()

	id, err := s.controller.AuthenticateWith(ctx, core.ProviderGitHub, core.MethodRedirect)
	s.Require().NoError(err)

	pending, final := s.awaitFinal()
	s.Require().Equal(core.OutcomeSuccess, final.Kind, final.Message)
	s.Equal(id, final.AttemptID)
	s.Equal("pk_github_1", final.Credential.APIKey)

	exchanges := s.api.Exchanges()
	s.Require().Len(exchanges, 1)
	s.Equal("code_github", exchanges[0]["code"])
	s.NotEmpty(exchanges[0]["state"])
	s.Equal(s.config.RedirectURI, exchanges[0]["redirect_uri"])

	// the callback can beat the pending outcome, which is then dropped
	for _, out := range pending {
		s.Equal(exchanges[0]["state"], stateOf(out.Prompt.URL))
	}

	visit := s.awaitVisit()
	s.Require().NoError(visit.Err)
	s.Equal(http.StatusOK, visit.StatusCode)
	s.Contains(visit.Body, "Signed in")

	cred, err := s.controller.CurrentCredential(ctx)
	s.Require().NoError(err)
	s.Equal("gh_user_1", cred.UserID)
	s.Equal(core.ProviderGitHub, cred.Provider)

	values, err := storedValues(s.dbPath)
	s.Require().NoError(err)
	s.Len(values, 4)
	s.Equal(s.api.URL(), values["api_url"])
	s.NotContains(values["api_key"], "pk_github_1")
}

func (s *IntegrationTestSuite) TestRedirectDenied() {
	s.api.DenyAuthorize()

	_, err := s.controller.AuthenticateWith(context.Background(), core.ProviderGoogle, core.MethodRedirect)
	s.Require().NoError(err)

	_, final := s.awaitFinal()
	s.Equal(core.OutcomeError, final.Kind)

	visit := s.awaitVisit()
	s.Require().NoError(visit.Err)
	s.Equal(http.StatusBadRequest, visit.StatusCode)
	s.Contains(visit.Body, "Sign-in failed")

	s.Empty(s.api.Exchanges())
	s.False(s.controller.IsAuthenticated(context.Background()))
}

func (s *IntegrationTestSuite) TestForgedCallbackRejected() {
	s.browser.hold.Store(true)

	_, err := s.controller.AuthenticateWith(context.Background(), core.ProviderGitHub, core.MethodRedirect)
	s.Require().NoError(err)

	resp, err := getCallback(s.callbacks.URL, "code_github", "forged-state")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	_, final := s.awaitFinal()
	s.Equal(core.OutcomeError, final.Kind)
	s.Equal(core.KindStateValidation, core.KindOf(final.Err))

	s.Empty(s.api.Exchanges())
	s.False(s.controller.IsAuthenticated(context.Background()))
}

func (s *IntegrationTestSuite) TestDeviceFlow() {
	s.api.SetPendingPolls(2)

	_, err := s.controller.AuthenticateWith(context.Background(), core.ProviderGitHub, core.MethodDevice)
	s.Require().NoError(err)

	pending, final := s.awaitFinal()
	s.Require().Equal(core.OutcomeSuccess, final.Kind, final.Message)
	s.Equal(core.MethodDevice, final.Method)

	s.Require().Len(pending, 1)
	s.Equal("WDJB-MJHT", pending[0].Prompt.UserCode)
	s.Equal(s.api.URL()+"/device", pending[0].Prompt.URL)

	s.Equal(3, s.api.Polls())

	cred, err := s.controller.CurrentCredential(context.Background())
	s.Require().NoError(err)
	s.Equal("device_user_1", cred.UserID)
	s.Equal(core.ProviderGitHub, cred.Provider)
}

func (s *IntegrationTestSuite) TestLoginEndpoint() {
	resp, err := postLogin(s.callbacks.URL, "google", "device")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)

	login, err := parseLoginResponse(resp)
	s.Require().NoError(err)
	s.NotEmpty(login.AttemptID)

	_, final := s.awaitFinal()
	s.Require().Equal(core.OutcomeSuccess, final.Kind, final.Message)
	s.Equal(login.AttemptID, final.AttemptID.String())

	statusResp, err := getStatus(s.callbacks.URL)
	s.Require().NoError(err)
	defer statusResp.Body.Close()

	status, err := parseStatusResponse(statusResp)
	s.Require().NoError(err)
	s.True(status.Authenticated)
	s.Equal("google", status.Provider)
	s.Equal("device_user_1", status.UserID)
}

func (s *IntegrationTestSuite) TestLoginEndpointRejectsUnsupportedMethod() {
	resp, err := postLogin(s.callbacks.URL, "apple", "device")
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusBadRequest, resp.StatusCode)

	login, err := parseLoginResponse(resp)
	s.Require().NoError(err)
	s.Equal("unsupported_method", login.Error)
}

func (s *IntegrationTestSuite) TestNativeGoogle() {
	_, err := s.controller.AuthenticateWith(context.Background(), core.ProviderGoogle, core.MethodNative)
	s.Require().NoError(err)

	_, final := s.awaitFinal()
	s.Require().Equal(core.OutcomeSuccess, final.Kind, final.Message)
	s.Equal(core.MethodNative, final.Method)
	s.Equal(s.idToken, s.api.NativeToken("google"))

	cred, err := s.controller.CurrentCredential(context.Background())
	s.Require().NoError(err)
	s.Equal("google_user_1", cred.UserID)
}

func (s *IntegrationTestSuite) TestLogoutRevokesAndClears() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, &core.Credential{APIKey: "pk_saved", UserID: "u_saved", Provider: core.ProviderApple}))

	resp, err := postLogout(s.callbacks.URL)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	s.Equal([]string{"pk_saved"}, s.api.Revoked())
	values, err := storedValues(s.dbPath)
	s.Require().NoError(err)
	s.Empty(values)
	s.False(s.controller.IsAuthenticated(ctx))
}

func (s *IntegrationTestSuite) TestLogoutSurvivesRevokeFailure() {
	ctx := context.Background()
	s.api.SetRevokeStatus(http.StatusServiceUnavailable)
	s.Require().NoError(s.store.Save(ctx, &core.Credential{APIKey: "pk_saved", UserID: "u_saved", Provider: core.ProviderGitHub}))

	resp, err := postLogout(s.callbacks.URL)
	s.Require().NoError(err)
	defer resp.Body.Close()
	s.Equal(http.StatusOK, resp.StatusCode)

	s.Len(s.api.Revoked(), 1)
	s.False(s.controller.IsAuthenticated(ctx))
}

func (s *IntegrationTestSuite) TestStoreBoundToAPIURL() {
	ctx := context.Background()
	s.Require().NoError(s.store.Save(ctx, &core.Credential{APIKey: "pk_saved", UserID: "u_saved", Provider: core.ProviderGitHub}))

	other, err := storage.NewSQLiteCredentialStore(s.dbPath, encryptionSecret, "https://staging.pixie.example")
	s.Require().NoError(err)
	defer other.Close()

	_, err = other.Load(ctx)
	s.ErrorIs(err, core.ErrNotFound)

	cred, err := s.store.Load(ctx)
	s.Require().NoError(err)
	s.Equal("pk_saved", cred.APIKey)
}

func TestIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration tests in short mode")
	}
	suite.Run(t, new(IntegrationTestSuite))
}
