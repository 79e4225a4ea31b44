package core

import (
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/sync/singleflight"
)

// DefaultCallbackPath is served when the redirect URI is not an http URL
const DefaultCallbackPath = "/auth/callback"

// Server exposes the session controller over loopback HTTP: it receives redirect
// callbacks and lets local tools start, cancel and inspect sign-in.
type Server struct {
	controller *AuthSessionController
	config     *Config
	logger     *slog.Logger

	callbacks singleflight.Group
}

func NewServer(controller *AuthSessionController, config *Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		controller: controller,
		config:     config,
		logger:     logger,
	}
}

// CallbackPath is the path component of an http redirect URI
func (s *Server) CallbackPath() string {
	u, err := url.Parse(s.config.RedirectURI)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Path == "" {
		return DefaultCallbackPath
	}
	return u.Path
}

// Handler routes every endpoint of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.CallbackPath(), s.HandleCallback)
	mux.HandleFunc("/login", s.HandleLogin)
	mux.HandleFunc("/cancel", s.HandleCancel)
	mux.HandleFunc("/logout", s.HandleLogout)
	mux.HandleFunc("/status", s.HandleStatus)
	mux.HandleFunc("/health", s.HandleHealth)
	return mux
}

// HandleCallback forwards a provider redirect to the controller. A browser that
// delivers the same callback twice at once gets one shared result.
func (s *Server) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodGet) {
		return
	}

	rawURL := callbackURL(r)
	// the result outlives any single request sharing it
	ctx := context.WithoutCancel(r.Context())
	v, _, shared := s.callbacks.Do(r.URL.RawQuery, func() (any, error) {
		return s.controller.HandleCallback(ctx, rawURL), nil
	})
	out := v.(AuthOutcome)
	if shared {
		s.logger.Debug("duplicate callback collapsed", "attempt", out.AttemptID)
	}

	status := http.StatusOK
	if out.Kind != OutcomeSuccess {
		status = http.StatusBadRequest
	}
	renderCallbackPage(w, status, out)
}

func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Provider string `json:"provider"`
		Method   string `json:"method"`
	}

	if !decodeJSON(w, r, &req) {
		return
	}

	provider, err := ParseProvider(req.Provider)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_provider", "Unsupported provider")
		return
	}
	method, err := ParseMethod(req.Method)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_method", err.Error())
		return
	}

	id, err := s.controller.AuthenticateWith(context.WithoutCancel(r.Context()), provider, method)
	if err != nil {
		if errors.Is(err, ErrUnsupportedMethod) {
			respondError(w, http.StatusBadRequest, "unsupported_method", err.Error())
			return
		}
		s.logger.Error("failed to start authentication", "provider", provider, "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to start authentication")
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]string{
		"attempt_id": id.String(),
		"provider":   string(provider),
	})
}

func (s *Server) HandleCancel(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) {
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{
		"cancelled": s.controller.Cancel(),
	})
}

func (s *Server) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) {
		return
	}

	if err := s.controller.Logout(r.Context()); err != nil {
		s.logger.Error("logout failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to logout")
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"status": "logged_out",
	})
}

type attemptStatus struct {
	ID       string   `json:"id"`
	Provider Provider `json:"provider"`
}

type statusResponse struct {
	Authenticated bool           `json:"authenticated"`
	Provider      Provider       `json:"provider,omitempty"`
	UserID        string         `json:"user_id,omitempty"`
	Attempt       *attemptStatus `json:"attempt,omitempty"`
	RedirectState string         `json:"redirect_state"`
}

func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodGet) {
		return
	}

	resp := statusResponse{RedirectState: s.controller.Redirect().State().String()}

	cred, err := s.controller.CurrentCredential(r.Context())
	switch {
	case err == nil && cred.Complete():
		resp.Authenticated = true
		resp.Provider = cred.Provider
		resp.UserID = cred.UserID
	case err != nil && !errors.Is(err, ErrNotFound):
		s.logger.Error("failed to load credential", "error", err)
		respondError(w, http.StatusInternalServerError, "internal_error", "Failed to read credentials")
		return
	}

	if id, provider, ok := s.controller.Current(); ok {
		resp.Attempt = &attemptStatus{ID: id.String(), Provider: provider}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Helper functions

func callbackURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>Pixie sign-in</title></head>
<body>
{{if .Success}}<h1>Signed in</h1>
<p>You can close this window and return to Pixie.</p>
{{else}}<h1>Sign-in failed</h1>
<p>{{.Message}}</p>
{{end}}</body>
</html>
`))

func renderCallbackPage(w http.ResponseWriter, statusCode int, out AuthOutcome) {
	data := struct {
		Success bool
		Message string
	}{
		Success: out.Kind == OutcomeSuccess,
		Message: out.Message,
	}
	if out.Kind == OutcomeCancelled {
		data.Message = ErrCancelled.Error()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(statusCode)
	callbackPage.Execute(w, data)
}

func validateMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
