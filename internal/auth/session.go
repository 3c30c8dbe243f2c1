// Package auth manages the authenticated session required for ordering
// and downloading.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Sentinel errors for session handling.
var (
	// ErrAuthenticationFailed reports rejected credentials. The session
	// remains logged out.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrSessionExpired reports a token past its validity window. The
	// caller must re-login; operations never silently retry with a stale
	// token.
	ErrSessionExpired = errors.New("session expired")

	// ErrNotLoggedIn reports an operation that requires authentication
	// before any login happened.
	ErrNotLoggedIn = errors.New("not logged in")
)

// State is the session lifecycle state.
type State string

const (
	StateLoggedOut State = "logged_out"
	StateLoggingIn State = "logging_in"
	StateLoggedIn  State = "logged_in"
	StateExpired   State = "expired"
)

// Session is an authenticated context bounded by a token expiry.
// Dependent components hold a *Manager reference and read the token
// through it; they never copy the session, so a re-login transparently
// refreshes all of them.
type Session struct {
	UID    string
	Email  string
	Expiry time.Time

	token string
}

// tokenResponse is the credential-exchange response body.
type tokenResponse struct {
	UID         string    `json:"uid"`
	Email       string    `json:"email"`
	AccessToken string    `json:"access_token"`
	ExpiresOn   time.Time `json:"expires_on"`
}

// Manager owns the authenticated session. Token mutation (login,
// refresh, logout) is mutually exclusive with concurrent reads: a reader
// sees either the old or the new token atomically.
type Manager struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.RWMutex
	state   State
	session *Session
}

// NewManager creates a session manager for the given auth endpoint.
func NewManager(baseURL string, timeout time.Duration) *Manager {
	return &Manager{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default(),
		now:        time.Now,
		state:      StateLoggedOut,
	}
}

// WithLogger sets a custom logger for the manager.
func (m *Manager) WithLogger(logger *slog.Logger) *Manager {
	m.logger = logger
	return m
}

// WithClock overrides the time source. Used in tests to force expiry.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Login exchanges credentials for a short-lived token. On success the
// manager transitions to LoggedIn; on rejection it returns
// ErrAuthenticationFailed and goes back to LoggedOut. The password is
// never logged and never retained.
func (m *Manager) Login(ctx context.Context, uid, password string) error {
	m.mu.Lock()
	m.state = StateLoggingIn
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "logging in", slog.String("uid", uid))

	session, err := m.exchangeCredentials(ctx, uid, password)
	if err != nil {
		m.mu.Lock()
		m.state = StateLoggedOut
		m.session = nil
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.state = StateLoggedIn
	m.session = session
	m.mu.Unlock()

	m.logger.InfoContext(ctx, "logged in",
		slog.String("uid", session.UID),
		slog.Time("expiry", session.Expiry),
	)
	return nil
}

func (m *Manager) exchangeCredentials(ctx context.Context, uid, password string) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+"/api/users/token", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(uid, password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "icefetch/1.0")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusUnauthorized, http.StatusForbidden:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("%w: credentials rejected for uid %s", ErrAuthenticationFailed, uid)
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token endpoint returned status %d: %s", resp.StatusCode, string(body))
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}
	if tok.AccessToken == "" {
		return nil, fmt.Errorf("%w: empty token in response", ErrAuthenticationFailed)
	}

	return &Session{
		UID:    tok.UID,
		Email:  tok.Email,
		Expiry: tok.ExpiresOn,
		token:  tok.AccessToken,
	}, nil
}

// Token returns the current bearer token. Dependent operations call this
// right before constructing an outgoing request and fail fast with
// ErrSessionExpired once the validity window has lapsed.
func (m *Manager) Token() (string, error) {
	m.mu.RLock()
	state, session := m.state, m.session
	m.mu.RUnlock()

	switch state {
	case StateLoggedOut, StateLoggingIn:
		return "", ErrNotLoggedIn
	case StateExpired:
		return "", ErrSessionExpired
	}

	if !session.Expiry.IsZero() && m.now().After(session.Expiry) {
		m.mu.Lock()
		if m.state == StateLoggedIn && m.session == session {
			m.state = StateExpired
		}
		m.mu.Unlock()
		return "", ErrSessionExpired
	}

	return session.token, nil
}

// Session returns the current session metadata (no token), or nil when
// logged out.
func (m *Manager) Session() *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// State returns the current lifecycle state, accounting for expiry.
func (m *Manager) State() State {
	m.mu.RLock()
	state, session := m.state, m.session
	m.mu.RUnlock()

	if state == StateLoggedIn && session != nil &&
		!session.Expiry.IsZero() && m.now().After(session.Expiry) {
		return StateExpired
	}
	return state
}

// Logout discards the session. Idempotent.
func (m *Manager) Logout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = StateLoggedOut
	m.session = nil
}
