// Package panel implements the HTTP session and typed command client for
// a door access-control panel.
package panel

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const sessionCookieName = "ss-id"

// Credentials identify one panel account.
type Credentials struct {
	BaseURL  string
	Username string
	Password string
}

// Session owns HTTP request execution against the panel, including login
// and transparent re-authentication. On a 401 it performs exactly one
// re-login and retries the original request exactly once; concurrent
// callers hitting an expired token share a single in-flight login.
type Session struct {
	creds      Credentials
	httpClient *http.Client

	mu     sync.Mutex
	token  string
	flight *loginFlight
}

// loginFlight is one in-flight login shared by coalesced callers.
type loginFlight struct {
	done  chan struct{}
	token string
	err   error
}

// NewSession creates a session for the given credentials. No network
// traffic happens until the first call.
func NewSession(creds Credentials, timeout time.Duration, insecureSkipVerify bool) *Session {
	creds.BaseURL = strings.TrimRight(creds.BaseURL, "/")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if insecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Session{
		creds: creds,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

// BaseURL returns the panel base URL without a trailing slash.
func (s *Session) BaseURL() string { return s.creds.BaseURL }

// CookieHeader returns the session cookie header value for the current
// token, for transports that cannot go through Do (the push stream).
func (s *Session) CookieHeader() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sessionCookieName + "=" + s.token
}

// Connect performs the initial login. Safe to call again; it coalesces
// with any login already in flight.
func (s *Session) Connect(ctx context.Context) error {
	_, err := s.refreshToken(ctx, "")
	return err
}

// Do executes one authenticated request and returns the response body.
// path is joined to the base URL; query may be nil; body is JSON-encoded
// when non-nil.
func (s *Session) Do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	token, err := s.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	data, status, err := s.doOnce(ctx, method, path, query, body, token)
	if err != nil {
		return nil, err
	}
	if status != http.StatusUnauthorized {
		return checkStatus(data, status)
	}

	// Session expired: one re-login, one retry.
	token, err = s.refreshToken(ctx, token)
	if err != nil {
		return nil, err
	}

	data, status, err = s.doOnce(ctx, method, path, query, body, token)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, &AuthError{Credential: true, Err: fmt.Errorf("%s %s unauthorized after re-login", method, path)}
	}
	return checkStatus(data, status)
}

// GetJSON executes a GET and decodes the response into out.
func (s *Session) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	data, err := s.Do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

// doOnce sends one request with the given token. A 401 is returned as a
// status, not an error, so the caller can decide to re-authenticate.
func (s *Session) doOnce(ctx context.Context, method, path string, query url.Values, body any, token string) ([]byte, int, error) {
	u := s.creds.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cookie", sessionCookieName+"="+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &TransportError{Op: "reading " + path, Err: err}
	}
	return data, resp.StatusCode, nil
}

// currentToken returns the token, logging in first if none exists yet.
func (s *Session) currentToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	token := s.token
	s.mu.Unlock()
	if token != "" {
		return token, nil
	}
	return s.refreshToken(ctx, "")
}

// refreshToken replaces a stale token with a fresh one. Callers that lost
// the race to an already-completed refresh get the new token immediately;
// callers racing an in-flight login block on that login instead of
// issuing their own.
func (s *Session) refreshToken(ctx context.Context, stale string) (string, error) {
	s.mu.Lock()
	if s.token != "" && s.token != stale {
		token := s.token
		s.mu.Unlock()
		return token, nil
	}
	if s.flight != nil {
		flight := s.flight
		s.mu.Unlock()
		select {
		case <-flight.done:
			return flight.token, flight.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	flight := &loginFlight{done: make(chan struct{})}
	s.flight = flight
	s.mu.Unlock()

	token, err := s.login(ctx)

	s.mu.Lock()
	flight.token, flight.err = token, err
	if err == nil {
		s.token = token
	}
	s.flight = nil
	s.mu.Unlock()
	close(flight.done)

	return token, err
}

// login posts credentials to /auth and extracts the session cookie.
func (s *Session) login(ctx context.Context) (string, error) {
	payload := map[string]string{
		"Username": s.creds.Username,
		"Password": s.creds.Password,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding login: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.creds.BaseURL+"/auth", bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("creating login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", &AuthError{Credential: false, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return "", &AuthError{
			Credential: true,
			Err:        fmt.Errorf("login status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))),
		}
	}

	for _, c := range resp.Cookies() {
		if c.Name == sessionCookieName {
			log.Printf("[session] login successful for %s", s.creds.Username)
			return c.Value, nil
		}
	}
	return "", &AuthError{Credential: true, Err: fmt.Errorf("login succeeded but no %s cookie found", sessionCookieName)}
}

// checkStatus converts a non-2xx panel response into a RemoteRejection
// carrying the panel's own message.
func checkStatus(data []byte, status int) ([]byte, error) {
	if status >= 200 && status <= 299 {
		return data, nil
	}
	return nil, &RemoteRejection{Status: status, Message: panelMessage(data)}
}

// panelMessage extracts a human-readable message from a panel error body.
func panelMessage(data []byte) string {
	var wrapped struct {
		Message        string `json:"Message"`
		ResponseStatus struct {
			Message string `json:"Message"`
		} `json:"ResponseStatus"`
	}
	if err := json.Unmarshal(data, &wrapped); err == nil {
		if wrapped.ResponseStatus.Message != "" {
			return wrapped.ResponseStatus.Message
		}
		if wrapped.Message != "" {
			return wrapped.Message
		}
	}
	return strings.TrimSpace(string(data))
}
