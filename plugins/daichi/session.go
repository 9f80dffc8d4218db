package daichi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"sync"

	"golang.org/x/oauth2"
)

const (
	userAgent    = "GoHome Daichi Integration"
	bearerPrefix = "Bearer "
)

// connPool owns the HTTP client. It is created on first use and released by close.
type connPool struct {
	mu        sync.Mutex
	client    *http.Client
	newClient func() *http.Client
}

func newConnPool(newClient func() *http.Client) *connPool {
	return &connPool{newClient: newClient}
}

func (p *connPool) get() *http.Client {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		p.client = p.newClient()
		if p.client.Jar == nil {
			jar, _ := cookiejar.New(nil)
			p.client.Jar = jar
		}
	}
	return p.client
}

func (p *connPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client == nil {
		return
	}
	p.client.CloseIdleConnections()
	p.client = nil
}

// Session owns the account credentials and the current bearer token.
type Session struct {
	baseURL  string
	username string
	password string
	clientID string
	pool     *connPool
	logger   *slog.Logger

	// authMu serializes login handshakes.
	authMu sync.Mutex

	mu    sync.RWMutex
	token *oauth2.Token
}

func newSession(baseURL, username, password, clientID string, pool *connPool, logger *slog.Logger) *Session {
	return &Session{
		baseURL:  baseURL,
		username: username,
		password: password,
		clientID: clientID,
		pool:     pool,
		logger:   logger,
	}
}

// Authenticate runs the two-step login: credential check, then token exchange.
// A successful exchange without a token leaves the session on cookie auth.
func (s *Session) Authenticate(ctx context.Context) error {
	s.authMu.Lock()
	defer s.authMu.Unlock()

	err := s.authenticate(ctx)
	authTotal.WithLabelValues(resultLabel(err)).Inc()
	return err
}

func (s *Session) authenticate(ctx context.Context) error {
	s.logger.Debug("authenticating with daichi api")

	resp, err := s.post(ctx, "/user/credentials", map[string]string{"email": s.username})
	if err != nil {
		return cannotConnect("check credentials", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Error("credential check failed", "status", resp.StatusCode, "body", strings.TrimSpace(string(body)))
		return invalidAuth("check credentials", fmt.Errorf("status %d", resp.StatusCode))
	}

	resp, err = s.post(ctx, "/token", map[string]string{
		"email":    s.username,
		"password": s.password,
		"clientId": s.clientID,
	})
	if err != nil {
		return cannotConnect("token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return invalidAuth("token", errors.New("invalid credentials"))
	}
	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return cannotConnect("token", fmt.Errorf("read token response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		s.logger.Error("token request failed", "status", resp.StatusCode, "body", strings.TrimSpace(string(body)))
		return cannotConnect("token", fmt.Errorf("status %d", resp.StatusCode))
	}

	accessToken, err := extractToken(body)
	if err != nil {
		return invalidAuth("token", err)
	}
	if accessToken == "" {
		accessToken = tokenFromCookies(resp.Cookies())
	}
	if accessToken == "" {
		s.logger.Warn("no access token in token response; continuing with cookie session")
	}

	s.mu.Lock()
	if accessToken == "" {
		s.token = nil
	} else {
		s.token = &oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}
	}
	s.mu.Unlock()

	s.logger.Debug("authentication successful", "bearer", accessToken != "")
	return nil
}

// HasToken reports whether a bearer token is cached.
func (s *Session) HasToken() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != nil
}

// Token returns the bearer token, or "" under cookie auth.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return ""
	}
	return s.token.AccessToken
}

// Headers returns the content headers plus the bearer header when a token exists.
func (s *Session) Headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("User-Agent", userAgent)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token != nil {
		h.Set("Authorization", s.token.Type()+" "+s.token.AccessToken)
	}
	return h
}

func (s *Session) authorize(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token != nil {
		s.token.SetAuthHeader(req)
	}
}

func (s *Session) post(ctx context.Context, path string, payload any) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	return s.pool.get().Do(req)
}

// extractToken finds the access token in a token response body. The lookup
// order is data.access_token, data.token, access_token, token, accessToken,
// access. An empty body or one without a token yields "".
func extractToken(body []byte) (string, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return "", nil
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	var nested map[string]json.RawMessage
	if raw, ok := envelope["data"]; ok {
		_ = json.Unmarshal(raw, &nested)
	}

	candidates := []string{
		stringField(nested, "access_token"),
		stringField(nested, "token"),
		stringField(envelope, "access_token"),
		stringField(envelope, "token"),
		stringField(envelope, "accessToken"),
		stringField(envelope, "access"),
	}
	for _, candidate := range candidates {
		if candidate != "" {
			return strings.TrimPrefix(candidate, bearerPrefix), nil
		}
	}
	return "", nil
}

func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return ""
	}
	return value
}

func tokenFromCookies(cookies []*http.Cookie) string {
	for _, cookie := range cookies {
		name := strings.ToLower(cookie.Name)
		if strings.Contains(name, "token") || strings.Contains(name, "auth") {
			return cookie.Value
		}
	}
	return ""
}
