// Package upstream is the REST client for the hamoodsoft API. It injects the
// bearer token, renews it transparently when it expires, and announces every
// renewal on the event broker so the session store stays current without the
// client knowing about the store.
package upstream

import (
	"bytes"
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

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/hamoodtechit/hamoodsoft/internal/events"
	"github.com/hamoodtechit/hamoodsoft/internal/session"
)

// expiryLeeway is how close to expiry an access token may get before the
// client refreshes it ahead of the request instead of waiting for a 401.
const expiryLeeway = 30 * time.Second

// ErrNoRefreshToken indicates a renewal was needed but no refresh token is
// held.
var ErrNoRefreshToken = errors.New("upstream: no refresh token available")

// APIError is a non-2xx (or success=false) upstream response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream: %s (status %d)", e.Message, e.Status)
	}
	return fmt.Sprintf("upstream: request failed (status %d)", e.Status)
}

// TokenSource supplies the tokens currently held by the session store.
type TokenSource interface {
	Token() string
	RefreshToken() string
}

// Client talks to the upstream hamoodsoft API.
type Client struct {
	base   string
	http   *http.Client
	tokens TokenSource
	broker *events.Broker
	logger *slog.Logger

	refreshMu sync.Mutex
}

// NewClient constructs a Client. The broker may be nil when token renewal
// announcements are not needed (tests).
func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, broker *events.Broker, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		base:   strings.TrimRight(baseURL, "/"),
		http:   &http.Client{Timeout: timeout},
		tokens: tokens,
		broker: broker,
		logger: logger,
	}
}

// Login exchanges credentials for tokens, identity, and the business list.
func (c *Client) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register creates an account and returns the same shape as Login.
func (c *Client) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	var out AuthResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", req, &out, false); err != nil {
		return nil, err
	}
	return &out, nil
}

// Logout invalidates the upstream session. Best effort for callers: local
// state is cleared regardless of the result.
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, true)
}

// Profile fetches the current user.
func (c *Client) Profile(ctx context.Context) (*session.User, error) {
	var out session.User
	if err := c.do(ctx, http.MethodGet, "/auth/profile", nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Businesses fetches every business the user belongs to.
func (c *Client) Businesses(ctx context.Context) ([]session.Business, error) {
	var out []session.Business
	if err := c.do(ctx, http.MethodGet, "/businesses", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

// BusinessByID fetches a single business.
func (c *Client) BusinessByID(ctx context.Context, id string) (*session.Business, error) {
	var out session.Business
	if err := c.do(ctx, http.MethodGet, "/businesses/"+id, nil, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateBusiness registers a new business.
func (c *Client) CreateBusiness(ctx context.Context, req CreateBusinessRequest) (*session.Business, error) {
	var out session.Business
	if err := c.do(ctx, http.MethodPost, "/businesses", req, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateUser applies a partial update. The response may lag or omit fields
// the caller just set; the tenant coordinator compensates for that.
func (c *Client) UpdateUser(ctx context.Context, id string, patch UserPatch) (*session.User, error) {
	var out session.User
	if err := c.do(ctx, http.MethodPatch, "/users/"+id, patch, &out, true); err != nil {
		return nil, err
	}
	return &out, nil
}

// Roles fetches the role catalog.
func (c *Client) Roles(ctx context.Context) ([]session.Role, error) {
	var out []session.Role
	if err := c.do(ctx, http.MethodGet, "/roles", nil, &out, true); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	token := ""
	if authed && c.tokens != nil {
		token = c.tokens.Token()
		if token != "" && expiringSoon(token) {
			if renewed, err := c.refresh(ctx, token); err == nil {
				token = renewed
			} else {
				c.logger.Warn("upstream: proactive refresh", slog.Any("error", err))
			}
		}
	}

	_, err := c.roundTrip(ctx, method, path, body, out, token)
	if err == nil {
		return nil
	}

	// One silent renewal on 401, then a single retry.
	var apiErr *APIError
	if authed && errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		renewed, refreshErr := c.refresh(ctx, token)
		if refreshErr != nil {
			return err
		}
		_, retryErr := c.roundTrip(ctx, method, path, body, out, renewed)
		return retryErr
	}
	return err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body, out any, token string) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("upstream: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return 0, fmt.Errorf("upstream: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("upstream: %s %s: %w", method, path, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, res.Body)
		_ = res.Body.Close()
	}()

	var env envelope
	decodeErr := json.NewDecoder(res.Body).Decode(&env)

	if res.StatusCode >= http.StatusBadRequest {
		msg := ""
		if decodeErr == nil {
			msg = env.Message
		}
		return res.StatusCode, &APIError{Status: res.StatusCode, Message: msg}
	}
	if decodeErr != nil {
		return res.StatusCode, fmt.Errorf("upstream: decode response: %w", decodeErr)
	}
	if !env.Success {
		return res.StatusCode, &APIError{Status: res.StatusCode, Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return res.StatusCode, fmt.Errorf("upstream: decode payload: %w", err)
		}
	}
	return res.StatusCode, nil
}

// refresh renews the access token with the refresh token and publishes the
// result on the broker. Concurrent callers are serialized; the second caller
// reuses the token the first one obtained. stale is the token that just
// failed or is about to expire.
func (c *Client) refresh(ctx context.Context, stale string) (string, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if c.tokens == nil {
		return "", ErrNoRefreshToken
	}
	// Another caller may have refreshed while we waited for the lock.
	if current := c.tokens.Token(); current != "" && current != stale {
		return current, nil
	}
	refreshToken := c.tokens.RefreshToken()
	if refreshToken == "" {
		return "", ErrNoRefreshToken
	}

	var out refreshResponse
	status, err := c.roundTrip(ctx, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: refreshToken}, &out, "")
	if err != nil {
		return "", fmt.Errorf("upstream: refresh token (status %d): %w", status, err)
	}
	if out.Token == "" {
		return "", errors.New("upstream: refresh returned empty token")
	}
	if c.broker != nil {
		c.broker.Publish(events.TokenRefreshed{Token: out.Token, RefreshToken: out.RefreshToken})
	}
	return out.Token, nil
}

// expiringSoon inspects the token's exp claim without verifying the
// signature; verification is the server's job. Opaque tokens report false
// and rely on the 401 retry path instead.
func expiringSoon(token string) bool {
	parser := jwt.NewParser(jwt.WithoutClaimsValidation())
	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return time.Until(claims.ExpiresAt.Time) < expiryLeeway
}
