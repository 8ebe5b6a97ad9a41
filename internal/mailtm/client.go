package mailtm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is the public Mail.tm API.
	DefaultBaseURL = "https://api.mail.tm"

	defaultTimeout   = 15 * time.Second
	maxResponseBytes = 10 << 20

	contentTypeJSON       = "application/json"
	contentTypeMergePatch = "application/merge-patch+json"
)

// Client implements the Mail.tm API interface.
type Client struct {
	httpClient *http.Client
	baseURL    string
	throttle   *Throttle
	backoff    Backoff
	sleep      SleepFunc
	logger     *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout sets the per-request connect/response timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithBaseURL points the client at another deployment (or a test server).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithThrottle sets a custom throttle. Clients sharing a throttle share
// its spacing.
func WithThrottle(t *Throttle) ClientOption {
	return func(c *Client) {
		c.throttle = t
	}
}

// WithBackoff sets the retry policy for rate-limited responses.
func WithBackoff(b Backoff) ClientOption {
	return func(c *Client) {
		c.backoff = b
	}
}

// WithSleep replaces the function used to wait between retries.
func WithSleep(sleep SleepFunc) ClientOption {
	return func(c *Client) {
		c.sleep = sleep
	}
}

// NewClient creates a new Mail.tm API client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    DefaultBaseURL,
		backoff:    DefaultBackoff(),
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.throttle == nil {
		c.throttle = NewThrottle(DefaultMinInterval)
	}
	if c.sleep == nil {
		c.sleep = ClockSleep(realClock{})
	}

	return c
}

// request makes a throttled HTTP request, retrying rate-limited responses
// with backoff. body is JSON-encoded when non-nil.
func (c *Client) request(ctx context.Context, method, path, token string, body any, contentType string) ([]byte, error) {
	var bodyBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		bodyBytes = b
		if contentType == "" {
			contentType = contentTypeJSON
		}
	}

	attempt := 0
	return Retry(ctx, c.backoff, c.sleep, func(ctx context.Context) ([]byte, error) {
		attempt++
		if attempt > 1 {
			c.logger.Debug("retrying request", "attempt", attempt, "method", method, "path", path)
		}
		return c.do(ctx, method, path, token, bodyBytes, contentType)
	})
}

// do performs a single attempt.
func (c *Client) do(ctx context.Context, method, path, token string, bodyBytes []byte, contentType string) ([]byte, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return nil, fmt.Errorf("throttle: %w", err)
	}

	// Create a new reader for each attempt to ensure body can be re-read on retry
	var body io.Reader
	if bodyBytes != nil {
		body = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", contentTypeJSON)
	if bodyBytes != nil {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	apiErr := &APIError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Body:       string(respBody),
	}

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		// Expected under load; Retry handles it.
		c.logger.Debug("rate limited", "method", method, "path", path)
		apiErr.Kind = ErrRateLimited
		return nil, apiErr

	case http.StatusUnauthorized:
		apiErr.Kind = ErrUnauthorized
		return nil, apiErr

	case http.StatusNotFound:
		return nil, &NotFoundError{Path: path}

	default:
		return nil, apiErr
	}
}

// ListDomains returns the active domains.
func (c *Client) ListDomains(ctx context.Context) ([]Domain, error) {
	data, err := c.request(ctx, http.MethodGet, "/domains", "", nil, "")
	if err != nil {
		return nil, fmt.Errorf("list domains: %w", err)
	}

	domains, kind, err := decodeCollection[Domain](data)
	if err != nil {
		return nil, fmt.Errorf("parse domains: %w", err)
	}
	c.logger.Debug("listed domains", "envelope", kind.String(), "count", len(domains))

	active := make([]Domain, 0, len(domains))
	for _, d := range domains {
		if d.IsActive && d.Domain != "" {
			active = append(active, d)
		}
	}
	if len(active) == 0 {
		return nil, ErrNoDomainsAvailable
	}
	return active, nil
}

type credentialsBody struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

// CreateAccount registers a new mailbox.
func (c *Client) CreateAccount(ctx context.Context, address, password string) (*AccountInfo, error) {
	data, err := c.request(ctx, http.MethodPost, "/accounts", "", credentialsBody{address, password}, "")
	if err != nil {
		switch statusOf(err) {
		case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
			return nil, fmt.Errorf("create account %s: %w: %w", address, ErrUsernameConflict, err)
		}
		return nil, fmt.Errorf("create account %s: %w", address, err)
	}

	var info AccountInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("create account %s: response has no account id", address)
	}
	if info.Address == "" {
		info.Address = address
	}
	return &info, nil
}

// GetToken exchanges credentials for a bearer token.
func (c *Client) GetToken(ctx context.Context, address, password string) (string, error) {
	data, err := c.request(ctx, http.MethodPost, "/token", "", credentialsBody{address, password}, "")
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			return "", fmt.Errorf("get token for %s: %w: %w", address, ErrAuthFailed, err)
		}
		return "", fmt.Errorf("get token for %s: %w", address, err)
	}

	var resp tokenJSON
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	if resp.Token == "" {
		return "", fmt.Errorf("get token for %s: %w: empty token", address, ErrAuthFailed)
	}
	return resp.Token, nil
}

// Me returns the account the token belongs to.
func (c *Client) Me(ctx context.Context, token string) (*AccountInfo, error) {
	data, err := c.request(ctx, http.MethodGet, "/me", token, nil, "")
	if err != nil {
		return nil, fmt.Errorf("get account: %w", err)
	}

	var info AccountInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse account: %w", err)
	}
	return &info, nil
}

// ListMessages returns the first page of the inbox, normalized.
func (c *Client) ListMessages(ctx context.Context, token string) ([]Message, error) {
	data, err := c.request(ctx, http.MethodGet, "/messages?page=1", token, nil, "")
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}

	raw, kind, err := decodeCollection[messageJSON](data)
	if err != nil {
		return nil, fmt.Errorf("parse messages: %w", err)
	}
	c.logger.Debug("listed messages", "envelope", kind.String(), "count", len(raw))

	return normalizeMessages(raw), nil
}

// GetMessage fetches one message in full and marks it read. A failure to
// mark it read is logged, not returned.
func (c *Client) GetMessage(ctx context.Context, token, id string) (*Message, error) {
	path := "/messages/" + url.PathEscape(id)
	data, err := c.request(ctx, http.MethodGet, path, token, nil, "")
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}

	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}

	msg := normalizeMessage(raw)
	if !raw.Seen {
		if err := c.MarkRead(ctx, token, id); err != nil {
			c.logger.Warn("failed to mark message read", "id", id, "error", err)
		}
	}
	msg.Read = true
	return &msg, nil
}

// MarkRead flags a message as seen.
func (c *Client) MarkRead(ctx context.Context, token, id string) error {
	path := "/messages/" + url.PathEscape(id)
	body := struct {
		Seen bool `json:"seen"`
	}{Seen: true}

	if _, err := c.request(ctx, http.MethodPatch, path, token, body, contentTypeMergePatch); err != nil {
		return fmt.Errorf("mark message %s read: %w", id, err)
	}
	return nil
}

// DeleteMessage removes a message. A message that is already gone counts
// as deleted.
func (c *Client) DeleteMessage(ctx context.Context, token, id string) error {
	path := "/messages/" + url.PathEscape(id)
	if _, err := c.request(ctx, http.MethodDelete, path, token, nil, ""); err != nil {
		if errors.Is(err, ErrNotFound) {
			c.logger.Debug("message already deleted", "id", id)
			return nil
		}
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	return nil
}

// Ensure Client implements API interface.
var _ API = (*Client)(nil)
