package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/codewatch/control-room/internal/model/session"
)

const (
	defaultTimeout = 10 * time.Second
	pingTimeout    = 2 * time.Second
	maxAttempts    = 4
	excerptLimit   = 300
)

// Client performs authenticated, retried, timeout-bounded calls against the
// session API. A single Client is shared by the hub's poll loop and the CRUD
// handlers.
type Client struct {
	baseURL     string
	token       string
	httpClient  *http.Client
	timeout     time.Duration
	backoffBase time.Duration
}

// Option tweaks client construction; used by tests to shrink timings.
type Option func(*Client)

// WithTimeout overrides the default per-call budget.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithBackoffBase overrides the retry backoff base.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) { c.backoffBase = d }
}

// NewClient builds a client for the given API root and service credential.
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:     baseURL,
		token:       token,
		httpClient:  &http.Client{},
		timeout:     defaultTimeout,
		backoffBase: 300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateRequest is the payload for provisioning a new agent session.
type CreateRequest struct {
	Repo   string `json:"repo"`
	Branch string `json:"branch,omitempty"`
	Prompt string `json:"prompt"`
}

// Message is one transcript entry from a session's history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// FetchSnapshot retrieves all known sessions as an id-keyed snapshot.
func (c *Client) FetchSnapshot(ctx context.Context) (session.Snapshot, error) {
	var list []session.Session
	if err := c.doRetry(ctx, http.MethodGet, "/v1/sessions", nil, &list); err != nil {
		return nil, err
	}
	snap := make(session.Snapshot, len(list))
	for _, s := range list {
		snap[s.ID] = s
	}
	return snap, nil
}

// GetSession fetches a single session by id.
func (c *Client) GetSession(ctx context.Context, id string) (session.Session, error) {
	var s session.Session
	err := c.doRetry(ctx, http.MethodGet, "/v1/sessions/"+id, nil, &s)
	return s, err
}

// CreateSession provisions a new session upstream.
func (c *Client) CreateSession(ctx context.Context, req CreateRequest) (session.Session, error) {
	var s session.Session
	err := c.doRetry(ctx, http.MethodPost, "/v1/sessions", req, &s)
	return s, err
}

// ApproveSession records an approval decision on a session.
func (c *Client) ApproveSession(ctx context.Context, id string, approve bool) (session.Session, error) {
	var s session.Session
	body := map[string]bool{"approve": approve}
	err := c.doRetry(ctx, http.MethodPost, "/v1/sessions/"+id+"/approve", body, &s)
	return s, err
}

// SendMessage forwards a user message into a running session.
func (c *Client) SendMessage(ctx context.Context, id, content string) error {
	body := map[string]string{"content": content}
	return c.doRetry(ctx, http.MethodPost, "/v1/sessions/"+id+"/messages", body, nil)
}

// History fetches the session transcript.
func (c *Client) History(ctx context.Context, id string) ([]Message, error) {
	var msgs []Message
	err := c.doRetry(ctx, http.MethodGet, "/v1/sessions/"+id+"/history", nil, &msgs)
	return msgs, err
}

// Ping is the readiness probe: one short-timeout call, no retries.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return c.do(ctx, http.MethodGet, "/v1/sessions", nil, nil)
}

// doRetry wraps do with the transient-failure retry policy: up to
// maxAttempts total attempts, delay = base * 2^attempt + random jitter.
func (c *Client) doRetry(ctx context.Context, method, path string, body, out any) error {
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase*(1<<uint(attempt-1)) + time.Duration(rand.Int63n(int64(c.backoffBase)))
			select {
			case <-ctx.Done():
				return &Error{Kind: KindTimeout, wrapped: ctx.Err()}
			case <-time.After(delay):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := c.do(callCtx, method, path, body, out)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		var ue *Error
		if errors.As(err, &ue) && ue.Retryable() {
			continue
		}
		return err
	}
	return lastErr
}

// do performs one attempt. The service credential header is attached here
// and must never appear in logs or error text.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-Request-ID", uuid.NewString())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			return &Error{Kind: KindTimeout, wrapped: err}
		}
		// Network-level failure: treat like a server-side transient.
		return &Error{Kind: KindServer, wrapped: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		drain(resp.Body)
		return &Error{Kind: KindRateLimited, Status: resp.StatusCode}
	case resp.StatusCode >= 500:
		drain(resp.Body)
		return &Error{Kind: KindServer, Status: resp.StatusCode}
	default:
		return &Error{Kind: KindClient, Status: resp.StatusCode, Excerpt: readExcerpt(resp.Body)}
	}
}

// readExcerpt keeps a bounded slice of the body for diagnostics and drops
// the rest.
func readExcerpt(r io.Reader) string {
	buf, _ := io.ReadAll(io.LimitReader(r, excerptLimit+1))
	drain(r)
	if len(buf) > excerptLimit {
		return string(buf[:excerptLimit])
	}
	return string(buf)
}

func drain(r io.Reader) {
	_, _ = io.Copy(io.Discard, r)
}
