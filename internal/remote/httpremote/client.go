// Package httpremote talks to the remote sync API over HTTP.
package httpremote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/workoutsync/internal/auth"
	"example.com/workoutsync/internal/domain"
)

// TokenSource returns the bearer token for the next request.
type TokenSource func() (string, error)

// StaticToken always returns token.
func StaticToken(token string) TokenSource {
	return func() (string, error) { return token, nil }
}

// SignedToken mints a short-lived token for userID on every request.
func SignedToken(cfg auth.Config, subject, userID string) TokenSource {
	return func() (string, error) {
		return auth.Sign(cfg, subject, userID, []string{auth.ScopeSyncWrite, auth.ScopeSyncRead}, 5*time.Minute)
	}
}

// Option configures optional behaviour for the Client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithTokenSource sets how bearer tokens are obtained.
func WithTokenSource(src TokenSource) Option {
	return func(cl *Client) {
		cl.tokens = src
	}
}

// Client implements the remote contract against the sync API.
type Client struct {
	client  *http.Client
	baseURL string
	tokens  TokenSource
}

// NewClient constructs a Client for baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		client:  &http.Client{Timeout: 30 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BatchUpsertSessions sends every session in one request.
func (c *Client) BatchUpsertSessions(ctx context.Context, sessions []domain.Session) error {
	return c.do(ctx, http.MethodPost, "/v1/sync/sessions", SessionsRequest{Sessions: sessions}, nil)
}

// BatchUpsertSets sends every set in one request.
func (c *Client) BatchUpsertSets(ctx context.Context, sets []domain.SetRecord) error {
	return c.do(ctx, http.MethodPost, "/v1/sync/sets", SetsRequest{Sets: sets}, nil)
}

// EndSession stamps the remote session's end time.
func (c *Client) EndSession(ctx context.Context, sessionID string, endedAt time.Time) error {
	path := "/v1/sync/sessions/" + url.PathEscape(sessionID) + "/end"
	return c.do(ctx, http.MethodPost, path, EndSessionRequest{EndedAt: endedAt}, nil)
}

// FetchSnapshot returns the user's remote sessions, sets, and workout names.
func (c *Client) FetchSnapshot(ctx context.Context, userID string) (domain.Snapshot, error) {
	var snapshot domain.Snapshot
	path := "/v1/sync/snapshot?user_id=" + url.QueryEscape(userID)
	if err := c.do(ctx, http.MethodGet, path, nil, &snapshot); err != nil {
		return domain.Snapshot{}, err
	}
	return snapshot, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens()
		if err != nil {
			return fmt.Errorf("obtain token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Status: resp.StatusCode, Detail: strings.TrimSpace(string(detail))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// StatusError represents a non-successful response from the sync API.
type StatusError struct {
	Status int
	Detail string
}

func (e *StatusError) Error() string {
	msg := "sync api responded " + http.StatusText(e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}
