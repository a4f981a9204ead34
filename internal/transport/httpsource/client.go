// Package httpsource is the HTTP JSON client for the external entity source.
package httpsource

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/watchledger/internal/domain"
	"github.com/kailas-cloud/watchledger/internal/version"
)

const maxErrorBody = 4 << 10

// Config configures the client.
type Config struct {
	BaseURL string
	// Token is exchanged for a short-lived access token by Authenticate.
	Token   string
	Timeout time.Duration
}

// Client talks to the source API:
//
//	POST /auth/token          {"token"} -> {"access_token"}
//	GET  /entities?page_token -> {"ids", "next_page_token"}
//	GET  /entities/{id}       -> {"id", "title", "duration"}
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	logger     *zap.Logger

	mu          sync.RWMutex
	accessToken string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// New creates a client. It is not Ready until Authenticate succeeds.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: source base_url is empty", domain.ErrConfiguration)
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse source base_url: %w", domain.ErrConfiguration, err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    u,
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Ready reports whether an access token is held.
func (c *Client) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken != ""
}

type authRequest struct {
	Token string `json:"token"`
}

type authResponse struct {
	AccessToken string `json:"access_token"`
}

// Authenticate exchanges the configured token for an access token.
func (c *Client) Authenticate(ctx context.Context) error {
	var resp authResponse
	if err := c.do(ctx, http.MethodPost, "auth/token", authRequest{Token: c.token}, false, &resp); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if resp.AccessToken == "" {
		return errors.New("authenticate: empty access token")
	}

	c.mu.Lock()
	c.accessToken = resp.AccessToken
	c.mu.Unlock()
	c.logger.Debug("source authenticated")
	return nil
}

type listResponse struct {
	IDs           []string `json:"ids"`
	NextPageToken string   `json:"next_page_token"`
}

// ListEntityIDs follows pagination until the last page.
func (c *Client) ListEntityIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	pageToken := ""
	for {
		path := "entities"
		if pageToken != "" {
			path += "?page_token=" + url.QueryEscape(pageToken)
		}
		var page listResponse
		if err := c.do(ctx, http.MethodGet, path, nil, true, &page); err != nil {
			return nil, fmt.Errorf("list entities: %w", err)
		}
		ids = append(ids, page.IDs...)
		if page.NextPageToken == "" || page.NextPageToken == pageToken {
			return ids, nil
		}
		pageToken = page.NextPageToken
	}
}

type entityResponse struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Duration string `json:"duration"`
}

// FetchEntity returns one entity. Unknown ids yield domain.ErrNotFound.
func (c *Client) FetchEntity(ctx context.Context, id string) (domain.SourceEntity, error) {
	var resp entityResponse
	if err := c.do(ctx, http.MethodGet, "entities/"+url.PathEscape(id), nil, true, &resp); err != nil {
		return domain.SourceEntity{}, fmt.Errorf("fetch entity %s: %w", id, err)
	}
	return domain.SourceEntity{ID: resp.ID, Title: resp.Title, Duration: resp.Duration}, nil
}

// StatusError is a non-2xx answer from the source.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("source returned %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, body any, authed bool, out any) error {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	endpoint, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("parse path %q: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.ResolveReference(endpoint).String(), bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "watchledger/"+version.Version)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		c.mu.RLock()
		token := c.accessToken
		c.mu.RUnlock()
		if token == "" {
			return domain.ErrNotInitialized
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return readStatusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func readStatusError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Status: resp.StatusCode, Body: string(bytes.TrimSpace(b))}
}
