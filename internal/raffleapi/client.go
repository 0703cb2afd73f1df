package raffleapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultMaxResponseBytes int64 = 1 << 20

var (
	ErrInvalidClientConfig = errors.New("raffleapi: invalid client config")
	// ErrUpkeepNotNeeded is returned by PerformUpkeep when the server
	// refused the transition; callers retry on their next tick.
	ErrUpkeepNotNeeded = errors.New("raffleapi: upkeep not needed")
)

// Client is the typed HTTP client used by external upkeep triggers.
type Client struct {
	baseURL   string
	authToken string

	httpClient       *http.Client
	maxResponseBytes int64
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func WithAuthToken(token string) ClientOption {
	return func(c *Client) { c.authToken = token }
}

func WithMaxResponseBytes(n int64) ClientOption {
	return func(c *Client) { c.maxResponseBytes = n }
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: malformed base url %q", ErrInvalidClientConfig, baseURL)
	}

	c := &Client{
		baseURL:          baseURL,
		httpClient:       &http.Client{Timeout: 10 * time.Second},
		maxResponseBytes: defaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil || c.maxResponseBytes <= 0 {
		return nil, fmt.Errorf("%w: nil http client or non-positive response limit", ErrInvalidClientConfig)
	}
	return c, nil
}

// CheckUpkeep asks the raffle whether a round transition is due.
func (c *Client) CheckUpkeep(ctx context.Context) (bool, error) {
	var out upkeepCheckResponse
	if err := c.post(ctx, "/v1/upkeep/check", &out); err != nil {
		return false, err
	}
	return out.UpkeepNeeded, nil
}

// PerformUpkeep requests the round transition and returns the oracle
// request id on success.
func (c *Client) PerformUpkeep(ctx context.Context) (uint64, error) {
	var out upkeepPerformResponse
	if err := c.post(ctx, "/v1/upkeep/perform", &out); err != nil {
		return 0, err
	}
	return out.RequestID, nil
}

func (c *Client) post(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(nil))
	if err != nil {
		return fmt.Errorf("raffleapi: build request: %w", err)
	}
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("raffleapi: %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes))
	if err != nil {
		return fmt.Errorf("raffleapi: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if jerr := json.Unmarshal(body, &apiErr); jerr == nil && apiErr.Error == "upkeep_not_needed" {
			return ErrUpkeepNotNeeded
		}
		return fmt.Errorf("raffleapi: %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("raffleapi: parse response: %w", err)
	}
	return nil
}
