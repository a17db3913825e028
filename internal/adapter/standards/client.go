// Package standards provides the HTTP client for the institutional
// knowledge base, plus a caching decorator for the read paths.
package standards

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

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/domain/review"
	"github.com/wardenhq/warden/internal/port/standards"
	"github.com/wardenhq/warden/internal/resilience"
)

// Client talks to the knowledge-base HTTP API. Reads are synchronous; the
// mirror write is called from a fire-and-forget goroutine by the services.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ standards.Provider = (*Client)(nil)

// NewClient creates a knowledge-base client from the standards config section.
func NewClient(cfg config.Standards) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// StandardsByTier returns all standards of the given tier.
func (c *Client) StandardsByTier(ctx context.Context, tier string) ([]review.Standard, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/standards?tier="+url.QueryEscape(tier), nil)
	if err != nil {
		return nil, fmt.Errorf("standards by tier %s: %w", tier, err)
	}

	var result struct {
		Standards []review.Standard `json:"standards"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal standards: %w", err)
	}
	return result.Standards, nil
}

// Search returns standards matching a free-text query.
func (c *Client) Search(ctx context.Context, query string) ([]review.Standard, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, "/standards/search?q="+url.QueryEscape(query), nil)
	if err != nil {
		return nil, fmt.Errorf("search standards: %w", err)
	}

	var result struct {
		Standards []review.Standard `json:"standards"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal standards: %w", err)
	}
	return result.Standards, nil
}

// MirrorReview writes a completed verdict back into the knowledge base.
func (c *Client) MirrorReview(ctx context.Context, rec standards.MirrorRecord) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal mirror record: %w", err)
	}

	if _, err := c.doRequest(ctx, http.MethodPost, "/reviews/mirror", body); err != nil {
		return fmt.Errorf("mirror review %s: %w", rec.ReviewID, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		var bodyReader io.Reader
		if body != nil {
			bodyReader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			req.Header.Set("Authorization", "Bearer "+c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("http request: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}

		if resp.StatusCode >= 400 {
			return fmt.Errorf("knowledge base error %d: %s", resp.StatusCode, string(data))
		}

		result = data
		return nil
	}

	if c.breaker != nil {
		if err := c.breaker.Execute(call); err != nil {
			return nil, err
		}
		return result, nil
	}

	if err := call(); err != nil {
		return nil, err
	}
	return result, nil
}
