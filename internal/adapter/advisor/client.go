// Package advisor provides the HTTP client for the advisory reviewer gateway.
package advisor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/port/oracle"
	"github.com/wardenhq/warden/internal/resilience"
)

// Client talks to an OpenAI-compatible chat completions gateway and turns
// checkpoint requests into reviewer verdicts.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

var _ oracle.Oracle = (*Client)(nil)

// NewClient creates a reviewer client from the advisor config section.
func NewClient(cfg config.Advisor) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SetBreaker attaches a circuit breaker to all outgoing HTTP calls.
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Evaluate sends the review request to the gateway and parses the verdict
// from the model's reply. Transport and gateway failures are reported as
// domain.ErrOracleUnavailable so callers can distinguish "reviewer down"
// from "reviewer said no".
func (c *Client) Evaluate(ctx context.Context, req oracle.Request) (*oracle.Result, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt(req.Kind)},
			{Role: "user", Content: userPrompt(req)},
		},
		Temperature: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	data, err := c.doRequest(ctx, "/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, err)
	}

	var resp chatResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("%w: unmarshal chat response: %w", domain.ErrOracleUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty chat response", domain.ErrOracleUnavailable)
	}

	// An unparsable reply is an oracle failure like a timeout: the caller
	// retries the checkpoint, it never guesses a verdict.
	result, err := parseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrOracleUnavailable, err)
	}
	result.Reviewer = c.model
	return result, nil
}

func (c *Client) doRequest(ctx context.Context, path string, body []byte) ([]byte, error) {
	var result []byte
	call := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
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
			return fmt.Errorf("reviewer gateway error %d: %s", resp.StatusCode, string(data))
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

func systemPrompt(kind oracle.RequestKind) string {
	var b strings.Builder
	b.WriteString("You are a senior engineering reviewer gating autonomous agent work. ")
	switch kind {
	case oracle.KindDecision:
		b.WriteString("Review the proposed technical decision against the cited standards.")
	case oracle.KindPlan:
		b.WriteString("Review the proposed implementation plan against the cited standards.")
	case oracle.KindCompletion:
		b.WriteString("Review the completion report and judge whether the work is done to standard.")
	case oracle.KindHolistic:
		b.WriteString("Review this batch of related tasks as a whole and judge whether they are coherent together.")
	}
	b.WriteString(` Respond with a single JSON object: {"verdict": "approved"|"blocked"|"needs-human-review", "findings": [{"tier": string, "severity": string, "description": string, "suggestion": string}], "guidance": string, "intent": string, "standards_verified": [string]}.`)
	return b.String()
}

func userPrompt(req oracle.Request) string {
	var b strings.Builder
	if req.TaskID != "" {
		fmt.Fprintf(&b, "Task: %s\n", req.TaskID)
	}
	if req.Agent != "" {
		fmt.Fprintf(&b, "Agent: %s\n", req.Agent)
	}
	fmt.Fprintf(&b, "Summary: %s\n", req.Summary)
	if req.Detail != "" {
		fmt.Fprintf(&b, "Detail:\n%s\n", req.Detail)
	}
	if len(req.Components) > 0 {
		fmt.Fprintf(&b, "Components affected: %s\n", strings.Join(req.Components, ", "))
	}
	if len(req.Files) > 0 {
		fmt.Fprintf(&b, "Files changed: %s\n", strings.Join(req.Files, ", "))
	}
	if len(req.Decisions) > 0 {
		b.WriteString("Decision trail:\n")
		for _, d := range req.Decisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	if len(req.Subjects) > 0 {
		b.WriteString("Batch subjects:\n")
		for _, s := range req.Subjects {
			fmt.Fprintf(&b, "- %s\n", s)
		}
	}
	if len(req.Standards) > 0 {
		b.WriteString("\nApplicable standards:\n")
		for _, std := range req.Standards {
			fmt.Fprintf(&b, "[%s] %s (%s)\n%s\n", std.ID, std.Title, std.Tier, std.Content)
		}
	}
	return b.String()
}
