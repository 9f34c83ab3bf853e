package replicate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/observability"
)

// DefaultBaseURL is the public Replicate API.
const DefaultBaseURL = "https://api.replicate.com"

// Client creates predictions and polls them to completion.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	token        string
	pollInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithPollInterval sets the delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) { c.pollInterval = d }
}

// NewClient creates a Client. An empty baseURL selects DefaultBaseURL.
func NewClient(baseURL, token string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		baseURL:      strings.TrimRight(baseURL, "/"),
		token:        token,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run creates a prediction for model ("owner/name" or "owner/name:version"),
// waits for it to finish, and returns its decoded output.
func (c *Client) Run(ctx context.Context, model string, input map[string]any) (any, error) {
	start := time.Now()
	p, err := c.Create(ctx, model, input)
	if err == nil {
		p, err = c.Wait(ctx, p)
	}

	status := "error"
	if p != nil && p.Status != "" {
		status = p.Status
	}
	observability.PredictionsTotal.WithLabelValues(status).Inc()
	observability.PredictionLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		return nil, err
	}
	if p.Status != StatusSucceeded {
		return nil, predictionError(p)
	}
	return p.Output, nil
}

// Create starts a prediction. The server is asked to hold the response
// briefly, so fast models may already be terminal on return.
func (c *Client) Create(ctx context.Context, model string, input map[string]any) (*Prediction, error) {
	if c.token == "" {
		return nil, &ProviderError{Message: "REPLICATE_API_TOKEN not set"}
	}
	if input == nil {
		input = map[string]any{}
	}

	endpoint := c.baseURL + "/v1/predictions"
	body := createRequest{Input: input}
	name, version, hasVersion := strings.Cut(model, ":")
	if hasVersion {
		body.Version = version
	} else {
		owner, rest, ok := strings.Cut(name, "/")
		if !ok || owner == "" || rest == "" {
			return nil, &ProviderError{Message: fmt.Sprintf("invalid model %q: want owner/name[:version]", model)}
		}
		endpoint = fmt.Sprintf("%s/v1/models/%s/%s/predictions", c.baseURL, owner, rest)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal prediction input: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "wait")

	debug.Log("replicate", "creating prediction", "model", model)
	debug.Trace("replicate", "prediction input", "body", string(payload))

	var p Prediction
	if err := c.do(req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Get fetches the current state of a prediction.
func (c *Client) Get(ctx context.Context, id string) (*Prediction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/predictions/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var p Prediction
	if err := c.do(req, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetModel fetches the model resource for "owner/name" as raw JSON.
func (c *Client) GetModel(ctx context.Context, model string) (map[string]any, error) {
	name, _, _ := strings.Cut(model, ":")
	owner, rest, ok := strings.Cut(name, "/")
	if !ok || owner == "" || rest == "" {
		return nil, &ProviderError{Message: fmt.Sprintf("invalid model %q: want owner/name", model)}
	}
	if c.token == "" {
		return nil, &ProviderError{Message: "REPLICATE_API_TOKEN not set"}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/v1/models/%s/%s", c.baseURL, owner, rest), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var info map[string]any
	if err := c.do(req, &info); err != nil {
		return nil, err
	}
	return info, nil
}

// Wait polls p until it reaches a terminal status or ctx is done.
func (c *Client) Wait(ctx context.Context, p *Prediction) (*Prediction, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for !p.Terminal() {
		select {
		case <-ctx.Done():
			return p, waitExpired(ctx, p)
		case <-ticker.C:
		}
		next, err := c.Get(ctx, p.ID)
		if err != nil {
			// The deadline can fire while a poll is in flight.
			if ctx.Err() != nil {
				return p, waitExpired(ctx, p)
			}
			return p, err
		}
		debug.Log("replicate", "prediction polled", "id", next.ID, "status", next.Status)
		p = next
	}
	return p, nil
}

func waitExpired(ctx context.Context, p *Prediction) *ProviderError {
	return &ProviderError{
		PredictionID: p.ID,
		Message:      fmt.Sprintf("prediction %s timed out: %v", p.ID, ctx.Err()),
		Err:          ctx.Err(),
	}
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ProviderError{Message: fmt.Sprintf("replicate request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		var ae apiError
		if json.Unmarshal(body, &ae) == nil && ae.Detail != "" {
			msg = ae.Detail
		}
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return &ProviderError{StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// OutputURLs flattens a prediction output into the URLs it contains.
// Outputs are a single string, a list of strings, or objects with a "url".
func OutputURLs(output any) []string {
	var urls []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") || strings.HasPrefix(t, "data:") {
				urls = append(urls, t)
			}
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			if u, ok := t["url"]; ok {
				walk(u)
			}
		}
	}
	walk(output)
	return urls
}
