package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rhuss/atelier/pkg/api"
	"github.com/rhuss/atelier/pkg/debug"
	"github.com/rhuss/atelier/pkg/observability"
	"github.com/rhuss/atelier/pkg/provider"
)

// ProviderName labels this backend in logs and metrics.
const ProviderName = "openaicompat"

var _ provider.Provider = (*Client)(nil)

// Client talks to any backend serving the OpenAI Chat Completions API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient returns a Client for baseURL, with or without a trailing /v1.
// timeout bounds non-streaming calls and defaults to two minutes.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(strings.TrimRight(baseURL, "/"), "/v1"),
		apiKey:     apiKey,
	}
}

func (c *Client) Name() string {
	return ProviderName
}

// Stream starts a streaming completion. Events arrive on the returned
// channel, which is closed when the backend finishes, fails, or ctx ends.
// Only ctx bounds the stream; the client timeout does not apply.
func (c *Client) Stream(ctx context.Context, req *provider.ProviderRequest) (<-chan provider.ProviderEvent, error) {
	streamed := *req
	streamed.Stream = true
	body, err := json.Marshal(TranslateToChat(&streamed))
	if err != nil {
		return nil, api.NewServerError("encoding chat request: " + err.Error())
	}
	debug.Trace("provider", "chat request", "model", req.Model, "body", debug.Truncate(string(body), 2000))

	httpReq, err := c.newRequest(ctx, http.MethodPost, "/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	start := time.Now()
	resp, err := (&http.Client{Transport: c.httpClient.Transport}).Do(httpReq)
	if err != nil {
		observability.ProviderRequestsTotal.WithLabelValues(ProviderName, req.Model, "error").Inc()
		return nil, MapNetworkError(err)
	}
	if resp.StatusCode/100 != 2 {
		defer resp.Body.Close()
		observability.ProviderRequestsTotal.WithLabelValues(ProviderName, req.Model, strconv.Itoa(resp.StatusCode)).Inc()
		return nil, MapHTTPError(resp)
	}

	events := make(chan provider.ProviderEvent, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		usage, err := ParseSSEStream(ctx, resp.Body, events)
		c.record(req.Model, start, usage, err)
	}()
	return events, nil
}

func (c *Client) record(model string, start time.Time, usage *provider.Usage, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	elapsed := time.Since(start)
	observability.ProviderRequestsTotal.WithLabelValues(ProviderName, model, status).Inc()
	observability.ProviderLatency.WithLabelValues(ProviderName, model).Observe(elapsed.Seconds())
	if usage != nil {
		observability.ProviderTokensTotal.WithLabelValues(ProviderName, model, "input").Add(float64(usage.InputTokens))
		observability.ProviderTokensTotal.WithLabelValues(ProviderName, model, "output").Add(float64(usage.OutputTokens))
	}
	debug.Log("provider", "stream finished", "model", model, "status", status, "elapsed", elapsed)
}

// ListModels queries /v1/models.
func (c *Client) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	httpReq, err := c.newRequest(ctx, http.MethodGet, "/v1/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, MapNetworkError(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, MapHTTPError(resp)
	}

	var list ChatModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, api.NewServerError("decoding models response: " + err.Error())
	}
	models := make([]provider.ModelInfo, 0, len(list.Data))
	for _, m := range list.Data {
		models = append(models, provider.ModelInfo{ID: m.ID, OwnedBy: m.OwnedBy})
	}
	return models, nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	r, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, api.NewServerError("building backend request: " + err.Error())
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		r.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return r, nil
}
