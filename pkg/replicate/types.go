// Package replicate is a client for the Replicate predictions API and a
// downloader that stores prediction outputs in the shared storage directory.
package replicate

import "fmt"

// Prediction statuses reported by the API.
const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Prediction is the subset of the prediction resource the client reads.
type Prediction struct {
	ID      string         `json:"id"`
	Model   string         `json:"model,omitempty"`
	Version string         `json:"version,omitempty"`
	Status  string         `json:"status"`
	Input   map[string]any `json:"input,omitempty"`
	Output  any            `json:"output"`
	Error   any            `json:"error"`
	Logs    string         `json:"logs,omitempty"`
	URLs    PredictionURLs `json:"urls"`
}

// PredictionURLs holds the follow-up endpoints of a prediction.
type PredictionURLs struct {
	Get    string `json:"get"`
	Cancel string `json:"cancel"`
}

// Terminal reports whether the prediction has stopped changing.
func (p *Prediction) Terminal() bool {
	switch p.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// createRequest is the body for both prediction-creation endpoints.
type createRequest struct {
	Version string         `json:"version,omitempty"`
	Input   map[string]any `json:"input"`
}

// apiError is the problem-details body returned on non-2xx responses.
type apiError struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Status int    `json:"status"`
}

// ProviderError reports a failed call to the model provider. Message is the
// provider's own text, kept verbatim.
type ProviderError struct {
	StatusCode   int
	PredictionID string
	Message      string

	// Err is the underlying cause, such as the context error of a wait
	// that ran out of time.
	Err error
}

func (e *ProviderError) Error() string {
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func predictionError(p *Prediction) *ProviderError {
	msg := fmt.Sprintf("prediction %s %s", p.ID, p.Status)
	switch v := p.Error.(type) {
	case string:
		if v != "" {
			msg = v
		}
	case nil:
	default:
		msg = fmt.Sprint(v)
	}
	return &ProviderError{PredictionID: p.ID, Message: msg}
}
