package openaicompat

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rhuss/atelier/pkg/api"
)

// MapHTTPError turns a non-2xx chat backend response into an APIError,
// preferring the backend's own error message when the body carries one.
func MapHTTPError(resp *http.Response) *api.APIError {
	msg := ExtractErrorMessage(resp.Body)
	or := func(fallback string) string {
		if msg != "" {
			return msg
		}
		return fallback
	}

	switch code := resp.StatusCode; {
	case code == http.StatusBadRequest:
		return api.NewInvalidRequestError("", or("invalid request to backend"))
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return api.NewServerError(or("backend authentication failed"))
	case code == http.StatusNotFound:
		return api.NewNotFoundError(or("backend resource not found"))
	case code == http.StatusTooManyRequests:
		return api.NewTooManyRequestsError(or("backend rate limit exceeded"))
	case code >= http.StatusInternalServerError:
		return api.NewServerError(or(fmt.Sprintf("backend server error (HTTP %d)", code)))
	default:
		return api.NewServerError(or(fmt.Sprintf("unexpected backend error (HTTP %d)", code)))
	}
}

// MapNetworkError wraps a transport failure (refused, timeout, DNS).
func MapNetworkError(err error) *api.APIError {
	return api.NewServerError("backend connection error: " + err.Error())
}

// ExtractErrorMessage reads at most 4 KiB of body and returns error.message
// from an OpenAI style error document, or "".
func ExtractErrorMessage(body io.Reader) string {
	if body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(body, 4<<10))
	if err != nil {
		return ""
	}
	var doc ChatErrorResponse
	if json.Unmarshal(data, &doc) != nil {
		return ""
	}
	return doc.Error.Message
}
