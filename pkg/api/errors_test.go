package api

import (
	"encoding/json"
	"testing"
)

func TestAPIError(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		wantType ErrorType
		wantText string
		wantJSON string
	}{
		{
			"invalid request keeps param",
			NewInvalidRequestError("name", "is required"),
			ErrorTypeInvalidRequest,
			"invalid_request: is required (param: name)",
			`{"type":"invalid_request","param":"name","message":"is required"}`,
		},
		{
			"not found",
			NewNotFoundError("space not found: fox-studies"),
			ErrorTypeNotFound,
			"not_found: space not found: fox-studies",
			`{"type":"not_found","message":"space not found: fox-studies"}`,
		},
		{
			"busy",
			NewTooManyRequestsError("session busy"),
			ErrorTypeTooManyRequests,
			"too_many_requests: session busy",
			`{"type":"too_many_requests","message":"session busy"}`,
		},
		{
			"server",
			NewServerError("disk full"),
			ErrorTypeServerError,
			"server_error: disk full",
			`{"type":"server_error","message":"disk full"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", tt.err.Type, tt.wantType)
			}
			if got := tt.err.Error(); got != tt.wantText {
				t.Errorf("Error() = %q, want %q", got, tt.wantText)
			}
			data, err := json.Marshal(tt.err)
			if err != nil {
				t.Fatal(err)
			}
			if string(data) != tt.wantJSON {
				t.Errorf("JSON = %s, want %s", data, tt.wantJSON)
			}
		})
	}
}

func TestErrorResponseEnvelope(t *testing.T) {
	data, err := json.Marshal(ErrorResponse{Error: NewNotFoundError("node not found: n1")})
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"error":{"type":"not_found","message":"node not found: n1"}}`; string(data) != want {
		t.Errorf("JSON = %s, want %s", data, want)
	}
}
