// Package api defines the error type shared by the HTTP surface and the
// LLM provider client.
//
// [APIError] serializes as {"type","message"} with optional code and param,
// and is wrapped in [ErrorResponse] as {"error": {...}} on the wire.
package api
