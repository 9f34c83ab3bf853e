// Package transport holds the HTTP plumbing shared by the atelier servers:
// the middleware chain (CORS, request IDs, structured logging, panic
// recovery) and JSON error responses in the pkg/api error format.
//
// The http subpackage serves the REST and static routes; the ws subpackage
// serves the agent WebSocket protocol.
package transport
