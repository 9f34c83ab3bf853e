// Package ws serves the agent WebSocket protocol.
//
// Each connection gets a UUID, a session.Session and a write pump that is
// the only goroutine writing to the socket. The handler goroutine reads
// frames and hands them to the session; outbound messages from the session
// worker reach the pump through a bounded channel in the order they were
// sent.
package ws
