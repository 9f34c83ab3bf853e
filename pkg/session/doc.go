// Package session holds one agent conversation per client connection.
//
// A Session owns an agent.Bridge and a worker goroutine that runs queries
// one at a time in arrival order. Control messages (ping) are answered
// immediately by the caller's goroutine; chat and clear go through the
// bounded queue, so a clear waits for the query in flight.
package session
