// Package integration provides end-to-end tests for the scroll sync server.
// The server is started from a YAML config file and driven over real HTTP,
// Server-Sent Events and WebSocket connections.
package integration
