package session

import "errors"

var (
	// ErrMissingClientID is returned when a client id is empty
	ErrMissingClientID = errors.New("missing clientID")

	// ErrDuplicateClient is returned when a client id is already registered for the user
	ErrDuplicateClient = errors.New("client already registered")

	// ErrNotRegistered is returned when a client id is not registered for the user
	ErrNotRegistered = errors.New("client not registered")

	// ErrNoActiveSessions is returned when the user has no registered sessions
	ErrNoActiveSessions = errors.New("no active clients registered for user")

	// ErrTransportClosed is returned by a Sender whose connection has already closed
	ErrTransportClosed = errors.New("transport closed")
)
