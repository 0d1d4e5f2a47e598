package errors

import "errors"

// Sentinel errors for common error conditions
var (
	// ErrNotFound indicates that a referenced session, agent, or conversation does not exist
	ErrNotFound = errors.New("resource not found")

	// ErrAgentInactive indicates that the target agent exists but is disabled
	ErrAgentInactive = errors.New("agent is inactive")

	// ErrNoAgents indicates that no active agents are available to respond
	ErrNoAgents = errors.New("no agents available")

	// ErrUpstream indicates that the completion service could not produce a reply
	ErrUpstream = errors.New("completion service failed")

	// ErrInvalidInput indicates that input validation failed
	ErrInvalidInput = errors.New("invalid input")
)
