package agent

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by session-dependent operations before
	// Initialize or after Cleanup.
	ErrNotInitialized = errors.New("agent is not initialized")
	// ErrAlreadyInitialized is returned by a second Initialize without a
	// Cleanup in between.
	ErrAlreadyInitialized = errors.New("agent is already initialized")
)

// SandboxError is a failure of the desktop sandbox itself: creating or
// terminating the session, or capturing the screen for a new instruction.
// Failures of individual actions are reported to the model instead.
type SandboxError struct {
	Op  string
	Err error
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("sandbox %s: %v", e.Op, e.Err)
}

func (e *SandboxError) Unwrap() error { return e.Err }

// ProviderError is a failed completion request.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("completion provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }
