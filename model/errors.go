package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrBusy is returned when an operation for the same commission is still in flight.
	ErrBusy = errors.New("an operation for this commission is already in flight")
	// ErrNotFound is returned by the indexer for unknown keys.
	ErrNotFound = errors.New("not found")
)

// EstimationError means the node rejected the call before submission.
type EstimationError struct {
	Entrypoint string
	Err        error
}

func (e *EstimationError) Error() string {
	return fmt.Sprintf("estimate %s: %v", e.Entrypoint, e.Err)
}

func (e *EstimationError) Unwrap() error { return e.Err }

// SubmissionError means the operation failed to broadcast or its
// confirmation stream reported failure. On-chain state must be re-read.
type SubmissionError struct {
	Entrypoint string
	OpHash     string
	Err        error
}

func (e *SubmissionError) Error() string {
	if e.OpHash != "" {
		return fmt.Sprintf("submit %s (%s): %v", e.Entrypoint, e.OpHash, e.Err)
	}
	return fmt.Sprintf("submit %s: %v", e.Entrypoint, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// TimeoutError means no confirmation arrived within the configured bound.
type TimeoutError struct {
	OpHash string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation %s not confirmed after %s", e.OpHash, e.After)
}

// QueryError wraps an indexer read failure.
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query %s: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// ConnectionError wraps a wallet connect or permission failure.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("wallet connection: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// AuthorizationError is returned when the session lacks the required role.
type AuthorizationError struct {
	Address  string
	Required Role
	Actual   Role
}

func (e *AuthorizationError) Error() string {
	if e.Address == "" {
		return "not authenticated"
	}
	return fmt.Sprintf("%s has role %q, %q required", e.Address, e.Actual, e.Required)
}
