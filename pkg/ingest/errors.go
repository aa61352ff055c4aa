package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxRetries is wrapped by the ConnectionError that moves the consumer to Failed
	ErrMaxRetries = errors.New("ingest: max connection retries exceeded")

	ErrAlreadyRunning = errors.New("ingest: consumer already running")
	ErrNotRunning     = errors.New("ingest: consumer not running")

	// ErrSourceClosed is returned by a source used after Close
	ErrSourceClosed = errors.New("ingest: source closed")
)

// ConnectionError reports a failed attempt to reach the upstream broker
type ConnectionError struct {
	Source  string
	Attempt int
	Err     error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s connection attempt %d failed: %v", e.Source, e.Attempt, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
