package transfer

import (
	"fmt"
	"strings"
)

// ConfigurationError is returned when required job options are missing.
// The job never starts.
type ConfigurationError struct {
	Missing []string // Option names that were not provided
}

func (e *ConfigurationError) Error() string {
	return "missing required configuration: " + strings.Join(e.Missing, ", ")
}

// ConnectionError represents a failure to reach the source endpoint.
type ConnectionError struct {
	Host string // Address that was dialed
	Err  error  // Underlying error, if any
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection to %s failed", e.Host)
	}

	return fmt.Sprintf("connection to %s failed: %v", e.Host, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// AuthError represents a rejected login on the source endpoint.
type AuthError struct {
	Host string
	User string
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed for user %q on %s", e.User, e.Host)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// ListError represents a failure to list the source directory.
type ListError struct {
	Err error
}

func (e *ListError) Error() string {
	return fmt.Sprintf("listing failed: %v", e.Err)
}

func (e *ListError) Unwrap() error {
	return e.Err
}

// RetrieveError represents a failure to read one remote file. It is recorded
// as a FetchFailed outcome and never aborts the job.
type RetrieveError struct {
	Filename string
	Reason   string // Optional short explanation
	Err      error
}

func (e *RetrieveError) Error() string {
	switch {
	case e.Reason != "" && e.Err != nil:
		return fmt.Sprintf("retrieve %s: %s: %v", e.Filename, e.Reason, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("retrieve %s: %s", e.Filename, e.Reason)
	default:
		return fmt.Sprintf("retrieve %s: %v", e.Filename, e.Err)
	}
}

func (e *RetrieveError) Unwrap() error {
	return e.Err
}

// StoreError represents a failed destination write. It is recorded as an
// UploadFailed outcome.
type StoreError struct {
	Bucket string
	Key    string
	Code   string // Provider error code (e.g. "AccessDenied"), when known
	Err    error
}

func (e *StoreError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("store s3://%s/%s (%s): %v", e.Bucket, e.Key, e.Code, e.Err)
	}

	return fmt.Sprintf("store s3://%s/%s: %v", e.Bucket, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
