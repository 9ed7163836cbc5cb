package search

import (
	"errors"
	"fmt"
)

// TransportError reports a failed call to the remote search endpoint
// (network, auth or malformed response). Partial results fetched before
// the failure are returned alongside it.
type TransportError struct {
	// Page is the 1-based page number whose fetch failed.
	Page int
	Err  error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("search transport error on page %d: %v", e.Page, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConfigError reports invalid stopping thresholds. It is returned before
// any remote call is made.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// IsTransportError reports whether err is or wraps a *TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
