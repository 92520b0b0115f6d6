package api

import (
	"errors"
	"fmt"
)

// ErrEmptyFileName is returned when FileExists is called without a name.
var ErrEmptyFileName = errors.New("file name is empty")

// NetworkError reports a failed existence check: a transport failure, a
// non-200 response, or a body that could not be decoded.
type NetworkError struct {
	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("existence check failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("existence check failed: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// IsNetworkError reports whether err wraps a *NetworkError.
func IsNetworkError(err error) bool {
	var netErr *NetworkError
	return errors.As(err, &netErr)
}
