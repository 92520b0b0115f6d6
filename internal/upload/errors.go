package upload

import (
	"errors"
	"fmt"

	"github.com/eventials/go-tus"
)

var (
	// ErrSessionAborted is the outcome of a session that was aborted before it finished.
	ErrSessionAborted = errors.New("upload session aborted")
	// ErrSessionClosed is returned when starting a session that already finished.
	ErrSessionClosed = errors.New("upload session already finished")
	// ErrSessionRunning is returned when starting a session that is already transferring.
	ErrSessionRunning = errors.New("upload session already running")
)

// UploadError is a transfer failure reported by the tus client or transport.
type UploadError struct {
	// StatusCode is the server's status for protocol errors, 0 otherwise.
	StatusCode int
	Err        error
}

func newUploadError(err error) *UploadError {
	ue := &UploadError{Err: err}
	var ce tus.ClientError
	if errors.As(err, &ce) {
		ue.StatusCode = ce.Code
	}
	return ue
}

func (e *UploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload failed with status %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// SuccessCallbackError wraps an error returned by the success hook after the
// transfer itself completed.
type SuccessCallbackError struct {
	Err error
}

func (e *SuccessCallbackError) Error() string {
	return fmt.Sprintf("upload succeeded but success hook failed: %v", e.Err)
}

func (e *SuccessCallbackError) Unwrap() error {
	return e.Err
}
