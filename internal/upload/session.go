// Package upload runs resumable tus uploads that can be paused, resumed and
// aborted, with resume records kept across runs.
package upload

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/eventials/go-tus"
	"github.com/google/uuid"

	"github.com/rescale/csvup/internal/models"
)

// Metadata is sent with the upload creation request.
type Metadata struct {
	FileName        string
	FileType        string
	AccessKey       string
	ReplaceExisting bool
	// Columns is the header row of the parsed file.
	Columns models.Row
}

func (m Metadata) encode() (tus.Metadata, error) {
	cols := m.Columns
	if cols == nil {
		cols = models.Row{}
	}
	columns, err := json.Marshal(cols)
	if err != nil {
		return nil, fmt.Errorf("failed to encode columns: %w", err)
	}
	return tus.Metadata{
		"file_name":        m.FileName,
		"file_type":        m.FileType,
		"access_key":       m.AccessKey,
		"replace_existing": strconv.FormatBool(m.ReplaceExisting),
		"columns":          string(columns),
	}, nil
}

// Callbacks receive the events of a session. They are invoked from the
// session's transfer goroutine, never while the controller holds a lock.
type Callbacks struct {
	// OnBeforeRequest fires before every HTTP request of the transfer.
	OnBeforeRequest func()
	// OnProgress reports bytes accepted so far out of total.
	OnProgress func(sent, total int64)
	// OnError fires once when the transfer fails.
	OnError func(err error)
	// OnSuccess fires once after the last byte is acknowledged. Its error
	// becomes the session outcome.
	OnSuccess func(ctx context.Context) error
}

type sessionState int

const (
	stateIdle sessionState = iota
	stateRunning
	statePaused
	stateSucceeded
	stateFailed
	stateAborted
)

func (s sessionState) terminal() bool {
	return s == stateSucceeded || s == stateFailed || s == stateAborted
}

// Session is one upload of one source to one endpoint.
type Session struct {
	ID          string
	Source      models.Source
	Endpoint    string
	Metadata    Metadata
	Fingerprint string

	callbacks Callbacks

	mu      sync.Mutex
	state   sessionState
	url     string
	cancel  context.CancelFunc
	runDone chan struct{}
	done    chan struct{}
	result  error

	discarded bool
}

// NewSession creates an idle session. Nothing is sent until a Controller starts it.
func NewSession(src models.Source, endpoint string, md Metadata, cb Callbacks) *Session {
	return &Session{
		ID:          uuid.New().String(),
		Source:      src,
		Endpoint:    endpoint,
		Metadata:    md,
		Fingerprint: Fingerprint(src, endpoint),
		callbacks:   cb,
		done:        make(chan struct{}),
	}
}

// URL returns the remote upload URL once the upload was created or resumed.
func (s *Session) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.url
}

// Running reports whether a transfer goroutine is active.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == stateRunning
}

// Paused reports whether the session was paused and can be resumed.
func (s *Session) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == statePaused
}

// Done is closed when the session reaches a terminal outcome.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the session finishes and returns its outcome: nil,
// *UploadError, *SuccessCallbackError or ErrSessionAborted.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.result
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish records the terminal outcome once; later calls are ignored.
func (s *Session) finish(state sessionState, result error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.terminal() {
		return false
	}
	s.state = state
	s.result = result
	if s.cancel != nil {
		s.cancel()
	}
	close(s.done)
	return true
}

func (s *Session) setURL(url string) {
	s.mu.Lock()
	s.url = url
	s.mu.Unlock()
}

func (s *Session) callBeforeRequest() {
	if s.callbacks.OnBeforeRequest != nil {
		s.callbacks.OnBeforeRequest()
	}
}

func (s *Session) callProgress(sent, total int64) {
	if s.callbacks.OnProgress != nil {
		s.callbacks.OnProgress(sent, total)
	}
}

func (s *Session) callError(err error) {
	if s.callbacks.OnError != nil {
		s.callbacks.OnError(err)
	}
}

func (s *Session) callSuccess(ctx context.Context) error {
	if s.callbacks.OnSuccess != nil {
		return s.callbacks.OnSuccess(ctx)
	}
	return nil
}
