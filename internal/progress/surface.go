package progress

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rescale/csvup/internal/events"
	"github.com/rescale/csvup/internal/models"
	"github.com/rescale/csvup/internal/status"
)

// Surface displays projected views.
type Surface interface {
	Render(v status.View)
	Close()
}

// Actions are invoked for the control keys read by DispatchKeys.
type Actions struct {
	OnPlay  func()
	OnPause func()
	OnAbort func()
	OnReset func()
}

// TerminalSurface renders the parse bar, the upload bar and status changes
// for one file.
type TerminalSurface struct {
	out        io.Writer
	isTerminal bool
	fileName   string
	size       int64
	newParse   func() ParseReporter

	mu        sync.Mutex
	parse     ParseReporter
	upload    *UploadUI
	finished  bool
	lastLabel string
	closed    bool
}

// NewTerminalSurface creates a surface writing to out.
func NewTerminalSurface(out io.Writer, fileName string, size int64) *TerminalSurface {
	if out == nil {
		out = os.Stderr
	}
	s := &TerminalSurface{
		out:        out,
		isTerminal: IsTerminal(out),
		fileName:   fileName,
		size:       size,
	}
	s.newParse = func() ParseReporter {
		if s.isTerminal {
			return NewParseBar(out)
		}
		return Silent{}
	}
	return s
}

// Render shows v. Bars are created when they first become visible and
// finished when they disappear.
func (s *TerminalSurface) Render(v status.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	if v.ShowParseProgress {
		if s.parse == nil {
			s.parse = s.newParse()
			s.parse.Begin("Parsing " + s.fileName)
		}
		s.parse.Set(v.ParsePercent)
	} else if s.parse != nil {
		s.parse.End(nil)
		s.parse = nil
	}

	if v.ShowUploadProgress && !s.finished {
		if s.upload == nil {
			s.upload = NewUploadUI(s.out, s.fileName, s.size)
		}
		s.upload.Update(v.UploadPercent, v.Label, v.UploadControls)
	}

	if v.Label != s.lastLabel {
		s.lastLabel = v.Label
		if !s.isTerminal && !v.ShowUploadProgress {
			fmt.Fprintf(s.out, "%s\n", v.Label)
		}
	}
}

// Writer returns a writer that prints above whichever bar is active at the
// time of each write.
func (s *TerminalSurface) Writer() io.Writer {
	return surfaceWriter{s}
}

type surfaceWriter struct {
	s *TerminalSurface
}

func (w surfaceWriter) Write(p []byte) (int, error) {
	w.s.mu.Lock()
	u := w.s.upload
	w.s.mu.Unlock()
	if u != nil {
		return u.Writer().Write(p)
	}
	return w.s.out.Write(p)
}

// FinishUpload ends the upload bar with the outcome of the session. No new
// bar is shown until RestartUpload.
func (s *TerminalSurface) FinishUpload(err error) {
	s.mu.Lock()
	u := s.upload
	s.upload = nil
	s.finished = true
	s.mu.Unlock()
	if u == nil {
		return
	}
	u.Complete(err)
	u.Wait()
}

// RestartUpload allows a new upload bar after FinishUpload, for a retry.
func (s *TerminalSurface) RestartUpload() {
	s.mu.Lock()
	s.finished = false
	s.mu.Unlock()
}

// Close stops rendering and releases the bars.
func (s *TerminalSurface) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.parse != nil {
		s.parse.End(nil)
		s.parse = nil
	}
	if s.upload != nil {
		s.upload.Complete(context.Canceled)
	}
}

// Follow renders every state change published on bus until ctx is done or
// the bus is closed. The initial snapshot is rendered first.
func Follow(ctx context.Context, bus *events.EventBus, initial models.Snapshot, surface Surface, opts status.Options) {
	ch := bus.Subscribe(events.EventStateChange)
	defer bus.Unsubscribe(ch)

	surface.Render(status.Project(status.FromSnapshot(initial), opts))
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			sc, ok := ev.(*events.StateChangeEvent)
			if !ok {
				continue
			}
			surface.Render(status.Project(status.FromSnapshot(sc.Snapshot), opts))
		}
	}
}

// DispatchKeys dispatches one command per line to a: p pauses, r resumes,
// a aborts, x resets. It returns when ctx is done or lines is closed.
func DispatchKeys(ctx context.Context, lines <-chan string, a Actions) {
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			dispatchKey(strings.TrimSpace(strings.ToLower(line)), a)
		}
	}
}

func dispatchKey(key string, a Actions) {
	var fn func()
	switch key {
	case "p", "pause":
		fn = a.OnPause
	case "r", "resume", "play":
		fn = a.OnPlay
	case "a", "abort":
		fn = a.OnAbort
	case "x", "reset":
		fn = a.OnReset
	}
	if fn != nil {
		fn()
	}
}
