// Package status derives what a rendering surface shows from a coordinator
// snapshot: the action label, which actions are enabled and which progress
// controls are visible.
package status

import "github.com/rescale/csvup/internal/models"

// Status is the label of the upload action.
type Status int

const (
	Ready Status = iota
	CheckingExistence
	Parsing
	Uploading
	Finalizing
)

// String returns the text shown on the upload action.
func (s Status) String() string {
	switch s {
	case CheckingExistence:
		return "Checking if file exists..."
	case Parsing:
		return "Parsing CSV file..."
	case Uploading:
		return "Uploading..."
	case Finalizing:
		return "Copying file to db..."
	default:
		return "Upload"
	}
}

// Input is the state a view is projected from.
type Input struct {
	FileName          string
	CheckingExistence bool
	Parsing           models.ParsingState
	Upload            models.UploadState
}

// FromSnapshot converts a coordinator snapshot into an Input.
func FromSnapshot(s models.Snapshot) Input {
	return Input{
		FileName:          s.FileName,
		CheckingExistence: s.CheckingExistence,
		Parsing:           s.Parsing,
		Upload:            s.Upload,
	}
}

// Options are the display toggles of the surface.
type Options struct {
	ShowParsingProgress bool
	ShowUploadProgress  bool
	ShowReset           bool
}

// DefaultOptions shows everything.
func DefaultOptions() Options {
	return Options{
		ShowParsingProgress: true,
		ShowUploadProgress:  true,
		ShowReset:           true,
	}
}

// Controls are the buttons next to the upload progress bar.
type Controls struct {
	Play       bool
	Pause      bool
	Abort      bool
	Finalizing bool
}

// View is everything a surface needs to render one frame.
type View struct {
	Status        Status
	Label         string
	UploadEnabled bool
	ResetEnabled  bool

	ShowParseProgress  bool
	ParsePercent       int
	ParseAbortEnabled  bool
	ShowUploadProgress bool
	UploadPercent      float64
	UploadControls     Controls
	ShowReset          bool
}

// Project computes the view for in. It has no side effects.
func Project(in Input, opts Options) View {
	p, u := in.Parsing, in.Upload
	finalizing := u.Finalizing()

	st := Ready
	switch {
	case in.CheckingExistence:
		st = CheckingExistence
	case p.InProgress && !p.IsError:
		st = Parsing
	case u.InProgress && !u.IsCompleted && !u.IsError && u.Percentage != 100:
		st = Uploading
	case finalizing:
		st = Finalizing
	}

	v := View{
		Status:        st,
		Label:         st.String(),
		UploadEnabled: p.IsCompleted && !p.IsError && !in.CheckingExistence && !u.InProgress,
		ResetEnabled:  in.FileName != "" && !finalizing,
		ShowReset:     opts.ShowReset,
		ParsePercent:  p.PercentParsed,
		UploadPercent: u.Percentage,
	}

	if opts.ShowParsingProgress && p.InProgress && !p.IsError && !p.IsCompleted {
		v.ShowParseProgress = true
		v.ParseAbortEnabled = true
	}

	if opts.ShowUploadProgress && u.InProgress && !u.IsError && !u.IsCompleted {
		v.ShowUploadProgress = true
		transferring := !u.IsCompleted && !u.IsError && u.Percentage != 100
		v.UploadControls = Controls{
			Play:       transferring && u.IsPaused,
			Pause:      transferring && !u.IsPaused,
			Abort:      u.Percentage != 100,
			Finalizing: finalizing,
		}
	}

	return v
}
