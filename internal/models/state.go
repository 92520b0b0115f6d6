// Package models defines the shared state types of the CSV upload workflow.
package models

import "math"

// Cell is one parsed CSV value: nil, bool, float64 or string.
type Cell = any

// Row is one parsed CSV record.
type Row = []Cell

// ParsingState tracks an incremental parse of the selected file.
type ParsingState struct {
	InProgress    bool  `json:"inProgress"`
	IsCompleted   bool  `json:"isCompleted"`
	IsError       bool  `json:"isError"`
	Data          []Row `json:"data"`
	Headers       Row   `json:"headers"`
	PercentParsed int   `json:"percentParsed"`
}

// DefaultParsingState returns the state of a widget with no file selected.
func DefaultParsingState() ParsingState {
	return ParsingState{
		Data:    []Row{},
		Headers: Row{},
	}
}

// RowCount returns the number of parsed rows, header row included.
func (s ParsingState) RowCount() int {
	return len(s.Data)
}

// ColumnCount returns the width of the header row, or of the first row while
// parsing is still running.
func (s ParsingState) ColumnCount() int {
	if len(s.Headers) > 0 {
		return len(s.Headers)
	}
	if len(s.Data) > 0 {
		return len(s.Data[0])
	}
	return 0
}

// UploadState tracks the resumable transfer of the selected file.
type UploadState struct {
	Percentage  float64 `json:"percentage"`
	InProgress  bool    `json:"inProgress"`
	IsCompleted bool    `json:"isCompleted"`
	IsError     bool    `json:"isError"`
	IsPaused    bool    `json:"isPaused"`
}

// DefaultUploadState returns the state before any upload was requested.
func DefaultUploadState() UploadState {
	return UploadState{}
}

// Finalizing reports the window in which every byte has been sent but the
// server has not acknowledged the upload yet.
func (s UploadState) Finalizing() bool {
	return s.Percentage == 100 && !s.IsCompleted && !s.IsError
}

// Active reports whether the transfer is running or paused mid-way.
func (s UploadState) Active() bool {
	return s.InProgress && !s.IsCompleted && !s.IsError
}

// Round2 rounds a percentage to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Percent returns part/total as a two-decimal percentage clamped to [0, 100].
func Percent(part, total int64) float64 {
	if total <= 0 {
		return 100
	}
	p := Round2(float64(part) / float64(total) * 100)
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// Snapshot is a consistent copy of the coordinator state. Data shares its
// backing array with the live state and must be treated as read-only.
type Snapshot struct {
	FileName          string
	CheckingExistence bool
	Parsing           ParsingState
	Upload            UploadState
}
