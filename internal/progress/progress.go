// Package progress renders parse and upload progress in the terminal: a
// progressbar bar while parsing, an mpb bar with control hints while
// uploading, and plain status lines when output is not a terminal.
package progress

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// ParseReporter follows a parse as a percentage of the file's bytes.
type ParseReporter interface {
	Begin(label string)
	Set(percent int)
	// End closes the reporter; a non-nil err means the parse failed.
	End(err error)
}

// ParseBar draws a 0..100 progressbar bar.
type ParseBar struct {
	out io.Writer
	bar *progressbar.ProgressBar
}

// NewParseBar creates a bar writing to out (stderr when nil).
func NewParseBar(out io.Writer) *ParseBar {
	if out == nil {
		out = os.Stderr
	}
	return &ParseBar{out: out}
}

func (p *ParseBar) Begin(label string) {
	out := p.out
	p.bar = progressbar.NewOptions(100,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetWidth(50),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(100),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(out) }),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func (p *ParseBar) Set(percent int) {
	if p.bar != nil {
		_ = p.bar.Set(max(0, min(percent, 100)))
	}
}

func (p *ParseBar) End(err error) {
	if p.bar == nil {
		return
	}
	if err != nil {
		_ = p.bar.Exit()
		fmt.Fprintf(p.out, "\nParse failed: %v\n", err)
	} else {
		_ = p.bar.Finish()
	}
	p.bar = nil
}

// Silent discards parse progress; used when output is not a terminal.
type Silent struct{}

func (Silent) Begin(string) {}
func (Silent) Set(int)      {}
func (Silent) End(error)    {}
