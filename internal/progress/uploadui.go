package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/rescale/csvup/internal/constants"
	"github.com/rescale/csvup/internal/status"
)

// barTotal is the bar resolution: percentages carry two decimals.
const barTotal = 10000

// UploadUI shows the upload of one file as an mpb bar whose label carries
// the current status and the keys that control it.
type UploadUI struct {
	progress   *mpb.Progress
	bar        *mpb.Bar
	out        io.Writer
	isTerminal bool
	fileName   string
	size       int64
	startTime  time.Time

	mu          sync.Mutex
	label       string
	controls    status.Controls
	lastPercent float64
	lastStep    int
	finished    bool
}

// NewUploadUI creates the upload bar for fileName. Output that is not a
// terminal gets one line per 10% step and per status change instead.
func NewUploadUI(out io.Writer, fileName string, size int64) *UploadUI {
	if out == nil {
		out = os.Stderr
	}
	u := &UploadUI{
		out:        out,
		isTerminal: IsTerminal(out),
		fileName:   fileName,
		size:       size,
		startTime:  time.Now(),
		label:      status.Uploading.String(),
		lastStep:   -1,
	}

	if !u.isTerminal {
		u.progress = mpb.New(mpb.WithOutput(io.Discard))
		fmt.Fprintf(out, "Uploading %s (%.1f MiB)\n", fileName, float64(size)/(1024*1024))
		return u
	}

	u.progress = mpb.New(
		mpb.WithOutput(out),
		mpb.WithRefreshRate(constants.ProgressRefreshInterval),
		mpb.WithWidth(100),
	)

	// A zero total keeps the bar alive at 100% until Complete: the server
	// may still be finalizing.
	u.bar = u.progress.New(0,
		mpb.BarStyle().
			Lbound("[").
			Filler("█").
			Tip("█").
			Padding("░").
			Rbound("]"),
		mpb.PrependDecorators(
			decor.Any(func(decor.Statistics) string {
				u.mu.Lock()
				defer u.mu.Unlock()
				return fmt.Sprintf("%s %s", u.fileName, u.label)
			}, decor.WCSyncSpace),
		),
		mpb.AppendDecorators(
			decor.Any(func(s decor.Statistics) string {
				sent := float64(u.size) * float64(s.Current) / barTotal
				return fmt.Sprintf("%.1f / %.1f MiB", sent/(1024*1024), float64(u.size)/(1024*1024))
			}, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Percentage(decor.WCSyncSpace),
			decor.Name("  "),
			decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace),
			decor.Name("  "),
			decor.Any(func(decor.Statistics) string {
				u.mu.Lock()
				defer u.mu.Unlock()
				return ControlHints(u.controls)
			}),
		),
		mpb.BarRemoveOnComplete(),
	)
	u.bar.SetTotal(barTotal, false)
	return u
}

// Update moves the bar to percent and refreshes the label and control hints.
func (u *UploadUI) Update(percent float64, label string, controls status.Controls) {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return
	}
	labelChanged := label != u.label
	u.label = label
	u.controls = controls
	u.lastPercent = percent
	step := int(percent / 10)
	stepChanged := step != u.lastStep
	u.lastStep = step
	u.mu.Unlock()

	if u.bar != nil {
		u.bar.SetCurrent(int64(percent * 100))
		return
	}
	if labelChanged || stepChanged {
		fmt.Fprintf(u.out, "%s: %.2f%% %s\n", label, percent, ControlHints(controls))
	}
}

// Complete finishes the bar and prints a summary line above it.
func (u *UploadUI) Complete(err error) {
	u.mu.Lock()
	if u.finished {
		u.mu.Unlock()
		return
	}
	u.finished = true
	percent := u.lastPercent
	u.mu.Unlock()

	elapsed := time.Since(u.startTime)
	var msg string
	if err == nil {
		if u.bar != nil {
			u.bar.SetCurrent(barTotal)
			u.bar.SetTotal(barTotal, true)
		}
		msg = fmt.Sprintf("✓ %s uploaded (%.1f MiB, %s)\n",
			u.fileName, float64(u.size)/(1024*1024), elapsed.Round(time.Second))
	} else {
		if u.bar != nil {
			u.bar.Abort(false)
		}
		msg = fmt.Sprintf("✗ %s stopped at %.2f%%: %v\n", u.fileName, percent, err)
	}

	if _, werr := u.Writer().Write([]byte(msg)); werr != nil {
		fmt.Fprint(os.Stderr, msg)
	}
}

// Wait blocks until the bar has been removed from the screen.
func (u *UploadUI) Wait() {
	if u.progress != nil {
		u.progress.Wait()
	}
}

// Writer returns an io.Writer that prints above the bar.
func (u *UploadUI) Writer() io.Writer {
	if u.isTerminal && u.progress != nil {
		return u.progress
	}
	return u.out
}

// IsTerminal returns true if the bar is rendered.
func (u *UploadUI) IsTerminal() bool {
	return u.isTerminal
}

// ControlHints lists the keys available for the given controls.
func ControlHints(c status.Controls) string {
	switch {
	case c.Finalizing:
		return "(finalizing)"
	case c.Play && c.Abort:
		return "[r] resume  [a] abort"
	case c.Pause && c.Abort:
		return "[p] pause  [a] abort"
	case c.Abort:
		return "[a] abort"
	default:
		return ""
	}
}
