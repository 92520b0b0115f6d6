//go:build windows

package progress

import (
	"io"
	"os"

	"golang.org/x/sys/windows"
)

// IsTerminal reports whether w is a console that accepts ANSI sequences.
// Virtual terminal processing is switched on as a side effect; a console
// that refuses it is treated as plain output.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	h := windows.Handle(f.Fd())
	var mode uint32
	if err := windows.GetConsoleMode(h, &mode); err != nil {
		return false
	}
	if mode&windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING != 0 {
		return true
	}
	return windows.SetConsoleMode(h, mode|windows.ENABLE_VIRTUAL_TERMINAL_PROCESSING) == nil
}
