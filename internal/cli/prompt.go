package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/rescale/csvup/internal/core"
)

// console owns the input stream so that prompts and the key reader running
// during an upload never compete for the same lines.
type console struct {
	ctx   context.Context
	lines <-chan string
	out   io.Writer
}

// newConsole starts reading lines from in. The reader goroutine ends at EOF.
func newConsole(ctx context.Context, in io.Reader, out io.Writer) *console {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()
	return &console{ctx: ctx, lines: lines, out: out}
}

// readLine returns the next input line. ok is false at EOF or cancellation.
func (c *console) readLine() (line string, ok bool) {
	select {
	case <-c.ctx.Done():
		return "", false
	case line, ok = <-c.lines:
		return line, ok
	}
}

// confirm asks a yes/no question. Anything but an explicit yes declines,
// including EOF and cancellation.
func (c *console) confirm(question string) bool {
	fmt.Fprintf(c.out, "\n⚠️  %s [y/N]: ", question)

	line, ok := c.readLine()
	if !ok {
		fmt.Fprintln(c.out)
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

// confirmOverwrite is the coordinator's overwrite prompt.
func (c *console) confirmOverwrite(fileName string) bool {
	return c.confirm(core.ConfirmOverwriteMessage(fileName))
}

// promptPassword reads a secret from the terminal without echo. When stdin
// is not a terminal a single line is read instead.
func promptPassword(label string) (string, error) {
	fmt.Fprintf(os.Stderr, "%s: ", label)

	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		return string(b), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
