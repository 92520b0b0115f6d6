package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rescale/csvup/internal/config"
	"github.com/rescale/csvup/internal/core"
	"github.com/rescale/csvup/internal/grid"
	"github.com/rescale/csvup/internal/models"
	"github.com/rescale/csvup/internal/progress"
	"github.com/rescale/csvup/internal/status"
	"github.com/rescale/csvup/internal/upload"
)

// uploadFlags are the options of the 'upload' command.
type uploadFlags struct {
	yes         bool
	previewRows int
	interactive bool
}

// newUploadCmd creates the 'upload' command.
func newUploadCmd() *cobra.Command {
	var flags uploadFlags
	var noKeys bool

	cmd := &cobra.Command{
		Use:   "upload <file.csv>",
		Short: "Parse a CSV file and upload it",
		Long: `Parse a CSV file, check whether a file with the same name exists and
upload it with the tus resumable upload protocol.

While the upload runs, type a command and press Enter:
  p  pause the upload
  r  resume a paused upload
  a  abort and discard the upload
  x  reset: abort the upload and clear the selection

If the upload is interrupted (Ctrl+C, network failure), running the same
command again continues from the last byte the server received.

Examples:
  # Upload with an overwrite prompt if the file already exists
  csvup upload data.csv

  # Overwrite without asking and show the first 20 rows
  csvup upload data.csv --yes --preview-rows 20`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.interactive = !noKeys && term.IsTerminal(int(os.Stdin.Fd()))
			return runUpload(GetContext(), args[0], flags, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().BoolVarP(&flags.yes, "yes", "y", false, "Overwrite an existing remote file without asking")
	cmd.Flags().IntVar(&flags.previewRows, "preview-rows", 0, "Print the first N parsed rows before uploading")
	cmd.Flags().BoolVar(&noKeys, "no-keys", false, "Do not read control commands from stdin")

	return cmd
}

// viewOptions maps the display toggles of cfg.
func viewOptions(cfg *config.Config) status.Options {
	return status.Options{
		ShowParsingProgress: cfg.ShowParsingProgress,
		ShowUploadProgress:  cfg.ShowUploadProgress,
		ShowReset:           cfg.ShowReset,
	}
}

func runUpload(ctx context.Context, path string, flags uploadFlags, in io.Reader, out, errOut io.Writer) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	src, err := models.NewLocalFile(path)
	if err != nil {
		return err
	}

	con := newConsole(ctx, in, errOut)
	confirm := con.confirmOverwrite
	if flags.yes {
		confirm = func(string) bool { return true }
	}

	a, err := newApp(cfg, errOut, confirm)
	if err != nil {
		return err
	}
	defer a.close()
	c := a.coordinator

	surface := progress.NewTerminalSurface(errOut, src.Name(), src.Size())
	defer surface.Close()
	a.setOutput(surface.Writer())
	opts := viewOptions(cfg)

	followCtx, stopFollow := context.WithCancel(ctx)
	defer stopFollow()
	go progress.Follow(followCtx, a.bus, c.Snapshot(), surface, opts)

	if err := c.SelectFile(src); err != nil {
		return err
	}
	if err := c.WaitParse(ctx); err != nil {
		return err
	}
	snap := c.Snapshot()
	surface.Render(status.Project(status.FromSnapshot(snap), opts))
	a.logger.Info().Str("file", src.Name()).Int("rows", snap.Parsing.RowCount()).Int("columns", snap.Parsing.ColumnCount()).Msg("Parse complete")
	fmt.Fprintf(errOut, "Parsed %s: %d rows, %d columns\n", src.Name(), snap.Parsing.RowCount(), snap.Parsing.ColumnCount())

	if flags.previewRows > 0 {
		p := grid.NewPaginator(flags.previewRows)
		p.SetRows(snap.Parsing.Data)
		fmt.Fprintln(out)
		if err := grid.RenderPage(out, p); err != nil {
			return err
		}
	}

	for {
		outcome, err := c.RequestUpload(ctx)
		switch outcome {
		case core.OutcomeDeclined:
			fmt.Fprintln(errOut, "Upload cancelled; the existing file was kept.")
			return nil
		case core.OutcomeCheckFailed:
			return err
		case core.OutcomeSuperseded:
			return ctx.Err()
		case core.OutcomeSkipped:
			if err != nil {
				return err
			}
			return errors.New("nothing to upload")
		}

		err = waitUpload(ctx, c, con, flags.interactive, errOut)
		switch {
		case err == nil:
			surface.FinishUpload(nil)
			return nil
		case ctx.Err() != nil:
			c.Pause()
			surface.FinishUpload(err)
			fmt.Fprintln(errOut, "Upload interrupted. Run the same command again to resume.")
			return err
		case errors.Is(err, upload.ErrSessionAborted):
			surface.FinishUpload(err)
			return errors.New("upload aborted")
		}

		surface.FinishUpload(err)
		var cbErr *upload.SuccessCallbackError
		if errors.As(err, &cbErr) || !flags.interactive || !con.confirm("Upload failed. Retry?") {
			return err
		}
		surface.RestartUpload()
	}
}

// waitUpload blocks until the current session ends, dispatching control
// commands from the console meanwhile.
func waitUpload(ctx context.Context, c *core.Coordinator, con *console, interactive bool, errOut io.Writer) error {
	if interactive {
		keysCtx, stopKeys := context.WithCancel(ctx)
		defer stopKeys()
		fmt.Fprintln(errOut, "Commands: p pause, r resume, a abort, x reset (then Enter)")
		go progress.DispatchKeys(keysCtx, con.lines, progress.Actions{
			OnPause: c.Pause,
			OnPlay: func() {
				if err := c.Resume(ctx); err != nil {
					fmt.Fprintf(errOut, "✗ %v\n", err)
				}
			},
			OnAbort: c.Abort,
			OnReset: c.Reset,
		})
	}
	return c.Wait(ctx)
}
