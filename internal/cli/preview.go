package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/rescale/csvup/internal/grid"
	"github.com/rescale/csvup/internal/models"
	"github.com/rescale/csvup/internal/parse"
	"github.com/rescale/csvup/internal/progress"
)

type previewFlags struct {
	page     int
	pageSize int
	browse   bool
}

// newPreviewCmd creates the 'preview' command.
func newPreviewCmd() *cobra.Command {
	var flags previewFlags
	var raw bool

	cmd := &cobra.Command{
		Use:   "preview <file.csv>",
		Short: "Parse a CSV file and print one page of rows",
		Long: `Parse a CSV file locally and print one page of the result as a table.
Nothing is sent over the network.

Numbers, true/false and empty fields are typed the same way the upload
command types them; use --raw to print every field as text.

With --browse, pages are navigated from stdin: n (next), p (previous),
f (first), l (last), a page number, or q to quit.

Examples:
  # First page with the configured page size
  csvup preview data.csv

  # Third page of 50 rows
  csvup preview data.csv --page 3 --page-size 50

  # Page through the file
  csvup preview data.csv --browse`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if flags.pageSize <= 0 {
				flags.pageSize = cfg.PageSize
			}
			opts := parse.DefaultOptions()
			opts.DynamicTyping = !raw
			return runPreview(GetContext(), args[0], opts, cfg.ParseChunkSize, flags, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().IntVar(&flags.page, "page", 1, "Page to print (1-based)")
	cmd.Flags().IntVar(&flags.pageSize, "page-size", 0, "Rows per page (default from config)")
	cmd.Flags().BoolVar(&flags.browse, "browse", false, "Navigate pages interactively")
	cmd.Flags().BoolVar(&raw, "raw", false, "Do not convert numbers and booleans")

	return cmd
}

func runPreview(ctx context.Context, path string, opts parse.Options, chunkSize int64, flags previewFlags, in io.Reader, out, errOut io.Writer) error {
	src, err := models.NewLocalFile(path)
	if err != nil {
		return err
	}

	rows, err := parseAll(ctx, parse.NewEngine(opts, GetLogger()), src, chunkSize, progress.NewParseBar(errOut))
	if err != nil {
		return err
	}

	p := grid.NewPaginator(flags.pageSize)
	p.SetRows(rows)
	p.GoTo(flags.page - 1)
	if err := grid.RenderPage(out, p); err != nil {
		return err
	}
	if !flags.browse {
		return nil
	}
	return browse(newConsole(ctx, in, errOut), p, out)
}

// browse moves through pages on line commands until q, EOF or cancellation.
func browse(con *console, p *grid.Paginator, out io.Writer) error {
	for {
		fmt.Fprint(con.out, "[n]ext [p]rev [f]irst [l]ast <page> [q]uit: ")
		line, ok := con.readLine()
		if !ok {
			fmt.Fprintln(con.out)
			return nil
		}

		cmd := strings.ToLower(strings.TrimSpace(line))
		switch cmd {
		case "q", "quit":
			return nil
		case "n", "next", "":
			p.Next()
		case "p", "prev":
			p.Prev()
		case "f", "first":
			p.First()
		case "l", "last":
			p.Last()
		default:
			n, err := strconv.Atoi(cmd)
			if err != nil {
				fmt.Fprintf(con.out, "Unknown command %q\n", cmd)
				continue
			}
			p.GoTo(n - 1)
		}
		if err := grid.RenderPage(out, p); err != nil {
			return err
		}
	}
}

// parseAll parses src to completion, reporting the parsed percentage.
func parseAll(ctx context.Context, engine *parse.Engine, src models.Source, chunkSize int64, reporter progress.ParseReporter) ([]models.Row, error) {
	var (
		mu       sync.Mutex
		rows     []models.Row
		parseErr error
	)
	done := make(chan struct{})
	size := src.Size()

	reporter.Begin("Parsing " + src.Name())
	job := engine.Parse(ctx, src, chunkSize, parse.Handler{
		OnChunk: func(batch []models.Row, cursor int64) {
			mu.Lock()
			rows = append(rows, batch...)
			mu.Unlock()
			if size > 0 {
				reporter.Set(int(min(cursor*100/size, 100)))
			}
		},
		OnError: func(err error) {
			mu.Lock()
			parseErr = err
			mu.Unlock()
			close(done)
		},
		OnComplete: func() {
			close(done)
		},
	})

	select {
	case <-done:
	case <-ctx.Done():
		job.Abort()
		reporter.End(ctx.Err())
		return nil, ctx.Err()
	}

	mu.Lock()
	defer mu.Unlock()
	if parseErr != nil {
		reporter.End(parseErr)
		return nil, fmt.Errorf("failed to parse %s: %w", src.Name(), parseErr)
	}
	reporter.Set(100)
	reporter.End(nil)
	return rows, nil
}
