package grid

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/mattn/go-runewidth"

	"github.com/rescale/csvup/internal/models"
)

// MaxCellWidth is the widest cell, in terminal columns, rendered before truncation.
const MaxCellWidth = 40

// Render writes rows as a tab-aligned table. Rows shorter than the widest
// row are padded with empty cells.
func Render(w io.Writer, rows []models.Row) error {
	if len(rows) == 0 {
		_, err := fmt.Fprintln(w, "(no rows)")
		return err
	}

	width := 0
	for _, r := range rows {
		width = max(width, len(r))
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, r := range rows {
		cells := make([]string, width)
		for i := range cells {
			if i < len(r) {
				cells[i] = runewidth.Truncate(FormatCell(r[i]), MaxCellWidth, "...")
			}
		}
		if _, err := fmt.Fprintln(tw, strings.Join(cells, "\t")); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// RenderPage writes the current page of p followed by its pager label.
func RenderPage(w io.Writer, p *Paginator) error {
	if err := Render(w, p.Page()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\nPage %s\n", p.Label())
	return err
}

// FormatCell renders a typed cell the way it is shown in the grid.
func FormatCell(c models.Cell) string {
	switch v := c.(type) {
	case nil:
		return ""
	case string:
		return sanitize(v)
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return sanitize(fmt.Sprint(v))
	}
}

// sanitize keeps multi-line and tabbed cells on one table row.
func sanitize(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ", "\t", " ").Replace(s)
}
