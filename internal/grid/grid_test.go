package grid

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rescale/csvup/internal/models"
)

func makeRows(n int) []models.Row {
	rows := make([]models.Row, n)
	for i := range rows {
		rows[i] = models.Row{float64(i)}
	}
	return rows
}

// TestPaginatorClampsPageSize tests that a small data set fits on one page
func TestPaginatorClampsPageSize(t *testing.T) {
	p := NewPaginator(1000)
	p.SetRows(makeRows(3))

	if p.PageSize() != 3 || p.TotalPages() != 1 {
		t.Errorf("PageSize() = %d, TotalPages() = %d, want 3 and 1", p.PageSize(), p.TotalPages())
	}
	if got := len(p.Page()); got != 3 {
		t.Errorf("len(Page()) = %d, want 3", got)
	}
	if p.Label() != "1 of 1" {
		t.Errorf("Label() = %q", p.Label())
	}
}

// TestPaginatorNavigation tests first/prev/next/last bounds
func TestPaginatorNavigation(t *testing.T) {
	p := NewPaginator(10)
	p.SetRows(makeRows(25))

	tests := []struct {
		name    string
		move    func()
		want    int
		wantLen int
	}{
		{"prev at start", p.Prev, 0, 10},
		{"next", p.Next, 1, 10},
		{"last", p.Last, 2, 5},
		{"next at end", p.Next, 2, 5},
		{"prev", p.Prev, 1, 10},
		{"first", p.First, 0, 10},
		{"goto past end", func() { p.GoTo(99) }, 2, 5},
	}

	for _, tt := range tests {
		tt.move()
		if got := p.Current(); got != tt.want {
			t.Errorf("%s: Current() = %d, want %d", tt.name, got, tt.want)
		}
		if got := len(p.Page()); got != tt.wantLen {
			t.Errorf("%s: len(Page()) = %d, want %d", tt.name, got, tt.wantLen)
		}
	}

	if first := p.Page()[0][0]; first != float64(20) {
		t.Errorf("last page starts at %v, want 20", first)
	}
}

// TestPaginatorEmpty tests a paginator without rows
func TestPaginatorEmpty(t *testing.T) {
	p := NewPaginator(0)
	p.Next()
	p.Last()
	if p.TotalPages() != 0 || p.Current() != 0 || p.Page() != nil {
		t.Errorf("empty paginator: total=%d current=%d page=%v", p.TotalPages(), p.Current(), p.Page())
	}
}

// TestPaginatorShrinkingRows tests that the current page is clamped when rows shrink
func TestPaginatorShrinkingRows(t *testing.T) {
	p := NewPaginator(10)
	p.SetRows(makeRows(50))
	p.Last()
	p.SetRows(makeRows(15))
	if p.Current() != 1 {
		t.Errorf("Current() = %d, want 1", p.Current())
	}
	p.Reset()
	if p.Current() != 0 {
		t.Errorf("Current() after Reset = %d", p.Current())
	}
}

// TestFormatCell tests cell text for each typed value
func TestFormatCell(t *testing.T) {
	tests := []struct {
		in   models.Cell
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{"two\nlines", "two lines"},
		{true, "true"},
		{float64(42), "42"},
		{3.25, "3.25"},
		{-0.5, "-0.5"},
	}

	for _, tt := range tests {
		if got := FormatCell(tt.in); got != tt.want {
			t.Errorf("FormatCell(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestRender tests table alignment, padding and truncation
func TestRender(t *testing.T) {
	var buf bytes.Buffer
	rows := []models.Row{
		{"id", "name"},
		{float64(1), "alpha"},
		{float64(2)},
		{float64(3), strings.Repeat("x", 60)},
	}
	if err := Render(&buf, rows); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "id  ") || !strings.Contains(lines[0], "name") {
		t.Errorf("header line = %q", lines[0])
	}
	if strings.Index(lines[0], "name") != strings.Index(lines[1], "alpha") {
		t.Errorf("columns not aligned:\n%s", buf.String())
	}
	if !strings.HasSuffix(lines[3], "...") || strings.Contains(lines[3], strings.Repeat("x", 41)) {
		t.Errorf("long cell not truncated: %q", lines[3])
	}
}

// TestRenderPage tests the page footer
func TestRenderPage(t *testing.T) {
	p := NewPaginator(2)
	p.SetRows(makeRows(5))
	p.Next()

	var buf bytes.Buffer
	if err := RenderPage(&buf, p); err != nil {
		t.Fatalf("RenderPage() error = %v", err)
	}
	if !strings.Contains(buf.String(), "Page 2 of 3") {
		t.Errorf("output = %q", buf.String())
	}

	buf.Reset()
	if err := Render(&buf, nil); err != nil || !strings.Contains(buf.String(), "no rows") {
		t.Errorf("Render(nil) = %q, %v", buf.String(), err)
	}
}
