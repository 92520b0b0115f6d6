// Package grid pages parsed rows and renders a page as an aligned table.
package grid

import (
	"fmt"
	"sync"

	"github.com/rescale/csvup/internal/constants"
	"github.com/rescale/csvup/internal/models"
)

// Paginator slices rows into fixed-size pages. The page size shrinks to the
// number of rows when there are fewer rows than one page.
type Paginator struct {
	mu       sync.Mutex
	pageSize int
	rows     []models.Row
	current  int
}

// NewPaginator returns a paginator with pageSize rows per page. Non-positive
// sizes use the default.
func NewPaginator(pageSize int) *Paginator {
	if pageSize <= 0 {
		pageSize = constants.DefaultPageSize
	}
	return &Paginator{pageSize: pageSize}
}

// SetRows replaces the rows. The current page is kept but clamped to the new page count.
func (p *Paginator) SetRows(rows []models.Row) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows = rows
	p.clampLocked()
}

// Reset returns to the first page. Called when a parse completes.
func (p *Paginator) Reset() {
	p.mu.Lock()
	p.current = 0
	p.mu.Unlock()
}

// PageSize returns the effective page size.
func (p *Paginator) PageSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pageSizeLocked()
}

func (p *Paginator) pageSizeLocked() int {
	if len(p.rows) <= p.pageSize {
		return len(p.rows)
	}
	return p.pageSize
}

// TotalPages returns the number of pages, 0 when there are no rows.
func (p *Paginator) TotalPages() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalLocked()
}

func (p *Paginator) totalLocked() int {
	size := p.pageSizeLocked()
	if size == 0 {
		return 0
	}
	return (len(p.rows) + size - 1) / size
}

// Current returns the zero-based current page.
func (p *Paginator) Current() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Page returns the rows of the current page.
func (p *Paginator) Page() []models.Row {
	p.mu.Lock()
	defer p.mu.Unlock()
	size := p.pageSizeLocked()
	if size == 0 {
		return nil
	}
	start := p.current * size
	end := min(start+size, len(p.rows))
	return p.rows[start:end]
}

// First moves to the first page.
func (p *Paginator) First() {
	p.Reset()
}

// Prev moves one page back, stopping at the first page.
func (p *Paginator) Prev() {
	p.mu.Lock()
	p.current = max(p.current-1, 0)
	p.mu.Unlock()
}

// Next moves one page forward, stopping at the last page.
func (p *Paginator) Next() {
	p.mu.Lock()
	p.current = min(p.current+1, max(p.totalLocked()-1, 0))
	p.mu.Unlock()
}

// Last moves to the last page.
func (p *Paginator) Last() {
	p.mu.Lock()
	p.current = max(p.totalLocked()-1, 0)
	p.mu.Unlock()
}

// GoTo moves to the zero-based page n, clamped to the valid range.
func (p *Paginator) GoTo(n int) {
	p.mu.Lock()
	p.current = n
	p.clampLocked()
	p.mu.Unlock()
}

func (p *Paginator) clampLocked() {
	last := max(p.totalLocked()-1, 0)
	p.current = min(max(p.current, 0), last)
}

// Label returns the "n of m" pager text.
func (p *Paginator) Label() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return fmt.Sprintf("%d of %d", p.current+1, p.totalLocked())
}
