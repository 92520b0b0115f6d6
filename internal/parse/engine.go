// Package parse reads CSV sources incrementally on a background goroutine
// and delivers rows in batches with the byte offset reached so far.
package parse

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/rescale/csvup/internal/constants"
	"github.com/rescale/csvup/internal/logging"
	"github.com/rescale/csvup/internal/models"
)

// Handler receives the events of one parse. Exactly one of OnError or
// OnComplete is called unless the job is aborted.
type Handler struct {
	// OnChunk receives a batch of rows and the byte offset consumed so far.
	OnChunk func(rows []models.Row, cursor int64)
	// OnError receives a read or decode failure. No further callbacks follow.
	OnError func(err error)
	// OnComplete fires after the last chunk.
	OnComplete func()
}

// Options configures an Engine.
type Options struct {
	// DynamicTyping converts numbers, booleans and empty fields; see TypeCell.
	DynamicTyping bool
	// SkipEmptyLines drops records consisting of a single empty field.
	SkipEmptyLines bool
}

// DefaultOptions enables dynamic typing and empty-line skipping.
func DefaultOptions() Options {
	return Options{DynamicTyping: true, SkipEmptyLines: true}
}

// Engine starts parse jobs.
type Engine struct {
	opts   Options
	logger *logging.Logger
}

// NewEngine creates an engine.
func NewEngine(opts Options, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Engine{opts: opts, logger: logger.Named("parse")}
}

// Job is a running parse.
type Job struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	aborted bool
}

// Abort stops the parse. It is idempotent. A callback that already passed
// the abort check may still run after Abort returns; callers that must
// ignore it guard with their own epoch.
func (j *Job) Abort() {
	j.mu.Lock()
	j.aborted = true
	j.mu.Unlock()
	j.cancel()
}

// Aborted reports whether Abort was called.
func (j *Job) Aborted() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.aborted
}

// Done is closed when the parse goroutine has exited.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the parse goroutine has exited or ctx is done.
func (j *Job) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver runs fn unless the job was aborted. The check and the call are
// not atomic: fn runs without j.mu so that it may call back into code that
// holds its own lock while calling Abort.
func (j *Job) deliver(fn func()) bool {
	if j.Aborted() {
		return false
	}
	fn()
	return true
}

// Parse starts reading src on a new goroutine. Batches are flushed each time
// roughly chunkSize decoded bytes have been consumed. Cursors are offsets in
// the source's own bytes, so they stay comparable to src.Size() whatever the
// encoding; the final batch reports src.Size(). Cancelling ctx behaves like Abort.
func (e *Engine) Parse(ctx context.Context, src models.Source, chunkSize int64, h Handler) *Job {
	if chunkSize <= 0 {
		chunkSize = constants.DefaultParseChunkSize
	}
	ctx, cancel := context.WithCancel(ctx)
	job := &Job{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(job.done)
		defer cancel()

		err := e.run(ctx, job, src, chunkSize, h)
		switch {
		case err == nil:
			job.deliver(func() {
				if h.OnComplete != nil {
					h.OnComplete()
				}
			})
		case ctx.Err() != nil:
			job.mu.Lock()
			job.aborted = true
			job.mu.Unlock()
			e.logger.Debug().Str("file", src.Name()).Msg("Parse aborted")
		default:
			e.logger.Error().Err(err).Str("file", src.Name()).Msg("Parse failed")
			job.deliver(func() {
				if h.OnError != nil {
					h.OnError(err)
				}
			})
		}
	}()

	return job
}

func (e *Engine) run(ctx context.Context, job *Job, src models.Source, chunkSize int64, h Handler) error {
	f, err := src.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src.Name(), err)
	}
	defer f.Close()

	// Strips a UTF-8 BOM, honours a UTF-16 BOM and replaces invalid UTF-8.
	raw := &countingReader{r: f}
	decoded := &countingReader{r: transform.NewReader(raw, unicode.BOMOverride(unicode.UTF8.NewDecoder()))}
	reader := csv.NewReader(decoded)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	toRow := StringRow
	if e.opts.DynamicTyping {
		toRow = TypeRow
	}

	var batch []models.Row
	var flushedAt, lastCursor int64
	flush := func(offset, cursor int64) bool {
		rows := batch
		batch = nil
		flushedAt = offset
		lastCursor = cursor
		return job.deliver(func() {
			if h.OnChunk != nil {
				h.OnChunk(rows, cursor)
			}
		})
	}

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read csv: %w", err)
		}
		if e.opts.SkipEmptyLines && len(record) == 1 && record[0] == "" {
			continue
		}

		batch = append(batch, toRow(record))
		total++

		if offset := reader.InputOffset(); offset-flushedAt >= chunkSize {
			cursor := max(lastCursor, sourceOffset(offset, raw.n, decoded.n, src.Size()))
			if !flush(offset, cursor) {
				return context.Canceled
			}
		}
	}

	if !flush(reader.InputOffset(), src.Size()) {
		return context.Canceled
	}
	e.logger.Debug().Str("file", src.Name()).Int("rows", total).Msg("Parse completed")
	return nil
}

// sourceOffset maps a decoded offset back to source bytes using the ratio of
// source bytes read to decoded bytes produced so far.
func sourceOffset(decodedOffset, rawRead, decodedRead, size int64) int64 {
	if decodedRead == 0 {
		return 0
	}
	return min(decodedOffset*rawRead/decodedRead, size)
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
