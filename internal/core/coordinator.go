// Package core ties parsing, the existence check and the resumable upload
// of one selected CSV file into a single state machine.
//
// All state lives behind one mutex. Parse and upload callbacks arrive on
// their own goroutines and carry the epoch they were started under; a
// callback whose epoch is no longer current belongs to a superseded parse
// or upload and is ignored.
package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rescale/csvup/internal/config"
	"github.com/rescale/csvup/internal/constants"
	"github.com/rescale/csvup/internal/events"
	"github.com/rescale/csvup/internal/logging"
	"github.com/rescale/csvup/internal/models"
	"github.com/rescale/csvup/internal/notify"
	"github.com/rescale/csvup/internal/parse"
	"github.com/rescale/csvup/internal/upload"
)

// Parser starts background parse jobs. Handlers must not be invoked
// synchronously from Parse.
type Parser interface {
	Parse(ctx context.Context, src models.Source, chunkSize int64, h parse.Handler) *parse.Job
}

// ExistenceChecker asks whether a file name is already taken remotely.
type ExistenceChecker interface {
	FileExists(ctx context.Context, fileName string) (bool, error)
}

// Uploader drives upload sessions.
type Uploader interface {
	Start(ctx context.Context, s *upload.Session) error
	Resume(ctx context.Context, s *upload.Session) error
	Pause(s *upload.Session)
	Abort(s *upload.Session, discard bool)
}

// Confirmer asks the user whether an existing file may be overwritten. It blocks until answered.
type Confirmer func(fileName string) bool

// SuccessHook runs after a completed upload. Its error is returned from Wait.
type SuccessHook func(ctx context.Context) error

// Deps are the collaborators of a Coordinator. Parser, Checker and Uploader are required.
type Deps struct {
	Parser    Parser
	Checker   ExistenceChecker
	Uploader  Uploader
	Notifier  notify.Sink
	Bus       *events.EventBus
	Confirm   Confirmer
	OnSuccess SuccessHook
	Logger    *logging.Logger
}

// Options are the coordinator's limits and toggles.
type Options struct {
	MaxFileSize            int64
	ParseChunkSize         int64
	CompletionGrace        time.Duration
	UploadEndpoint         string
	AccessKey              string
	ShowToastNotifications bool
}

// DefaultOptions returns the built-in limits with notifications on.
func DefaultOptions() Options {
	return Options{
		MaxFileSize:            constants.DefaultMaxFileSize,
		ParseChunkSize:         constants.DefaultParseChunkSize,
		CompletionGrace:        constants.ParseCompletionGrace,
		ShowToastNotifications: true,
	}
}

// OptionsFromConfig derives coordinator options from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxFileSize:            cfg.MaxFileSize,
		ParseChunkSize:         cfg.ParseChunkSize,
		CompletionGrace:        cfg.CompletionGrace,
		UploadEndpoint:         cfg.UploadURL,
		AccessKey:              cfg.AccessKey,
		ShowToastNotifications: cfg.ShowToastNotifications,
	}
}

// UploadOutcome is the result of RequestUpload.
type UploadOutcome int

const (
	// OutcomeSkipped means the preconditions for an upload were not met.
	OutcomeSkipped UploadOutcome = iota
	// OutcomeDeclined means the user refused to overwrite an existing file.
	OutcomeDeclined
	// OutcomeCheckFailed means the existence check failed.
	OutcomeCheckFailed
	// OutcomeSuperseded means a reset or new file arrived while the request was pending.
	OutcomeSuperseded
	// OutcomeStarted means an upload session was started.
	OutcomeStarted
)

func (o UploadOutcome) String() string {
	switch o {
	case OutcomeSkipped:
		return "skipped"
	case OutcomeDeclined:
		return "declined"
	case OutcomeCheckFailed:
		return "check_failed"
	case OutcomeSuperseded:
		return "superseded"
	case OutcomeStarted:
		return "started"
	default:
		return "unknown"
	}
}

// Coordinator is the upload widget's state machine.
type Coordinator struct {
	deps   Deps
	opts   Options
	logger *logging.Logger

	mu            sync.Mutex
	fileName      string
	source        models.Source
	checking      bool
	parsing       models.ParsingState
	upload        models.UploadState
	parseJob      *parse.Job
	parseEpoch    uint64
	uploadEpoch   uint64
	parseSettled  chan struct{}
	completion    *time.Timer
	session       *upload.Session
	notifications []string
	lastErr       error
}

// New creates a coordinator in the idle state.
func New(deps Deps, opts Options) (*Coordinator, error) {
	if deps.Parser == nil || deps.Checker == nil || deps.Uploader == nil {
		return nil, errors.New("parser, checker and uploader are required")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNopLogger()
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = constants.DefaultMaxFileSize
	}
	if opts.ParseChunkSize <= 0 {
		opts.ParseChunkSize = constants.DefaultParseChunkSize
	}
	if opts.CompletionGrace < 0 {
		opts.CompletionGrace = 0
	}
	settled := make(chan struct{})
	close(settled)
	return &Coordinator{
		deps:         deps,
		opts:         opts,
		logger:       deps.Logger.Named("coordinator"),
		parsing:      models.DefaultParsingState(),
		upload:       models.DefaultUploadState(),
		parseSettled: settled,
	}, nil
}

// Snapshot returns a consistent copy of the current state.
func (c *Coordinator) Snapshot() models.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// LastError returns the most recent parse, check or upload failure since the
// last file selection or reset.
func (c *Coordinator) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Coordinator) snapshotLocked() models.Snapshot {
	return models.Snapshot{
		FileName:          c.fileName,
		CheckingExistence: c.checking,
		Parsing:           c.parsing,
		Upload:            c.upload,
	}
}

func (c *Coordinator) publishLocked(reason string) {
	if c.deps.Bus != nil {
		c.deps.Bus.PublishStateChange(reason, c.snapshotLocked())
	}
}

func (c *Coordinator) notifyLocked(content string, severity notify.Severity) {
	if !c.opts.ShowToastNotifications || c.deps.Notifier == nil {
		return
	}
	id := c.deps.Notifier.Notify(content, severity)
	if id != "" {
		c.notifications = append(c.notifications, id)
	}
}

// SelectFile validates src and starts parsing it. A rejected file leaves the
// state untouched and returns a *ValidationError carrying the alert text.
func (c *Coordinator) SelectFile(src models.Source) error {
	if src.MIMEType() != constants.AcceptedMIMEType {
		return &ValidationError{Message: MsgOnlyCSV}
	}
	if src.Size() > c.opts.MaxFileSize {
		return &ValidationError{Message: MsgFileTooLarge}
	}

	c.mu.Lock()
	c.stopParseLocked()
	c.parseEpoch++
	epoch := c.parseEpoch
	c.fileName = src.Name()
	c.source = src
	c.lastErr = nil
	c.parsing = models.DefaultParsingState()
	c.parsing.InProgress = true
	c.parseSettled = make(chan struct{})
	c.publishLocked("file_selected")
	c.mu.Unlock()

	c.logger.Info().Str("file", src.Name()).Int64("size", src.Size()).Msg("Parsing file")

	job := c.deps.Parser.Parse(context.Background(), src, c.opts.ParseChunkSize, c.parseHandler(epoch, src.Size()))

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.parseEpoch {
		job.Abort()
		return nil
	}
	c.parseJob = job
	return nil
}

// stopParseLocked aborts the running parse and any pending completion.
func (c *Coordinator) stopParseLocked() {
	if c.parseJob != nil {
		c.parseJob.Abort()
		c.parseJob = nil
	}
	if c.completion != nil {
		c.completion.Stop()
		c.completion = nil
	}
	c.settleParseLocked()
}

func (c *Coordinator) settleParseLocked() {
	select {
	case <-c.parseSettled:
	default:
		close(c.parseSettled)
	}
}

func (c *Coordinator) parseHandler(epoch uint64, size int64) parse.Handler {
	return parse.Handler{
		OnChunk: func(rows []models.Row, cursor int64) {
			c.onParseChunk(epoch, size, rows, cursor)
		},
		OnError: func(err error) {
			c.onParseError(epoch, err)
		},
		OnComplete: func() {
			c.onParseComplete(epoch)
		},
	}
}

func (c *Coordinator) onParseChunk(epoch uint64, size int64, rows []models.Row, cursor int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.parseEpoch {
		return
	}
	c.parsing.Data = append(c.parsing.Data, rows...)
	c.parsing.PercentParsed = percentParsed(cursor, size)
	if c.deps.Bus != nil {
		c.deps.Bus.PublishProgress("parse", cursor, size, float64(c.parsing.PercentParsed))
	}
	c.publishLocked("parse_chunk")
}

func percentParsed(cursor, size int64) int {
	if size <= 0 {
		return 100
	}
	p := int(math.Round(float64(cursor) / float64(size) * 100))
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

func (c *Coordinator) onParseError(epoch uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.parseEpoch {
		return
	}
	c.parseJob = nil
	c.parsing.InProgress = false
	c.parsing.IsCompleted = false
	c.parsing.IsError = true
	c.parsing.Data = []models.Row{}
	c.parsing.Headers = models.Row{}
	c.lastErr = &ParseError{FileName: c.fileName, Err: err}
	c.logger.Error().Err(err).Str("file", c.fileName).Msg("Parsing failed")
	c.notifyLocked(MsgParseError, notify.SeverityError)
	c.settleParseLocked()
	c.publishLocked("parse_error")
}

// onParseComplete holds the completed transition back for the grace period
// so that an abort or reset issued meanwhile can suppress it.
func (c *Coordinator) onParseComplete(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.parseEpoch {
		return
	}
	c.parseJob = nil
	c.completion = time.AfterFunc(c.opts.CompletionGrace, func() {
		c.finishParse(epoch)
	})
}

func (c *Coordinator) finishParse(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.parseEpoch {
		return
	}
	c.completion = nil
	c.parsing.InProgress = false
	c.parsing.IsCompleted = true
	if len(c.parsing.Data) > 0 {
		c.parsing.Headers = c.parsing.Data[0]
	} else {
		c.parsing.Headers = models.Row{}
	}
	c.logger.Info().
		Str("file", c.fileName).
		Int("rows", len(c.parsing.Data)).
		Int("columns", c.parsing.ColumnCount()).
		Msg("Parsing completed")
	c.notifyLocked(MsgParseSuccess, notify.SeveritySuccess)
	c.settleParseLocked()
	c.publishLocked("parse_complete")
}

// WaitParse blocks until the current parse completes, fails or is aborted.
func (c *Coordinator) WaitParse(ctx context.Context) error {
	c.mu.Lock()
	settled := c.parseSettled
	c.mu.Unlock()

	select {
	case <-settled:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var pe *ParseError
	if errors.As(c.lastErr, &pe) {
		return c.lastErr
	}
	return nil
}

// AbortParse stops the running parse and returns the parsing state to its
// defaults. The selected file name is kept. Calling it again is a no-op.
func (c *Coordinator) AbortParse() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.parsing.InProgress && c.parseJob == nil && c.completion == nil {
		return
	}
	c.stopParseLocked()
	c.parseEpoch++
	c.parsing = models.DefaultParsingState()
	c.publishLocked("parse_aborted")
}

// RequestUpload checks whether the parsed file already exists remotely, asks
// for confirmation when it does, and starts an upload session.
func (c *Coordinator) RequestUpload(ctx context.Context) (UploadOutcome, error) {
	c.mu.Lock()
	if !c.parsing.IsCompleted || c.parsing.IsError || len(c.parsing.Data) == 0 ||
		c.checking || c.upload.InProgress || c.source == nil {
		c.mu.Unlock()
		return OutcomeSkipped, nil
	}
	c.checking = true
	parseEpoch, uploadEpoch := c.parseEpoch, c.uploadEpoch
	src := c.source
	name := c.fileName
	headers := c.parsing.Headers
	c.publishLocked("checking")
	c.mu.Unlock()

	current := func() bool {
		return parseEpoch == c.parseEpoch && uploadEpoch == c.uploadEpoch
	}

	exists, err := c.deps.Checker.FileExists(ctx, name)

	c.mu.Lock()
	if !current() {
		c.mu.Unlock()
		return OutcomeSuperseded, nil
	}
	c.checking = false
	if err != nil {
		checkErr := &ExistenceCheckError{FileName: name, Err: err}
		c.lastErr = checkErr
		c.logger.Error().Err(err).Str("file", name).Msg("Existence check failed")
		c.notifyLocked(MsgCheckError, notify.SeverityError)
		c.publishLocked("check_failed")
		c.mu.Unlock()
		return OutcomeCheckFailed, checkErr
	}
	c.publishLocked("check_done")
	c.mu.Unlock()

	replace := false
	if exists {
		accepted := c.deps.Confirm != nil && c.deps.Confirm(name)
		if c.deps.Bus != nil {
			c.deps.Bus.PublishConfirm(name, accepted)
		}
		if !accepted {
			c.logger.Info().Str("file", name).Msg("Overwrite declined")
			return OutcomeDeclined, nil
		}
		replace = true
	}

	c.mu.Lock()
	if !current() {
		c.mu.Unlock()
		return OutcomeSuperseded, nil
	}
	if c.upload.InProgress {
		c.mu.Unlock()
		return OutcomeSkipped, nil
	}
	previous := c.session
	c.uploadEpoch++
	epoch := c.uploadEpoch
	md := upload.Metadata{
		FileName:        name,
		FileType:        src.MIMEType(),
		AccessKey:       c.opts.AccessKey,
		ReplaceExisting: replace,
		Columns:         headers,
	}
	s := upload.NewSession(src, c.opts.UploadEndpoint, md, c.uploadCallbacks(epoch))
	c.session = s
	c.lastErr = nil
	c.publishLocked("upload_requested")
	c.mu.Unlock()

	// The previous session already finished or failed; keep its resume
	// record so the new session can continue from it.
	if previous != nil {
		c.deps.Uploader.Abort(previous, false)
	}

	c.logger.Info().Str("file", name).Str("session", s.ID).Bool("replace_existing", replace).Msg("Starting upload")
	if err := c.deps.Uploader.Start(ctx, s); err != nil {
		return OutcomeSkipped, fmt.Errorf("failed to start upload: %w", err)
	}
	return OutcomeStarted, nil
}

func (c *Coordinator) uploadCallbacks(epoch uint64) upload.Callbacks {
	return upload.Callbacks{
		OnBeforeRequest: func() { c.onBeforeRequest(epoch) },
		OnProgress: func(sent, total int64) {
			c.onUploadProgress(epoch, sent, total)
		},
		OnError: func(err error) { c.onUploadError(epoch, err) },
		OnSuccess: func(ctx context.Context) error {
			return c.onUploadSuccess(ctx, epoch)
		},
	}
}

func (c *Coordinator) onBeforeRequest(epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.uploadEpoch {
		return
	}
	c.upload.IsError = false
	c.upload.InProgress = true
	c.upload.IsCompleted = false
	// A previous run that reached 100% is a retry starting over.
	if c.upload.Percentage == 100 {
		c.upload.Percentage = 0
	}
	c.publishLocked("upload_request")
}

func (c *Coordinator) onUploadProgress(epoch uint64, sent, total int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.uploadEpoch {
		return
	}
	c.upload.Percentage = models.Percent(sent, total)
	if c.deps.Bus != nil {
		c.deps.Bus.PublishProgress("upload", sent, total, c.upload.Percentage)
	}
	c.publishLocked("upload_progress")
}

func (c *Coordinator) onUploadError(epoch uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.uploadEpoch {
		return
	}
	c.upload.InProgress = false
	c.upload.IsError = true
	c.upload.IsCompleted = false
	c.lastErr = err
	c.notifyLocked(MsgUploadError, notify.SeverityError)
	c.publishLocked("upload_error")
}

// onUploadSuccess updates the state unless the upload was superseded. The
// success hook runs either way: the file did reach the server.
func (c *Coordinator) onUploadSuccess(ctx context.Context, epoch uint64) error {
	c.mu.Lock()
	if epoch == c.uploadEpoch {
		c.upload.InProgress = false
		c.upload.IsError = false
		c.upload.IsCompleted = true
		c.upload.IsPaused = false
		c.upload.Percentage = 0
		c.logger.Info().Str("file", c.fileName).Msg("Upload completed")
		c.notifyLocked(MsgUploadSuccess, notify.SeveritySuccess)
		c.publishLocked("upload_success")
	}
	c.mu.Unlock()

	if c.deps.OnSuccess == nil {
		return nil
	}
	return c.deps.OnSuccess(ctx)
}

// Pause stops the transfer, keeping the percentage and the resume record.
// It has no effect unless an upload is transferring.
func (c *Coordinator) Pause() {
	c.mu.Lock()
	s := c.session
	if s == nil || !c.upload.InProgress || c.upload.IsCompleted || c.upload.IsPaused || c.upload.Finalizing() {
		c.mu.Unlock()
		return
	}
	c.upload.IsPaused = true
	c.publishLocked("upload_paused")
	c.mu.Unlock()

	c.deps.Uploader.Pause(s)
}

// Resume restarts a paused transfer from the server's offset.
func (c *Coordinator) Resume(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	if s == nil || !c.upload.IsPaused || c.upload.IsCompleted || c.upload.IsError {
		c.mu.Unlock()
		return nil
	}
	c.upload.IsPaused = false
	c.publishLocked("upload_resumed")
	c.mu.Unlock()

	if err := c.deps.Uploader.Resume(ctx, s); err != nil {
		c.logger.Error().Err(err).Msg("Failed to resume upload")
		return fmt.Errorf("failed to resume upload: %w", err)
	}
	return nil
}

// Abort stops the current upload for good, discards its resume record and
// returns the upload state to its defaults. It has no effect while the
// server is finalizing the upload.
func (c *Coordinator) Abort() {
	c.mu.Lock()
	s := c.session
	if s == nil || c.upload.Finalizing() {
		c.mu.Unlock()
		return
	}
	c.uploadEpoch++
	c.session = nil
	c.upload = models.DefaultUploadState()
	c.publishLocked("upload_aborted")
	c.mu.Unlock()

	c.logger.Info().Str("session", s.ID).Msg("Upload aborted")
	c.deps.Uploader.Abort(s, true)
}

// Reset returns the coordinator to the idle state: notifications are
// dismissed, a running parse is aborted, and an upload that has not reached
// 100% is aborted and discarded. Results of superseded work are ignored.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	c.parseEpoch++
	c.uploadEpoch++

	ids := c.notifications
	c.notifications = nil

	if c.parsing.InProgress || c.completion != nil {
		c.stopParseLocked()
	}
	c.parseJob = nil
	c.settleParseLocked()

	var abort *upload.Session
	if c.session != nil && c.upload.InProgress && c.upload.Percentage != 100 {
		abort = c.session
	}

	c.parsing = models.DefaultParsingState()
	c.upload = models.DefaultUploadState()
	c.checking = false
	c.session = nil
	c.source = nil
	c.fileName = ""
	c.lastErr = nil
	c.publishLocked("reset")
	c.mu.Unlock()

	if c.deps.Notifier != nil {
		for _, id := range ids {
			c.deps.Notifier.Dismiss(id)
		}
	}
	if abort != nil {
		c.deps.Uploader.Abort(abort, true)
	}
	c.logger.Debug().Msg("Reset")
}

// Wait blocks until the current upload session finishes and returns its
// outcome. It returns nil immediately when there is no session.
func (c *Coordinator) Wait(ctx context.Context) error {
	c.mu.Lock()
	s := c.session
	c.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.Wait(ctx)
}
