package upload

import (
	"context"
	"errors"
	"fmt"
	nethttp "net/http"
	"time"

	"github.com/eventials/go-tus"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/rescale/csvup/internal/constants"
	"github.com/rescale/csvup/internal/http"
	"github.com/rescale/csvup/internal/logging"
	"github.com/rescale/csvup/internal/resume"
)

// Store keeps resume records between runs.
type Store interface {
	tus.Store
	FindPrevious(fingerprint string) ([]resume.Record, error)
	Remove(fingerprint string) error
}

var _ Store = (*resume.Store)(nil)

// Options configures a Controller.
type Options struct {
	// ChunkSize is the PATCH body size. Defaults to constants.DefaultUploadChunkSize.
	ChunkSize int64
	// Header is added to every tus request.
	Header nethttp.Header
	// TerminateTimeout bounds the best-effort DELETE sent on discard.
	TerminateTimeout time.Duration
}

// Controller starts, pauses, resumes and aborts sessions. It is safe for
// concurrent use and holds no per-session state of its own.
type Controller struct {
	base   *nethttp.Client
	store  Store
	opts   Options
	logger *logging.Logger
}

// NewController creates a controller sending requests through base.
func NewController(base *nethttp.Client, store Store, opts Options, logger *logging.Logger) *Controller {
	if base == nil {
		base = &nethttp.Client{}
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = constants.DefaultUploadChunkSize
	}
	if opts.TerminateTimeout <= 0 {
		opts.TerminateTimeout = constants.TerminateTimeout
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Controller{
		base:   base,
		store:  store,
		opts:   opts,
		logger: logger.Named("upload"),
	}
}

// Start begins transferring s, continuing a previous upload of the same
// fingerprint when one is recorded. It returns once the transfer goroutine
// is running; the outcome arrives through the callbacks and Session.Wait.
// The transfer outlives ctx; use Pause or Abort to stop it.
func (c *Controller) Start(ctx context.Context, s *Session) error {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.state == stateRunning {
		s.mu.Unlock()
		return ErrSessionRunning
	}
	prev := s.runDone
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	runDone := make(chan struct{})
	s.state = stateRunning
	s.cancel = cancel
	s.runDone = runDone
	s.mu.Unlock()

	go func() {
		defer close(runDone)
		defer cancel()
		// A paused run may still be unwinding its last request.
		if prev != nil {
			<-prev
		}
		c.run(runCtx, s)
	}()
	return nil
}

// Resume continues a paused session from the server's offset.
func (c *Controller) Resume(ctx context.Context, s *Session) error {
	return c.Start(ctx, s)
}

// Pause stops network activity. The resume record is kept.
func (c *Controller) Pause(s *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != stateRunning {
		return
	}
	s.state = statePaused
	if s.cancel != nil {
		s.cancel()
	}
	c.logger.Debug().Str("session", s.ID).Msg("Upload paused")
}

// Abort stops s for good. With discard, the resume record is deleted and the
// remote upload is terminated in the background.
func (c *Controller) Abort(s *Session, discard bool) {
	if s.finish(stateAborted, ErrSessionAborted) {
		c.logger.Debug().Str("session", s.ID).Bool("discard", discard).Msg("Upload aborted")
	}
	if !discard {
		return
	}

	// A failed session can still be discarded; a succeeded one has nothing left to discard.
	s.mu.Lock()
	if s.discarded || s.state == stateSucceeded {
		s.mu.Unlock()
		return
	}
	s.discarded = true
	runDone := s.runDone
	url := s.url
	s.mu.Unlock()

	go func() {
		if runDone != nil {
			<-runDone
		}
		if err := c.store.Remove(s.Fingerprint); err != nil {
			c.logger.Warn().Err(err).Str("session", s.ID).Msg("Failed to remove resume record")
		}
		if u := s.URL(); u != "" {
			url = u
		}
		if url != "" {
			c.terminate(url)
		}
	}()
}

// terminate asks the server to delete a partial upload. Failures are logged only.
func (c *Controller) terminate(url string) {
	ctx, cancel := context.WithTimeout(context.Background(), c.opts.TerminateTimeout)
	defer cancel()

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodDelete, url, nil)
	if err != nil {
		return
	}
	for k, v := range c.opts.Header {
		req.Header[k] = v
	}
	req.Header.Set("Tus-Resumable", "1.0.0")

	resp, err := c.base.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", url).Msg("Terminate request failed")
		return
	}
	resp.Body.Close()
	c.logger.Debug().Int("status", resp.StatusCode).Str("url", url).Msg("Remote upload terminated")
}

func (c *Controller) run(ctx context.Context, s *Session) {
	if ctx.Err() != nil {
		return
	}

	size := s.Source.Size()
	log := c.logger.With().Str("session", s.ID).Str("file", s.Source.Name()).Logger()

	client, err := c.newTusClient(ctx, s, size)
	if err != nil {
		c.fail(ctx, s, err)
		return
	}

	f, err := s.Source.Open()
	if err != nil {
		c.fail(ctx, s, fmt.Errorf("failed to open source: %w", err))
		return
	}
	defer f.Close()

	md, err := s.Metadata.encode()
	if err != nil {
		c.fail(ctx, s, err)
		return
	}

	upload := tus.NewUpload(f, size, md, s.Fingerprint)
	uploader, err := c.resumeOrCreate(client, upload, s)
	if err != nil {
		c.fail(ctx, s, err)
		return
	}
	s.setURL(uploader.Url())
	log.Debug().Str("url", uploader.Url()).Int64("offset", uploader.Offset()).Msg("Upload started")

	for uploader.Offset() < size {
		if ctx.Err() != nil {
			return
		}
		if err := uploader.UploadChunck(); err != nil {
			c.fail(ctx, s, err)
			return
		}
		if ctx.Err() == nil {
			s.callProgress(uploader.Offset(), size)
		}
	}
	if ctx.Err() != nil {
		return
	}

	if err := c.store.Remove(s.Fingerprint); err != nil {
		log.Warn().Err(err).Msg("Failed to remove resume record")
	}
	log.Info().Int64("bytes", size).Msg("Upload completed")

	var result error
	if err := s.callSuccess(context.WithoutCancel(ctx)); err != nil {
		result = &SuccessCallbackError{Err: err}
	}
	s.finish(stateSucceeded, result)
}

// resumeOrCreate continues the newest recorded upload for the fingerprint,
// or creates a new one. A recorded upload the server no longer knows is
// dropped.
func (c *Controller) resumeOrCreate(client *tus.Client, upload *tus.Upload, s *Session) (*tus.Uploader, error) {
	previous, err := c.store.FindPrevious(s.Fingerprint)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to read resume records, starting a new upload")
	}
	if len(previous) > 0 {
		uploader, err := client.ResumeUpload(upload)
		if err == nil {
			c.logger.Info().
				Str("session", s.ID).
				Int64("offset", uploader.Offset()).
				Msg("Resuming previous upload")
			return uploader, nil
		}
		if !errors.Is(err, tus.ErrUploadNotFound) {
			return nil, err
		}
		c.logger.Debug().Str("url", previous[0].UploadURL).Msg("Previous upload is gone, creating a new one")
		if err := c.store.Remove(s.Fingerprint); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to remove stale resume record")
		}
	}
	return client.CreateUpload(upload)
}

func (c *Controller) newTusClient(ctx context.Context, s *Session, size int64) (*tus.Client, error) {
	next := c.base.Transport
	if next == nil {
		next = nethttp.DefaultTransport
	}

	inner := &nethttp.Client{
		Transport: &sessionTransport{
			next: next,
			ctx:  ctx,
			onProgress: func(sent int64) {
				if sent > size {
					sent = size
				}
				s.callProgress(sent, size)
			},
		},
		CheckRedirect: c.base.CheckRedirect,
		Jar:           c.base.Jar,
	}

	rc := http.NewRetryableClient(inner, c.logger)
	rc.RequestLogHook = func(_ retryablehttp.Logger, req *nethttp.Request, attempt int) {
		if ctx.Err() == nil {
			s.callBeforeRequest()
		}
	}

	header := make(nethttp.Header)
	for k, v := range c.opts.Header {
		header[k] = append([]string(nil), v...)
	}

	return tus.NewClient(s.Endpoint, &tus.Config{
		ChunkSize:  c.opts.ChunkSize,
		Resume:     true,
		Store:      c.store,
		Header:     header,
		HttpClient: rc.StandardClient(),
	})
}

// fail reports err unless the run was cancelled by pause or abort.
func (c *Controller) fail(ctx context.Context, s *Session, err error) {
	if ctx.Err() != nil {
		return
	}
	ue := newUploadError(err)
	c.logger.Error().
		Err(err).
		Str("session", s.ID).
		Int("status", ue.StatusCode).
		Str("error_class", http.ErrorTypeName(http.ClassifyError(err))).
		Msg("Upload failed")
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.callError(ue)
	s.finish(stateFailed, ue)
}
