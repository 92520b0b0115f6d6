package core

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rescale/csvup/internal/events"
	"github.com/rescale/csvup/internal/models"
	"github.com/rescale/csvup/internal/notify"
	"github.com/rescale/csvup/internal/parse"
	"github.com/rescale/csvup/internal/resume"
	"github.com/rescale/csvup/internal/testutil"
	"github.com/rescale/csvup/internal/upload"
)

const peopleCSV = "id,name\n1,alpha\n2,beta\n3,gamma\n"

type fakeChecker struct {
	exists bool
	err    error
	calls  atomic.Int32
	block  chan struct{}
}

func (f *fakeChecker) FileExists(ctx context.Context, name string) (bool, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	return f.exists, f.err
}

type sentNotification struct {
	id       string
	content  string
	severity notify.Severity
}

type fakeSink struct {
	mu        sync.Mutex
	sent      []sentNotification
	dismissed []string
}

func (f *fakeSink) Notify(content string, severity notify.Severity) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("n%d", len(f.sent))
	f.sent = append(f.sent, sentNotification{id: id, content: content, severity: severity})
	return id
}

func (f *fakeSink) Dismiss(id string) {
	f.mu.Lock()
	f.dismissed = append(f.dismissed, id)
	f.mu.Unlock()
}

func (f *fakeSink) DismissAll() {}

func (f *fakeSink) contents() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, n := range f.sent {
		out[i] = n.content
	}
	return out
}

func (f *fakeSink) last() (sentNotification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return sentNotification{}, false
	}
	return f.sent[len(f.sent)-1], true
}

type harness struct {
	c       *Coordinator
	checker *fakeChecker
	sink    *fakeSink
	srv     *testutil.TusServer
	store   *resume.Store
	bus     *events.EventBus
}

type harnessOption func(*Deps, *Options)

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	srv := testutil.NewTusServer()
	t.Cleanup(srv.Close)
	store, err := resume.Open(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("resume.Open() error = %v", err)
	}
	bus := events.NewEventBus(64)
	t.Cleanup(bus.Close)

	h := &harness{
		checker: &fakeChecker{},
		sink:    &fakeSink{},
		srv:     srv,
		store:   store,
		bus:     bus,
	}
	deps := Deps{
		Parser:   parse.NewEngine(parse.DefaultOptions(), nil),
		Checker:  h.checker,
		Uploader: upload.NewController(srv.Client(), store, upload.Options{ChunkSize: 8}, nil),
		Notifier: h.sink,
		Bus:      bus,
	}
	o := DefaultOptions()
	o.CompletionGrace = 10 * time.Millisecond
	o.UploadEndpoint = srv.Endpoint()
	o.AccessKey = "key"
	for _, fn := range opts {
		fn(&deps, &o)
	}

	c, err := New(deps, o)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.c = c
	return h
}

func csvSource(data string) models.Source {
	return models.NewMemorySource("people.csv", "text/csv", []byte(data))
}

func (h *harness) parsed(t *testing.T, data string) {
	t.Helper()
	if err := h.c.SelectFile(csvSource(data)); err != nil {
		t.Fatalf("SelectFile() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.c.WaitParse(ctx); err != nil {
		t.Fatalf("WaitParse() error = %v", err)
	}
	if !h.c.Snapshot().Parsing.IsCompleted {
		t.Fatal("parse did not complete")
	}
}

func (h *harness) waitUpload(t *testing.T) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.c.Wait(ctx)
}

// TestSelectFileRejects verifies rejected files leave the parsing state untouched.
func TestSelectFileRejects(t *testing.T) {
	tests := []struct {
		name string
		src  models.Source
		want string
	}{
		{"wrong type", models.NewMemorySource("notes.txt", "text/plain", []byte("a,b")), MsgOnlyCSV},
		{"too large", models.NewMemorySource("big.csv", "text/csv", make([]byte, 65)), MsgFileTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(_ *Deps, o *Options) { o.MaxFileSize = 64 })
			err := h.c.SelectFile(tt.src)

			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Message != tt.want {
				t.Fatalf("SelectFile() error = %v, want ValidationError %q", err, tt.want)
			}
			snap := h.c.Snapshot()
			if snap.FileName != "" || snap.Parsing.InProgress || len(snap.Parsing.Data) != 0 {
				t.Errorf("state changed after rejected file: %+v", snap)
			}
		})
	}
}

// TestParseTwoByTwo verifies a small file ends with headers equal to its first row.
func TestParseTwoByTwo(t *testing.T) {
	h := newHarness(t)
	h.parsed(t, "h1,h2\nv1,v2\n")

	snap := h.c.Snapshot()
	wantData := []models.Row{{"h1", "h2"}, {"v1", "v2"}}
	if !reflect.DeepEqual(snap.Parsing.Data, wantData) {
		t.Errorf("data = %v, want %v", snap.Parsing.Data, wantData)
	}
	if !reflect.DeepEqual(snap.Parsing.Headers, wantData[0]) {
		t.Errorf("headers = %v, want %v", snap.Parsing.Headers, wantData[0])
	}
	if snap.Parsing.PercentParsed != 100 || snap.Parsing.InProgress || snap.Parsing.IsError {
		t.Errorf("parsing = %+v", snap.Parsing)
	}
	if snap.FileName != "people.csv" {
		t.Errorf("file name = %q", snap.FileName)
	}
	if got := h.sink.contents(); len(got) != 1 || got[0] != MsgParseSuccess {
		t.Errorf("notifications = %v", got)
	}
}

// TestNotificationsDisabled verifies no notification is sent when toasts are off.
func TestNotificationsDisabled(t *testing.T) {
	h := newHarness(t, func(_ *Deps, o *Options) { o.ShowToastNotifications = false })
	h.parsed(t, "h1,h2\nv1,v2\n")
	if got := h.sink.contents(); len(got) != 0 {
		t.Errorf("notifications = %v, want none", got)
	}
}

// TestResetDuringCompletionGrace verifies a reset suppresses a pending completion.
func TestResetDuringCompletionGrace(t *testing.T) {
	h := newHarness(t, func(_ *Deps, o *Options) { o.CompletionGrace = time.Hour })
	if err := h.c.SelectFile(csvSource(peopleCSV)); err != nil {
		t.Fatalf("SelectFile() error = %v", err)
	}
	require.Eventually(t, func() bool {
		h.c.mu.Lock()
		defer h.c.mu.Unlock()
		return h.c.completion != nil
	}, 5*time.Second, 5*time.Millisecond)

	h.c.Reset()
	h.c.Reset()

	snap := h.c.Snapshot()
	if !reflect.DeepEqual(snap, models.Snapshot{Parsing: models.DefaultParsingState(), Upload: models.DefaultUploadState()}) {
		t.Errorf("snapshot after reset = %+v", snap)
	}
	if got := h.sink.contents(); len(got) != 0 {
		t.Errorf("notifications = %v, want none", got)
	}
}

// TestStaleParseCallbacksIgnored verifies callbacks of a superseded parse are dropped.
func TestStaleParseCallbacksIgnored(t *testing.T) {
	h := newHarness(t)
	h.parsed(t, "h1,h2\nv1,v2\n")

	h.c.mu.Lock()
	epoch := h.c.parseEpoch
	h.c.mu.Unlock()

	stale := h.c.parseHandler(epoch-1, 10)
	stale.OnChunk([]models.Row{{"x"}}, 10)
	stale.OnError(errors.New("late"))
	stale.OnComplete()

	snap := h.c.Snapshot()
	if len(snap.Parsing.Data) != 2 || snap.Parsing.IsError {
		t.Errorf("stale callbacks changed state: %+v", snap.Parsing)
	}
	if got := h.sink.contents(); len(got) != 1 {
		t.Errorf("notifications = %v", got)
	}
}

// TestAbortParseIdempotent verifies abort-parse twice leaves defaults and keeps the file name.
func TestAbortParseIdempotent(t *testing.T) {
	h := newHarness(t, func(_ *Deps, o *Options) { o.CompletionGrace = time.Hour })
	if err := h.c.SelectFile(csvSource(peopleCSV)); err != nil {
		t.Fatalf("SelectFile() error = %v", err)
	}
	h.c.AbortParse()
	h.c.AbortParse()

	snap := h.c.Snapshot()
	if !reflect.DeepEqual(snap.Parsing, models.DefaultParsingState()) {
		t.Errorf("parsing = %+v, want defaults", snap.Parsing)
	}
	if snap.FileName != "people.csv" {
		t.Errorf("file name = %q, want people.csv", snap.FileName)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.c.WaitParse(ctx); err != nil {
		t.Errorf("WaitParse() after abort = %v", err)
	}
}

// TestParseErrorNotifies verifies a failed parse clears the data and notifies.
func TestParseErrorNotifies(t *testing.T) {
	h := newHarness(t)
	h.c.mu.Lock()
	h.c.parseEpoch++
	epoch := h.c.parseEpoch
	h.c.fileName = "people.csv"
	h.c.parsing.InProgress = true
	h.c.parsing.Data = []models.Row{{"a"}}
	h.c.mu.Unlock()

	h.c.parseHandler(epoch, 10).OnError(errors.New("boom"))

	snap := h.c.Snapshot()
	if !snap.Parsing.IsError || snap.Parsing.InProgress || len(snap.Parsing.Data) != 0 {
		t.Errorf("parsing = %+v", snap.Parsing)
	}
	var pe *ParseError
	if !errors.As(h.c.LastError(), &pe) {
		t.Errorf("LastError() = %v, want ParseError", h.c.LastError())
	}
	if n, ok := h.sink.last(); !ok || n.content != MsgParseError || n.severity != notify.SeverityError {
		t.Errorf("last notification = %+v", n)
	}
}

// TestUploadCompletes verifies the full path from selection to a stored upload.
func TestUploadCompletes(t *testing.T) {
	var hookCalls atomic.Int32
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.OnSuccess = func(ctx context.Context) error {
			hookCalls.Add(1)
			return nil
		}
	})
	h.parsed(t, peopleCSV)

	outcome, err := h.c.RequestUpload(context.Background())
	if err != nil || outcome != OutcomeStarted {
		t.Fatalf("RequestUpload() = %v, %v", outcome, err)
	}
	if err := h.waitUpload(t); err != nil {
		t.Fatalf("Wait() = %v", err)
	}

	snap := h.c.Snapshot()
	want := models.UploadState{IsCompleted: true}
	if snap.Upload != want {
		t.Errorf("upload = %+v, want %+v", snap.Upload, want)
	}
	if hookCalls.Load() != 1 {
		t.Errorf("success hook calls = %d, want 1", hookCalls.Load())
	}

	uploads := h.srv.Uploads()
	if len(uploads) != 1 || string(uploads[0].Data) != peopleCSV {
		t.Fatalf("server uploads = %+v", uploads)
	}
	md := uploads[0].Metadata
	if md["file_name"] != "people.csv" || md["access_key"] != "key" || md["replace_existing"] != "false" {
		t.Errorf("metadata = %v", md)
	}
	if md["columns"] != `["id","name"]` {
		t.Errorf("columns metadata = %q", md["columns"])
	}
	if n, ok := h.sink.last(); !ok || n.content != MsgUploadSuccess {
		t.Errorf("last notification = %+v", n)
	}
}

// TestRequestUploadPreconditions verifies uploads are skipped until a parse completed with data.
func TestRequestUploadPreconditions(t *testing.T) {
	h := newHarness(t)
	outcome, err := h.c.RequestUpload(context.Background())
	if err != nil || outcome != OutcomeSkipped {
		t.Errorf("RequestUpload() without parse = %v, %v", outcome, err)
	}
	if h.checker.calls.Load() != 0 {
		t.Error("existence check should not run")
	}
}

// TestOverwriteDeclined verifies a declined confirmation creates no session.
func TestOverwriteDeclined(t *testing.T) {
	var asked []string
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.Confirm = func(name string) bool {
			asked = append(asked, name)
			return false
		}
	})
	h.checker.exists = true
	confirms := h.bus.Subscribe(events.EventConfirm)
	h.parsed(t, peopleCSV)

	outcome, err := h.c.RequestUpload(context.Background())
	if err != nil || outcome != OutcomeDeclined {
		t.Fatalf("RequestUpload() = %v, %v", outcome, err)
	}
	if len(asked) != 1 || !strings.Contains(ConfirmOverwriteMessage(asked[0]), "people.csv") {
		t.Errorf("confirm asked for %v", asked)
	}
	snap := h.c.Snapshot()
	if snap.Upload != models.DefaultUploadState() || snap.CheckingExistence {
		t.Errorf("snapshot = %+v", snap)
	}
	if h.srv.Count("POST") != 0 {
		t.Error("no upload should be created")
	}

	select {
	case ev := <-confirms:
		if ce := ev.(*events.ConfirmEvent); ce.Accepted {
			t.Error("confirm event should record the decline")
		}
	case <-time.After(time.Second):
		t.Error("no confirm event published")
	}
}

// TestOverwriteAccepted verifies an accepted overwrite marks the upload as replacing.
func TestOverwriteAccepted(t *testing.T) {
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.Confirm = func(string) bool { return true }
	})
	h.checker.exists = true
	h.parsed(t, peopleCSV)

	outcome, err := h.c.RequestUpload(context.Background())
	if err != nil || outcome != OutcomeStarted {
		t.Fatalf("RequestUpload() = %v, %v", outcome, err)
	}
	if err := h.waitUpload(t); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	uploads := h.srv.Uploads()
	if len(uploads) != 1 || uploads[0].Metadata["replace_existing"] != "true" {
		t.Errorf("uploads = %+v", uploads)
	}
}

// TestExistenceCheckFails verifies a failed check notifies and leaves the upload at defaults.
func TestExistenceCheckFails(t *testing.T) {
	h := newHarness(t)
	h.checker.err = errors.New("status 500")
	h.parsed(t, peopleCSV)

	outcome, err := h.c.RequestUpload(context.Background())
	if outcome != OutcomeCheckFailed {
		t.Fatalf("outcome = %v, want check_failed", outcome)
	}
	var ce *ExistenceCheckError
	if !errors.As(err, &ce) || ce.FileName != "people.csv" {
		t.Errorf("error = %v", err)
	}
	snap := h.c.Snapshot()
	if snap.Upload != models.DefaultUploadState() || snap.CheckingExistence {
		t.Errorf("snapshot = %+v", snap)
	}
	if n, ok := h.sink.last(); !ok || n.content != MsgCheckError || n.severity != notify.SeverityError {
		t.Errorf("last notification = %+v", n)
	}
}

// TestResetDuringExistenceCheck verifies a check answered after a reset starts nothing.
func TestResetDuringExistenceCheck(t *testing.T) {
	h := newHarness(t)
	h.checker.block = make(chan struct{})
	h.parsed(t, peopleCSV)

	result := make(chan UploadOutcome, 1)
	go func() {
		outcome, _ := h.c.RequestUpload(context.Background())
		result <- outcome
	}()
	require.Eventually(t, func() bool { return h.c.Snapshot().CheckingExistence }, 5*time.Second, 5*time.Millisecond)

	h.c.Reset()
	close(h.checker.block)

	select {
	case outcome := <-result:
		if outcome != OutcomeSuperseded {
			t.Errorf("outcome = %v, want superseded", outcome)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("RequestUpload did not return")
	}
	if h.c.Snapshot().CheckingExistence {
		t.Error("checking flag should stay cleared")
	}
	if h.srv.Count("POST") != 0 {
		t.Error("no upload should be created")
	}
}

// TestFinalizingWindow verifies controls are locked while the server finalizes.
func TestFinalizingWindow(t *testing.T) {
	h := newHarness(t)
	release := h.srv.HoldFinalPatch()
	defer release()
	h.parsed(t, peopleCSV)

	if _, err := h.c.RequestUpload(context.Background()); err != nil {
		t.Fatalf("RequestUpload() error = %v", err)
	}
	require.Eventually(t, func() bool { return h.c.Snapshot().Upload.Finalizing() }, 5*time.Second, 5*time.Millisecond)

	h.c.Pause()
	h.c.Abort()
	snap := h.c.Snapshot()
	if snap.Upload.IsPaused || !snap.Upload.InProgress || snap.Upload.Percentage != 100 {
		t.Errorf("controls should be ignored while finalizing: %+v", snap.Upload)
	}

	release()
	if err := h.waitUpload(t); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if !h.c.Snapshot().Upload.IsCompleted {
		t.Error("upload should complete")
	}
}

// TestPauseAndResume verifies a paused upload keeps its percentage and resumes on the same upload.
func TestPauseAndResume(t *testing.T) {
	h := newHarness(t)
	blocked := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	h.srv.SetPatchHook(func(id string, offset int64) int {
		if offset >= 8 {
			once.Do(func() {
				close(blocked)
				<-unblock
			})
		}
		return 0
	})
	h.parsed(t, peopleCSV)

	if _, err := h.c.RequestUpload(context.Background()); err != nil {
		t.Fatalf("RequestUpload() error = %v", err)
	}
	select {
	case <-blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("upload never reached the second chunk")
	}

	h.c.Pause()
	paused := h.c.Snapshot().Upload
	if !paused.IsPaused || paused.Percentage <= 0 || paused.Percentage >= 100 {
		t.Fatalf("upload after pause = %+v", paused)
	}
	close(unblock)

	time.Sleep(50 * time.Millisecond)
	if got := h.c.Snapshot().Upload.Percentage; got < paused.Percentage {
		t.Errorf("percentage dropped from %v to %v while paused", paused.Percentage, got)
	}

	if err := h.c.Resume(context.Background()); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if err := h.waitUpload(t); err != nil {
		t.Fatalf("Wait() = %v", err)
	}
	if h.srv.Count("POST") != 1 {
		t.Errorf("POST count = %d, want 1", h.srv.Count("POST"))
	}
	if h.srv.Count("HEAD") == 0 {
		t.Error("resume should look up the offset")
	}
	if !h.c.Snapshot().Upload.IsCompleted {
		t.Error("upload should complete after resume")
	}
}

// TestAbortDiscardsUpload verifies abort returns to defaults and terminates the server upload.
func TestAbortDiscardsUpload(t *testing.T) {
	h := newHarness(t)
	blocked := make(chan struct{})
	var once sync.Once
	h.srv.SetPatchHook(func(id string, offset int64) int {
		if offset >= 8 {
			once.Do(func() { close(blocked) })
			return 423
		}
		return 0
	})
	h.parsed(t, peopleCSV)

	if _, err := h.c.RequestUpload(context.Background()); err != nil {
		t.Fatalf("RequestUpload() error = %v", err)
	}
	<-blocked
	require.Eventually(t, func() bool { return h.c.Snapshot().Upload.IsError }, 5*time.Second, 5*time.Millisecond)

	h.c.Abort()
	if snap := h.c.Snapshot(); snap.Upload != models.DefaultUploadState() {
		t.Errorf("upload after abort = %+v", snap.Upload)
	}
	require.Eventually(t, func() bool { return h.srv.Count("DELETE") == 1 }, 5*time.Second, 10*time.Millisecond)
	if recs, _ := h.store.List(); len(recs) != 0 {
		t.Errorf("resume records after abort = %d, want 0", len(recs))
	}
}

// TestUploadErrorThenRetry verifies an error notifies and a new request continues the upload.
func TestUploadErrorThenRetry(t *testing.T) {
	h := newHarness(t)
	var fail atomic.Bool
	fail.Store(true)
	h.srv.SetPatchHook(func(id string, offset int64) int {
		if offset >= 8 && fail.Load() {
			return 500
		}
		return 0
	})
	h.parsed(t, peopleCSV)

	if _, err := h.c.RequestUpload(context.Background()); err != nil {
		t.Fatalf("RequestUpload() error = %v", err)
	}
	if err := h.waitUpload(t); err == nil {
		t.Fatal("Wait() should report the upload error")
	}
	snap := h.c.Snapshot()
	if !snap.Upload.IsError || snap.Upload.InProgress {
		t.Errorf("upload = %+v", snap.Upload)
	}
	if n, ok := h.sink.last(); !ok || n.content != MsgUploadError {
		t.Errorf("last notification = %+v", n)
	}

	fail.Store(false)
	outcome, err := h.c.RequestUpload(context.Background())
	if err != nil || outcome != OutcomeStarted {
		t.Fatalf("retry RequestUpload() = %v, %v", outcome, err)
	}
	if err := h.waitUpload(t); err != nil {
		t.Fatalf("retry Wait() = %v", err)
	}
	if h.srv.Count("POST") != 1 {
		t.Errorf("POST count = %d, want 1 (retry resumes the stored upload)", h.srv.Count("POST"))
	}
}

// TestSuccessHookError verifies the hook's error surfaces from Wait after a completed upload.
func TestSuccessHookError(t *testing.T) {
	hookErr := errors.New("refresh failed")
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.OnSuccess = func(context.Context) error { return hookErr }
	})
	h.parsed(t, peopleCSV)

	if _, err := h.c.RequestUpload(context.Background()); err != nil {
		t.Fatalf("RequestUpload() error = %v", err)
	}
	err := h.waitUpload(t)
	if !errors.Is(err, hookErr) {
		t.Fatalf("Wait() = %v, want %v", err, hookErr)
	}
	if !h.c.Snapshot().Upload.IsCompleted {
		t.Error("upload state should still be completed")
	}
}

// TestResetDismissesNotifications verifies reset dismisses what the coordinator showed.
func TestResetDismissesNotifications(t *testing.T) {
	h := newHarness(t)
	h.parsed(t, peopleCSV)
	h.c.Reset()

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	if len(h.sink.dismissed) != len(h.sink.sent) || len(h.sink.sent) == 0 {
		t.Errorf("dismissed %v of %v", h.sink.dismissed, h.sink.sent)
	}
}

func (h *harness) currentSession(t *testing.T) *upload.Session {
	t.Helper()
	h.c.mu.Lock()
	defer h.c.mu.Unlock()
	if h.c.session == nil {
		t.Fatal("no upload session")
	}
	return h.c.session
}

func waitSession(t *testing.T, s *upload.Session) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.Wait(ctx)
}

// TestResetAbortsRunningUpload verifies reset during a transfer aborts the
// session, discards the server upload and reports nothing.
func TestResetAbortsRunningUpload(t *testing.T) {
	h := newHarness(t)
	blocked := make(chan struct{})
	unblock := make(chan struct{})
	t.Cleanup(func() { close(unblock) })
	var once sync.Once
	h.srv.SetPatchHook(func(id string, offset int64) int {
		if offset >= 8 {
			once.Do(func() { close(blocked) })
			<-unblock
		}
		return 0
	})
	h.parsed(t, peopleCSV)

	if _, err := h.c.RequestUpload(context.Background()); err != nil {
		t.Fatalf("RequestUpload() error = %v", err)
	}
	select {
	case <-blocked:
	case <-time.After(5 * time.Second):
		t.Fatal("upload never reached the second chunk")
	}
	s := h.currentSession(t)
	if pct := h.c.Snapshot().Upload.Percentage; pct >= 100 {
		t.Fatalf("percentage = %v, want a transfer in progress", pct)
	}
	sentBefore := len(h.sink.contents())

	h.c.Reset()

	if err := waitSession(t, s); !errors.Is(err, upload.ErrSessionAborted) {
		t.Fatalf("session Wait() = %v, want ErrSessionAborted", err)
	}
	require.Eventually(t, func() bool { return h.srv.Count("DELETE") == 1 }, 5*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	snap := h.c.Snapshot()
	if snap.Upload != models.DefaultUploadState() || snap.FileName != "" {
		t.Errorf("state after reset = %+v (file %q)", snap.Upload, snap.FileName)
	}
	if got := h.sink.contents(); len(got) != sentBefore {
		t.Errorf("notifications after reset = %v", got[sentBefore:])
	}
	if n := h.srv.Count("DELETE"); n != 1 {
		t.Errorf("DELETE count = %d, want 1", n)
	}
}

// TestResetWhileFinalizing verifies reset leaves a finalizing upload running
// and ignores its late success.
func TestResetWhileFinalizing(t *testing.T) {
	var hookCalls atomic.Int32
	h := newHarness(t, func(d *Deps, _ *Options) {
		d.OnSuccess = func(context.Context) error {
			hookCalls.Add(1)
			return nil
		}
	})
	release := h.srv.HoldFinalPatch()
	defer release()
	h.parsed(t, peopleCSV)

	if _, err := h.c.RequestUpload(context.Background()); err != nil {
		t.Fatalf("RequestUpload() error = %v", err)
	}
	require.Eventually(t, func() bool { return h.c.Snapshot().Upload.Finalizing() }, 5*time.Second, 5*time.Millisecond)
	s := h.currentSession(t)
	sentBefore := len(h.sink.contents())

	h.c.Reset()
	release()

	if err := waitSession(t, s); err != nil {
		t.Fatalf("session Wait() = %v, want nil", err)
	}
	time.Sleep(50 * time.Millisecond)

	if n := h.srv.Count("DELETE"); n != 0 {
		t.Errorf("DELETE count = %d, want 0", n)
	}
	uploads := h.srv.Uploads()
	if len(uploads) != 1 || !uploads[0].Complete() {
		t.Errorf("server uploads = %+v, want one complete upload", uploads)
	}
	snap := h.c.Snapshot()
	if snap.Upload != models.DefaultUploadState() || snap.FileName != "" {
		t.Errorf("late success changed state: %+v (file %q)", snap.Upload, snap.FileName)
	}
	if got := h.sink.contents(); len(got) != sentBefore {
		t.Errorf("late success notified: %v", got[sentBefore:])
	}
	if hookCalls.Load() != 1 {
		t.Errorf("success hook calls = %d, want 1", hookCalls.Load())
	}
}

// TestNewRequiresCollaborators verifies construction fails without the required dependencies.
func TestNewRequiresCollaborators(t *testing.T) {
	if _, err := New(Deps{}, DefaultOptions()); err == nil {
		t.Error("New() with no deps should fail")
	}
}
