// Package testutil provides an in-memory tus server for upload tests.
package testutil

import (
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// TusUpload is one upload held by the fake server.
type TusUpload struct {
	ID       string
	Length   int64
	Data     []byte
	Metadata map[string]string
}

// Complete reports whether every byte has been received.
func (u *TusUpload) Complete() bool {
	return int64(len(u.Data)) == u.Length
}

// RecordedRequest is a request seen by the fake server.
type RecordedRequest struct {
	Method string
	Path   string
	Offset string
}

// TusServer speaks the subset of tus 1.0.0 used by go-tus: creation, HEAD,
// PATCH and termination.
type TusServer struct {
	*httptest.Server

	mu       sync.Mutex
	uploads  map[string]*TusUpload
	requests []RecordedRequest
	nextID   int

	// patchHook may replace a PATCH response: a non-zero status is written
	// instead of applying the chunk.
	patchHook func(id string, offset int64) int
	// finalHold, when set, blocks the response of a PATCH that completes an
	// upload until it is closed. The body is fully read before blocking.
	finalHold chan struct{}
}

// NewTusServer starts a fake tus server. Close it with Close.
func NewTusServer() *TusServer {
	s := &TusServer{uploads: make(map[string]*TusUpload)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// Endpoint returns the creation URL.
func (s *TusServer) Endpoint() string {
	return s.Server.URL + "/files/"
}

// SetPatchHook installs fn to override PATCH handling. Return 0 to proceed normally.
func (s *TusServer) SetPatchHook(fn func(id string, offset int64) int) {
	s.mu.Lock()
	s.patchHook = fn
	s.mu.Unlock()
}

// HoldFinalPatch makes the completing PATCH wait; call the returned func to release it.
func (s *TusServer) HoldFinalPatch() func() {
	hold := make(chan struct{})
	s.mu.Lock()
	s.finalHold = hold
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(hold) }) }
}

// Uploads returns a copy of all uploads currently stored.
func (s *TusServer) Uploads() []TusUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TusUpload, 0, len(s.uploads))
	for _, u := range s.uploads {
		cp := *u
		cp.Data = append([]byte(nil), u.Data...)
		out = append(out, cp)
	}
	return out
}

// Upload returns a copy of the upload with id.
func (s *TusServer) Upload(id string) (TusUpload, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.uploads[id]
	if !ok {
		return TusUpload{}, false
	}
	cp := *u
	cp.Data = append([]byte(nil), u.Data...)
	return cp, true
}

// DropUpload forgets an upload, as a server that expired it would.
func (s *TusServer) DropUpload(id string) {
	s.mu.Lock()
	delete(s.uploads, id)
	s.mu.Unlock()
}

// Requests returns the requests seen so far.
func (s *TusServer) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

// Count returns how many requests with method were seen.
func (s *TusServer) Count(method string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Method == method {
			n++
		}
	}
	return n
}

func (s *TusServer) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.requests = append(s.requests, RecordedRequest{Method: r.Method, Path: r.URL.Path, Offset: r.Header.Get("Upload-Offset")})
	s.mu.Unlock()

	w.Header().Set("Tus-Resumable", "1.0.0")
	id := strings.TrimPrefix(r.URL.Path, "/files/")

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Tus-Version", "1.0.0")
		w.Header().Set("Tus-Extension", "creation,termination")
		w.WriteHeader(http.StatusNoContent)
	case http.MethodPost:
		s.create(w, r)
	case http.MethodHead:
		s.head(w, id)
	case http.MethodPatch:
		s.patch(w, r, id)
	case http.MethodDelete:
		s.mu.Lock()
		_, ok := s.uploads[id]
		delete(s.uploads, id)
		s.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *TusServer) create(w http.ResponseWriter, r *http.Request) {
	length, err := strconv.ParseInt(r.Header.Get("Upload-Length"), 10, 64)
	if err != nil || length < 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.nextID++
	id := fmt.Sprintf("u%d", s.nextID)
	s.uploads[id] = &TusUpload{
		ID:       id,
		Length:   length,
		Metadata: parseMetadata(r.Header.Get("Upload-Metadata")),
	}
	s.mu.Unlock()

	w.Header().Set("Location", s.Server.URL+"/files/"+id)
	w.WriteHeader(http.StatusCreated)
}

func (s *TusServer) head(w http.ResponseWriter, id string) {
	s.mu.Lock()
	u, ok := s.uploads[id]
	var offset, length int64
	if ok {
		offset, length = int64(len(u.Data)), u.Length
	}
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Upload-Offset", strconv.FormatInt(offset, 10))
	w.Header().Set("Upload-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusOK)
}

func (s *TusServer) patch(w http.ResponseWriter, r *http.Request, id string) {
	offset, err := strconv.ParseInt(r.Header.Get("Upload-Offset"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	u, ok := s.uploads[id]
	hook := s.patchHook
	var current int64
	if ok {
		current = int64(len(u.Data))
	}
	s.mu.Unlock()

	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if hook != nil {
		if status := hook(id, offset); status != 0 {
			io.Copy(io.Discard, r.Body)
			w.WriteHeader(status)
			return
		}
	}
	if offset != current {
		w.WriteHeader(http.StatusConflict)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return
	}

	s.mu.Lock()
	u, ok = s.uploads[id]
	if !ok {
		s.mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
		return
	}
	u.Data = append(u.Data, body...)
	newOffset := int64(len(u.Data))
	complete := u.Complete()
	hold := s.finalHold
	s.mu.Unlock()

	if complete && hold != nil {
		select {
		case <-hold:
		case <-r.Context().Done():
			return
		}
	}

	w.Header().Set("Upload-Offset", strconv.FormatInt(newOffset, 10))
	w.WriteHeader(http.StatusNoContent)
}

// parseMetadata decodes a tus Upload-Metadata header.
func parseMetadata(header string) map[string]string {
	md := make(map[string]string)
	if header == "" {
		return md
	}
	for _, pair := range strings.Split(header, ",") {
		parts := strings.SplitN(strings.TrimSpace(pair), " ", 2)
		if parts[0] == "" {
			continue
		}
		if len(parts) == 1 {
			md[parts[0]] = ""
			continue
		}
		v, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			continue
		}
		md[parts[0]] = string(v)
	}
	return md
}
