package models

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"time"
)

// Not every platform's MIME table knows .csv.
func init() {
	_ = mime.AddExtensionType(".csv", "text/csv")
}

// Source is a file offered for parsing and upload.
type Source interface {
	Name() string
	MIMEType() string
	Size() int64
	ModTime() time.Time
	Open() (io.ReadSeekCloser, error)
}

// LocalFile is a Source backed by a file on disk.
type LocalFile struct {
	path     string
	name     string
	mimeType string
	size     int64
	modTime  time.Time
}

// NewLocalFile stats path and derives the MIME type from its extension.
func NewLocalFile(path string) (*LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}

	return &LocalFile{
		path:     path,
		name:     filepath.Base(path),
		mimeType: DetectMIMEType(path),
		size:     info.Size(),
		modTime:  info.ModTime(),
	}, nil
}

func (f *LocalFile) Name() string       { return f.name }
func (f *LocalFile) MIMEType() string   { return f.mimeType }
func (f *LocalFile) Size() int64        { return f.size }
func (f *LocalFile) ModTime() time.Time { return f.modTime }
func (f *LocalFile) Path() string       { return f.path }

// Open opens the underlying file for reading.
func (f *LocalFile) Open() (io.ReadSeekCloser, error) {
	return os.Open(f.path)
}

// DetectMIMEType maps a file name to its bare media type, without parameters.
// Unknown extensions yield "application/octet-stream".
func DetectMIMEType(name string) string {
	ext := filepath.Ext(name)
	if ext == "" {
		return "application/octet-stream"
	}
	full := mime.TypeByExtension(ext)
	if full == "" {
		return "application/octet-stream"
	}
	mediaType, _, err := mime.ParseMediaType(full)
	if err != nil {
		return "application/octet-stream"
	}
	return mediaType
}

// MemorySource is a Source backed by a byte slice.
type MemorySource struct {
	name     string
	mimeType string
	data     []byte
	modTime  time.Time
}

// NewMemorySource wraps data; an empty mimeType is derived from name.
func NewMemorySource(name, mimeType string, data []byte) *MemorySource {
	if mimeType == "" {
		mimeType = DetectMIMEType(name)
	}
	return &MemorySource{
		name:     name,
		mimeType: mimeType,
		data:     data,
		modTime:  time.Now(),
	}
}

func (m *MemorySource) Name() string       { return m.name }
func (m *MemorySource) MIMEType() string   { return m.mimeType }
func (m *MemorySource) Size() int64        { return int64(len(m.data)) }
func (m *MemorySource) ModTime() time.Time { return m.modTime }

// Open returns a fresh reader over the data.
func (m *MemorySource) Open() (io.ReadSeekCloser, error) {
	return nopCloser{bytes.NewReader(m.data)}, nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
