// Package resume persists the mapping from upload fingerprints to the remote
// upload URLs that let an interrupted upload continue where it stopped.
//
// Records live in a single JSON file that is rewritten atomically using a
// temporary file + rename. The Store satisfies go-tus's Store interface.
package resume

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rescale/csvup/internal/constants"
	"github.com/rescale/csvup/internal/logging"
)

// Record is one stored resumable upload.
type Record struct {
	ID          string    `json:"id"`
	Fingerprint string    `json:"fingerprint"`
	UploadURL   string    `json:"upload_url"`
	CreatedAt   time.Time `json:"created_at"`
}

// Expired reports whether the record is older than maxAge at now.
func (r Record) Expired(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(r.CreatedAt) > maxAge
}

type fileFormat struct {
	Version int      `json:"version"`
	Records []Record `json:"records"`
}

const formatVersion = 1

// Store is a file-backed fingerprint store. Safe for concurrent use.
type Store struct {
	path   string
	maxAge time.Duration
	logger *logging.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// Open returns a store keeping its records in dir. The directory is created
// if needed; the file itself is created on first write.
func Open(dir string, logger *logging.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("resume directory is empty")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create resume directory: %w", err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Store{
		path:   filepath.Join(dir, constants.ResumeStoreFileName),
		maxAge: constants.MaxResumeAge,
		logger: logger.Named("resume"),
		now:    time.Now,
	}, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Get returns the newest unexpired upload URL stored for fingerprint.
func (s *Store) Get(fingerprint string) (string, bool) {
	recs, err := s.FindPrevious(fingerprint)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read resume records")
		return "", false
	}
	if len(recs) == 0 {
		return "", false
	}
	return recs[0].UploadURL, true
}

// Set stores url for fingerprint. Storing a URL that is already recorded for
// the fingerprint is a no-op.
func (s *Store) Set(fingerprint, url string) {
	if err := s.Add(fingerprint, url); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to store resume record")
	}
}

// Delete removes every record for fingerprint.
func (s *Store) Delete(fingerprint string) {
	if err := s.Remove(fingerprint); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to delete resume record")
	}
}

// Close is a no-op; every write is flushed immediately.
func (s *Store) Close() {}

// Add records url for fingerprint and returns any write error.
func (s *Store) Add(fingerprint, url string) error {
	if fingerprint == "" || url == "" {
		return errors.New("fingerprint and url are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.loadLocked()
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.Fingerprint == fingerprint && r.UploadURL == url {
			return nil
		}
	}
	recs = append(recs, Record{
		ID:          uuid.New().String(),
		Fingerprint: fingerprint,
		UploadURL:   url,
		CreatedAt:   s.now(),
	})
	return s.saveLocked(recs)
}

// Remove deletes every record for fingerprint and returns any write error.
func (s *Store) Remove(fingerprint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.loadLocked()
	if err != nil {
		return err
	}
	kept := recs[:0]
	for _, r := range recs {
		if r.Fingerprint != fingerprint {
			kept = append(kept, r)
		}
	}
	if len(kept) == len(recs) {
		return nil
	}
	return s.saveLocked(kept)
}

// FindPrevious returns the unexpired records for fingerprint, newest first.
func (s *Store) FindPrevious(fingerprint string) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	now := s.now()
	var out []Record
	for _, r := range recs {
		if r.Fingerprint == fingerprint && !r.Expired(now, s.maxAge) {
			out = append(out, r)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// List returns all records, newest first.
func (s *Store) List() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	sortNewestFirst(recs)
	return recs, nil
}

// Prune removes records older than maxAge and returns how many were removed.
// A zero maxAge removes everything.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs, err := s.loadLocked()
	if err != nil {
		return 0, err
	}
	now := s.now()
	kept := recs[:0]
	for _, r := range recs {
		if maxAge > 0 && !r.Expired(now, maxAge) {
			kept = append(kept, r)
		}
	}
	removed := len(recs) - len(kept)
	if removed == 0 {
		return 0, nil
	}
	if err := s.saveLocked(kept); err != nil {
		return 0, err
	}
	s.logger.Debug().Int("removed", removed).Msg("Pruned resume records")
	return removed, nil
}

func (s *Store) loadLocked() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read resume file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resume file: %w", err)
	}
	return f.Records, nil
}

func (s *Store) saveLocked(recs []Record) error {
	if recs == nil {
		recs = []Record{}
	}
	data, err := json.MarshalIndent(fileFormat{Version: formatVersion, Records: recs}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal resume records: %w", err)
	}

	tmpFilePath := s.path + ".tmp"
	if err := os.WriteFile(tmpFilePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temp resume file: %w", err)
	}
	if err := os.Rename(tmpFilePath, s.path); err != nil {
		os.Remove(tmpFilePath)
		return fmt.Errorf("failed to rename resume file: %w", err)
	}
	return nil
}

func sortNewestFirst(recs []Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.After(recs[j].CreatedAt)
	})
}
