// Package session owns the temp directory shared by all audio requests.
// Every artifact of one request is namespaced by its session id, so
// concurrent requests never touch each other's files.
package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var outputName = regexp.MustCompile(`^podcast_[0-9a-fA-F-]{36}\.[a-z0-9]+$`)

// ErrNotFound is returned for unknown or malformed output names.
var ErrNotFound = errors.New("output not found")

type Store struct {
	dir   string
	ext   string
	newID func() string
}

// NewStore creates dir when missing. ext is the audio file extension used
// for fragments and outputs; it is lowercased.
func NewStore(dir, ext string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	return &Store{dir: dir, ext: strings.ToLower(strings.TrimPrefix(ext, ".")), newID: uuid.NewString}, nil
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) Ext() string { return s.ext }

// Begin opens a new session with a fresh id.
func (s *Store) Begin() *Session {
	return &Session{ID: s.newID(), store: s}
}

// OutputPath resolves a retained output by file name.
func (s *Store) OutputPath(name string) (string, error) {
	if !outputName.MatchString(name) {
		return "", ErrNotFound
	}
	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return path, nil
}

// RemoveOutputsOlderThan deletes retained outputs last modified before
// now-age and returns how many were removed.
func (s *Store) RemoveOutputsOlderThan(age time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	cutoff := now.Add(-age)
	removed := 0
	var errs []error
	for _, entry := range entries {
		if entry.IsDir() || !outputName.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// Session namespaces the fragments, manifest and output of one request.
type Session struct {
	ID string

	store   *Store
	mu      sync.Mutex
	created []string
	keep    string
	once    sync.Once
	err     error
}

func (s *Session) FragmentPath(line, chunk int) string {
	return filepath.Join(s.store.dir, fmt.Sprintf("%s_%d_%d.%s", s.ID, line, chunk, s.store.ext))
}

func (s *Session) ManifestPath() string {
	return filepath.Join(s.store.dir, fmt.Sprintf("list_%s.txt", s.ID))
}

func (s *Session) OutputName() string {
	return fmt.Sprintf("podcast_%s.%s", s.ID, s.store.ext)
}

func (s *Session) OutputPath() string {
	return filepath.Join(s.store.dir, s.OutputName())
}

// Create opens path for writing and records it for cleanup.
func (s *Session) Create(path string) (*os.File, error) {
	s.Track(path)
	return os.Create(path)
}

// Track records a file produced by an external tool.
func (s *Session) Track(path string) {
	s.mu.Lock()
	s.created = append(s.created, path)
	s.mu.Unlock()
}

// Keep marks path as the retained output; Cleanup leaves it in place.
func (s *Session) Keep(path string) {
	s.mu.Lock()
	s.keep = path
	s.mu.Unlock()
}

// Cleanup removes every file of the session except the kept output. Only
// the first call does any work; later calls return the first result.
func (s *Session) Cleanup() error {
	s.once.Do(func() {
		s.mu.Lock()
		paths := append([]string(nil), s.created...)
		keep := s.keep
		s.mu.Unlock()

		// Sweep by prefix too so files written by cancelled work are not
		// missed.
		if matches, err := filepath.Glob(filepath.Join(s.store.dir, s.ID+"_*")); err == nil {
			paths = append(paths, matches...)
		}
		paths = append(paths, s.ManifestPath(), s.OutputPath())

		var errs []error
		seen := make(map[string]bool, len(paths))
		for _, p := range paths {
			if p == keep || seen[p] {
				continue
			}
			seen[p] = true
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				errs = append(errs, err)
			}
		}
		s.err = errors.Join(errs...)
	})
	return s.err
}
