// Package archive exports accepted events as JSONL segments in
// content-addressed storage. Each segment is one file of canonical
// event lines stored under the SHA-256 of its own bytes, so exporting
// the same content twice lands on the same object and changes nothing.
// The archive is derived data; the event store stays authoritative.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aigrc/pipeline/pkg/canonical"
)

const segmentExt = ".jsonl"

// Store is content-addressed storage for finished segments. There is
// no delete: the archive is an append-only evidence trail.
type Store interface {
	// Store persists one segment and returns its content address.
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves a segment by content address.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists reports whether a segment is already archived.
	Exists(ctx context.Context, hash string) (bool, error)
}

// FSStore keeps segments as files under one directory.
type FSStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFSStore creates the directory if needed.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: ensure dir %s: %w", baseDir, err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

func (s *FSStore) Store(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	hash := canonical.HashBytes(data)
	path := filepath.Join(s.baseDir, strings.TrimPrefix(hash, canonical.HashPrefix)+segmentExt)

	if _, err := os.Stat(path); err == nil {
		return hash, nil
	}

	// Write to temp, then rename, so readers never see a torn segment.
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("archive: write segment: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("archive: commit segment: %w", err)
	}
	return hash, nil
}

func (s *FSStore) Get(ctx context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := s.segmentPath(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive: segment not found: %s", hash)
		}
		return nil, fmt.Errorf("archive: read segment: %w", err)
	}
	return data, nil
}

func (s *FSStore) Exists(ctx context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, err := s.segmentPath(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("archive: stat segment: %w", err)
}

func (s *FSStore) segmentPath(hash string) (string, error) {
	if !canonical.ValidFormat(hash) {
		return "", fmt.Errorf("archive: invalid segment address: %s", hash)
	}
	return filepath.Join(s.baseDir, strings.TrimPrefix(hash, canonical.HashPrefix)+segmentExt), nil
}
