package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/midi-sniffer/backend/internal/models"
)

// ErrFileNotFound is returned for unknown file ids.
var ErrFileNotFound = errors.New("file not found")

// Store defines the interface for uploaded table, capture and profile files.
type Store interface {
	Save(kind models.FileKind, name string, r io.Reader) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(kind models.FileKind, limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	SetDevice(id, device string) error
	GetFilePath(id string) (string, error)
}

// LocalStore implements Store using the local filesystem. Files live under
// <baseDir>/<kind>/<id>.
type LocalStore struct {
	mu      sync.RWMutex
	baseDir string
	files   map[string]*models.FileInfo
}

// NewLocalStore creates a new LocalStore.
func NewLocalStore(baseDir string) (*LocalStore, error) {
	for _, kind := range []models.FileKind{models.FileKindTable, models.FileKindCapture, models.FileKindProfile} {
		if err := os.MkdirAll(filepath.Join(baseDir, string(kind)), 0755); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", kind, err)
		}
	}

	return &LocalStore{
		baseDir: baseDir,
		files:   make(map[string]*models.FileInfo),
	}, nil
}

// Save writes r to a new file of the given kind.
func (s *LocalStore) Save(kind models.FileKind, name string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.New().String()
	path := s.path(kind, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	info := &models.FileInfo{
		ID:         id,
		Kind:       kind,
		Name:       name,
		Size:       size,
		UploadedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = info

	return info, nil
}

// Get retrieves file metadata by ID.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return info, nil
}

// List returns the most recent files of a kind, newest first. An empty kind lists all.
func (s *LocalStore) List(kind models.FileKind, limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []*models.FileInfo
	for _, info := range s.files {
		if kind == "" || info.Kind == kind {
			list = append(list, info)
		}
	}

	sort.Slice(list, func(i, j int) bool {
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})

	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Delete removes a file from storage.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}

	if err := os.Remove(s.path(info.Kind, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}
	delete(s.files, id)
	return nil
}

// SetDevice records the device identity read from a table or capture header.
func (s *LocalStore) SetDevice(id, device string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, ok := s.files[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	info.Device = device
	return nil
}

// GetFilePath returns the absolute path to a file.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info, ok := s.files[id]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}
	return s.path(info.Kind, id), nil
}

func (s *LocalStore) path(kind models.FileKind, id string) string {
	return filepath.Join(s.baseDir, string(kind), id)
}
