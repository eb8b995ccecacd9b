package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/docbatch/backend/internal/models"
	"github.com/google/uuid"
)

// ErrNotFound is returned for unknown file ids or names.
var ErrNotFound = errors.New("file not found")

// Store keeps uploaded datasets addressable by id.
type Store interface {
	Save(name string, r io.Reader) (*models.FileInfo, error)
	Get(id string) (*models.FileInfo, error)
	List(limit int) ([]*models.FileInfo, error)
	Delete(id string) error
	GetFilePath(id string) (string, error)
}

type upload struct {
	info models.FileInfo
	path string
}

// LocalStore keeps datasets on disk as <id><ext>, so loaders can still
// dispatch on the original extension. The index lives in memory only.
type LocalStore struct {
	dir string
	now func() time.Time

	mu      sync.RWMutex
	uploads map[string]*upload
}

// NewLocalStore creates dir if needed.
func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating upload directory: %w", err)
	}
	return &LocalStore{
		dir:     dir,
		now:     time.Now,
		uploads: make(map[string]*upload),
	}, nil
}

// Save copies r into a new dataset file. A failed copy leaves nothing behind.
func (s *LocalStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	id := uuid.NewString()
	u := &upload{
		info: models.FileInfo{ID: id, Name: name, Kind: models.FileKindDataset},
		path: filepath.Join(s.dir, id+strings.ToLower(filepath.Ext(name))),
	}

	f, err := os.Create(u.path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(u.path)
		return nil, fmt.Errorf("writing file: %w", err)
	}
	u.info.Size = n
	u.info.UploadedAt = s.now()

	s.mu.Lock()
	s.uploads[id] = u
	s.mu.Unlock()

	info := u.info
	return &info, nil
}

func (s *LocalStore) lookup(id string) (*upload, error) {
	u, ok := s.uploads[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return u, nil
}

// Get returns a copy of the metadata for id.
func (s *LocalStore) Get(id string) (*models.FileInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	info := u.info
	return &info, nil
}

// List returns uploads newest first. limit <= 0 returns all of them.
func (s *LocalStore) List(limit int) ([]*models.FileInfo, error) {
	s.mu.RLock()
	list := make([]*models.FileInfo, 0, len(s.uploads))
	for _, u := range s.uploads {
		info := u.info
		list = append(list, &info)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].UploadedAt.Equal(list[j].UploadedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].UploadedAt.After(list[j].UploadedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

// Delete removes the file and its index entry.
func (s *LocalStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, err := s.lookup(id)
	if err != nil {
		return err
	}
	if err := os.Remove(u.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}
	delete(s.uploads, id)
	return nil
}

// GetFilePath returns where the dataset lives on disk.
func (s *LocalStore) GetFilePath(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, err := s.lookup(id)
	if err != nil {
		return "", err
	}
	return u.path, nil
}

// Prune deletes uploads older than maxAge and returns their ids. Files that
// cannot be removed stay indexed and are retried on the next call.
func (s *LocalStore) Prune(maxAge time.Duration) []string {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	defer s.mu.Unlock()
	var pruned []string
	for id, u := range s.uploads {
		if !u.info.UploadedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(u.path); err != nil && !os.IsNotExist(err) {
			continue
		}
		delete(s.uploads, id)
		pruned = append(pruned, id)
	}
	sort.Strings(pruned)
	return pruned
}
