package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docbatch/backend/internal/models"
)

// TemplateStore keeps templates on disk keyed by their sanitized file name.
// Uploading the same name again replaces the file.
type TemplateStore struct {
	dir string
}

// NewTemplateStore creates the directory if needed.
func NewTemplateStore(dir string) (*TemplateStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating template directory: %w", err)
	}
	return &TemplateStore{dir: dir}, nil
}

// Save writes the template atomically (temp file + rename) and returns its info.
func (s *TemplateStore) Save(name string, r io.Reader) (*models.FileInfo, error) {
	clean := SanitizeFilename(filepath.Base(name))
	if clean == "" || clean == "." {
		return nil, fmt.Errorf("invalid template name %q", name)
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	size, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("writing template: %w", err)
	}

	if err := os.Rename(tmpPath, filepath.Join(s.dir, clean)); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("storing template: %w", err)
	}

	info, err := s.Stat(clean)
	if err != nil {
		return nil, err
	}
	info.Size = size
	return info, nil
}

// Stat returns metadata for a stored template.
func (s *TemplateStore) Stat(name string) (*models.FileInfo, error) {
	clean := SanitizeFilename(filepath.Base(name))
	fi, err := os.Stat(filepath.Join(s.dir, clean))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return &models.FileInfo{
		ID:         clean,
		Name:       clean,
		Kind:       models.FileKindTemplate,
		Size:       fi.Size(),
		UploadedAt: fi.ModTime(),
	}, nil
}

// Open returns the template content.
func (s *TemplateStore) Open(name string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.dir, SanitizeFilename(filepath.Base(name))))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, err
	}
	return f, nil
}

// List returns templates with a recognised extension, sorted by name.
func (s *TemplateStore) List() ([]*models.FileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var out []*models.FileInfo
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if _, ok := models.TemplateKindFor(e.Name()); !ok {
			continue
		}
		info, err := s.Stat(e.Name())
		if err != nil {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// SanitizeFilename replaces characters that are invalid in file names.
func SanitizeFilename(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '<', '>', ':', '"', '/', '\\', '|', '?', '*':
			return '_'
		}
		if r < 0x20 {
			return '_'
		}
		return r
	}, strings.TrimSpace(name))
}
