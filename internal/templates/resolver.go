// Package templates resolves template names to immutable, cached content.
package templates

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/docbatch/backend/internal/logging"
	"github.com/docbatch/backend/internal/models"
	"github.com/docbatch/backend/internal/storage"
)

// ErrTemplateNotFound is returned when a named template does not exist.
var ErrTemplateNotFound = errors.New("template not found")

// BuiltinName is the name reported for the built-in default letter.
const BuiltinName = "builtin"

// DefaultLetter is the body of the built-in letter.
const DefaultLetter = "[NOME]\n[CIDADE]\n\n[IDADE]\n[PROFISSAO]\n[SALARIO]\n\n" +
	"Prezado Senhor / Senhora,\n\n" +
	"Espero que esta carta o encontre bem. Eu queria escrever para você para [DEPARTAMENTO]. " +
	"Eu sinto que é importante compartilhar meus pensamentos sobre este assunto.\n\n" +
	"Com os melhores cumprimentos,\n[NOME]"

// Handle is a loaded template. Handles are shared between workers and must
// not be modified.
type Handle struct {
	Name    string
	Kind    models.TemplateKind
	Content []byte
	ModTime time.Time
	Size    int64
}

// Builtin returns the handle of the built-in letter.
func Builtin() *Handle {
	return builtin
}

var builtin = &Handle{
	Name:    BuiltinName,
	Kind:    models.TemplateKindBuiltin,
	Content: []byte(DefaultLetter),
}

// Source is where template files live.
type Source interface {
	Stat(name string) (*models.FileInfo, error)
	Open(name string) (io.ReadCloser, error)
}

// Resolver caches templates by name. Lookups read an immutable map through
// an atomic pointer; every change builds a new map and swaps it in.
type Resolver struct {
	src    Source
	cache  atomic.Pointer[map[string]*Handle]
	mu     sync.Mutex // serialises writers
	logger *slog.Logger
}

// NewResolver creates a resolver over src.
func NewResolver(src Source, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = logging.Discard()
	}
	r := &Resolver{src: src, logger: logger.With(slog.String("component", "templates"))}
	empty := map[string]*Handle{}
	r.cache.Store(&empty)
	return r
}

// Resolve returns the handle for name. An empty name or "builtin" resolves to
// the built-in letter.
func (r *Resolver) Resolve(name string) (*Handle, error) {
	if name == "" || name == BuiltinName {
		return builtin, nil
	}

	kind, ok := models.TemplateKindFor(name)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported template type %q", ErrTemplateNotFound, name)
	}

	info, err := r.src.Stat(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return nil, err
	}

	if h, ok := (*r.cache.Load())[info.Name]; ok && h.ModTime.Equal(info.UploadedAt) && h.Size == info.Size {
		return h, nil
	}

	content, err := r.read(info.Name)
	if err != nil {
		return nil, err
	}
	h := &Handle{
		Name:    info.Name,
		Kind:    kind,
		Content: content,
		ModTime: info.UploadedAt,
		Size:    info.Size,
	}
	r.swap(func(m map[string]*Handle) { m[h.Name] = h })
	r.logger.Debug("template loaded", slog.String("name", h.Name), slog.Int("bytes", len(content)))
	return h, nil
}

// Invalidate drops the cached entry for name. Uploads call it after the new
// file is in place so the next Resolve reads fresh content.
func (r *Resolver) Invalidate(name string) {
	clean := storage.SanitizeFilename(name)
	if _, ok := (*r.cache.Load())[clean]; !ok {
		return
	}
	r.swap(func(m map[string]*Handle) { delete(m, clean) })
	r.logger.Debug("template invalidated", slog.String("name", clean))
}

// Cached returns the number of cached templates.
func (r *Resolver) Cached() int {
	return len(*r.cache.Load())
}

func (r *Resolver) swap(fn func(map[string]*Handle)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.cache.Load()
	next := make(map[string]*Handle, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	fn(next)
	r.cache.Store(&next)
}

func (r *Resolver) read(name string) ([]byte, error) {
	rc, err := r.src.Open(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
		}
		return nil, err
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("reading template %s: %w", name, err)
	}
	return content, nil
}
