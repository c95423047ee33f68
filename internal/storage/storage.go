// Package storage reads and writes split files on object storage, addressed by index URI.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kailas-cloud/splitsearch/internal/domain"
)

// URI schemes.
const (
	SchemeFile = "file"
	SchemeRAM  = "ram"
)

// Storage is a flat object store rooted at one index URI.
type Storage interface {
	// ReadRange returns bytes [start, end) of an object.
	ReadRange(ctx context.Context, path string, start, end uint64) ([]byte, error)
	ReadAll(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
	Delete(ctx context.Context, path string) error
	URI() string
}

// Resolver maps an index URI to its storage.
type Resolver interface {
	Resolve(uri string) (Storage, error)
}

// DefaultResolver serves file:// URIs under a root directory and ram:// URIs from one
// process-wide in-memory store.
type DefaultResolver struct {
	root string
	ram  *RAMStore

	mu    sync.Mutex
	cache map[string]Storage
}

// NewResolver creates a resolver. Relative file:// paths are joined to root.
func NewResolver(root string) *DefaultResolver {
	return &DefaultResolver{root: root, ram: NewRAMStore(), cache: map[string]Storage{}}
}

// RAM returns the in-memory store behind ram:// URIs.
func (r *DefaultResolver) RAM() *RAMStore { return r.ram }

// Resolve implements Resolver.
func (r *DefaultResolver) Resolve(uri string) (Storage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.cache[uri]; ok {
		return s, nil
	}

	u, err := url.Parse(uri)
	if err != nil {
		return nil, domain.InvalidRequestf("invalid index uri %q: %v", uri, err)
	}
	var s Storage
	switch u.Scheme {
	case SchemeFile:
		dir := filepath.FromSlash(u.Host + u.Path)
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(r.root, dir)
		}
		s = &FileStorage{uri: uri, dir: dir}
	case SchemeRAM:
		s = &ramStorage{uri: uri, prefix: strings.TrimSuffix(u.Host+u.Path, "/") + "/", store: r.ram}
	default:
		return nil, domain.InvalidRequestf("unsupported storage scheme %q", u.Scheme)
	}
	r.cache[uri] = s
	return s, nil
}

// SplitURI joins an index URI and an object name.
func SplitURI(indexURI, name string) string {
	return strings.TrimSuffix(indexURI, "/") + "/" + name
}

func notFound(path string) error {
	return fmt.Errorf("object %q: %w", path, domain.ErrNotFound)
}

func checkRange(path string, size int, start, end uint64) error {
	if start > end || end > uint64(size) {
		return fmt.Errorf("object %q: range [%d,%d) outside [0,%d): %w", path, start, end, size, domain.ErrSplitCorrupt)
	}
	return nil
}
