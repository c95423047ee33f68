package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileStorage stores objects as files in a directory.
type FileStorage struct {
	uri string
	dir string
}

// URI implements Storage.
func (s *FileStorage) URI() string { return s.uri }

func (s *FileStorage) path(name string) (string, error) {
	p := filepath.Join(s.dir, filepath.FromSlash(name))
	if p != s.dir && !strings.HasPrefix(p, s.dir+string(filepath.Separator)) {
		return "", fmt.Errorf("object %q escapes storage root", name)
	}
	return p, nil
}

// ReadRange implements Storage.
func (s *FileStorage) ReadRange(ctx context.Context, name string, start, end uint64) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(name)
		}
		return nil, fmt.Errorf("open %q: %w", name, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %q: %w", name, err)
	}
	if err := checkRange(name, int(st.Size()), start, end); err != nil {
		return nil, err
	}
	buf := make([]byte, end-start)
	if _, err := f.ReadAt(buf, int64(start)); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %q: %w", name, err)
	}
	return buf, nil
}

// ReadAll implements Storage.
func (s *FileStorage) ReadAll(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, notFound(name)
		}
		return nil, fmt.Errorf("read %q: %w", name, err)
	}
	return data, nil
}

// Put implements Storage. The object appears atomically.
func (s *FileStorage) Put(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return fmt.Errorf("mkdir for %q: %w", name, err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %q: %w", name, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return fmt.Errorf("rename %q: %w", name, err)
	}
	return nil
}

// Delete implements Storage. Deleting a missing object is not an error.
func (s *FileStorage) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %q: %w", name, err)
	}
	return nil
}
