package metastore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
)

// Compile-time check.
var _ Metastore = (*File)(nil)

type fileIndex struct {
	Metadata split.IndexMetadata        `yaml:"metadata"`
	Splits   map[string]*split.Metadata `yaml:"splits"`
}

type fileState struct {
	Indexes map[string]*fileIndex `yaml:"indexes"`
}

// File keeps all metadata in one YAML file, for single-node setups. Every operation
// re-reads the file so that the CLI and a running node see each other's writes.
type File struct {
	path string
	mu   sync.Mutex
}

// NewFile creates a file-backed metastore. The file is created on first write.
func NewFile(path string) *File {
	return &File{path: path}
}

func (f *File) load() (*fileState, error) {
	st := &fileState{Indexes: map[string]*fileIndex{}}
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metastore: %w", err)
	}
	if err := yaml.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("parse metastore %s: %w", f.path, err)
	}
	if st.Indexes == nil {
		st.Indexes = map[string]*fileIndex{}
	}
	return st, nil
}

func (f *File) save(st *fileState) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode metastore: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create metastore dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write metastore: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("rename metastore: %w", err)
	}
	return nil
}

// update runs fn on the loaded state and saves it when fn succeeds.
func (f *File) update(fn func(st *fileState) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, err := f.load()
	if err != nil {
		return err
	}
	if err := fn(st); err != nil {
		return err
	}
	return f.save(st)
}

func (f *File) read() (*fileState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.load()
}

func (st *fileState) index(id string) (*fileIndex, error) {
	idx, ok := st.Indexes[id]
	if !ok {
		return nil, domain.NewIndexNotFound(id)
	}
	if idx.Splits == nil {
		idx.Splits = map[string]*split.Metadata{}
	}
	return idx, nil
}

// CreateIndex implements Metastore.
func (f *File) CreateIndex(_ context.Context, meta split.IndexMetadata) error {
	if err := split.ValidateIndexID(meta.IndexID); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return f.update(func(st *fileState) error {
		if _, ok := st.Indexes[meta.IndexID]; ok {
			return fmt.Errorf("index %s: %w", meta.IndexID, domain.ErrAlreadyExists)
		}
		st.Indexes[meta.IndexID] = &fileIndex{Metadata: meta, Splits: map[string]*split.Metadata{}}
		return nil
	})
}

// IndexMetadata implements Metastore.
func (f *File) IndexMetadata(_ context.Context, indexID string) (*split.IndexMetadata, error) {
	st, err := f.read()
	if err != nil {
		return nil, err
	}
	idx, err := st.index(indexID)
	if err != nil {
		return nil, err
	}
	meta := idx.Metadata
	return &meta, nil
}

// ListIndexes implements Metastore.
func (f *File) ListIndexes(_ context.Context) ([]*split.IndexMetadata, error) {
	st, err := f.read()
	if err != nil {
		return nil, err
	}
	out := make([]*split.IndexMetadata, 0, len(st.Indexes))
	for _, idx := range st.Indexes {
		meta := idx.Metadata
		out = append(out, &meta)
	}
	sortIndexes(out)
	return out, nil
}

// DeleteIndex implements Metastore.
func (f *File) DeleteIndex(_ context.Context, indexID string) error {
	return f.update(func(st *fileState) error {
		if _, err := st.index(indexID); err != nil {
			return err
		}
		delete(st.Indexes, indexID)
		return nil
	})
}

// StageSplits implements Metastore.
func (f *File) StageSplits(_ context.Context, indexID string, splits []*split.Metadata) error {
	if err := validateStaged(indexID, splits); err != nil {
		return err
	}
	return f.update(func(st *fileState) error {
		idx, err := st.index(indexID)
		if err != nil {
			return err
		}
		for _, m := range splits {
			staged := *m
			staged.IndexID = indexID
			staged.State = split.StateStaged
			idx.Splits[m.SplitID] = &staged
		}
		return nil
	})
}

// PublishSplits implements Metastore.
func (f *File) PublishSplits(_ context.Context, indexID string, splitIDs []string) error {
	return f.transition(indexID, splitIDs, split.StatePublished)
}

// MarkSplitsForDeletion implements Metastore.
func (f *File) MarkSplitsForDeletion(_ context.Context, indexID string, splitIDs []string) error {
	return f.transition(indexID, splitIDs, split.StateMarkedForDeletion)
}

// DeleteSplits implements Metastore.
func (f *File) DeleteSplits(_ context.Context, indexID string, splitIDs []string) error {
	return f.update(func(st *fileState) error {
		idx, err := st.index(indexID)
		if err != nil {
			return err
		}
		if err := checkDeletable(idx.Splits, splitIDs); err != nil {
			return err
		}
		for _, id := range splitIDs {
			delete(idx.Splits, id)
		}
		return nil
	})
}

func (f *File) transition(indexID string, splitIDs []string, to split.State) error {
	return f.update(func(st *fileState) error {
		idx, err := st.index(indexID)
		if err != nil {
			return err
		}
		return transition(idx.Splits, splitIDs, to)
	})
}

// ListSplits implements Metastore.
func (f *File) ListSplits(ctx context.Context, indexID string, filter split.Filter) ([]*split.Metadata, error) {
	all, err := f.ListAllSplits(ctx, indexID)
	if err != nil {
		return nil, err
	}
	return filterSplits(all, filter), nil
}

// ListAllSplits implements Metastore.
func (f *File) ListAllSplits(_ context.Context, indexID string) ([]*split.Metadata, error) {
	st, err := f.read()
	if err != nil {
		return nil, err
	}
	idx, err := st.index(indexID)
	if err != nil {
		return nil, err
	}
	out := make([]*split.Metadata, 0, len(idx.Splits))
	for _, m := range idx.Splits {
		out = append(out, m)
	}
	sortSplits(out)
	return out, nil
}

// Ping checks that the metastore file is readable.
func (f *File) Ping(_ context.Context) error {
	_, err := f.read()
	return err
}
