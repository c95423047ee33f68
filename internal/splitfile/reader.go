package splitfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
	"github.com/kailas-cloud/splitsearch/internal/storage"
)

// ErrClosed is returned by reads on a closed Reader.
var ErrClosed = errors.New("split reader closed")

// FooterCache caches raw split footers.
type FooterCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte)
}

// Opener opens splits of any index. It is safe for concurrent use.
type Opener struct {
	resolver storage.Resolver
	cache    FooterCache
	open     atomic.Int64
}

// NewOpener creates an opener. cache may be nil.
func NewOpener(resolver storage.Resolver, cache FooterCache) *Opener {
	return &Opener{resolver: resolver, cache: cache}
}

// OpenReaders returns the number of readers not yet closed.
func (o *Opener) OpenReaders() int64 { return o.open.Load() }

// Open reads the footer of a split with a single ranged read (or from the cache) and
// returns a reader that loads components lazily.
func (o *Opener) Open(ctx context.Context, indexURI string, offsets search.SplitIDAndFooterOffsets) (*Reader, error) {
	st, err := o.resolver.Resolve(indexURI)
	if err != nil {
		return nil, err
	}
	name := split.FileName(offsets.SplitID)
	key := fmt.Sprintf("%s/%s:%d-%d", strings.TrimSuffix(indexURI, "/"), name, offsets.SplitFooterStart, offsets.SplitFooterEnd)

	var raw []byte
	cached := false
	if o.cache != nil {
		raw, cached = o.cache.Get(ctx, key)
	}
	if !cached {
		raw, err = st.ReadRange(ctx, name, offsets.SplitFooterStart, offsets.SplitFooterEnd)
		if err != nil {
			return nil, fmt.Errorf("read footer of split %s: %w", offsets.SplitID, err)
		}
	}
	footer, err := decodeFooter(raw)
	if err != nil {
		return nil, fmt.Errorf("split %s: %w", offsets.SplitID, err)
	}
	if footer.SplitID != offsets.SplitID {
		return nil, fmt.Errorf("footer belongs to split %q, not %q: %w", footer.SplitID, offsets.SplitID, domain.ErrSplitCorrupt)
	}
	if !cached && o.cache != nil {
		o.cache.Set(ctx, key, raw)
	}

	o.open.Add(1)
	return &Reader{
		opener:     o,
		storage:    st,
		name:       name,
		footer:     footer,
		components: map[string]any{},
	}, nil
}

// Reader gives access to one split. Reads are safe for concurrent use; Close must be
// called exactly once.
type Reader struct {
	opener  *Opener
	storage storage.Storage
	name    string
	footer  *Footer

	mu         sync.Mutex
	closed     bool
	components map[string]any
}

// Footer returns the split footer.
func (r *Reader) Footer() *Footer { return r.footer }

// SplitID returns the split id.
func (r *Reader) SplitID() string { return r.footer.SplitID }

// Close releases the loaded components.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.components = nil
	r.opener.open.Add(-1)
	return nil
}

// Segments returns the segments of the split.
func (r *Reader) Segments() []*Segment {
	segs := make([]*Segment, len(r.footer.Segments))
	for i, info := range r.footer.Segments {
		segs[i] = &Segment{r: r, ord: uint32(i), numDocs: info.NumDocs}
	}
	return segs
}

// load reads and decodes a component once.
func (r *Reader) load(ctx context.Context, name string, decode func([]byte) (any, error)) (any, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	if v, ok := r.components[name]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	rng, ok := r.footer.Components[name]
	if !ok {
		return nil, fmt.Errorf("component %s missing: %w", name, domain.ErrSplitCorrupt)
	}
	data, err := r.storage.ReadRange(ctx, r.name, rng.Start, rng.End)
	if err != nil {
		return nil, fmt.Errorf("read %s of split %s: %w", name, r.footer.SplitID, err)
	}
	v, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s of split %s: %v: %w", name, r.footer.SplitID, err, domain.ErrSplitCorrupt)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrClosed
	}
	r.components[name] = v
	return v, nil
}

func (r *Reader) terms(ctx context.Context, seg uint32) (termsData, error) {
	v, err := r.load(ctx, termsComponent(int(seg)), func(b []byte) (any, error) {
		var t termsData
		err := json.Unmarshal(b, &t)
		return t, err
	})
	if err != nil {
		return nil, err
	}
	return v.(termsData), nil
}

func (r *Reader) fast(ctx context.Context, seg uint32) (fastData, error) {
	v, err := r.load(ctx, fastComponent(int(seg)), func(b []byte) (any, error) {
		var f fastData
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, err
		}
		n := int(r.footer.Segments[seg].NumDocs)
		for name, col := range f {
			if len(col.Present) != n || (len(col.Nums) != n && len(col.Strs) != n) {
				return nil, fmt.Errorf("column %s has wrong length", name)
			}
		}
		return f, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(fastData), nil
}

// Doc returns the engine-native JSON of one document.
func (r *Reader) Doc(ctx context.Context, seg, doc uint32) ([]byte, error) {
	if int(seg) >= len(r.footer.Segments) {
		return nil, fmt.Errorf("segment %d out of range in split %s", seg, r.footer.SplitID)
	}
	if doc >= r.footer.Segments[seg].NumDocs {
		return nil, fmt.Errorf("doc %d out of range in segment %d of split %s", doc, seg, r.footer.SplitID)
	}
	v, err := r.load(ctx, storeIdxComponent(int(seg)), func(b []byte) (any, error) {
		var idx []uint64
		err := json.Unmarshal(b, &idx)
		return idx, err
	})
	if err != nil {
		return nil, err
	}
	idx := v.([]uint64)
	if int(doc)+1 >= len(idx) {
		return nil, fmt.Errorf("store index of split %s too short: %w", r.footer.SplitID, domain.ErrSplitCorrupt)
	}
	store, ok := r.footer.Components[storeComponent(int(seg))]
	if !ok {
		return nil, fmt.Errorf("store of segment %d missing: %w", seg, domain.ErrSplitCorrupt)
	}
	start, end := store.Start+idx[doc], store.Start+idx[doc+1]
	if end > store.End || start > end {
		return nil, fmt.Errorf("doc %d outside store of split %s: %w", doc, r.footer.SplitID, domain.ErrSplitCorrupt)
	}
	return r.storage.ReadRange(ctx, r.name, start, end)
}

// Terms returns the sorted, deduplicated terms of field in [start, end) across all
// segments. Nil bounds are open; limit < 0 means no limit.
func (r *Reader) Terms(ctx context.Context, field string, start, end *string, limit int) ([]string, error) {
	seen := map[string]struct{}{}
	for i := range r.footer.Segments {
		t, err := r.terms(ctx, uint32(i))
		if err != nil {
			return nil, err
		}
		list := t[field]
		from := 0
		if start != nil {
			from = sort.Search(len(list), func(j int) bool { return list[j].Term >= *start })
		}
		for _, p := range list[from:] {
			if end != nil && p.Term >= *end {
				break
			}
			seen[p.Term] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
