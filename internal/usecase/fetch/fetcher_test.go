package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/query"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/splitfile"
	"github.com/kailas-cloud/splitsearch/internal/splitfile/splittest"
	"github.com/kailas-cloud/splitsearch/internal/storage"
)

type testIndex struct {
	opener  *splitfile.Opener
	offsets []search.SplitIDAndFooterOffsets
}

func newTestIndex(t *testing.T) *testIndex {
	t.Helper()
	r := storage.NewResolver("")
	a := splittest.Build(t, r, "A", 2,
		`{"ts": 1, "body": "alpha one"}`,
		`{"ts": 2, "body": "alpha two"}`,
		`{"ts": 3, "body": "alpha three"}`,
	)
	b := splittest.Build(t, r, "B", 2,
		`{"ts": 4, "body": "Disk full on beta"}`,
	)
	return &testIndex{
		opener:  splitfile.NewOpener(r, nil),
		offsets: []search.SplitIDAndFooterOffsets{a.Offsets(), b.Offsets()},
	}
}

func body(t *testing.T, h search.LeafHit) string {
	t.Helper()
	if h.Error != nil {
		t.Fatalf("hit %v: %s", h.PartialHit, *h.Error)
	}
	var doc map[string][]any
	if err := json.Unmarshal(h.LeafJSON, &doc); err != nil {
		t.Fatal(err)
	}
	return doc["body"][0].(string)
}

func TestFetchDocs_PreservesOrder(t *testing.T) {
	idx := newTestIndex(t)
	f := New(idx.opener, 1, zap.NewNop())

	req := &search.FetchDocsRequest{
		PartialHits: []search.PartialHit{
			{SplitID: "A", SegmentOrd: 1, DocID: 0},
			{SplitID: "B", SegmentOrd: 0, DocID: 0},
			{SplitID: "A", SegmentOrd: 0, DocID: 0},
			{SplitID: "A", SegmentOrd: 0, DocID: 1},
		},
		SplitOffsets: idx.offsets,
		IndexURI:     splittest.IndexURI,
	}
	resp, err := f.FetchDocs(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"alpha three", "Disk full on beta", "alpha one", "alpha two"}
	if len(resp.Hits) != len(want) {
		t.Fatalf("hits = %d", len(resp.Hits))
	}
	for i, w := range want {
		if got := body(t, resp.Hits[i]); got != w {
			t.Errorf("hit %d = %q, want %q", i, got, w)
		}
		if resp.Hits[i].PartialHit != req.PartialHits[i] {
			t.Errorf("hit %d partial hit = %v", i, resp.Hits[i].PartialHit)
		}
	}
	if idx.opener.OpenReaders() != 0 {
		t.Errorf("leaked readers: %d", idx.opener.OpenReaders())
	}
}

func TestFetchDocs_ErrorsStayPerHit(t *testing.T) {
	idx := newTestIndex(t)
	f := New(idx.opener, 4, zap.NewNop())

	offsets := append(idx.offsets, search.SplitIDAndFooterOffsets{SplitID: "gone", SplitFooterStart: 0, SplitFooterEnd: 8})
	resp, err := f.FetchDocs(context.Background(), &search.FetchDocsRequest{
		PartialHits: []search.PartialHit{
			{SplitID: "gone", DocID: 0},
			{SplitID: "A", SegmentOrd: 0, DocID: 1},
			{SplitID: "nooffsets", DocID: 0},
			{SplitID: "B", SegmentOrd: 0, DocID: 7},
		},
		SplitOffsets: offsets,
		IndexURI:     splittest.IndexURI,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{0, 2, 3} {
		if resp.Hits[i].Error == nil || resp.Hits[i].LeafJSON != nil {
			t.Errorf("hit %d should carry an error: %+v", i, resp.Hits[i])
		}
	}
	if !strings.Contains(*resp.Hits[0].Error, "gone") {
		t.Errorf("error must name the split: %s", *resp.Hits[0].Error)
	}
	if got := body(t, resp.Hits[1]); got != "alpha two" {
		t.Errorf("healthy hit = %q", got)
	}
}

func TestFetchDocs_Snippets(t *testing.T) {
	idx := newTestIndex(t)
	f := New(idx.opener, 2, zap.NewNop())

	resp, err := f.FetchDocs(context.Background(), &search.FetchDocsRequest{
		PartialHits:  []search.PartialHit{{SplitID: "B"}, {SplitID: "A"}},
		SplitOffsets: idx.offsets,
		IndexURI:     splittest.IndexURI,
		DocMapper:    splittest.MapperJSON(t),
		SnippetRequest: &search.SnippetRequest{
			Query:         "disk -alpha",
			SnippetFields: []string{"body"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if s := resp.Hits[0].Snippet; s == nil || *s != "<b>Disk</b> full on beta" {
		t.Errorf("snippet = %v", s)
	}
	if resp.Hits[1].Snippet != nil {
		t.Errorf("negated terms must not be highlighted: %q", *resp.Hits[1].Snippet)
	}
}

func TestFetchDocs_SnippetsFollowSearchFields(t *testing.T) {
	r := storage.NewResolver("")
	c := splittest.Build(t, r, "C", 2, `{"ts": 5, "body": "beta rollout", "host": "beta"}`)
	f := New(splitfile.NewOpener(r, nil), 2, zap.NewNop())

	tests := []struct {
		name         string
		searchFields []string
		want         string
	}{
		{"index defaults", nil, "<b>beta</b> rollout"},
		{"restricted to host", []string{"host"}, "<b>beta</b>"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := f.FetchDocs(context.Background(), &search.FetchDocsRequest{
				PartialHits:  []search.PartialHit{{SplitID: "C"}},
				SplitOffsets: []search.SplitIDAndFooterOffsets{c.Offsets()},
				IndexURI:     splittest.IndexURI,
				DocMapper:    splittest.MapperJSON(t),
				SnippetRequest: &search.SnippetRequest{
					Query:         "beta",
					SnippetFields: []string{"body", "host"},
					SearchFields:  tc.searchFields,
				},
			})
			if err != nil {
				t.Fatal(err)
			}
			if s := resp.Hits[0].Snippet; s == nil || *s != tc.want {
				t.Errorf("snippet = %v, want %q", s, tc.want)
			}
		})
	}
}

func TestFetchDocs_BadSnippetRequest(t *testing.T) {
	idx := newTestIndex(t)
	f := New(idx.opener, 2, zap.NewNop())
	_, err := f.FetchDocs(context.Background(), &search.FetchDocsRequest{
		PartialHits:    []search.PartialHit{{SplitID: "A"}},
		SplitOffsets:   idx.offsets,
		IndexURI:       splittest.IndexURI,
		DocMapper:      "nope",
		SnippetRequest: &search.SnippetRequest{Query: "x", SnippetFields: []string{"body"}},
	})
	if !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("err = %v", err)
	}
}

func TestSnippet_Window(t *testing.T) {
	m := splittest.Mapper(t)
	q, _ := query.Parse("needle")
	s := newSnippeter(q, m, []string{"body"}, m.DefaultSearchFields())

	long := strings.Repeat("hay ", 40) + "Needle" + strings.Repeat(" hay", 60)
	doc, _ := json.Marshal(map[string][]any{"body": {long}})
	got := s.snippet(doc)
	if got == nil {
		t.Fatal("no snippet")
	}
	if !strings.HasPrefix(*got, "…") || !strings.HasSuffix(*got, "…") || !strings.Contains(*got, "<b>Needle</b>") {
		t.Errorf("snippet = %q", *got)
	}
	if len(*got) > 3*snippetContext+20 {
		t.Errorf("snippet too long: %d", len(*got))
	}
}

// countingOpener records the largest number of concurrent opens.
type countingOpener struct {
	inner    SplitOpener
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (o *countingOpener) Open(ctx context.Context, indexURI string, offsets search.SplitIDAndFooterOffsets) (*splitfile.Reader, error) {
	n := o.inFlight.Add(1)
	defer o.inFlight.Add(-1)
	for {
		p := o.peak.Load()
		if n <= p || o.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return o.inner.Open(ctx, indexURI, offsets)
}

func TestFetchDocs_BoundIsSharedAcrossRequests(t *testing.T) {
	idx := newTestIndex(t)
	opener := &countingOpener{inner: idx.opener}
	f := New(opener, 1, zap.NewNop())

	req := &search.FetchDocsRequest{
		PartialHits: []search.PartialHit{
			{SplitID: "A", SegmentOrd: 0, DocID: 0},
			{SplitID: "B", SegmentOrd: 0, DocID: 0},
		},
		SplitOffsets: idx.offsets,
		IndexURI:     splittest.IndexURI,
	}
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := f.FetchDocs(context.Background(), req)
			if err != nil {
				t.Error(err)
				return
			}
			for _, h := range resp.Hits {
				if h.Error != nil {
					t.Errorf("hit %v: %s", h.PartialHit, *h.Error)
				}
			}
		}()
	}
	wg.Wait()

	if got := opener.peak.Load(); got != 1 {
		t.Errorf("concurrent opens = %d, want 1", got)
	}
}
