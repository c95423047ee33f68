package stream

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/splitsearch/internal/cluster"
	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
	"github.com/kailas-cloud/splitsearch/internal/splitfile/splittest"
)

func collect(t *testing.T, ch <-chan StreamItem) (map[string]string, map[string]*search.SplitSearchError) {
	t.Helper()
	data := map[string]string{}
	errs := map[string]*search.SplitSearchError{}
	timeout := time.After(5 * time.Second)
	for {
		select {
		case item, ok := <-ch:
			if !ok {
				return data, errs
			}
			if item.Err != nil {
				errs[item.SplitID] = item.Err
				continue
			}
			data[item.SplitID] += string(item.Data)
		case <-timeout:
			t.Fatal("stream did not end")
		}
	}
}

func csvRequest() *search.SearchStreamRequest {
	return &search.SearchStreamRequest{
		IndexID:      splittest.IndexID,
		Query:        "disk",
		FastField:    "rank",
		OutputFormat: search.OutputCSV,
	}
}

func TestSearchStream_RelaysEverySplit(t *testing.T) {
	f := newFixture(t, streamSplits)
	pool := cluster.NewPool()
	pool.Add("n1", cluster.NewLocal(nil, nil, f.executor(), nil))
	pool.Add("n2", cluster.NewLocal(nil, nil, f.executor(), nil))
	svc := NewRootService(f.metastore(t), pool, zap.NewNop())

	ch, err := svc.SearchStream(context.Background(), csvRequest())
	if err != nil {
		t.Fatal(err)
	}
	data, errs := collect(t, ch)

	if len(errs) != 0 {
		t.Errorf("errors = %v", errs)
	}
	if data["s1"] != "10\n5\n7\n" || data["s2"] != "-8\n" {
		t.Errorf("data = %q", data)
	}
}

func TestSearchStream_NodeDown(t *testing.T) {
	f := newFixture(t, streamSplits)
	pool := cluster.NewPool()
	pool.Add("n1", streamClient{fn: func(context.Context, *search.LeafSearchStreamRequest) (<-chan *search.LeafSearchStreamResponse, error) {
		return nil, errors.New("connection refused")
	}})
	svc := NewRootService(f.metastore(t), pool, zap.NewNop())

	ch, err := svc.SearchStream(context.Background(), csvRequest())
	if err != nil {
		t.Fatal(err)
	}
	data, errs := collect(t, ch)

	if len(data) != 0 {
		t.Errorf("data = %q", data)
	}
	ids := make([]string, 0, len(errs))
	for id, e := range errs {
		ids = append(ids, id)
		if !e.RetryableError || !strings.Contains(e.Error, "connection refused") {
			t.Errorf("%s: %+v", id, e)
		}
	}
	sort.Strings(ids)
	if strings.Join(ids, ",") != "s1,s2" {
		t.Errorf("failed splits = %v", ids)
	}
}

func TestSearchStream_IncompleteLeafStream(t *testing.T) {
	f := newFixture(t, streamSplits)
	pool := cluster.NewPool()
	pool.Add("n1", streamClient{fn: func(_ context.Context, req *search.LeafSearchStreamRequest) (<-chan *search.LeafSearchStreamResponse, error) {
		ch := make(chan *search.LeafSearchStreamResponse, len(req.SplitOffsets)+1)
		for _, o := range req.SplitOffsets {
			if o.SplitID == "s1" {
				ch <- &search.LeafSearchStreamResponse{SplitID: "s1", Data: []byte("1\n")}
				continue
			}
			ch <- &search.LeafSearchStreamResponse{SplitID: o.SplitID, Data: []byte("2\n"), Last: true}
		}
		ch <- &search.LeafSearchStreamResponse{SplitID: "unknown", Data: []byte("x\n"), Last: true}
		close(ch)
		return ch, nil
	}})
	svc := NewRootService(f.metastore(t), pool, zap.NewNop())

	ch, err := svc.SearchStream(context.Background(), csvRequest())
	if err != nil {
		t.Fatal(err)
	}
	data, errs := collect(t, ch)

	if data["s1"] != "1\n" || data["s2"] != "2\n" || data["unknown"] != "" {
		t.Errorf("data = %q", data)
	}
	if len(errs) != 1 || errs["s1"] == nil || !errs["s1"].RetryableError {
		t.Errorf("errors = %+v", errs)
	}
}

func TestSearchStream_RequestErrors(t *testing.T) {
	f := newFixture(t, streamSplits)
	pool := cluster.NewPool()
	pool.Add("n1", cluster.NewLocal(nil, nil, f.executor(), nil))
	svc := NewRootService(f.metastore(t), pool, zap.NewNop())

	unknown := csvRequest()
	unknown.IndexID = "nope"
	if _, err := svc.SearchStream(context.Background(), unknown); !errors.Is(err, domain.ErrIndexNotFound) {
		t.Errorf("unknown index: %v", err)
	}
	text := csvRequest()
	text.FastField = "body"
	if _, err := svc.SearchStream(context.Background(), text); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Errorf("text field: %v", err)
	}
}

func TestSearchStream_Cancel(t *testing.T) {
	docs := make([]string, 200)
	for i := range docs {
		docs[i] = `{"ts": 1, "body": "disk", "rank": 1}`
	}
	f := newFixture(t, map[string][]string{"big": docs})
	exec := f.executor()
	exec.chunkSize = 1
	pool := cluster.NewPool()
	pool.Add("n1", cluster.NewLocal(nil, nil, exec, nil))
	svc := NewRootService(f.metastore(t), pool, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := svc.SearchStream(ctx, csvRequest())
	if err != nil {
		t.Fatal(err)
	}
	<-ch
	cancel()
	_, errs := collect(t, ch)

	if len(errs) != 0 {
		t.Errorf("cancellation must not report split errors: %v", errs)
	}
	if f.opener.OpenReaders() != 0 {
		t.Errorf("leaked readers: %d", f.opener.OpenReaders())
	}
}
