package metastore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
)

func backends(t *testing.T) map[string]func() Metastore {
	t.Helper()
	return map[string]func() Metastore{
		"redis": func() Metastore { return NewRedis(newMockStore()) },
		"file":  func() Metastore { return NewFile(filepath.Join(t.TempDir(), "meta", "metastore.yaml")) },
	}
}

func createLogs(t *testing.T, ms Metastore) {
	t.Helper()
	err := ms.CreateIndex(context.Background(), split.IndexMetadata{
		IndexID:    "logs",
		IndexURI:   "ram:///indexes/logs",
		DocMapping: `{"field_mappings":[]}`,
		CreatedAt:  1700000000,
	})
	if err != nil {
		t.Fatalf("CreateIndex: %v", err)
	}
}

func TestMetastore_Indexes(t *testing.T) {
	for name, newMS := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ms := newMS()
			createLogs(t, ms)

			err := ms.CreateIndex(ctx, split.IndexMetadata{IndexID: "logs"})
			if !errors.Is(err, domain.ErrAlreadyExists) {
				t.Errorf("duplicate create = %v", err)
			}
			if err := ms.CreateIndex(ctx, split.IndexMetadata{IndexID: "1bad"}); !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("bad id = %v", err)
			}
			if err := ms.CreateIndex(ctx, split.IndexMetadata{IndexID: "audit", IndexURI: "ram:///audit"}); err != nil {
				t.Fatal(err)
			}

			meta, err := ms.IndexMetadata(ctx, "logs")
			if err != nil {
				t.Fatal(err)
			}
			if meta.IndexURI != "ram:///indexes/logs" || meta.CreatedAt != 1700000000 {
				t.Errorf("meta = %+v", meta)
			}

			all, err := ms.ListIndexes(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if len(all) != 2 || all[0].IndexID != "audit" || all[1].IndexID != "logs" {
				t.Errorf("ListIndexes = %+v", all)
			}

			if err := ms.DeleteIndex(ctx, "audit"); err != nil {
				t.Fatal(err)
			}
			if _, err := ms.IndexMetadata(ctx, "audit"); !errors.Is(err, domain.ErrIndexNotFound) {
				t.Errorf("after delete = %v", err)
			}
			if err := ms.DeleteIndex(ctx, "audit"); !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("second delete = %v", err)
			}
		})
	}
}

func TestMetastore_SplitLifecycle(t *testing.T) {
	for name, newMS := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ms := newMS()
			createLogs(t, ms)

			splits := []*split.Metadata{
				testSplit("b", 0, 99, "host!", "host:web1"),
				testSplit("a", 100, 199, "host!", "host:db1"),
				testSplit("c", 200, 299),
			}
			if err := ms.StageSplits(ctx, "logs", splits); err != nil {
				t.Fatal(err)
			}
			if splits[0].State != "" {
				t.Error("StageSplits must not mutate its input")
			}

			got, err := ms.ListSplits(ctx, "logs", split.Filter{})
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 0 {
				t.Errorf("staged splits are searchable: %v", got)
			}

			if err := ms.PublishSplits(ctx, "logs", []string{"a", "b", "c"}); err != nil {
				t.Fatal(err)
			}
			got, _ = ms.ListSplits(ctx, "logs", split.Filter{})
			if len(got) != 3 || got[0].SplitID != "a" || got[0].State != split.StatePublished || got[0].IndexID != "logs" {
				t.Errorf("published = %+v", got)
			}

			got, _ = ms.ListSplits(ctx, "logs", split.Filter{StartTimestamp: ptr[int64](150), EndTimestamp: ptr[int64](200)})
			if len(got) != 1 || got[0].SplitID != "a" {
				t.Errorf("time pruned = %+v", got)
			}

			got, _ = ms.ListSplits(ctx, "logs", split.Filter{RequiredTags: []string{"host:web1"}})
			if len(got) != 2 || got[0].SplitID != "b" || got[1].SplitID != "c" {
				t.Errorf("tag pruned = %+v", got)
			}

			if err := ms.MarkSplitsForDeletion(ctx, "logs", []string{"c"}); err != nil {
				t.Fatal(err)
			}
			got, _ = ms.ListSplits(ctx, "logs", split.Filter{})
			if len(got) != 2 {
				t.Errorf("after mark = %+v", got)
			}
			all, _ := ms.ListAllSplits(ctx, "logs")
			if len(all) != 3 || all[2].State != split.StateMarkedForDeletion {
				t.Errorf("ListAllSplits = %+v", all)
			}

			if err := ms.PublishSplits(ctx, "logs", []string{"c"}); !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("republish marked = %v", err)
			}
			if err := ms.PublishSplits(ctx, "logs", []string{"a", "zz"}); !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("unknown split = %v", err)
			}
		})
	}
}

func TestMetastore_DeleteSplits(t *testing.T) {
	for name, newMS := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ms := newMS()
			createLogs(t, ms)

			if err := ms.StageSplits(ctx, "logs", []*split.Metadata{testSplit("a", 0, 1), testSplit("b", 2, 3)}); err != nil {
				t.Fatal(err)
			}
			if err := ms.DeleteSplits(ctx, "logs", []string{"a"}); !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("delete staged = %v", err)
			}
			if err := ms.MarkSplitsForDeletion(ctx, "logs", []string{"a"}); err != nil {
				t.Fatal(err)
			}
			if err := ms.DeleteSplits(ctx, "logs", []string{"a", "zz"}); !errors.Is(err, domain.ErrNotFound) {
				t.Errorf("delete unknown = %v", err)
			}
			if err := ms.DeleteSplits(ctx, "logs", []string{"a"}); err != nil {
				t.Fatal(err)
			}
			all, _ := ms.ListAllSplits(ctx, "logs")
			if len(all) != 1 || all[0].SplitID != "b" {
				t.Errorf("after delete = %+v", all)
			}
		})
	}
}

func TestMetastore_Errors(t *testing.T) {
	for name, newMS := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ms := newMS()

			if err := ms.StageSplits(ctx, "nope", []*split.Metadata{testSplit("a", 0, 1)}); !errors.Is(err, domain.ErrIndexNotFound) {
				t.Errorf("stage on missing index = %v", err)
			}
			if _, err := ms.ListSplits(ctx, "nope", split.Filter{}); !errors.Is(err, domain.ErrIndexNotFound) {
				t.Errorf("list on missing index = %v", err)
			}

			createLogs(t, ms)
			bad := testSplit("a", 0, 1)
			bad.FooterEnd = bad.FooterStart
			if err := ms.StageSplits(ctx, "logs", []*split.Metadata{bad}); !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("empty footer = %v", err)
			}
			foreign := testSplit("a", 0, 1)
			foreign.IndexID = "other"
			if err := ms.StageSplits(ctx, "logs", []*split.Metadata{foreign}); !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("foreign split = %v", err)
			}
		})
	}
}

func TestRedis_StoreErrors(t *testing.T) {
	ctx := context.Background()
	s := newMockStore()
	ms := NewRedis(s)
	createLogs(t, ms)

	boom := errors.New("connection refused")
	s.hgetAllFn = func(context.Context, string) (map[string]string, error) { return nil, boom }
	if _, err := ms.IndexMetadata(ctx, "logs"); !errors.Is(err, boom) {
		t.Errorf("IndexMetadata = %v", err)
	}
	s.hgetAllFn = nil

	s.hsetFn = func(context.Context, string, map[string]string) error { return boom }
	if err := ms.StageSplits(ctx, "logs", []*split.Metadata{testSplit("a", 0, 1)}); !errors.Is(err, boom) {
		t.Errorf("StageSplits = %v", err)
	}
	s.hsetFn = nil

	s.scanFn = func(context.Context, string) ([]string, error) { return nil, boom }
	if _, err := ms.ListIndexes(ctx); !errors.Is(err, boom) {
		t.Errorf("ListIndexes = %v", err)
	}
}

func TestFile_SharedBetweenInstances(t *testing.T) {
	ctx := context.Background()
	p := filepath.Join(t.TempDir(), "metastore.yaml")
	writer := NewFile(p)
	createLogs(t, writer)
	if err := writer.StageSplits(ctx, "logs", []*split.Metadata{testSplit("a", 0, 9)}); err != nil {
		t.Fatal(err)
	}
	if err := writer.PublishSplits(ctx, "logs", []string{"a"}); err != nil {
		t.Fatal(err)
	}

	reader := NewFile(p)
	got, err := reader.ListSplits(ctx, "logs", split.Filter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || *got[0].TimeRangeEnd != 9 {
		t.Errorf("reader sees %+v", got)
	}
}

func TestMetastore_Ping(t *testing.T) {
	ctx := context.Background()
	s := newMockStore()
	if err := NewRedis(s).Ping(ctx); err != nil {
		t.Errorf("redis ping = %v", err)
	}
	s.pingErr = errors.New("down")
	if err := NewRedis(s).Ping(ctx); err == nil {
		t.Error("expected redis ping error")
	}

	dir := t.TempDir()
	if err := NewFile(filepath.Join(dir, "missing.yaml")).Ping(ctx); err != nil {
		t.Errorf("missing file is an empty metastore: %v", err)
	}
	broken := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(broken, []byte("indexes: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewFile(broken).Ping(ctx); err == nil {
		t.Error("expected parse error")
	}
}
