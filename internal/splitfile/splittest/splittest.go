// Package splittest builds split files in memory for tests.
package splittest

import (
	"context"
	"testing"

	"github.com/kailas-cloud/splitsearch/internal/docmapper"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
	"github.com/kailas-cloud/splitsearch/internal/splitfile"
	"github.com/kailas-cloud/splitsearch/internal/storage"
)

// IndexURI is the in-memory location of the test index.
const IndexURI = "ram:///indexes/logs"

// IndexID is the id of the test index.
const IndexID = "logs"

// MapperConfig is a small log schema: a timestamp, a text body, a host tag, a latency
// and an explicit rank field to sort on.
func MapperConfig() docmapper.Config {
	return docmapper.Config{
		FieldMappings: []docmapper.FieldMapping{
			{Name: "ts", Type: docmapper.TypeI64, Fast: true, Indexed: true},
			{Name: "body", Type: docmapper.TypeText, Indexed: true},
			{Name: "host", Type: docmapper.TypeText, Indexed: true, Fast: true, Tokenizer: docmapper.TokenizerRaw},
			{Name: "latency", Type: docmapper.TypeF64, Fast: true},
			{Name: "rank", Type: docmapper.TypeI64, Fast: true},
		},
		TimestampField:      "ts",
		TagFields:           []string{"host"},
		DefaultSearchFields: []string{"body"},
	}
}

// Mapper returns the test doc mapper.
func Mapper(t testing.TB) docmapper.DocMapper {
	t.Helper()
	m, err := docmapper.New(MapperConfig())
	if err != nil {
		t.Fatalf("mapper: %v", err)
	}
	return m
}

// MapperJSON returns the serialized test doc mapper.
func MapperJSON(t testing.TB) string {
	t.Helper()
	s, err := docmapper.MarshalConfig(Mapper(t))
	if err != nil {
		t.Fatalf("marshal mapper: %v", err)
	}
	return s
}

// Build writes a split of docs under IndexURI and returns its metadata in the
// published state.
func Build(t testing.TB, r storage.Resolver, splitID string, segSize int, docs ...string) *split.Metadata {
	t.Helper()
	w := splitfile.NewWriter(Mapper(t), segSize)
	for _, d := range docs {
		if err := w.Add([]byte(d)); err != nil {
			t.Fatalf("add doc to %s: %v", splitID, err)
		}
	}
	b, err := w.Finish(splitID)
	if err != nil {
		t.Fatalf("finish %s: %v", splitID, err)
	}
	st, err := r.Resolve(IndexURI)
	if err != nil {
		t.Fatal(err)
	}
	if err := st.Put(context.Background(), split.FileName(splitID), b.Data); err != nil {
		t.Fatal(err)
	}
	m := b.Metadata(IndexID, splitID, 0)
	m.State = split.StatePublished
	return m
}
