package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/kailas-cloud/splitsearch/internal/docmapper"
	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
	"github.com/kailas-cloud/splitsearch/internal/repository/metastore"
	"github.com/kailas-cloud/splitsearch/internal/splitfile"
	"github.com/kailas-cloud/splitsearch/internal/storage"
)

// maxLineBytes bounds one NDJSON document.
const maxLineBytes = 16 << 20

type app struct {
	meta     metastore.Metastore
	resolver storage.Resolver
	out      io.Writer
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

func (a *app) createIndex(ctx context.Context, indexID, uri, mappingPath string) error {
	data, err := os.ReadFile(mappingPath)
	if err != nil {
		return fmt.Errorf("read doc mapping: %w", err)
	}
	var cfg docmapper.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse doc mapping %s: %w", mappingPath, err)
	}
	mapper, err := docmapper.New(cfg)
	if err != nil {
		return fmt.Errorf("doc mapping %s: %w", mappingPath, err)
	}
	serialized, err := docmapper.MarshalConfig(mapper)
	if err != nil {
		return err
	}
	if _, err := a.resolver.Resolve(uri); err != nil {
		return err
	}

	err = a.meta.CreateIndex(ctx, split.IndexMetadata{
		IndexID:    indexID,
		IndexURI:   uri,
		DocMapping: serialized,
		CreatedAt:  a.now().Unix(),
	})
	if err != nil {
		return err
	}
	a.logger.Info("Index created", zap.String("index_id", indexID), zap.String("index_uri", uri))
	return nil
}

func (a *app) deleteIndex(ctx context.Context, indexID string) error {
	if err := a.meta.DeleteIndex(ctx, indexID); err != nil {
		return err
	}
	a.logger.Info("Index deleted", zap.String("index_id", indexID))
	return nil
}

type buildOptions struct {
	maxDocsPerSegment int
	publish           bool
	// dryRun builds the split in memory and prints its metadata without uploading it.
	dryRun bool
}

// build indexes NDJSON documents from in into one new split, uploads it and stages it.
func (a *app) build(ctx context.Context, indexID string, in io.Reader, opts buildOptions) (*split.Metadata, error) {
	idx, err := a.meta.IndexMetadata(ctx, indexID)
	if err != nil {
		return nil, err
	}
	mapper, err := docmapper.FromJSON(idx.DocMapping)
	if err != nil {
		return nil, fmt.Errorf("doc mapping of %s: %w", indexID, err)
	}

	w := splitfile.NewWriter(mapper, opts.maxDocsPerSegment)
	sc := bufio.NewScanner(in)
	sc.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	line := 0
	for sc.Scan() {
		line++
		doc := sc.Bytes()
		if len(strings.TrimSpace(string(doc))) == 0 {
			continue
		}
		if err := w.Add(doc); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if w.NumDocs() == 0 {
		return nil, domain.InvalidRequestf("no documents in input")
	}

	splitID := a.newID()
	built, err := w.Finish(splitID)
	if err != nil {
		return nil, err
	}
	meta := built.Metadata(indexID, splitID, a.now().Unix())
	if opts.dryRun {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return meta, enc.Encode(meta)
	}

	st, err := a.resolver.Resolve(idx.IndexURI)
	if err != nil {
		return nil, err
	}
	if err := st.Put(ctx, split.FileName(splitID), built.Data); err != nil {
		return nil, fmt.Errorf("upload split %s: %w", splitID, err)
	}
	if err := a.meta.StageSplits(ctx, indexID, []*split.Metadata{meta}); err != nil {
		return nil, err
	}
	a.logger.Info("Split staged",
		zap.String("index_id", indexID),
		zap.String("split_id", splitID),
		zap.Uint64("num_docs", built.NumDocs),
		zap.Int("size_bytes", len(built.Data)),
	)
	if opts.publish {
		if err := a.publish(ctx, indexID, []string{splitID}); err != nil {
			return nil, err
		}
		meta.State = split.StatePublished
	}
	if _, err := fmt.Fprintln(a.out, splitID); err != nil {
		return nil, err
	}
	return meta, nil
}

func (a *app) publish(ctx context.Context, indexID string, splitIDs []string) error {
	if err := a.meta.PublishSplits(ctx, indexID, splitIDs); err != nil {
		return err
	}
	a.logger.Info("Splits published", zap.String("index_id", indexID), zap.Strings("split_ids", splitIDs))
	return nil
}

func (a *app) mark(ctx context.Context, indexID string, splitIDs []string) error {
	if err := a.meta.MarkSplitsForDeletion(ctx, indexID, splitIDs); err != nil {
		return err
	}
	a.logger.Info("Splits marked for deletion", zap.String("index_id", indexID), zap.Strings("split_ids", splitIDs))
	return nil
}

// gc deletes the files of splits marked for deletion, then forgets them. A file that is
// already gone is not an error.
func (a *app) gc(ctx context.Context, indexID string) error {
	idx, err := a.meta.IndexMetadata(ctx, indexID)
	if err != nil {
		return err
	}
	all, err := a.meta.ListAllSplits(ctx, indexID)
	if err != nil {
		return err
	}
	marked := lo.FilterMap(all, func(m *split.Metadata, _ int) (string, bool) {
		return m.SplitID, m.State == split.StateMarkedForDeletion
	})
	if len(marked) == 0 {
		a.logger.Info("Nothing to collect", zap.String("index_id", indexID))
		return nil
	}

	st, err := a.resolver.Resolve(idx.IndexURI)
	if err != nil {
		return err
	}
	for _, id := range marked {
		err := st.Delete(ctx, split.FileName(id))
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("delete split %s: %w", id, err)
		}
	}
	if err := a.meta.DeleteSplits(ctx, indexID, marked); err != nil {
		return err
	}
	a.logger.Info("Splits collected", zap.String("index_id", indexID), zap.Int("count", len(marked)))
	return nil
}

// inspect prints the indexes, the splits of one index or the footer of one split.
func (a *app) inspect(ctx context.Context, indexID, splitID string) error {
	if indexID == "" {
		return a.listIndexes(ctx)
	}
	if splitID == "" {
		return a.listSplits(ctx, indexID)
	}
	return a.describeSplit(ctx, indexID, splitID)
}

func (a *app) listIndexes(ctx context.Context) error {
	indexes, err := a.meta.ListIndexes(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "INDEX\tURI\tCREATED")
	for _, idx := range indexes {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", idx.IndexID, idx.IndexURI, time.Unix(idx.CreatedAt, 0).UTC().Format(time.RFC3339))
	}
	return tw.Flush()
}

func (a *app) listSplits(ctx context.Context, indexID string) error {
	splits, err := a.meta.ListAllSplits(ctx, indexID)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SPLIT\tSTATE\tDOCS\tBYTES\tTIME RANGE")
	for _, m := range splits {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\n", m.SplitID, m.State, m.NumDocs, m.SizeBytes, timeRange(m))
	}
	return tw.Flush()
}

func timeRange(m *split.Metadata) string {
	if m.TimeRangeStart == nil || m.TimeRangeEnd == nil {
		return "-"
	}
	return fmt.Sprintf("%d..%d", *m.TimeRangeStart, *m.TimeRangeEnd)
}

type splitReport struct {
	Metadata *split.Metadata   `json:"metadata"`
	Footer   *splitfile.Footer `json:"footer"`
}

func (a *app) describeSplit(ctx context.Context, indexID, splitID string) error {
	idx, err := a.meta.IndexMetadata(ctx, indexID)
	if err != nil {
		return err
	}
	all, err := a.meta.ListAllSplits(ctx, indexID)
	if err != nil {
		return err
	}
	meta, ok := lo.Find(all, func(m *split.Metadata) bool { return m.SplitID == splitID })
	if !ok {
		return fmt.Errorf("split %s of index %s: %w", splitID, indexID, domain.ErrNotFound)
	}

	r, err := splitfile.NewOpener(a.resolver, nil).Open(ctx, idx.IndexURI, meta.Offsets())
	if err != nil {
		return err
	}
	defer r.Close()

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(splitReport{Metadata: meta, Footer: r.Footer()})
}
