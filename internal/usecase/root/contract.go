package root

import (
	"context"

	"github.com/kailas-cloud/splitsearch/internal/cluster"
	"github.com/kailas-cloud/splitsearch/internal/domain/split"
)

// Metastore resolves indexes and their searchable splits.
type Metastore interface {
	IndexMetadata(ctx context.Context, indexID string) (*split.IndexMetadata, error)
	ListSplits(ctx context.Context, indexID string, filter split.Filter) ([]*split.Metadata, error)
}

// NodePool gives access to the searcher nodes.
type NodePool interface {
	Nodes() []string
	Client(nodeID string) (cluster.Client, error)
}
