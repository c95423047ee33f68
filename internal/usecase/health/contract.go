package health

import "context"

// MetastorePinger checks metastore availability.
type MetastorePinger interface {
	Ping(ctx context.Context) error
}

// PeerPinger checks the searcher nodes of the cluster, returning the failure of every
// unreachable node.
type PeerPinger interface {
	Ping(ctx context.Context) map[string]error
}
