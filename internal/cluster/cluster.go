// Package cluster knows the searcher nodes and which node serves which split.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/kailas-cloud/splitsearch/internal/domain"
	"github.com/kailas-cloud/splitsearch/internal/domain/search"
)

// Client is the leaf-side RPC surface of one node.
type Client interface {
	LeafSearch(ctx context.Context, req *search.LeafSearchRequest) (*search.LeafSearchResponse, error)
	FetchDocs(ctx context.Context, req *search.FetchDocsRequest) (*search.FetchDocsResponse, error)
	// LeafSearchStream delivers chunks until the leaf is done; the channel is closed at
	// the end of the stream, whether it completed or not.
	LeafSearchStream(ctx context.Context, req *search.LeafSearchStreamRequest) (<-chan *search.LeafSearchStreamResponse, error)
	LeafListTerms(ctx context.Context, req *search.LeafListTermsRequest) (*search.LeafListTermsResponse, error)
	Ping(ctx context.Context) error
}

// Node is a configured searcher node.
type Node struct {
	ID       string
	GRPCAddr string
}

// Pool holds one client per node.
type Pool struct {
	mu      sync.RWMutex
	clients map[string]Client
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{clients: map[string]Client{}}
}

// Add registers the client of a node, replacing any previous one.
func (p *Pool) Add(nodeID string, c Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clients[nodeID] = c
}

// Nodes returns the node ids in sorted order.
func (p *Pool) Nodes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]string, 0, len(p.clients))
	for id := range p.clients {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Client returns the client of a node.
func (p *Pool) Client(nodeID string) (Client, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[nodeID]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", nodeID, domain.ErrNotFound)
	}
	return c, nil
}

// Ping checks every node. The result has one entry per node, nil when reachable.
func (p *Pool) Ping(ctx context.Context) map[string]error {
	out := map[string]error{}
	for _, id := range p.Nodes() {
		c, err := p.Client(id)
		if err == nil {
			err = c.Ping(ctx)
		}
		out[id] = err
	}
	return out
}

// Close closes every client that holds a connection.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var errs []error
	for id, c := range p.clients {
		if closer, ok := c.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close client of %s: %w", id, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Dialer connects to a remote node.
type Dialer func(n Node) (Client, error)

// Build creates a pool with local serving self and a dialed client for every other node.
// Clients dialed before a failure are closed.
func Build(self string, nodes []Node, local Client, dial Dialer) (*Pool, error) {
	p := NewPool()
	for _, n := range nodes {
		if n.ID == self {
			p.Add(n.ID, local)
			continue
		}
		c, err := dial(n)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("dial node %s at %s: %w", n.ID, n.GRPCAddr, err)
		}
		p.Add(n.ID, c)
	}
	if _, err := p.Client(self); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("local node %s is not part of the cluster", self)
	}
	return p, nil
}

// Assign maps every item to exactly one node by rendezvous hashing on its key, so a
// split keeps landing on the same node (and its caches) while the node set is stable.
func Assign[T any](items []T, key func(T) string, nodes []string) (map[string][]T, error) {
	if len(nodes) == 0 {
		if len(items) == 0 {
			return map[string][]T{}, nil
		}
		return nil, domain.ErrNoNodes
	}
	out := make(map[string][]T, len(nodes))
	for _, item := range items {
		node := pick(key(item), nodes)
		out[node] = append(out[node], item)
	}
	return out, nil
}

func pick(key string, nodes []string) string {
	var best string
	var bestScore uint64
	for i, n := range nodes {
		d := xxhash.New()
		_, _ = d.WriteString(n)
		_, _ = d.Write([]byte{0})
		_, _ = d.WriteString(key)
		score := d.Sum64()
		if i == 0 || score > bestScore || (score == bestScore && n < best) {
			best, bestScore = n, score
		}
	}
	return best
}
