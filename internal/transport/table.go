// Package transport moves encoded messages between nodes.
//
// Remote nodes are reached over framed TCP connections; the local node is
// reached through an in-memory loopback channel with the same byte contract.
// Table resolves a node id to the right one.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/danmuck/pgasnet/internal/node"
	"github.com/danmuck/pgasnet/internal/protocol/message"
	"go.uber.org/multierr"
)

var ErrUnknownNode = errors.New("transport: unknown node")

// Table maps node ids to transports for one local node.
type Table struct {
	self     node.NodeID
	loopback *Loopback

	mu    sync.RWMutex
	peers map[node.NodeID]*Peer
}

var _ message.TransportResolver = (*Table)(nil)

func NewTable(self node.NodeID, env *message.Env) *Table {
	return &Table{
		self:     self,
		loopback: NewLoopback(env),
		peers:    make(map[node.NodeID]*Peer),
	}
}

func (t *Table) AddPeer(p *Peer) error {
	if p.ID() == t.self {
		return fmt.Errorf("transport: node %d is the local node", p.ID())
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[p.ID()]; ok {
		return fmt.Errorf("transport: node %d already registered", p.ID())
	}
	t.peers[p.ID()] = p
	return nil
}

func (t *Table) TransportFor(id node.NodeID) (message.Sink, error) {
	if id == t.self {
		return t.loopback, nil
	}
	t.mu.RLock()
	p, ok := t.peers[id]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	return p, nil
}

func (t *Table) Nodes() []node.NodeID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]node.NodeID, 0, len(t.peers)+1)
	out = append(out, t.self)
	for id := range t.peers {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Flush waits for every peer's queued messages to be written or dropped.
func (t *Table) Flush(ctx context.Context) error {
	t.mu.RLock()
	peers := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		peers = append(peers, p)
	}
	t.mu.RUnlock()
	var err error
	for _, p := range peers {
		err = multierr.Append(err, p.Flush(ctx))
	}
	return err
}

// Close stops every peer and closes its connection.
func (t *Table) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var err error
	for _, p := range t.peers {
		err = multierr.Append(err, p.Close())
	}
	return err
}

// Ping is a convenience for callers that want to fail fast on a bad peer
// address before sending.
func (t *Table) Ping(ctx context.Context, id node.NodeID) error {
	if id == t.self {
		return nil
	}
	t.mu.RLock()
	p, ok := t.peers[id]
	t.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownNode, id)
	}
	_, err := p.connect(ctx)
	return err
}
