package node

import (
	"fmt"
	"sync"
)

// Group is one communication group as seen from the local node.
type Group interface {
	ID() int32
	// ChildrenNodes returns the local node's children in the group's
	// spanning tree, in stable order.
	ChildrenNodes() []NodeID
	// LocalThreadIDs returns the group-local ids of members hosted here.
	LocalThreadIDs() []ThreadID
	GlobalThreadID(local ThreadID) (ThreadID, error)
}

// TreeGroup lays the group's nodes out as a binary spanning tree in order of
// first appearance in the member list. The first node is the root.
type TreeGroup struct {
	id       int32
	name     string
	self     NodeID
	members  []Member
	nodes    []NodeID
	children []NodeID
	local    []ThreadID
}

var _ Group = (*TreeGroup)(nil)

// NewTreeGroup builds the view of group id from node self. members is indexed
// by group-local thread id.
func NewTreeGroup(id int32, name string, self NodeID, members []Member) (*TreeGroup, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: group %d has no members", ErrInvalidGroup, id)
	}
	g := &TreeGroup{
		id:      id,
		name:    name,
		self:    self,
		members: append([]Member(nil), members...),
	}
	seenThread := make(map[ThreadID]struct{}, len(members))
	position := make(map[NodeID]int)
	for i, m := range members {
		if _, dup := seenThread[m.Thread]; dup {
			return nil, fmt.Errorf("%w: group %d lists thread %d twice", ErrInvalidGroup, id, m.Thread)
		}
		seenThread[m.Thread] = struct{}{}
		if _, ok := position[m.Node]; !ok {
			position[m.Node] = len(g.nodes)
			g.nodes = append(g.nodes, m.Node)
		}
		if m.Node == self {
			g.local = append(g.local, ThreadID(i))
		}
	}
	if idx, ok := position[self]; ok {
		for _, c := range []int{2*idx + 1, 2*idx + 2} {
			if c < len(g.nodes) {
				g.children = append(g.children, g.nodes[c])
			}
		}
	}
	return g, nil
}

func (g *TreeGroup) ID() int32 {
	return g.id
}

func (g *TreeGroup) Name() string {
	return g.name
}

// Root is the node a broadcast for this group is sent to first.
func (g *TreeGroup) Root() NodeID {
	return g.nodes[0]
}

func (g *TreeGroup) Nodes() []NodeID {
	return append([]NodeID(nil), g.nodes...)
}

func (g *TreeGroup) ChildrenNodes() []NodeID {
	return append([]NodeID(nil), g.children...)
}

func (g *TreeGroup) LocalThreadIDs() []ThreadID {
	return append([]ThreadID(nil), g.local...)
}

func (g *TreeGroup) GlobalThreadID(local ThreadID) (ThreadID, error) {
	if local < 0 || int(local) >= len(g.members) {
		return 0, fmt.Errorf("%w: group %d has no local thread %d", ErrUnknownThread, g.id, local)
	}
	return g.members[local].Thread, nil
}

// Directory resolves group ids for the local node.
type Directory struct {
	mu     sync.RWMutex
	groups map[int32]Group
}

func NewDirectory() *Directory {
	return &Directory{groups: make(map[int32]Group)}
}

func (d *Directory) Put(g Group) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[g.ID()] = g
}

func (d *Directory) Group(id int32) (Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownGroup, id)
	}
	return g, nil
}

// NodeOf returns the node hosting group-local thread local.
func (g *TreeGroup) NodeOf(local ThreadID) (NodeID, error) {
	if local < 0 || int(local) >= len(g.members) {
		return 0, fmt.Errorf("%w: group %d has no local thread %d", ErrUnknownThread, g.id, local)
	}
	return g.members[local].Node, nil
}
