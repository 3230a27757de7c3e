// Package node holds the node-local collaborators the message handlers act
// on: group membership with its spanning tree, and per-thread storage.
package node

import "errors"

// NodeID identifies a physical node.
type NodeID int32

// ThreadID identifies a thread. Inside a Group it is the group-local index;
// everywhere else it is the global thread id.
type ThreadID int32

var (
	ErrUnknownGroup  = errors.New("node: unknown group")
	ErrUnknownThread = errors.New("node: unknown thread")
	ErrInvalidGroup  = errors.New("node: invalid group")
)

// Member places one global thread on one physical node.
type Member struct {
	Thread ThreadID
	Node   NodeID
}
