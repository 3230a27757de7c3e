// Package message defines the closed set of node-to-node message variants.
//
// Every variant encodes its fields after the one-byte type tag, decodes them
// in the same order, and executes its receive-side effect synchronously on
// the goroutine that decoded the tag. Dispatch instantiates variants through
// a registry keyed by tag.
package message

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/danmuck/pgasnet/internal/codec"
	"github.com/danmuck/pgasnet/internal/node"
	"github.com/danmuck/pgasnet/internal/observability"
	"github.com/danmuck/pgasnet/internal/protocol"
	"github.com/danmuck/pgasnet/internal/protocol/chunk"
)

// Message is one typed, self-describing wire message.
type Message interface {
	Type() protocol.MessageType
	// Encode writes the variant fields; the tag is written by the package
	// level Encode.
	Encode(env *Env, w *protocol.Writer) error
	Decode(env *Env, r *protocol.Reader) error
	// Execute decodes the variant fields from r and performs the effect.
	Execute(ctx context.Context, env *Env, sender Sink, r *protocol.Reader) error
	String() string
}

// Sink accepts encoded messages for one destination node.
type Sink interface {
	Send(ctx context.Context, msg Message) error
}

type GroupResolver interface {
	Group(id int32) (node.Group, error)
}

type StorageResolver interface {
	Storage(thread node.ThreadID) (node.Storage, error)
}

type TransportResolver interface {
	TransportFor(id node.NodeID) (Sink, error)
}

// Env carries the node-local collaborators handlers act on.
type Env struct {
	Node       node.NodeID
	Groups     GroupResolver
	Storages   StorageResolver
	Transports TransportResolver
	Codec      codec.ValueCodec
	Requests   *Requests
	ChunkSize  int
}

func (e *Env) chunkSize() int {
	if e == nil || e.ChunkSize <= 0 {
		return chunk.DefaultSize
	}
	return e.ChunkSize
}

var (
	registryMu sync.RWMutex
	registry   = make(map[protocol.MessageType]func() Message)
)

// Register binds a tag to the constructor used at decode time. Registering a
// tag twice panics.
func Register(t protocol.MessageType, factory func() Message) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, ok := registry[t]; ok {
		panic(fmt.Sprintf("message: type %s registered twice", t))
	}
	registry[t] = factory
}

func lookup(t protocol.MessageType) (Message, error) {
	registryMu.RLock()
	factory, ok := registry[t]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", protocol.ErrProtocolViolation, protocol.ErrUnknownMessageType, t)
	}
	return factory(), nil
}

// Encode writes the tag of msg followed by its fields.
func Encode(env *Env, w io.Writer, msg Message) error {
	pw := protocol.NewWriter(w)
	if err := pw.WriteType(msg.Type()); err != nil {
		return err
	}
	if err := msg.Encode(env, pw); err != nil {
		return err
	}
	observability.RecordMessage(observability.DirectionOut, msg.Type().String())
	return nil
}

// Decode reads one message from r without executing it. r must end where the
// message ends.
func Decode(env *Env, r io.Reader) (Message, error) {
	pr := protocol.NewReader(r)
	t, err := pr.ReadType()
	if err != nil {
		return nil, err
	}
	msg, err := lookup(t)
	if err != nil {
		return nil, err
	}
	if err := msg.Decode(env, pr); err != nil {
		return nil, err
	}
	return msg, nil
}

// Dispatch reads the tag from r, instantiates the variant and executes it on
// the calling goroutine. It returns the executed message so callers can
// inspect its outcome. A clean end of stream before the tag returns io.EOF.
func Dispatch(ctx context.Context, env *Env, sender Sink, r io.Reader) (Message, error) {
	pr := protocol.NewReader(r)
	t, err := pr.ReadType()
	if err != nil {
		return nil, err
	}
	msg, err := lookup(t)
	if err != nil {
		return nil, err
	}
	observability.RecordMessage(observability.DirectionIn, t.String())
	return msg, msg.Execute(ctx, env, sender, pr)
}

func describe(t protocol.MessageType, params string) string {
	return fmt.Sprintf("Message{Type:%s, objs:{%s}}", t, params)
}

// readPayload stages the rest of the message as an opaque chunked buffer.
func readPayload(env *Env, r *protocol.Reader) (*chunk.Buffer, error) {
	buf, err := chunk.ReadAllFrom(r.Rest(), env.chunkSize())
	if err != nil {
		if protocol.IsViolation(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: read payload: %w", protocol.ErrProtocolViolation, err)
	}
	return buf, nil
}
