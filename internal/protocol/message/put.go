package message

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/pgasnet/internal/node"
	"github.com/danmuck/pgasnet/internal/protocol"
	"github.com/danmuck/pgasnet/internal/protocol/chunk"
	"github.com/rs/zerolog/log"
)

func init() {
	Register(protocol.MessageValuePutRequest, func() Message { return &ValuePutRequest{} })
	Register(protocol.MessageValuePutResponse, func() Message { return &ValuePutResponse{} })
}

// ValuePutRequest writes a value into the storage of one group member and
// asks for an acknowledgement.
type ValuePutRequest struct {
	RequestNum        int32
	GroupID           int32
	RequesterThreadID int32
	ThreadID          int32
	StorageName       string
	Name              string

	Value   any
	Payload *chunk.Buffer
}

func (m *ValuePutRequest) Type() protocol.MessageType {
	return protocol.MessageValuePutRequest
}

func (m *ValuePutRequest) Encode(env *Env, w *protocol.Writer) error {
	for _, v := range []int32{m.RequestNum, m.GroupID, m.RequesterThreadID, m.ThreadID} {
		if err := w.WriteInt32(v); err != nil {
			return err
		}
	}
	if err := w.WriteString(m.StorageName); err != nil {
		return err
	}
	if err := w.WriteString(m.Name); err != nil {
		return err
	}
	if m.Payload != nil {
		_, err := m.Payload.WriteTo(w.Rest())
		return err
	}
	if env == nil || env.Codec == nil {
		return fmt.Errorf("message: put %d: no value codec", m.RequestNum)
	}
	return env.Codec.Encode(w.Rest(), m.Value)
}

func (m *ValuePutRequest) Decode(env *Env, r *protocol.Reader) error {
	for _, dst := range []*int32{&m.RequestNum, &m.GroupID, &m.RequesterThreadID, &m.ThreadID} {
		v, err := r.ReadInt32()
		if err != nil {
			return err
		}
		*dst = v
	}
	var err error
	if m.StorageName, err = r.ReadString(); err != nil {
		return err
	}
	if m.Name, err = r.ReadString(); err != nil {
		return err
	}
	m.Payload, err = readPayload(env, r)
	return err
}

// Execute applies the put and answers the sender. A failed apply is reported
// in the response, not returned.
func (m *ValuePutRequest) Execute(ctx context.Context, env *Env, sender Sink, r *protocol.Reader) error {
	if err := m.Decode(env, r); err != nil {
		return err
	}
	applyErr := m.apply(env)
	if applyErr != nil {
		log.Error().
			Err(applyErr).
			Int32("request", m.RequestNum).
			Int32("group", m.GroupID).
			Int32("thread", m.ThreadID).
			Msg("put.apply failed")
	}
	if sender == nil {
		return nil
	}
	resp := &ValuePutResponse{
		RequestNum:        m.RequestNum,
		GroupID:           m.GroupID,
		RequesterThreadID: m.RequesterThreadID,
	}
	if applyErr != nil {
		resp.Error = applyErr.Error()
	}
	return sender.Send(ctx, resp)
}

func (m *ValuePutRequest) apply(env *Env) error {
	group, err := env.Groups.Group(m.GroupID)
	if err != nil {
		return err
	}
	global, err := group.GlobalThreadID(node.ThreadID(m.ThreadID))
	if err != nil {
		return err
	}
	storage, err := env.Storages.Storage(global)
	if err != nil {
		return err
	}
	value, err := env.Codec.Decode(m.Payload.NewReader())
	if err != nil {
		return err
	}
	return storage.Put(m.StorageName, m.Name, value)
}

func (m *ValuePutRequest) String() string {
	return describe(m.Type(), fmt.Sprintf(
		"requestNum:%d, groupId:%d, requesterThreadId:%d, threadId:%d, storageName:%s, name:%s",
		m.RequestNum, m.GroupID, m.RequesterThreadID, m.ThreadID, m.StorageName, m.Name,
	))
}

// ValuePutResponse acknowledges a put. Error is empty on success.
type ValuePutResponse struct {
	RequestNum        int32
	GroupID           int32
	RequesterThreadID int32
	Error             string
}

func (m *ValuePutResponse) Type() protocol.MessageType {
	return protocol.MessageValuePutResponse
}

func (m *ValuePutResponse) Encode(_ *Env, w *protocol.Writer) error {
	for _, v := range []int32{m.RequestNum, m.GroupID, m.RequesterThreadID} {
		if err := w.WriteInt32(v); err != nil {
			return err
		}
	}
	failed := m.Error != ""
	if err := w.WriteBool(failed); err != nil {
		return err
	}
	if failed {
		return w.WriteString(m.Error)
	}
	return nil
}

func (m *ValuePutResponse) Decode(_ *Env, r *protocol.Reader) error {
	for _, dst := range []*int32{&m.RequestNum, &m.GroupID, &m.RequesterThreadID} {
		v, err := r.ReadInt32()
		if err != nil {
			return err
		}
		*dst = v
	}
	failed, err := r.ReadBool()
	if err != nil {
		return err
	}
	if failed {
		m.Error, err = r.ReadString()
	}
	return err
}

func (m *ValuePutResponse) Execute(_ context.Context, env *Env, _ Sink, r *protocol.Reader) error {
	if err := m.Decode(env, r); err != nil {
		return err
	}
	if env.Requests == nil || !env.Requests.Complete(m.RequestNum, m.Err()) {
		log.Warn().
			Int32("request", m.RequestNum).
			Msg("put.response without waiter")
	}
	return nil
}

// Err converts the carried failure back into an error wrapping ErrRemotePut.
func (m *ValuePutResponse) Err() error {
	if m.Error == "" {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrRemotePut, m.Error)
}

func (m *ValuePutResponse) String() string {
	return describe(m.Type(), fmt.Sprintf(
		"requestNum:%d, groupId:%d, requesterThreadId:%d, error:%q",
		m.RequestNum, m.GroupID, m.RequesterThreadID, m.Error,
	))
}

type threadLocator interface {
	NodeOf(local node.ThreadID) (node.NodeID, error)
}

var ErrNoLocator = errors.New("message: group cannot locate threads")

// Put sends value to group-local thread target and waits for the
// acknowledgement or ctx.
func Put(ctx context.Context, env *Env, groupID, requester int32, target node.ThreadID, storageName, name string, value any) error {
	group, err := env.Groups.Group(groupID)
	if err != nil {
		return err
	}
	loc, ok := group.(threadLocator)
	if !ok {
		return fmt.Errorf("%w: group %d", ErrNoLocator, groupID)
	}
	dst, err := loc.NodeOf(target)
	if err != nil {
		return err
	}

	req := &ValuePutRequest{
		RequestNum:        env.Requests.Next(),
		GroupID:           groupID,
		RequesterThreadID: requester,
		ThreadID:          int32(target),
		StorageName:       storageName,
		Name:              name,
		Value:             value,
	}
	done := env.Requests.Await(req.RequestNum)
	if err := sendTo(ctx, env, dst, req); err != nil {
		env.Requests.Cancel(req.RequestNum)
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		env.Requests.Cancel(req.RequestNum)
		return ctx.Err()
	}
}

// Broadcast sends value to every member of the group by way of the group
// root. The call returns once the root has accepted the message.
func Broadcast(ctx context.Context, env *Env, groupID, requester int32, storageName, name string, value any) error {
	group, err := env.Groups.Group(groupID)
	if err != nil {
		return err
	}
	rooted, ok := group.(interface{ Root() node.NodeID })
	if !ok {
		return fmt.Errorf("%w: group %d", ErrNoLocator, groupID)
	}
	req := NewValueBroadcastRequest(env.Requests.Next(), groupID, requester, storageName, name, value)
	return sendTo(ctx, env, rooted.Root(), req)
}
