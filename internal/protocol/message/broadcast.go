package message

import (
	"context"
	"fmt"

	"github.com/danmuck/pgasnet/internal/node"
	"github.com/danmuck/pgasnet/internal/observability"
	"github.com/danmuck/pgasnet/internal/protocol"
	"github.com/danmuck/pgasnet/internal/protocol/chunk"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

func init() {
	Register(protocol.MessageValueBroadcastRequest, func() Message { return &ValueBroadcastRequest{} })
}

// ValueBroadcastRequest disseminates a shared-variable update to every member
// of a group. The originator carries Value; every relay carries the still
// encoded Payload and never decodes it for forwarding.
type ValueBroadcastRequest struct {
	RequestNum        int32
	GroupID           int32
	RequesterThreadID int32
	StorageName       string
	Name              string

	Value   any
	Payload *chunk.Buffer

	report *BroadcastReport
}

func NewValueBroadcastRequest(requestNum, groupID, requesterThreadID int32, storageName, name string, value any) *ValueBroadcastRequest {
	return &ValueBroadcastRequest{
		RequestNum:        requestNum,
		GroupID:           groupID,
		RequesterThreadID: requesterThreadID,
		StorageName:       storageName,
		Name:              name,
		Value:             value,
	}
}

func (m *ValueBroadcastRequest) Type() protocol.MessageType {
	return protocol.MessageValueBroadcastRequest
}

func (m *ValueBroadcastRequest) Encode(env *Env, w *protocol.Writer) error {
	if err := w.WriteInt32(m.RequestNum); err != nil {
		return err
	}
	if err := w.WriteInt32(m.GroupID); err != nil {
		return err
	}
	if err := w.WriteInt32(m.RequesterThreadID); err != nil {
		return err
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
		return fmt.Errorf("message: broadcast %d: no value codec", m.RequestNum)
	}
	return env.Codec.Encode(w.Rest(), m.Value)
}

func (m *ValueBroadcastRequest) Decode(env *Env, r *protocol.Reader) error {
	var err error
	if m.RequestNum, err = r.ReadInt32(); err != nil {
		return err
	}
	if m.GroupID, err = r.ReadInt32(); err != nil {
		return err
	}
	if m.RequesterThreadID, err = r.ReadInt32(); err != nil {
		return err
	}
	if m.StorageName, err = r.ReadString(); err != nil {
		return err
	}
	if m.Name, err = r.ReadString(); err != nil {
		return err
	}
	m.Payload, err = readPayload(env, r)
	return err
}

// Execute relays the payload to the local node's spanning-tree children and
// writes a freshly decoded value into every local member's storage.
//
// Per-thread failures are recorded in Report and do not stop the remaining
// threads or the forwards. The returned error is a protocol violation, an
// unknown group, or the aggregated forward failures once every child has been
// attempted. A forward hands the message to the child's transport; remote
// transports only queue it, so an unreachable child does not hold up this
// goroutine.
func (m *ValueBroadcastRequest) Execute(ctx context.Context, env *Env, sender Sink, r *protocol.Reader) error {
	if err := m.Decode(env, r); err != nil {
		return err
	}
	observability.RecordBroadcastPayload(m.Payload.Len())

	group, err := env.Groups.Group(m.GroupID)
	if err != nil {
		return fmt.Errorf("message: broadcast %d: %w", m.RequestNum, err)
	}

	report := &BroadcastReport{}
	m.report = report

	children := group.ChildrenNodes()
	report.Forwards = make([]ForwardResult, len(children))
	fwd := m.forward()
	var g errgroup.Group
	for i, child := range children {
		g.Go(func() error {
			err := sendTo(ctx, env, child, fwd)
			report.Forwards[i] = ForwardResult{Node: child, Err: err}
			observability.RecordBroadcastForward(err == nil)
			if err != nil {
				log.Warn().
					Err(err).
					Int32("request", m.RequestNum).
					Int32("group", m.GroupID).
					Int32("child", int32(child)).
					Msg("broadcast.forward failed")
				return fmt.Errorf("forward to node %d: %w", child, err)
			}
			return nil
		})
	}

	report.Applied = m.applyLocal(env, group)
	forwardErr := g.Wait()

	log.Debug().
		Int32("request", m.RequestNum).
		Int32("group", m.GroupID).
		Int("children", len(children)).
		Int("applied", report.AppliedCount()).
		Int("failed", len(report.Failed())).
		Msg("broadcast.execute done")
	if forwardErr != nil {
		// Wait keeps only the first failure; the report holds every one.
		return report.ForwardErr()
	}
	return nil
}

// Report returns the outcome of the last Execute, or nil before it ran.
func (m *ValueBroadcastRequest) Report() *BroadcastReport {
	return m.report
}

func (m *ValueBroadcastRequest) forward() *ValueBroadcastRequest {
	return &ValueBroadcastRequest{
		RequestNum:        m.RequestNum,
		GroupID:           m.GroupID,
		RequesterThreadID: m.RequesterThreadID,
		StorageName:       m.StorageName,
		Name:              m.Name,
		Payload:           m.Payload,
	}
}

func (m *ValueBroadcastRequest) applyLocal(env *Env, group node.Group) []ApplyResult {
	locals := group.LocalThreadIDs()
	out := make([]ApplyResult, 0, len(locals))
	for _, local := range locals {
		res := ApplyResult{Local: local}
		res.Thread, res.Err = m.applyOne(env, group, local)
		observability.RecordBroadcastApply(res.Err == nil)
		if res.Err != nil {
			log.Error().
				Err(res.Err).
				Int32("request", m.RequestNum).
				Int32("group", m.GroupID).
				Int32("local_thread", int32(local)).
				Str("storage", m.StorageName).
				Str("name", m.Name).
				Msg("broadcast.apply failed")
		}
		out = append(out, res)
	}
	return out
}

func (m *ValueBroadcastRequest) applyOne(env *Env, group node.Group, local node.ThreadID) (node.ThreadID, error) {
	global, err := group.GlobalThreadID(local)
	if err != nil {
		return 0, err
	}
	storage, err := env.Storages.Storage(global)
	if err != nil {
		return global, err
	}
	value, err := env.Codec.Decode(m.Payload.NewReader())
	if err != nil {
		return global, err
	}
	return global, storage.Put(m.StorageName, m.Name, value)
}

func (m *ValueBroadcastRequest) String() string {
	payload := "value"
	if m.Payload != nil {
		payload = fmt.Sprintf("%d bytes", m.Payload.Len())
	}
	return describe(m.Type(), fmt.Sprintf(
		"requestNum:%d, groupId:%d, requesterThreadId:%d, storageName:%s, name:%s, payload:%s",
		m.RequestNum, m.GroupID, m.RequesterThreadID, m.StorageName, m.Name, payload,
	))
}

// ForwardResult is the outcome of relaying to one child node.
type ForwardResult struct {
	Node node.NodeID
	Err  error
}

// ApplyResult is the outcome of writing the value for one local member.
type ApplyResult struct {
	Local  node.ThreadID
	Thread node.ThreadID
	Err    error
}

// BroadcastReport collects per-child and per-thread outcomes of one
// broadcast at one node.
type BroadcastReport struct {
	Forwards []ForwardResult
	Applied  []ApplyResult
}

func (r *BroadcastReport) AppliedCount() int {
	n := 0
	for _, a := range r.Applied {
		if a.Err == nil {
			n++
		}
	}
	return n
}

func (r *BroadcastReport) Failed() []ApplyResult {
	var out []ApplyResult
	for _, a := range r.Applied {
		if a.Err != nil {
			out = append(out, a)
		}
	}
	return out
}

// ForwardErr combines every failed forward, or nil.
func (r *BroadcastReport) ForwardErr() error {
	var err error
	for _, f := range r.Forwards {
		if f.Err != nil {
			err = multierr.Append(err, fmt.Errorf("forward to node %d: %w", f.Node, f.Err))
		}
	}
	return err
}

func sendTo(ctx context.Context, env *Env, id node.NodeID, msg Message) error {
	sink, err := env.Transports.TransportFor(id)
	if err != nil {
		return err
	}
	return sink.Send(ctx, msg)
}
