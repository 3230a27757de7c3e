package transport

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/pgasnet/internal/observability"
	"github.com/danmuck/pgasnet/internal/protocol"
	"github.com/danmuck/pgasnet/internal/protocol/loopback"
	"github.com/danmuck/pgasnet/internal/protocol/message"
)

// Loopback delivers messages addressed to the local node. Send encodes into a
// loopback channel, closes it and dispatches from its reader before
// returning, so the receiver sees exactly the bytes a socket would carry.
type Loopback struct {
	env *message.Env
}

func NewLoopback(env *message.Env) *Loopback {
	return &Loopback{env: env}
}

func (l *Loopback) Send(ctx context.Context, msg message.Message) error {
	w, r := loopback.New(l.env.ChunkSize)
	if err := message.Encode(l.env, w, msg); err != nil {
		return fmt.Errorf("transport: encode %s: %w", msg.Type(), err)
	}
	if err := w.Close(); err != nil {
		return err
	}
	_, err := message.Dispatch(ctx, l.env, l, r)
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("%w: empty loopback message", protocol.ErrProtocolViolation)
	}
	if protocol.IsViolation(err) {
		observability.RecordProtocolViolation("loopback")
		return err
	}
	if err != nil {
		return err
	}
	if r.Buffered() > 0 {
		observability.RecordProtocolViolation("loopback")
		return fmt.Errorf("%w: %d bytes not consumed by %s", protocol.ErrProtocolViolation, r.Buffered(), msg.Type())
	}
	return nil
}
