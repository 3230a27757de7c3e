package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/pgasnet/internal/observability"
	"github.com/danmuck/pgasnet/internal/protocol"
	"github.com/danmuck/pgasnet/internal/protocol/chunk"
	"github.com/danmuck/pgasnet/internal/protocol/frame"
	"github.com/danmuck/pgasnet/internal/protocol/message"
	"github.com/rs/zerolog/log"
)

var ErrConnClosed = errors.New("transport: connection closed")

// Conn is one framed, bidirectional node-to-node stream. Sends are
// serialized; receives run on a single goroutine in arrival order.
type Conn struct {
	nc  net.Conn
	env *message.Env
	cfg Config

	wmu sync.Mutex
	bw  *bufio.Writer

	closed atomic.Bool
	done   chan struct{}
}

func newConn(nc net.Conn, env *message.Env, cfg Config) *Conn {
	return &Conn{
		nc:   nc,
		env:  env,
		cfg:  cfg,
		bw:   bufio.NewWriter(nc),
		done: make(chan struct{}),
	}
}

// Send stages msg in a chunked buffer to learn its length, then writes the
// frame header and the chunks.
func (c *Conn) Send(ctx context.Context, msg message.Message) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	buf := chunk.NewBuffer(c.chunkSize())
	if err := message.Encode(c.env, buf, msg); err != nil {
		return fmt.Errorf("transport: encode %s: %w", msg.Type(), err)
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.nc.SetWriteDeadline(deadline)
	if err := frame.WriteHeader(c.bw, frame.NewHeader(uint64(buf.Len())), c.cfg.Limits); err != nil {
		return err
	}
	if _, err := buf.WriteTo(c.bw); err != nil {
		c.Close()
		return err
	}
	if err := c.bw.Flush(); err != nil {
		c.Close()
		return err
	}
	return nil
}

func (c *Conn) chunkSize() int {
	if c.cfg.ChunkSize > 0 {
		return c.cfg.ChunkSize
	}
	return chunk.DefaultSize
}

func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	err := c.nc.Close()
	close(c.done)
	return err
}

// Done is closed once the connection has been closed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// serve reads frames and dispatches each one on the calling goroutine until
// the stream ends or a protocol violation closes it.
func (c *Conn) serve(ctx context.Context) {
	defer c.Close()
	r := bufio.NewReader(c.nc)
	remote := c.RemoteAddr()
	for {
		h, err := frame.ReadHeader(r, c.cfg.Limits)
		if err != nil {
			if !errors.Is(err, io.EOF) && !c.closed.Load() {
				c.violation(remote, err)
			}
			return
		}
		body := frame.Payload(r, h)
		msg, err := message.Dispatch(ctx, c.env, c, body)
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("%w: empty frame", protocol.ErrProtocolViolation)
		}
		if protocol.IsViolation(err) {
			c.violation(remote, err)
			return
		}
		if err != nil {
			log.Warn().
				Err(err).
				Str("remote", remote).
				Stringer("message", msg).
				Msg("transport.conn execute failed")
		}
		if body.N > 0 {
			c.violation(remote, fmt.Errorf("%w: %d bytes not consumed by %s", protocol.ErrProtocolViolation, body.N, msg.Type()))
			return
		}
	}
}

func (c *Conn) violation(remote string, err error) {
	observability.RecordProtocolViolation("tcp")
	log.Error().
		Err(err).
		Str("remote", remote).
		Msg("transport.conn protocol violation, closing")
}
