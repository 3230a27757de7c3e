package transport

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/danmuck/pgasnet/internal/node"
	"github.com/danmuck/pgasnet/internal/observability"
	"github.com/danmuck/pgasnet/internal/protocol/message"
	"github.com/rs/zerolog/log"
)

var (
	ErrPeerClosed = errors.New("transport: peer closed")
	ErrQueueFull  = errors.New("transport: peer send queue full")
)

// outbound is one queued message, or a flush marker when flushed is set.
type outbound struct {
	msg     message.Message
	flushed chan struct{}
}

// Peer is the outbound transport to one remote node. Send only queues the
// message; a per-peer goroutine dials, retries the dial with backoff and
// writes queued messages in order. A message whose dial or write failed is
// dropped, not retried.
type Peer struct {
	id   node.NodeID
	addr string
	env  *message.Env
	cfg  Config

	queue   chan outbound
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once

	mu   sync.Mutex
	conn *Conn
	rng  *rand.Rand

	// ctx bounds the worker and the read loops of dialed connections.
	ctx context.Context
}

func NewPeer(ctx context.Context, id node.NodeID, addr string, env *message.Env, cfg Config) *Peer {
	cfg = cfg.WithDefaults()
	p := &Peer{
		id:      id,
		addr:    addr,
		env:     env,
		cfg:     cfg,
		queue:   make(chan outbound, cfg.QueueSize),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:     ctx,
	}
	go p.run()
	return p
}

func (p *Peer) ID() node.NodeID {
	return p.id
}

func (p *Peer) Addr() string {
	return p.addr
}

// Send queues msg for delivery. It never dials or writes, so it does not
// block the decode loop that calls it. msg must not be modified afterwards.
func (p *Peer) Send(_ context.Context, msg message.Message) error {
	select {
	case <-p.quit:
		return fmt.Errorf("%w: node %d", ErrPeerClosed, p.id)
	default:
	}
	select {
	case p.queue <- outbound{msg: msg}:
		return nil
	case <-p.quit:
		return fmt.Errorf("%w: node %d", ErrPeerClosed, p.id)
	default:
		return fmt.Errorf("%w: node %d", ErrQueueFull, p.id)
	}
}

// Flush waits until every message queued before the call has been written
// or dropped.
func (p *Peer) Flush(ctx context.Context) error {
	marker := outbound{flushed: make(chan struct{})}
	select {
	case p.queue <- marker:
	case <-p.quit:
		return fmt.Errorf("%w: node %d", ErrPeerClosed, p.id)
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-marker.flushed:
		return nil
	case <-p.stopped:
		return fmt.Errorf("%w: node %d", ErrPeerClosed, p.id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Peer) run() {
	defer close(p.stopped)
	for {
		select {
		case <-p.quit:
			return
		case <-p.ctx.Done():
			return
		case item := <-p.queue:
			if item.flushed != nil {
				close(item.flushed)
				continue
			}
			p.deliver(item.msg)
		}
	}
}

func (p *Peer) deliver(msg message.Message) {
	conn, err := p.connect(p.ctx)
	if err == nil {
		err = conn.Send(p.ctx, msg)
		if err != nil {
			p.drop(conn)
		}
	}
	observability.RecordPeerSend(err == nil)
	if err != nil {
		log.Warn().
			Err(err).
			Int32("node", int32(p.id)).
			Str("addr", p.addr).
			Stringer("message", msg).
			Msg("transport.peer send dropped")
	}
}

func (p *Peer) current() *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		select {
		case <-p.conn.Done():
			p.conn = nil
		default:
		}
	}
	return p.conn
}

// connect returns the live connection or dials a new one. The lock is held
// only to read or publish the connection, never across a dial or a backoff
// sleep.
func (p *Peer) connect(ctx context.Context) (*Conn, error) {
	if conn := p.current(); conn != nil {
		return conn, nil
	}

	dialer := net.Dialer{Timeout: p.cfg.ConnectTimeout}
	var lastErr error
	for attempt := 1; attempt <= p.cfg.DialAttempts; attempt++ {
		nc, err := dialer.DialContext(ctx, "tcp", p.addr)
		if err == nil {
			return p.publish(nc, attempt), nil
		}
		lastErr = err
		if attempt == p.cfg.DialAttempts {
			break
		}
		delay := NextBackoffDelay(p.cfg.Backoff, attempt, p.rng)
		log.Warn().
			Err(err).
			Int32("node", int32(p.id)).
			Str("addr", p.addr).
			Dur("retry_in", delay).
			Msg("transport.peer dial failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-p.quit:
			return nil, fmt.Errorf("%w: node %d", ErrPeerClosed, p.id)
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("transport: dial node %d at %s: %w", p.id, p.addr, lastErr)
}

// publish installs a freshly dialed connection unless a concurrent dial won.
func (p *Peer) publish(nc net.Conn, attempt int) *Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil {
		select {
		case <-p.conn.Done():
		default:
			_ = nc.Close()
			return p.conn
		}
	}
	conn := newConn(nc, p.env, p.cfg)
	go conn.serve(p.ctx)
	p.conn = conn
	log.Debug().
		Int32("node", int32(p.id)).
		Str("addr", p.addr).
		Int("attempt", attempt).
		Msg("transport.peer connected")
	return conn
}

func (p *Peer) drop(conn *Conn) {
	p.mu.Lock()
	if p.conn == conn {
		p.conn = nil
	}
	p.mu.Unlock()
	_ = conn.Close()
}

// Close stops the worker, discarding anything still queued, and closes the
// connection. Call Flush first to deliver pending messages.
func (p *Peer) Close() error {
	p.once.Do(func() { close(p.quit) })
	<-p.stopped
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}
