package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/danmuck/pgasnet/internal/protocol/message"
	"github.com/rs/zerolog/log"
)

// Listener accepts inbound node connections and dispatches their messages.
type Listener struct {
	env *message.Env
	cfg Config

	connsMu sync.Mutex
	conns   map[*Conn]struct{}
	active  atomic.Int64
	wg      sync.WaitGroup
}

func NewListener(env *message.Env, cfg Config) *Listener {
	return &Listener{
		env:   env,
		cfg:   cfg.WithDefaults(),
		conns: make(map[*Conn]struct{}),
	}
}

// Serve runs the accept loop on ln until ctx is done, then closes every
// accepted connection and waits for their read loops to exit.
func (l *Listener) Serve(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	defer l.wg.Wait()
	// done stops the closer below when Serve returns on an accept error.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		l.closeAllConns()
		_ = ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		conn := newConn(nc, l.env, l.cfg)
		l.trackConn(conn)
		l.wg.Add(1)
		go l.handleConn(ctx, conn)
	}
}

func (l *Listener) Active() int64 {
	return l.active.Load()
}

func (l *Listener) handleConn(ctx context.Context, conn *Conn) {
	defer l.wg.Done()
	defer l.untrackConn(conn)
	remote := conn.RemoteAddr()
	active := l.active.Add(1)
	log.Debug().Str("remote", remote).Int64("active", active).Msg("transport.listener connected")
	defer func() {
		remaining := l.active.Add(-1)
		log.Debug().Str("remote", remote).Int64("active", remaining).Msg("transport.listener disconnected")
	}()
	conn.serve(ctx)
}

func (l *Listener) trackConn(conn *Conn) {
	l.connsMu.Lock()
	defer l.connsMu.Unlock()
	l.conns[conn] = struct{}{}
}

func (l *Listener) untrackConn(conn *Conn) {
	l.connsMu.Lock()
	defer l.connsMu.Unlock()
	delete(l.conns, conn)
}

func (l *Listener) closeAllConns() {
	l.connsMu.Lock()
	defer l.connsMu.Unlock()
	for conn := range l.conns {
		_ = conn.Close()
		delete(l.conns, conn)
	}
}
