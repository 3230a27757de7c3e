// Package loopback gives same-node message delivery the write-then-decode
// contract of a socket without touching the network.
//
// A channel is a queue of sealed chunks plus one in-progress write chunk. It
// has one writer and one reader and no wait/notify: the writer must finish
// (Close) before the reader can observe the end of the data. A reader that
// finds the queue drained while the channel is still open gets
// ErrDrainedOpen instead of blocking.
package loopback

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/danmuck/pgasnet/internal/protocol"
	"github.com/danmuck/pgasnet/internal/protocol/chunk"
)

var (
	ErrDrainedOpen = fmt.Errorf("%w: loopback: channel not closed, but no more data available", protocol.ErrProtocolViolation)
	ErrClosed      = errors.New("loopback: write on closed channel")
)

type segment struct {
	data []byte
	off  int
}

type queue struct {
	mu     sync.Mutex
	items  []*segment
	closed atomic.Bool
}

func (q *queue) offer(b []byte) {
	q.mu.Lock()
	q.items = append(q.items, &segment{data: b})
	q.mu.Unlock()
}

// New returns the two halves of a channel whose write chunks hold size bytes.
// A non-positive size selects chunk.DefaultSize.
func New(size int) (*Writer, *Reader) {
	if size <= 0 {
		size = chunk.DefaultSize
	}
	q := &queue{}
	return &Writer{q: q, size: size}, &Reader{q: q}
}

// Writer is the producing half of a channel.
type Writer struct {
	q    *queue
	size int
	cur  []byte
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.q.closed.Load() {
		return 0, ErrClosed
	}
	written := len(p)
	for len(p) > 0 {
		if w.cur == nil {
			w.cur = make([]byte, 0, w.size)
		}
		n := copy(w.cur[len(w.cur):cap(w.cur)], p)
		w.cur = w.cur[:len(w.cur)+n]
		p = p[n:]
		if len(w.cur) == cap(w.cur) {
			w.seal()
		}
	}
	return written, nil
}

func (w *Writer) WriteByte(c byte) error {
	_, err := w.Write([]byte{c})
	return err
}

// Flush enqueues a non-empty in-progress chunk without waiting for it to
// fill.
func (w *Writer) Flush() error {
	if w.q.closed.Load() {
		return ErrClosed
	}
	w.seal()
	return nil
}

// Close flushes and marks the channel permanently closed. Closing twice is a
// no-op.
func (w *Writer) Close() error {
	if w.q.closed.Load() {
		return nil
	}
	w.seal()
	w.cur = nil
	w.q.closed.Store(true)
	return nil
}

func (w *Writer) seal() {
	if len(w.cur) == 0 {
		return
	}
	w.q.offer(w.cur)
	w.cur = nil
}

// Reader is the consuming half of a channel.
type Reader struct {
	q *queue
}

// ReadByte returns the next byte, io.EOF once the channel is closed and
// drained, or ErrDrainedOpen if it is drained but still open.
func (r *Reader) ReadByte() (byte, error) {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	for {
		if len(r.q.items) == 0 {
			if r.q.closed.Load() {
				return 0, io.EOF
			}
			return 0, ErrDrainedOpen
		}
		head := r.q.items[0]
		if head.off == len(head.data) {
			r.q.drop()
			continue
		}
		c := head.data[head.off]
		head.off++
		return c, nil
	}
}

// Read copies as many bytes as are queued, up to len(p). It short-reads only
// at end of stream: the remaining bytes come back once with a nil error and
// the next call returns io.EOF.
func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	n := 0
	for {
		if len(r.q.items) == 0 {
			if !r.q.closed.Load() {
				return n, ErrDrainedOpen
			}
			if n == 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		head := r.q.items[0]
		if head.off == len(head.data) {
			r.q.drop()
			continue
		}
		k := copy(p[n:], head.data[head.off:])
		head.off += k
		n += k
		if n == len(p) {
			return n, nil
		}
	}
}

// Buffered returns the number of unread bytes already sealed into the queue.
func (r *Reader) Buffered() int {
	r.q.mu.Lock()
	defer r.q.mu.Unlock()
	n := 0
	for _, s := range r.q.items {
		n += len(s.data) - s.off
	}
	return n
}

func (q *queue) drop() {
	q.items[0] = nil
	q.items = q.items[1:]
}
