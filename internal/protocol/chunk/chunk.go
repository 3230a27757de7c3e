// Package chunk stages payloads of unbounded size as a sequence of
// fixed-capacity byte blocks instead of one contiguous allocation.
package chunk

import (
	"errors"
	"io"
)

// DefaultSize is the chunk capacity shared by payload buffers and loopback
// channels. It affects buffering only, never the wire format.
const DefaultSize = 8 * 1024

// Buffer is an append-only sequence of sealed chunks plus one in-progress
// chunk. Len is the sum of sealed chunk lengths plus the in-progress write
// position.
type Buffer struct {
	size   int
	sealed [][]byte
	cur    []byte
	n      int64
}

// NewBuffer returns an empty buffer whose Write path fills chunks of size
// bytes. A non-positive size selects DefaultSize.
func NewBuffer(size int) *Buffer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Buffer{size: size}
}

// ReadAllFrom reads r in size-byte blocks until end of stream. The final
// partial block is trimmed to the bytes actually read. An empty stream yields
// an empty buffer.
func ReadAllFrom(r io.Reader, size int) (*Buffer, error) {
	b := NewBuffer(size)
	for {
		block := make([]byte, b.size)
		n, err := io.ReadFull(r, block)
		switch {
		case err == nil:
			b.Append(block)
		case errors.Is(err, io.EOF):
			return b, nil
		case errors.Is(err, io.ErrUnexpectedEOF):
			last := make([]byte, n)
			copy(last, block[:n])
			b.Append(last)
			return b, nil
		default:
			return nil, err
		}
	}
}

// Append takes ownership of c as the next sealed chunk. Any in-progress
// chunk is sealed first so append order is preserved. Empty chunks are
// dropped.
func (b *Buffer) Append(c []byte) {
	if len(c) == 0 {
		return
	}
	b.seal()
	b.sealed = append(b.sealed, c)
	b.n += int64(len(c))
}

// Write copies p into the in-progress chunk, sealing it each time it fills.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.size <= 0 {
		b.size = DefaultSize
	}
	written := len(p)
	for len(p) > 0 {
		if b.cur == nil {
			b.cur = make([]byte, 0, b.size)
		}
		n := copy(b.cur[len(b.cur):cap(b.cur)], p)
		b.cur = b.cur[:len(b.cur)+n]
		b.n += int64(n)
		p = p[n:]
		if len(b.cur) == cap(b.cur) {
			b.seal()
		}
	}
	return written, nil
}

// Len returns the logical payload length.
func (b *Buffer) Len() int64 {
	return b.n
}

// Chunks returns the number of chunks holding data, counting a non-empty
// in-progress chunk.
func (b *Buffer) Chunks() int {
	n := len(b.sealed)
	if len(b.cur) > 0 {
		n++
	}
	return n
}

// NewReader returns an independent sequential view over the current
// contents. Readers never mutate the buffer, so several may run at once as
// long as nothing is written meanwhile.
func (b *Buffer) NewReader() *Reader {
	view := make([][]byte, 0, b.Chunks())
	view = append(view, b.sealed...)
	if len(b.cur) > 0 {
		view = append(view, b.cur)
	}
	return &Reader{chunks: view}
}

// WriteTo writes every chunk to w in append order.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	return b.NewReader().WriteTo(w)
}

// Bytes returns a contiguous copy of the contents.
func (b *Buffer) Bytes() []byte {
	out := make([]byte, 0, b.n)
	for _, c := range b.sealed {
		out = append(out, c...)
	}
	return append(out, b.cur...)
}

func (b *Buffer) seal() {
	if len(b.cur) == 0 {
		return
	}
	b.sealed = append(b.sealed, b.cur)
	b.cur = nil
}

// Reader yields a buffer's bytes chunk by chunk in append order.
type Reader struct {
	chunks [][]byte
	off    int
}

func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := 0
	for n < len(p) && len(r.chunks) > 0 {
		c := r.chunks[0][r.off:]
		k := copy(p[n:], c)
		n += k
		r.advance(k)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (r *Reader) ReadByte() (byte, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	c := r.chunks[0][r.off]
	r.advance(1)
	return c, nil
}

// WriteTo drains the remaining chunks into w without copying them.
func (r *Reader) WriteTo(w io.Writer) (int64, error) {
	var total int64
	for len(r.chunks) > 0 {
		c := r.chunks[0][r.off:]
		n, err := w.Write(c)
		total += int64(n)
		r.advance(n)
		if err != nil {
			return total, err
		}
		if n < len(c) {
			return total, io.ErrShortWrite
		}
	}
	return total, nil
}

// Len returns the number of unread bytes.
func (r *Reader) Len() int64 {
	var n int64
	for i, c := range r.chunks {
		if i == 0 {
			n += int64(len(c) - r.off)
			continue
		}
		n += int64(len(c))
	}
	return n
}

func (r *Reader) advance(k int) {
	r.off += k
	if r.off == len(r.chunks[0]) {
		r.chunks = r.chunks[1:]
		r.off = 0
	}
}
