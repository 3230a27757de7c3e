package loopback

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/pgasnet/internal/protocol"
	"github.com/danmuck/pgasnet/internal/testutil/testlog"
)

func TestWriteSealsChunksAtCapacity(t *testing.T) {
	testlog.Start(t)
	w, r := New(4)
	if _, err := w.Write([]byte("abcdefghij")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := len(w.q.items); got != 2 {
		t.Fatalf("expected 2 sealed chunks, got %d", got)
	}
	if r.Buffered() != 8 {
		t.Fatalf("expected 8 buffered bytes before flush, got %d", r.Buffered())
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := len(w.q.items[2].data); got != 2 {
		t.Fatalf("flushed chunk not trimmed: %d", got)
	}
}

func TestFlushOfEmptyChunkEnqueuesNothing(t *testing.T) {
	testlog.Start(t)
	w, _ := New(4)
	if err := w.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(w.q.items) != 0 {
		t.Fatalf("expected empty queue, got %d items", len(w.q.items))
	}
}

func TestReadAfterCloseReturnsRemainderThenEOF(t *testing.T) {
	testlog.Start(t)
	w, r := New(4)
	_, _ = w.Write([]byte("hello"))
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	buf := make([]byte, 16)
	n, err := r.Read(buf)
	if err != nil || n != 5 || string(buf[:n]) != "hello" {
		t.Fatalf("first read n=%d err=%v data=%q", n, err, buf[:n])
	}
	n, err = r.Read(buf)
	if n != 0 || !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got n=%d err=%v", n, err)
	}
	if _, err := r.ReadByte(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF from ReadByte, got %v", err)
	}
}

func TestReadOnEmptyOpenChannelFailsFast(t *testing.T) {
	testlog.Start(t)
	_, r := New(4)
	n, err := r.Read(make([]byte, 4))
	if n != 0 || !errors.Is(err, ErrDrainedOpen) {
		t.Fatalf("expected ErrDrainedOpen, got n=%d err=%v", n, err)
	}
	if !errors.Is(err, protocol.ErrProtocolViolation) {
		t.Fatalf("drained-open read must be a protocol violation: %v", err)
	}
	if _, err := r.ReadByte(); !errors.Is(err, ErrDrainedOpen) {
		t.Fatalf("expected ErrDrainedOpen from ReadByte, got %v", err)
	}
}

func TestReadDrainingOpenChannelFailsAfterData(t *testing.T) {
	testlog.Start(t)
	w, r := New(4)
	_, _ = w.Write([]byte("abcd"))
	buf := make([]byte, 4)
	if n, err := r.Read(buf); n != 4 || err != nil {
		t.Fatalf("expected full read, got n=%d err=%v", n, err)
	}
	if _, err := r.Read(buf); !errors.Is(err, ErrDrainedOpen) {
		t.Fatalf("expected ErrDrainedOpen, got %v", err)
	}
}

func TestReadByteSpansChunks(t *testing.T) {
	testlog.Start(t)
	w, r := New(2)
	_, _ = w.Write([]byte("xyz"))
	_ = w.Close()
	var out bytes.Buffer
	for {
		c, err := r.ReadByte()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("read byte: %v", err)
		}
		out.WriteByte(c)
	}
	if out.String() != "xyz" {
		t.Fatalf("unexpected bytes %q", out.String())
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	testlog.Start(t)
	w, _ := New(4)
	_ = w.Close()
	if _, err := w.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestReadAllMatchesWrites(t *testing.T) {
	testlog.Start(t)
	w, r := New(3)
	payload := bytes.Repeat([]byte("0123456789"), 50)
	for i := 0; i < len(payload); i += 7 {
		end := min(i+7, len(payload))
		if _, err := w.Write(payload[i:end]); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	_ = w.Close()
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("read all: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}
}
