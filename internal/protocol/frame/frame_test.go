package frame

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/danmuck/pgasnet/internal/protocol"
)

func TestWriteReadHeaderRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteHeader(&buf, NewHeader(5), DefaultLimits()); err != nil {
		t.Fatalf("write header: %v", err)
	}
	buf.WriteString("hello")
	buf.WriteString("next")

	h, err := ReadHeader(&buf, DefaultLimits())
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	if h.PayloadLen != 5 || h.HeaderLen != FixedHeaderLen {
		t.Fatalf("unexpected header: %+v", h)
	}
	body, err := io.ReadAll(Payload(&buf, h))
	if err != nil {
		t.Fatalf("read payload: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("expected payload bounded to hello, got %q", body)
	}
}

func TestReadHeaderCleanEOF(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader(nil), DefaultLimits())
	if err != io.EOF {
		t.Fatalf("expected io.EOF, got %v", err)
	}
}

func TestReadHeaderShort(t *testing.T) {
	_, err := ReadHeader(bytes.NewReader([]byte{1, 2, 3}), DefaultLimits())
	if !errors.Is(err, ErrShortHeader) {
		t.Fatalf("expected ErrShortHeader, got %v", err)
	}
}

func TestReadHeaderInvalidMagic(t *testing.T) {
	h := NewHeader(0)
	h.Magic = 0xdeadbeef
	_, err := ReadHeader(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrInvalidMagic) {
		t.Fatalf("expected ErrInvalidMagic, got %v", err)
	}
}

func TestReadHeaderLenTooSmall(t *testing.T) {
	h := NewHeader(0)
	h.HeaderLen = 8
	_, err := ReadHeader(bytes.NewReader(EncodeHeader(h)), DefaultLimits())
	if !errors.Is(err, ErrHeaderLenTooSmall) {
		t.Fatalf("expected ErrHeaderLenTooSmall, got %v", err)
	}
}

func TestReadHeaderSkipsExtension(t *testing.T) {
	h := NewHeader(1)
	h.HeaderLen = FixedHeaderLen + 3
	raw := append(EncodeHeader(h), 0xaa, 0xbb, 0xcc, 'z')
	r := bytes.NewReader(raw)
	got, err := ReadHeader(r, DefaultLimits())
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	b, _ := io.ReadAll(Payload(r, got))
	if string(b) != "z" {
		t.Fatalf("expected payload z, got %q", b)
	}
}

func TestPayloadLimits(t *testing.T) {
	limits := Limits{MaxPayloadBytes: 4}
	if err := WriteHeader(io.Discard, NewHeader(5), limits); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on write, got %v", err)
	}
	_, err := ReadHeader(bytes.NewReader(EncodeHeader(NewHeader(5))), limits)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge on read, got %v", err)
	}
}

func TestPayloadShortStreamIsViolation(t *testing.T) {
	raw := append(EncodeHeader(NewHeader(10)), "abc"...)
	r := bytes.NewReader(raw)
	h, err := ReadHeader(r, DefaultLimits())
	if err != nil {
		t.Fatalf("read header: %v", err)
	}
	got, err := io.ReadAll(Payload(r, h))
	if !protocol.IsViolation(err) || !errors.Is(err, protocol.ErrTruncated) {
		t.Fatalf("expected truncated violation, got %v", err)
	}
	if string(got) != "abc" {
		t.Fatalf("expected the bytes that did arrive, got %q", got)
	}
}

func TestPayloadStopsAtFrameEnd(t *testing.T) {
	body := Payload(bytes.NewReader([]byte("hello world")), NewHeader(5))
	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != "hello" || body.N != 0 {
		t.Fatalf("expected hello with nothing left, got %q (N=%d)", got, body.N)
	}
}
