// Package frame delimits messages on byte-stream transports.
//
// A frame is a fixed header followed by exactly PayloadLen bytes holding one
// encoded message. The header lets a stream reader hand a bounded reader to
// the message decoder, so the opaque trailing payload of a message ends where
// the frame ends.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/pgasnet/internal/protocol"
)

const (
	Magic          uint32 = 0x50474153
	Version        uint16 = 1
	FixedHeaderLen uint16 = 16
)

var (
	ErrShortHeader       = errors.New("frame: short fixed header")
	ErrInvalidMagic      = errors.New("frame: invalid magic")
	ErrUnsupported       = errors.New("frame: unsupported version")
	ErrHeaderLenTooSmall = errors.New("frame: header_len smaller than fixed header")
	ErrPayloadTooLarge   = errors.New("frame: payload too large")
)

// Header is the fixed wire header.
type Header struct {
	Magic      uint32
	Version    uint16
	HeaderLen  uint16
	PayloadLen uint64
}

// Limits constrains frame decode/encode memory use.
type Limits struct {
	MaxPayloadBytes uint64
}

func DefaultLimits() Limits {
	return Limits{
		MaxPayloadBytes: 64 * 1024 * 1024,
	}
}

// NewHeader returns the header for a payload of n bytes.
func NewHeader(n uint64) Header {
	return Header{Magic: Magic, Version: Version, HeaderLen: FixedHeaderLen, PayloadLen: n}
}

// ReadHeader reads and validates one header. Header bytes beyond the fixed
// part are skipped. A clean end of stream before the first byte returns
// io.EOF.
func ReadHeader(r io.Reader, limits Limits) (Header, error) {
	var fixed [FixedHeaderLen]byte
	n, err := io.ReadFull(r, fixed[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return Header{}, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return Header{}, ErrShortHeader
		}
		return Header{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Header{}, err
	}
	if h.Magic != Magic {
		return Header{}, fmt.Errorf("%w: 0x%08x", ErrInvalidMagic, h.Magic)
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupported, h.Version)
	}
	if h.HeaderLen < FixedHeaderLen {
		return Header{}, ErrHeaderLenTooSmall
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Header{}, ErrPayloadTooLarge
	}
	if extra := int64(h.HeaderLen - FixedHeaderLen); extra > 0 {
		if _, err := io.CopyN(io.Discard, r, extra); err != nil {
			return Header{}, ErrShortHeader
		}
	}
	return h, nil
}

func WriteHeader(w io.Writer, h Header, limits Limits) error {
	if h.PayloadLen > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	h.HeaderLen = FixedHeaderLen
	_, err := w.Write(EncodeHeader(h))
	return err
}

// Body reads exactly the payload of one frame. It reports io.EOF once N
// bytes have been read; a stream that ends earlier is a protocol violation,
// so a cut-short frame never looks like a complete message.
type Body struct {
	R io.Reader
	N int64
}

// Payload bounds r to the payload of h.
func Payload(r io.Reader, h Header) *Body {
	return &Body{R: r, N: int64(h.PayloadLen)}
}

func (b *Body) Read(p []byte) (int, error) {
	if b.N <= 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > b.N {
		p = p[:b.N]
	}
	n, err := b.R.Read(p)
	b.N -= int64(n)
	if b.N > 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
		return n, fmt.Errorf("%w: %w: frame ended %d bytes short", protocol.ErrProtocolViolation, protocol.ErrTruncated, b.N)
	}
	return n, err
}

func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.PayloadLen)
	return buf
}

func DecodeHeader(b []byte) (Header, error) {
	if len(b) != int(FixedHeaderLen) {
		return Header{}, fmt.Errorf("frame: invalid fixed header length: %d", len(b))
	}
	return Header{
		Magic:      binary.BigEndian.Uint32(b[0:4]),
		Version:    binary.BigEndian.Uint16(b[4:6]),
		HeaderLen:  binary.BigEndian.Uint16(b[6:8]),
		PayloadLen: binary.BigEndian.Uint64(b[8:16]),
	}, nil
}
