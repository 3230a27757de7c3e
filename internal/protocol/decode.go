package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// Reader decodes wire primitives in call order from an underlying stream.
//
// Every failure after the message tag is a protocol violation: the reader has
// lost its position and the stream cannot be resynchronized.
type Reader struct {
	r   io.Reader
	buf [8]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// ReadType reads the message tag. A clean end of stream before the tag
// returns io.EOF unwrapped.
func (r *Reader) ReadType() (MessageType, error) {
	n, err := io.ReadFull(r.r, r.buf[:1])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return MessageUnknown, io.EOF
		}
		return MessageUnknown, violation("message type", err)
	}
	return MessageType(r.buf[0]), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	if err := r.fill(4, "int32"); err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(r.buf[:4])), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	if err := r.fill(8, "int64"); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(r.buf[:8])), nil
}

func (r *Reader) ReadBool() (bool, error) {
	if err := r.fill(1, "bool"); err != nil {
		return false, err
	}
	switch r.buf[0] {
	case 0:
		return false, nil
	case 1:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %w: 0x%02x", ErrProtocolViolation, ErrInvalidBool, r.buf[0])
	}
}

func (r *Reader) ReadString() (string, error) {
	if err := r.fill(4, "string length"); err != nil {
		return "", err
	}
	l := binary.BigEndian.Uint32(r.buf[:4])
	if l > MaxStringLen {
		return "", fmt.Errorf("%w: %w: %d bytes", ErrProtocolViolation, ErrStringTooLarge, l)
	}
	if l == 0 {
		return "", nil
	}
	b := make([]byte, l)
	if _, err := io.ReadFull(r.r, b); err != nil {
		return "", violation("string value", err)
	}
	if !utf8.Valid(b) {
		return "", fmt.Errorf("%w: %w", ErrProtocolViolation, ErrInvalidString)
	}
	return string(b), nil
}

// Rest returns the remainder of the message: the opaque payload whose length
// is implied by the end of the stream.
func (r *Reader) Rest() io.Reader {
	return r.r
}

func (r *Reader) fill(n int, what string) error {
	if _, err := io.ReadFull(r.r, r.buf[:n]); err != nil {
		return violation(what, err)
	}
	return nil
}

func violation(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: read %s: %w", ErrProtocolViolation, what, ErrTruncated)
	}
	return fmt.Errorf("%w: read %s: %w", ErrProtocolViolation, what, err)
}
