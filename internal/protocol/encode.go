package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// Writer encodes wire primitives in call order onto an underlying stream.
type Writer struct {
	w   io.Writer
	buf [8]byte
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteType writes the message tag. It must be the first write of a message.
func (w *Writer) WriteType(t MessageType) error {
	w.buf[0] = byte(t)
	return w.write(w.buf[:1])
}

func (w *Writer) WriteInt32(v int32) error {
	binary.BigEndian.PutUint32(w.buf[:4], uint32(v))
	return w.write(w.buf[:4])
}

func (w *Writer) WriteInt64(v int64) error {
	binary.BigEndian.PutUint64(w.buf[:8], uint64(v))
	return w.write(w.buf[:8])
}

func (w *Writer) WriteBool(v bool) error {
	w.buf[0] = 0
	if v {
		w.buf[0] = 1
	}
	return w.write(w.buf[:1])
}

// WriteString writes a uint32 byte length followed by the UTF-8 bytes.
func (w *Writer) WriteString(s string) error {
	if !utf8.ValidString(s) {
		return ErrInvalidString
	}
	if len(s) > MaxStringLen {
		return fmt.Errorf("%w: %d bytes", ErrStringTooLarge, len(s))
	}
	binary.BigEndian.PutUint32(w.buf[:4], uint32(len(s)))
	if err := w.write(w.buf[:4]); err != nil {
		return err
	}
	if len(s) == 0 {
		return nil
	}
	_, err := io.WriteString(w.w, s)
	return err
}

// Rest returns the underlying stream for the opaque payload that ends the
// message. Nothing may be written through the Writer after it.
func (w *Writer) Rest() io.Writer {
	return w.w
}

func (w *Writer) write(b []byte) error {
	_, err := w.w.Write(b)
	return err
}
