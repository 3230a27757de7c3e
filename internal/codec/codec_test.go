package codec

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/pgasnet/internal/testutil/testlog"
)

type point struct {
	X int64  `cbor:"1,keyasint"`
	Y int64  `cbor:"2,keyasint"`
	L string `cbor:"3,keyasint,omitempty"`
}

func TestEncodeDecodeBuiltins(t *testing.T) {
	testlog.Start(t)
	c := NewCBOR()
	values := []any{42, int64(-7), "hello", []byte{1, 2, 3}, []float64{1.5, 2.5}, true}
	for _, v := range values {
		var buf bytes.Buffer
		if err := c.Encode(&buf, v); err != nil {
			t.Fatalf("encode %T: %v", v, err)
		}
		got, err := c.Decode(&buf)
		if err != nil {
			t.Fatalf("decode %T: %v", v, err)
		}
		if !equalValue(got, v) {
			t.Fatalf("round trip mismatch: got=%#v want=%#v", got, v)
		}
	}
}

func TestDecodeReturnsIndependentInstances(t *testing.T) {
	testlog.Start(t)
	c := NewCBOR()
	var buf bytes.Buffer
	if err := c.Encode(&buf, []int{1, 2, 3}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	raw := buf.Bytes()
	a, err := c.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode a: %v", err)
	}
	b, err := c.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("decode b: %v", err)
	}
	a.([]int)[0] = 99
	if b.([]int)[0] != 1 {
		t.Fatalf("decoded values alias each other")
	}
}

func TestRegisteredStructRoundTrip(t *testing.T) {
	testlog.Start(t)
	c := NewCBOR()
	if err := Register[point](c, "test.point"); err != nil {
		t.Fatalf("register: %v", err)
	}
	var buf bytes.Buffer
	if err := c.Encode(&buf, point{X: 3, Y: -4, L: "p"}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := c.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p, ok := got.(point); !ok || p.X != 3 || p.Y != -4 || p.L != "p" {
		t.Fatalf("unexpected value %#v", got)
	}
}

func TestDecodeUnknownSchema(t *testing.T) {
	testlog.Start(t)
	sender := NewCBOR()
	if err := Register[point](sender, "test.point"); err != nil {
		t.Fatalf("register: %v", err)
	}
	var buf bytes.Buffer
	if err := sender.Encode(&buf, point{X: 1}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	_, err := NewCBOR().Decode(&buf)
	if !errors.Is(err, ErrUnknownSchema) {
		t.Fatalf("expected ErrUnknownSchema, got %v", err)
	}
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	testlog.Start(t)
	raw, err := cborEncMode.Marshal(envelope{Version: 9, Schema: "int", Data: []byte{0x01}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	_, err = NewCBOR().Decode(bytes.NewReader(raw))
	if !errors.Is(err, ErrUnsupportedVersion) {
		t.Fatalf("expected ErrUnsupportedVersion, got %v", err)
	}
}

func TestDecodeCorruptPayload(t *testing.T) {
	testlog.Start(t)
	_, err := NewCBOR().Decode(bytes.NewReader([]byte{0xff, 0x00}))
	if !errors.Is(err, ErrCorruptPayload) {
		t.Fatalf("expected ErrCorruptPayload, got %v", err)
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	testlog.Start(t)
	c := NewCBOR()
	var buf bytes.Buffer
	if err := c.Encode(&buf, 42); err != nil {
		t.Fatalf("encode: %v", err)
	}
	buf.WriteString("\xff\xfegarbage")
	v, err := c.Decode(&buf)
	if !errors.Is(err, ErrCorruptPayload) {
		t.Fatalf("expected ErrCorruptPayload, got value=%v err=%v", v, err)
	}
}

func TestEncodeUnregisteredType(t *testing.T) {
	testlog.Start(t)
	var buf bytes.Buffer
	err := NewCBOR().Encode(&buf, point{})
	if !errors.Is(err, ErrUnregisteredType) {
		t.Fatalf("expected ErrUnregisteredType, got %v", err)
	}
}

func TestRegisterDuplicateSchema(t *testing.T) {
	testlog.Start(t)
	c := NewCBOR()
	if err := Register[point](c, "int"); !errors.Is(err, ErrSchemaExists) {
		t.Fatalf("expected ErrSchemaExists, got %v", err)
	}
}

func equalValue(a, b any) bool {
	switch bv := b.(type) {
	case []byte:
		av, ok := a.([]byte)
		return ok && bytes.Equal(av, bv)
	case []float64:
		av, ok := a.([]float64)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if av[i] != bv[i] {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}
