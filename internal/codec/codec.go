// Package codec turns application values into versioned bytes and back.
//
// Values travel as a CBOR envelope {version, schema, data}. The schema is a
// registered name bound to one Go type, so a receiver can only materialize
// types it has been told about; anything else fails with ErrUnknownSchema.
package codec

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"sort"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Version is the envelope version written by this codec.
const Version uint8 = 1

var (
	ErrUnknownSchema      = errors.New("codec: unknown value schema")
	ErrUnregisteredType   = errors.New("codec: unregistered value type")
	ErrUnsupportedVersion = errors.New("codec: unsupported envelope version")
	ErrSchemaExists       = errors.New("codec: schema already registered")
	ErrCorruptPayload     = errors.New("codec: corrupt payload")
)

// ValueCodec encodes and decodes application values. Decode must return an
// independent instance on every call.
type ValueCodec interface {
	Encode(w io.Writer, v any) error
	Decode(r io.Reader) (any, error)
}

type envelope struct {
	Version uint8           `cbor:"1,keyasint"`
	Schema  string          `cbor:"2,keyasint"`
	Data    cbor.RawMessage `cbor:"3,keyasint"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// CBOR is a ValueCodec backed by a schema registry.
type CBOR struct {
	mu      sync.RWMutex
	byName  map[string]reflect.Type
	byType  map[reflect.Type]string
	decMode cbor.DecMode
}

// NewCBOR returns a codec with the builtin scalar and slice schemas
// registered.
func NewCBOR() *CBOR {
	dm, err := cbor.DecOptions{MaxArrayElements: 1 << 24, MaxMapPairs: 1 << 24}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("codec: failed to create CBOR dec mode: %v", err))
	}
	c := &CBOR{
		byName:  make(map[string]reflect.Type),
		byType:  make(map[reflect.Type]string),
		decMode: dm,
	}
	mustRegister[bool](c, "bool")
	mustRegister[int](c, "int")
	mustRegister[int32](c, "int32")
	mustRegister[int64](c, "int64")
	mustRegister[float64](c, "float64")
	mustRegister[string](c, "string")
	mustRegister[[]byte](c, "bytes")
	mustRegister[[]int](c, "[]int")
	mustRegister[[]int64](c, "[]int64")
	mustRegister[[]float64](c, "[]float64")
	mustRegister[[]string](c, "[]string")
	mustRegister[map[string]string](c, "map[string]string")
	return c
}

// Register binds schema name to type T on c.
func Register[T any](c *CBOR, name string) error {
	t := reflect.TypeFor[T]()
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byName[name]; ok {
		return fmt.Errorf("%w: %s", ErrSchemaExists, name)
	}
	if prev, ok := c.byType[t]; ok {
		return fmt.Errorf("%w: %s already bound to %s", ErrSchemaExists, t, prev)
	}
	c.byName[name] = t
	c.byType[t] = name
	return nil
}

func mustRegister[T any](c *CBOR, name string) {
	if err := Register[T](c, name); err != nil {
		panic(err)
	}
}

// Schemas lists registered schema names in sorted order.
func (c *CBOR) Schemas() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.byName))
	for name := range c.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *CBOR) Encode(w io.Writer, v any) error {
	if v == nil {
		return fmt.Errorf("%w: nil", ErrUnregisteredType)
	}
	c.mu.RLock()
	name, ok := c.byType[reflect.TypeOf(v)]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %T", ErrUnregisteredType, v)
	}
	data, err := cborEncMode.Marshal(v)
	if err != nil {
		return fmt.Errorf("codec: marshal %s: %w", name, err)
	}
	return cborEncMode.NewEncoder(w).Encode(envelope{Version: Version, Schema: name, Data: data})
}

func (c *CBOR) Decode(r io.Reader) (any, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	// Unmarshal rejects bytes after the envelope.
	var env envelope
	if err := c.decMode.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptPayload, err)
	}
	if env.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	c.mu.RLock()
	t, ok := c.byName[env.Schema]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSchema, env.Schema)
	}
	ptr := reflect.New(t)
	if err := c.decMode.Unmarshal(env.Data, ptr.Interface()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptPayload, env.Schema, err)
	}
	return ptr.Elem().Interface(), nil
}
