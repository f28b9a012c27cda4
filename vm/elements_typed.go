package vm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Typed and buffer elements hold raw numbers, never references, so their
// writes bypass the write barrier and the collector never scans them.

// ---------------------------------------------------------------------------
// BufferElements
// ---------------------------------------------------------------------------

// BufferElements is raw byte storage, the backing of an array buffer.
// Its length is the byte length.
type BufferElements struct {
	data []byte
}

// NewBufferElements allocates zeroed byte storage.
func NewBufferElements(byteLength uint32) *BufferElements {
	return &BufferElements{data: make([]byte, byteLength)}
}

func (*BufferElements) elements() {}

// Kind returns KindArrayBuffer.
func (b *BufferElements) Kind() ElementsKind { return KindArrayBuffer }

// Length returns the byte length.
func (b *BufferElements) Length() uint32 { return uint32(len(b.data)) }

// Bytes returns the underlying storage.
func (b *BufferElements) Bytes() []byte { return b.data }

// Get returns the byte at index as a number.
func (b *BufferElements) Get(index uint32) (Value, bool) {
	if index >= b.Length() {
		return Undefined, false
	}
	return FromSmallInt(int64(b.data[index])), true
}

// DefineElement stores one byte. Only plain data writes within the byte
// length are accepted.
func (b *BufferElements) DefineElement(obj *Object, index uint32, desc ElementDescriptor) DefineResult {
	if index >= b.Length() || !desc.isPlain() {
		return DefineFailure
	}
	n, ok := desc.Value.ToNumber()
	if !ok {
		return DefineFailure
	}
	b.data[index] = uint8(toUint32Bits(n))
	return DefineSucceeded
}

// ---------------------------------------------------------------------------
// TypedElements
// ---------------------------------------------------------------------------

// TypedElements is a fixed-length array of one numeric kind, stored as
// little-endian bytes. It may be a view onto a buffer's bytes.
type TypedElements struct {
	kind   ElementsKind
	length uint32
	data   []byte
}

// NewTypedElements allocates zeroed storage for length elements of kind.
func NewTypedElements(kind ElementsKind, length uint32) (*TypedElements, error) {
	if !kind.IsTyped() {
		return nil, fmt.Errorf("typed elements of kind %s: %w", kind, ErrWrongElementsKind)
	}
	size := uint64(length) * uint64(kind.ElementSize())
	if size > math.MaxInt32 {
		return nil, fmt.Errorf("typed elements of %d %s: %w", length, kind, ErrDenseCapacity)
	}
	return &TypedElements{kind: kind, length: length, data: make([]byte, size)}, nil
}

// NewTypedElementsView returns typed elements sharing buf's bytes from
// byteOffset for length elements.
func NewTypedElementsView(kind ElementsKind, buf *BufferElements, byteOffset, length uint32) (*TypedElements, error) {
	if !kind.IsTyped() {
		return nil, fmt.Errorf("typed view of kind %s: %w", kind, ErrWrongElementsKind)
	}
	size := uint64(kind.ElementSize())
	if uint64(byteOffset)%size != 0 {
		return nil, fmt.Errorf("typed view offset %d not aligned to %d: %w", byteOffset, size, ErrDefineElement)
	}
	end := uint64(byteOffset) + uint64(length)*size
	if end > uint64(len(buf.data)) {
		return nil, fmt.Errorf("typed view [%d, %d) exceeds buffer of %d bytes: %w", byteOffset, end, len(buf.data), ErrDefineElement)
	}
	return &TypedElements{kind: kind, length: length, data: buf.data[byteOffset:end:end]}, nil
}

func (*TypedElements) elements() {}

// Kind returns the numeric kind.
func (t *TypedElements) Kind() ElementsKind { return t.kind }

// Length returns the element count.
func (t *TypedElements) Length() uint32 { return t.length }

// Bytes returns the underlying storage.
func (t *TypedElements) Bytes() []byte { return t.data }

// Get reads the element at index as a number.
func (t *TypedElements) Get(index uint32) (Value, bool) {
	if index >= t.length {
		return Undefined, false
	}
	off := int(index) * t.kind.ElementSize()
	p := t.data[off:]
	switch t.kind {
	case KindUint8, KindUint8Clamped:
		return FromSmallInt(int64(p[0])), true
	case KindInt8:
		return FromSmallInt(int64(int8(p[0]))), true
	case KindUint16:
		return FromSmallInt(int64(binary.LittleEndian.Uint16(p))), true
	case KindInt16:
		return FromSmallInt(int64(int16(binary.LittleEndian.Uint16(p)))), true
	case KindUint32:
		return FromSmallInt(int64(binary.LittleEndian.Uint32(p))), true
	case KindInt32:
		return FromSmallInt(int64(int32(binary.LittleEndian.Uint32(p)))), true
	case KindFloat32:
		return FromFloat64(float64(math.Float32frombits(binary.LittleEndian.Uint32(p)))), true
	case KindFloat64:
		return FromFloat64(math.Float64frombits(binary.LittleEndian.Uint64(p))), true
	}
	return Undefined, false
}

// DefineElement stores a number at index. Typed storage never grows and
// holds only plain data elements: out-of-range indices, accessors,
// non-default attributes and non-numeric values are rejected.
func (t *TypedElements) DefineElement(obj *Object, index uint32, desc ElementDescriptor) DefineResult {
	if index >= t.length || !desc.isPlain() {
		return DefineFailure
	}
	n, ok := desc.Value.ToNumber()
	if !ok {
		return DefineFailure
	}
	t.set(index, n)
	return DefineSucceeded
}

func (t *TypedElements) set(index uint32, n float64) {
	off := int(index) * t.kind.ElementSize()
	p := t.data[off:]
	switch t.kind {
	case KindUint8, KindInt8:
		p[0] = uint8(toUint32Bits(n))
	case KindUint8Clamped:
		p[0] = clampUint8(n)
	case KindUint16, KindInt16:
		binary.LittleEndian.PutUint16(p, uint16(toUint32Bits(n)))
	case KindUint32, KindInt32:
		binary.LittleEndian.PutUint32(p, toUint32Bits(n))
	case KindFloat32:
		binary.LittleEndian.PutUint32(p, math.Float32bits(float32(n)))
	case KindFloat64:
		binary.LittleEndian.PutUint64(p, math.Float64bits(n))
	}
}

// toUint32Bits applies the modular integer conversion used for integer
// element stores: NaN and infinities become 0, everything else is
// truncated and wrapped modulo 2^32.
func toUint32Bits(f float64) uint32 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	m := math.Mod(math.Trunc(f), 1<<32)
	if m < 0 {
		m += 1 << 32
	}
	return uint32(m)
}

// clampUint8 saturates to [0, 255] and rounds half to even.
func clampUint8(f float64) uint8 {
	switch {
	case math.IsNaN(f) || f <= 0:
		return 0
	case f >= 255:
		return 255
	}
	return uint8(math.RoundToEven(f))
}

// ---------------------------------------------------------------------------
// Statically typed views
// ---------------------------------------------------------------------------

// Number is the set of Go types a typed element kind can be viewed as.
type Number interface {
	~uint8 | ~int8 | ~uint16 | ~int16 | ~uint32 | ~int32 | ~float32 | ~float64
}

// TypedView is a statically typed window onto typed elements.
type TypedView[T Number] struct {
	t *TypedElements
}

// AsTypedOf returns a view of e as elements of T. Uint8 views accept both
// Uint8 and Uint8Clamped storage.
func AsTypedOf[T Number](e Elements) (TypedView[T], error) {
	t, ok := e.(*TypedElements)
	if !ok || !kindMatches[T](t.kind) {
		return TypedView[T]{}, wrongKind(fmt.Sprintf("%T", *new(T)), e)
	}
	return TypedView[T]{t: t}, nil
}

func kindMatches[T Number](k ElementsKind) bool {
	switch any(*new(T)).(type) {
	case uint8:
		return k == KindUint8 || k == KindUint8Clamped
	case int8:
		return k == KindInt8
	case uint16:
		return k == KindUint16
	case int16:
		return k == KindInt16
	case uint32:
		return k == KindUint32
	case int32:
		return k == KindInt32
	case float32:
		return k == KindFloat32
	case float64:
		return k == KindFloat64
	}
	return false
}

// Len returns the element count.
func (v TypedView[T]) Len() int { return int(v.t.length) }

// At returns element i. Panics if i is out of range.
func (v TypedView[T]) At(i int) T {
	if i < 0 || i >= v.Len() {
		panic("TypedView.At: index out of range")
	}
	n, _ := v.t.Get(uint32(i))
	f, _ := n.ToNumber()
	return T(f)
}

// Set stores x at element i. Panics if i is out of range.
func (v TypedView[T]) Set(i int, x T) {
	if i < 0 || i >= v.Len() {
		panic("TypedView.Set: index out of range")
	}
	v.t.set(uint32(i), float64(x))
}
