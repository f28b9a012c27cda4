package vm

import (
	"fmt"
	"unsafe"
)

// ---------------------------------------------------------------------------
// ElementsKind: how an object's indexed elements are stored
// ---------------------------------------------------------------------------

// ElementsKind discriminates the element storage variants.
type ElementsKind uint32

const (
	KindDense ElementsKind = iota
	KindSparse
	KindUint8
	KindInt8
	KindUint16
	KindInt16
	KindUint32
	KindInt32
	KindUint8Clamped
	KindFloat32
	KindFloat64
	KindArrayBuffer
)

var kindNames = [...]string{
	KindDense:        "dense",
	KindSparse:       "sparse",
	KindUint8:        "uint8",
	KindInt8:         "int8",
	KindUint16:       "uint16",
	KindInt16:        "int16",
	KindUint32:       "uint32",
	KindInt32:        "int32",
	KindUint8Clamped: "uint8clamped",
	KindFloat32:      "float32",
	KindFloat64:      "float64",
	KindArrayBuffer:  "arraybuffer",
}

func (k ElementsKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("ElementsKind(%d)", uint32(k))
}

// ParseElementsKind is the inverse of String.
func ParseElementsKind(s string) (ElementsKind, bool) {
	for k, name := range kindNames {
		if name == s {
			return ElementsKind(k), true
		}
	}
	return 0, false
}

// IsTyped reports whether k is one of the fixed-width numeric kinds.
func (k ElementsKind) IsTyped() bool {
	return k >= KindUint8 && k <= KindFloat64
}

// ElementSize returns the byte width of one element for typed and buffer
// kinds, and ValueSize for dense and sparse storage.
func (k ElementsKind) ElementSize() int {
	switch k {
	case KindUint8, KindInt8, KindUint8Clamped, KindArrayBuffer:
		return 1
	case KindUint16, KindInt16:
		return 2
	case KindUint32, KindInt32, KindFloat32:
		return 4
	default:
		return ValueSize
	}
}

// TypedArrayName returns the script-visible constructor name for a typed kind.
func (k ElementsKind) TypedArrayName() string {
	switch k {
	case KindUint8:
		return "Uint8Array"
	case KindInt8:
		return "Int8Array"
	case KindUint16:
		return "Uint16Array"
	case KindInt16:
		return "Int16Array"
	case KindUint32:
		return "Uint32Array"
	case KindInt32:
		return "Int32Array"
	case KindUint8Clamped:
		return "Uint8ClampedArray"
	case KindFloat32:
		return "Float32Array"
	case KindFloat64:
		return "Float64Array"
	}
	return ""
}

// TypedKinds lists the numeric element kinds in declaration order.
func TypedKinds() []ElementsKind {
	return []ElementsKind{
		KindUint8, KindInt8, KindUint16, KindInt16, KindUint32,
		KindInt32, KindUint8Clamped, KindFloat32, KindFloat64,
	}
}

// ---------------------------------------------------------------------------
// Header
// ---------------------------------------------------------------------------

// header is the fixed-size prefix of every elements array. For dense
// storage it occupies the first ValuesPerHeader words of the value array it
// describes, so elements can live in an object's inline slots as well as in
// a separate allocation.
type header struct {
	capacity          uint32
	initializedLength uint32
	length            uint32
	kind              uint32
}

// ValuesPerHeader is the header size measured in values.
const ValuesPerHeader = 2

// HeaderSize is the header size in bytes.
const HeaderSize = unsafe.Sizeof(header{})

// The header must be exactly ValuesPerHeader values wide: it is embedded in
// value arrays and elements start right after it.
var _ [0]struct{} = [HeaderSize - ValuesPerHeader*ValueSize]struct{}{}
var _ [0]struct{} = [ValuesPerHeader*ValueSize - HeaderSize]struct{}{}

// headerOf recovers the header stored at the front of a dense slab.
func headerOf(slab []Value) *header {
	assertf(len(slab) >= ValuesPerHeader, "headerOf: slab of %d values has no header", len(slab))
	return (*header)(unsafe.Pointer(&slab[0]))
}

// ---------------------------------------------------------------------------
// Elements: the closed set of storage variants
// ---------------------------------------------------------------------------

// Elements is implemented by the storage variants: the shared empty
// elements, *DenseElements, *SparseElements, *TypedElements and
// *BufferElements. The set is closed.
type Elements interface {
	Kind() ElementsKind
	Length() uint32
	elements()
}

// DefineResult is the outcome of a strategy's DefineElement.
type DefineResult uint8

const (
	DefineFailure DefineResult = iota
	// DefineConvertToSparse means the element cannot be stored densely; the
	// caller must convert the object and dispatch again.
	DefineConvertToSparse
	DefineSucceeded
)

func (r DefineResult) String() string {
	switch r {
	case DefineFailure:
		return "Failure"
	case DefineConvertToSparse:
		return "ConvertToSparse"
	case DefineSucceeded:
		return "Succeeded"
	}
	return fmt.Sprintf("DefineResult(%d)", uint8(r))
}

// ElementDescriptor is the value and attributes for an element definition.
// Getter and Setter are used when Attrs has AttrGetter or AttrSetter.
type ElementDescriptor struct {
	Value  Value
	Getter Value
	Setter Value
	Attrs  PropertyAttrs
}

// DataElement describes a plain writable, enumerable, configurable element.
func DataElement(v Value) ElementDescriptor {
	return ElementDescriptor{Value: v, Getter: Undefined, Setter: Undefined, Attrs: DefaultAttrs}
}

// AccessorElement describes a getter/setter element.
func AccessorElement(getter, setter Value, attrs PropertyAttrs) ElementDescriptor {
	attrs &^= AttrWritable
	if !getter.IsUndefined() {
		attrs |= AttrGetter
	}
	if !setter.IsUndefined() {
		attrs |= AttrSetter
	}
	return ElementDescriptor{Value: Undefined, Getter: getter, Setter: setter, Attrs: attrs}
}

// isPlain reports whether d can be stored in dense or typed storage.
func (d ElementDescriptor) isPlain() bool {
	return d.Attrs == DefaultAttrs
}

// ---------------------------------------------------------------------------
// Shared empty elements
// ---------------------------------------------------------------------------

// emptyElements is the storage of objects that have no elements. It has no
// mutating methods; growth replaces it on the object.
type emptyElements struct{}

func (*emptyElements) Kind() ElementsKind { return KindDense }
func (*emptyElements) Length() uint32     { return 0 }
func (*emptyElements) elements()          {}

// EmptyElements is the process-wide immutable storage for objects with no
// elements. It is never released.
var EmptyElements Elements = &emptyElements{}

// IsEmptyElements reports whether e is the shared empty storage.
func IsEmptyElements(e Elements) bool {
	return e == EmptyElements
}

// ---------------------------------------------------------------------------
// Classifier accessors
// ---------------------------------------------------------------------------

func wrongKind(want string, e Elements) error {
	return fmt.Errorf("want %s elements, have %s: %w", want, e.Kind(), ErrWrongElementsKind)
}

// AsDense returns the dense view of e. The shared empty elements are dense
// with zero capacity but have no view; callers grow them first.
func AsDense(e Elements) (*DenseElements, error) {
	if d, ok := e.(*DenseElements); ok {
		return d, nil
	}
	return nil, wrongKind("dense", e)
}

// AsSparse returns the sparse view of e.
func AsSparse(e Elements) (*SparseElements, error) {
	if s, ok := e.(*SparseElements); ok {
		return s, nil
	}
	return nil, wrongKind("sparse", e)
}

// AsTyped returns the typed view of e, checking the numeric kind.
func AsTyped(e Elements, kind ElementsKind) (*TypedElements, error) {
	if t, ok := e.(*TypedElements); ok && t.kind == kind {
		return t, nil
	}
	return nil, wrongKind(kind.String(), e)
}

// AsBuffer returns the byte-buffer view of e.
func AsBuffer(e Elements) (*BufferElements, error) {
	if b, ok := e.(*BufferElements); ok {
		return b, nil
	}
	return nil, wrongKind("arraybuffer", e)
}

// MustDense is AsDense for callers that have already checked the kind.
// Panics on mismatch.
func MustDense(e Elements) *DenseElements {
	d, err := AsDense(e)
	if err != nil {
		panic("MustDense: " + err.Error())
	}
	return d
}

// MustSparse is AsSparse for callers that have already checked the kind.
// Panics on mismatch.
func MustSparse(e Elements) *SparseElements {
	s, err := AsSparse(e)
	if err != nil {
		panic("MustSparse: " + err.Error())
	}
	return s
}

// MustTyped is AsTyped for callers that have already checked the kind.
// Panics on mismatch.
func MustTyped(e Elements, kind ElementsKind) *TypedElements {
	t, err := AsTyped(e, kind)
	if err != nil {
		panic("MustTyped: " + err.Error())
	}
	return t
}

// MustBuffer is AsBuffer for callers that have already checked the kind.
// Panics on mismatch.
func MustBuffer(e Elements) *BufferElements {
	b, err := AsBuffer(e)
	if err != nil {
		panic("MustBuffer: " + err.Error())
	}
	return b
}
