package vm

import (
	"errors"
	"math"
	"testing"
)

func TestTypedArrayRejectsNonPlainDefinitions(t *testing.T) {
	h := newTestHeap(t)
	other, _ := h.NewPlainObject(AllocKind0, Null)

	for _, kind := range TypedKinds() {
		t.Run(kind.String(), func(t *testing.T) {
			arr, err := h.NewTypedArray(kind, 4)
			if err != nil {
				t.Fatal(err)
			}
			if !arr.IsTypedArray() || arr.Class() != TypedArrayClass(kind) {
				t.Fatalf("NewTypedArray(%s) class %s", kind, arr.Class())
			}

			rejected := []struct {
				name  string
				index uint32
				desc  ElementDescriptor
			}{
				{"past length", 4, DataElement(FromSmallInt(1))},
				{"far index", 1_000_000, DataElement(FromSmallInt(1))},
				{"accessor", 0, AccessorElement(other.ToValue(), Undefined, AttrConfigurable)},
				{"read-only", 0, ElementDescriptor{Value: FromSmallInt(1), Getter: Undefined, Setter: Undefined, Attrs: AttrEnumerable}},
				{"object value", 0, DataElement(other.ToValue())},
			}
			for _, r := range rejected {
				if err := DefineElement(arr, r.index, r.desc); !errors.Is(err, ErrDefineElement) {
					t.Errorf("%s: error = %v, want ErrDefineElement", r.name, err)
				}
			}
			if arr.Elements().Kind() != kind || arr.Elements().Length() != 4 {
				t.Errorf("rejections changed the storage to %s/%d", arr.Elements().Kind(), arr.Elements().Length())
			}
			if arr.DeleteElement(0) {
				t.Error("typed elements cannot be deleted")
			}
			if _, err := SetArrayLength(arr, 2); !errors.Is(err, ErrWrongElementsKind) {
				t.Errorf("SetArrayLength error = %v, want ErrWrongElementsKind", err)
			}

			if err := arr.SetElement(3, FromSmallInt(7)); err != nil {
				t.Fatalf("in-range store: %v", err)
			}
			if v, ok := arr.GetElement(3); !ok || !numberIs(v, 7) {
				t.Errorf("element 3 = %s, %v", v, ok)
			}
		})
	}
}

func TestArrayBufferRejectsNonPlainDefinitions(t *testing.T) {
	h := newTestHeap(t)
	buf, err := h.NewArrayBuffer(8)
	if err != nil {
		t.Fatal(err)
	}
	if !buf.IsArrayBuffer() {
		t.Fatal("NewArrayBuffer should have buffer elements")
	}
	if err := buf.SetElement(8, FromSmallInt(1)); !errors.Is(err, ErrDefineElement) {
		t.Errorf("store past byte length error = %v", err)
	}
	if err := DefineElement(buf, 0, AccessorElement(True, Undefined, 0)); !errors.Is(err, ErrDefineElement) {
		t.Errorf("accessor on buffer error = %v", err)
	}
	if err := buf.SetElement(1, FromSmallInt(258)); err != nil {
		t.Fatal(err)
	}
	if v, _ := buf.GetElement(1); v != FromSmallInt(2) {
		t.Errorf("byte 1 = %s, want 2 (258 mod 256)", v)
	}
}

func TestTypedClassWithoutStorageRejectsElements(t *testing.T) {
	obj, err := NewObject(NewInitialShape(TypedArrayClass(KindInt32), AllocKind0), nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := obj.SetElement(0, FromSmallInt(1)); !errors.Is(err, ErrDefineElement) {
		t.Errorf("error = %v, want ErrDefineElement", err)
	}
	if !IsEmptyElements(obj.Elements()) {
		t.Error("failed definition should not allocate dense storage")
	}
}

func TestTypedConversions(t *testing.T) {
	tests := []struct {
		kind ElementsKind
		in   float64
		want float64
	}{
		{KindUint8, 300, 44},
		{KindUint8, -1, 255},
		{KindInt8, 200, -56},
		{KindInt8, 1.9, 1},
		{KindUint16, 70000, 4464},
		{KindInt16, 40000, -25536},
		{KindUint32, -1, 4294967295},
		{KindInt32, 4294967295, -1},
		{KindInt32, math.NaN(), 0},
		{KindInt32, math.Inf(1), 0},
		{KindUint8Clamped, 300, 255},
		{KindUint8Clamped, -5, 0},
		{KindUint8Clamped, 2.5, 2},
		{KindUint8Clamped, 3.5, 4},
		{KindUint8Clamped, 1.2, 1},
		{KindFloat32, 0.5, 0.5},
		{KindFloat32, 0.1, float64(float32(0.1))},
		{KindFloat64, 0.1, 0.1},
	}
	for _, tt := range tests {
		te, err := NewTypedElements(tt.kind, 1)
		if err != nil {
			t.Fatal(err)
		}
		te.set(0, tt.in)
		v, _ := te.Get(0)
		got, _ := v.ToNumber()
		if got != tt.want {
			t.Errorf("%s store %v: got %v, want %v", tt.kind, tt.in, got, tt.want)
		}
	}
}

func TestTypedFloatNaN(t *testing.T) {
	te, _ := NewTypedElements(KindFloat64, 1)
	te.set(0, math.NaN())
	v, _ := te.Get(0)
	if !v.IsDouble() || !math.IsNaN(v.Float64()) {
		t.Errorf("NaN element read back as %s", v)
	}
}

func TestTypedViewSharesBufferBytes(t *testing.T) {
	h := newTestHeap(t)
	buf, _ := h.NewArrayBuffer(16)
	view, err := h.NewTypedArrayOnBuffer(KindUint16, buf, 4, 4)
	if err != nil {
		t.Fatal(err)
	}
	if err := view.SetElement(0, FromSmallInt(0x0102)); err != nil {
		t.Fatal(err)
	}
	bytes := MustBuffer(buf.Elements()).Bytes()
	if bytes[4] != 0x02 || bytes[5] != 0x01 {
		t.Errorf("buffer bytes %v, want little-endian 0x0102 at offset 4", bytes[4:6])
	}
	if err := buf.SetElement(7, FromSmallInt(0xAB)); err != nil {
		t.Fatal(err)
	}
	if v, _ := view.GetElement(1); v != FromSmallInt(0xAB00) {
		t.Errorf("view element 1 = %s, want %d", v, 0xAB00)
	}

	if got := view.GetFixedSlot(ViewBufferSlot); got != buf.ToValue() {
		t.Errorf("view buffer slot = %s, want %s", got, buf.ToValue())
	}
	if got, _ := view.GetProperty(NameKey("byteOffset")); got != FromSmallInt(4) {
		t.Errorf("byteOffset = %s", got)
	}
}

func TestTypedViewBounds(t *testing.T) {
	h := newTestHeap(t)
	buf, _ := h.NewArrayBuffer(8)
	if _, err := h.NewTypedArrayOnBuffer(KindUint32, buf, 2, 1); err == nil {
		t.Error("misaligned view should fail")
	}
	if _, err := h.NewTypedArrayOnBuffer(KindFloat64, buf, 0, 2); err == nil {
		t.Error("view past the buffer end should fail")
	}
	plain, _ := h.NewPlainObject(AllocKind0, Null)
	if _, err := h.NewTypedArrayOnBuffer(KindUint8, plain, 0, 1); !errors.Is(err, ErrWrongElementsKind) {
		t.Errorf("view on a non-buffer error = %v", err)
	}
	if _, err := NewTypedElements(KindDense, 4); !errors.Is(err, ErrWrongElementsKind) {
		t.Errorf("NewTypedElements(dense) error = %v", err)
	}
}

func TestAsTypedOf(t *testing.T) {
	h := newTestHeap(t)
	arr, _ := h.NewTypedArray(KindFloat64, 3)

	v, err := AsTypedOf[float64](arr.Elements())
	if err != nil {
		t.Fatal(err)
	}
	v.Set(2, 1.25)
	if v.Len() != 3 || v.At(2) != 1.25 {
		t.Errorf("view len %d, At(2) = %v", v.Len(), v.At(2))
	}
	if got, _ := arr.GetElement(2); got != FromFloat64(1.25) {
		t.Errorf("element 2 = %s", got)
	}

	if _, err := AsTypedOf[int32](arr.Elements()); !errors.Is(err, ErrWrongElementsKind) {
		t.Errorf("AsTypedOf[int32] on float64 storage error = %v", err)
	}

	clamped, _ := h.NewTypedArray(KindUint8Clamped, 2)
	u8, err := AsTypedOf[uint8](clamped.Elements())
	if err != nil {
		t.Fatalf("uint8 view of clamped storage: %v", err)
	}
	u8.Set(0, 200)
	if u8.At(0) != 200 {
		t.Errorf("At(0) = %d", u8.At(0))
	}

	defer func() {
		if recover() == nil {
			t.Error("At out of range should panic")
		}
	}()
	u8.At(5)
}

func numberIs(v Value, want float64) bool {
	f, ok := v.ToNumber()
	return ok && f == want
}
