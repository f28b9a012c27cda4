package vm

import (
	"testing"
	"unsafe"
)

func TestFixedSlotOffsets(t *testing.T) {
	o := &object4{}
	base := uintptr(unsafe.Pointer(o))
	for i := uint32(0); i < 4; i++ {
		want := uintptr(unsafe.Pointer(&o.inline[i])) - base
		if got := FixedSlotOffset(i); got != want {
			t.Errorf("FixedSlotOffset(%d) = %d, want %d", i, got, want)
		}
	}
	if FixedSlotOffset(0) != ObjectHeaderSize {
		t.Error("inline region should start right after the header")
	}
	if PrivateDataOffset(4) != FixedSlotOffset(4) {
		t.Error("private data should follow the last fixed slot")
	}
}

func TestOffsetOfFixedElements(t *testing.T) {
	h := newTestHeap(t)
	arr, err := h.NewArray(6)
	if err != nil {
		t.Fatal(err)
	}
	d := arr.FixedElements()
	if d == nil {
		t.Fatal("expected inline elements")
	}
	mustSet(t, arr, 0, FromSmallInt(9))

	base := uintptr(unsafe.Pointer(arr))
	first := uintptr(unsafe.Pointer(&d.storage()[0]))
	if got := first - base; got != OffsetOfFixedElements() {
		t.Errorf("first inline element at %d, want %d", got, OffsetOfFixedElements())
	}
	v := *(*Value)(unsafe.Add(unsafe.Pointer(arr), OffsetOfFixedElements()))
	if v != FromSmallInt(9) {
		t.Errorf("raw read of element 0 = %s", v)
	}
}

func TestElementsHeaderOffsets(t *testing.T) {
	h := newTestHeap(t)
	arr, _ := h.NewArray(6)
	for i := uint32(0); i < 3; i++ {
		mustSet(t, arr, i, True)
	}
	if _, err := SetArrayLength(arr, 5); err != nil {
		t.Fatal(err)
	}
	d := arr.FixedElements()
	first := unsafe.Pointer(&d.storage()[0])
	read := func(off int) uint32 { return *(*uint32)(unsafe.Add(first, off)) }

	if got := read(OffsetOfElementsCapacity); got != d.Capacity() {
		t.Errorf("capacity via offset = %d, want %d", got, d.Capacity())
	}
	if got := read(OffsetOfElementsInitializedLength); got != 3 {
		t.Errorf("initialized length via offset = %d, want 3", got)
	}
	if got := read(OffsetOfElementsLength); got != 5 {
		t.Errorf("length via offset = %d, want 5", got)
	}
	if got := ElementsKind(read(OffsetOfElementsKind)); got != KindDense {
		t.Errorf("kind via offset = %s", got)
	}
	if OffsetOfElementsCapacity >= 0 || OffsetOfElementsKind >= 0 {
		t.Error("header fields should precede the first element")
	}
}

func TestObjectFieldOffsets(t *testing.T) {
	obj := newTestObject(t, AllocKind2, 1)
	p := unsafe.Pointer(obj)
	if *(**Shape)(unsafe.Add(p, OffsetOfShape())) != obj.Shape() {
		t.Error("shape offset does not point at the shape")
	}
	if *(**TypeDescriptor)(unsafe.Add(p, OffsetOfType())) != obj.Type() {
		t.Error("type offset does not point at the type")
	}
	if OffsetOfSlots() >= ObjectHeaderSize || OffsetOfElements() >= ObjectHeaderSize {
		t.Error("header fields must lie within the header")
	}
}
