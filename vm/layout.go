package vm

import "unsafe"

// Byte offsets of object and elements fields, for generated code that
// reads objects directly. They are fixed per build.

// OffsetOfShape is the offset of the shape pointer.
func OffsetOfShape() uintptr { return unsafe.Offsetof(Object{}.shape) }

// OffsetOfType is the offset of the type descriptor pointer.
func OffsetOfType() uintptr { return unsafe.Offsetof(Object{}.typ) }

// OffsetOfSlots is the offset of the dynamic slots slice header.
func OffsetOfSlots() uintptr { return unsafe.Offsetof(Object{}.slots) }

// OffsetOfElements is the offset of the elements reference.
func OffsetOfElements() uintptr { return unsafe.Offsetof(Object{}.elements) }

// ObjectHeaderSize is the size of the fixed header fields. The inline
// region starts here.
const ObjectHeaderSize = unsafe.Sizeof(Object{})

// FixedSlotOffset returns the offset of inline slot i from the start of
// the object.
func FixedSlotOffset(i uint32) uintptr {
	return ObjectHeaderSize + uintptr(i)*ValueSize
}

// OffsetOfFixedElements is the offset of the first inline element of a
// dense array: past the header and the elements header written at the
// start of the inline region.
func OffsetOfFixedElements() uintptr {
	return ObjectHeaderSize + HeaderSize
}

// PrivateDataOffset returns the offset of the word just past nfixed inline
// slots, where classes that carry native data keep it.
func PrivateDataOffset(nfixed uint32) uintptr {
	return FixedSlotOffset(nfixed)
}

// Elements header field offsets, relative to the first element. The header
// sits immediately before the elements it describes.
var (
	OffsetOfElementsCapacity          = int(unsafe.Offsetof(header{}.capacity)) - int(HeaderSize)
	OffsetOfElementsInitializedLength = int(unsafe.Offsetof(header{}.initializedLength)) - int(HeaderSize)
	OffsetOfElementsLength            = int(unsafe.Offsetof(header{}.length)) - int(HeaderSize)
	OffsetOfElementsKind              = int(unsafe.Offsetof(header{}.kind)) - int(HeaderSize)
)
