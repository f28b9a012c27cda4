package vm

import "fmt"

// ---------------------------------------------------------------------------
// Element definition
// ---------------------------------------------------------------------------

// defineStep asks the current storage variant to define one element.
func defineStep(obj *Object, index uint32, desc ElementDescriptor) DefineResult {
	switch e := obj.elements.(type) {
	case *DenseElements:
		return e.DefineElement(obj, index, desc)
	case *SparseElements:
		return e.DefineElement(obj, index, desc)
	case *TypedElements:
		return e.DefineElement(obj, index, desc)
	case *BufferElements:
		return e.DefineElement(obj, index, desc)
	default:
		if obj.Class().HasAny(ClassTypedArray | ClassArrayBuffer) {
			return DefineFailure
		}
		return defineDense(obj, nil, index, desc)
	}
}

// DefineElement defines the element at index on obj. When dense storage
// cannot hold the element it converts the object to sparse storage and
// dispatches again. Rejections return an error wrapping ErrDefineElement.
func DefineElement(obj *Object, index uint32, desc ElementDescriptor) error {
	res := defineStep(obj, index, desc)
	if res == DefineConvertToSparse {
		if err := obj.MakeElementsSparse(); err != nil {
			return fmt.Errorf("define element %d: %w", index, err)
		}
		res = defineStep(obj, index, desc)
		assertf(res != DefineConvertToSparse, "DefineElement: sparse storage asked to convert again")
	}
	if res != DefineSucceeded {
		return fmt.Errorf("define element %d on %s elements: %w", index, obj.elements.Kind(), ErrDefineElement)
	}
	return nil
}

// SetElement defines a plain data element.
func (obj *Object) SetElement(index uint32, v Value) error {
	return DefineElement(obj, index, DataElement(v))
}

// GetElement returns the data value at index. Holes, missing elements and
// out-of-range indices report false.
func (obj *Object) GetElement(index uint32) (Value, bool) {
	switch e := obj.elements.(type) {
	case *DenseElements:
		return e.Get(index)
	case *SparseElements:
		return e.Get(index)
	case *TypedElements:
		return e.Get(index)
	case *BufferElements:
		return e.Get(index)
	}
	return Undefined, false
}

// DeleteElement removes the element at index. Dense storage punches a hole;
// sparse storage refuses to delete non-configurable elements. Typed and
// buffer elements cannot be deleted.
func (obj *Object) DeleteElement(index uint32) bool {
	switch e := obj.elements.(type) {
	case *DenseElements:
		if index >= e.InitializedLength() {
			return true
		}
		p := &e.storage()[index]
		obj.writeBarriered(SlotRef{Object: obj, Kind: DenseElementSlot, Index: index}, p, Hole)
		return true
	case *SparseElements:
		return e.Delete(obj, index)
	case *TypedElements, *BufferElements:
		return index >= e.Length()
	}
	return true
}

// SetArrayLength changes the length of value-typed elements. Shrinking
// drops elements at or above the new length; sparse storage stops at the
// highest non-configurable element. It returns the length reached.
func SetArrayLength(obj *Object, length uint32) (uint32, error) {
	switch e := obj.elements.(type) {
	case *DenseElements:
		e.setLength(obj, length)
		return length, nil
	case *SparseElements:
		return e.setLength(obj, length), nil
	case *TypedElements, *BufferElements:
		return e.Length(), fmt.Errorf("set length of %s elements: %w", e.Kind(), ErrWrongElementsKind)
	}
	if length == 0 {
		return 0, nil
	}
	if obj.Class().HasAny(ClassTypedArray | ClassArrayBuffer) {
		return 0, fmt.Errorf("set length on %s: %w", obj.Class(), ErrWrongElementsKind)
	}
	// Empty elements have no header to record a length in.
	d := obj.growDenseElements(nil, SlotCapacityMin)
	d.setLength(obj, length)
	return length, nil
}
