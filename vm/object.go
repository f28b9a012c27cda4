package vm

import (
	"fmt"
	"unsafe"
)

// Object is a variable-shape object instance.
//
// Named properties live in slots. The first NumFixedSlots of them are
// stored inline, in a region that directly follows the Object header in
// the same allocation; the rest live in the dynamically sized slots array.
// Indexed elements are stored separately, in one of the Elements variants.
//
// Dense array objects have no fixed property slots and use their inline
// region for elements instead.
type Object struct {
	shape    *Shape
	typ      *TypeDescriptor
	slots    []Value
	elements Elements

	fixed   []Value
	heap    *Heap
	barrier Barrier
	handle  uint32
	gcFlags uint32
}

// SlotCapacityMin is the smallest non-empty dynamic slot array, and the
// smallest dynamically allocated dense elements capacity.
const SlotCapacityMin = 8

// The inline region starts right after the header, so the header must end
// on a value boundary.
var _ [0]struct{} = [unsafe.Sizeof(Object{}) % ValueSize]struct{}{}

// Size classes. Object must be the first field so that the inline region
// follows the header.
type object0 struct{ Object }

type (
	object2 struct {
		Object
		inline [2]Value
	}
	object4 struct {
		Object
		inline [4]Value
	}
	object8 struct {
		Object
		inline [8]Value
	}
	object12 struct {
		Object
		inline [12]Value
	}
	object16 struct {
		Object
		inline [16]Value
	}
)

// allocObject allocates an object with an inline region of kind's size.
func allocObject(kind AllocKind) *Object {
	switch kind {
	case AllocKind0:
		return &(&object0{}).Object
	case AllocKind2:
		o := &object2{}
		o.fixed = o.inline[:]
		return &o.Object
	case AllocKind4:
		o := &object4{}
		o.fixed = o.inline[:]
		return &o.Object
	case AllocKind8:
		o := &object8{}
		o.fixed = o.inline[:]
		return &o.Object
	case AllocKind12:
		o := &object12{}
		o.fixed = o.inline[:]
		return &o.Object
	case AllocKind16:
		o := &object16{}
		o.fixed = o.inline[:]
		return &o.Object
	}
	panic(fmt.Sprintf("allocObject: bad alloc kind %d", kind))
}

// ---------------------------------------------------------------------------
// Object creation
// ---------------------------------------------------------------------------

// NewObject creates an object with the given shape and type. Slots start
// Undefined. Dense array objects whose inline region can hold a header and
// at least one element start with inline elements; every other object
// starts with the shared empty elements.
//
// The object is not registered with any heap and uses NoBarrier; use
// Heap.NewObject for collected objects.
func NewObject(shape *Shape, typ *TypeDescriptor) (*Object, error) {
	if typ == nil {
		typ = NewLazyType(Null)
	}
	obj := allocObject(shape.AllocKind())
	obj.shape = shape
	obj.typ = typ
	obj.barrier = NoBarrier{}
	obj.elements = EmptyElements
	for i := range obj.fixed {
		obj.fixed[i] = Undefined
	}
	if err := obj.resizeSlots(0, shape.SlotSpan()); err != nil {
		return nil, err
	}
	if obj.InlineElementsCapacity() > 0 {
		obj.SetFixedElements()
	}
	return obj, nil
}

// ---------------------------------------------------------------------------
// Shape and type
// ---------------------------------------------------------------------------

// Shape returns the object's current shape.
func (obj *Object) Shape() *Shape { return obj.shape }

// Class returns the object's class.
func (obj *Object) Class() *Class { return obj.shape.Class() }

// Type returns the object's type descriptor.
func (obj *Object) Type() *TypeDescriptor { return obj.typ }

// SetType replaces the type descriptor. The prototype reference goes
// through the write barrier like any slot.
func (obj *Object) SetType(t *TypeDescriptor) {
	if old := obj.typ.Proto(); old.IsGCThing() {
		obj.barrier.BeforeOverwrite(old)
	}
	obj.typ = t
	if p := t.Proto(); p.IsGCThing() {
		obj.barrier.AfterStore(SlotRef{Object: obj, Kind: TypeSlot}, p)
	}
}

// HasLazyType reports whether the type descriptor is still lazy.
func (obj *Object) HasLazyType() bool { return obj.typ.IsLazy() }

// HasSingletonType reports whether the object owns its type.
func (obj *Object) HasSingletonType() bool { return obj.typ.IsSingleton() }

// NumFixedSlots returns the number of property slots stored inline.
func (obj *Object) NumFixedSlots() uint32 { return obj.shape.NumFixedSlots() }

// SlotSpan returns the number of property slots in use.
func (obj *Object) SlotSpan() uint32 { return obj.shape.SlotSpan() }

// NumDynamicSlots returns the capacity of the dynamic slots array.
func (obj *Object) NumDynamicSlots() uint32 { return uint32(len(obj.slots)) }

// DynamicSlotsCount returns how many dynamic slots an object with nfixed
// inline slots needs to hold span slots: none when everything fits inline,
// otherwise a power of two no smaller than SlotCapacityMin.
func DynamicSlotsCount(nfixed, span uint32) uint32 {
	if span <= nfixed {
		return 0
	}
	n := span - nfixed
	if n <= SlotCapacityMin {
		return SlotCapacityMin
	}
	c := uint32(SlotCapacityMin)
	for c < n {
		c <<= 1
	}
	return c
}

// SetShape replaces the shape, resizing the dynamic slots for the new span.
// The new shape must keep the object's allocation kind. Slots dropped by a
// shrinking span are released through the barrier; slots added by a
// growing span start Undefined.
func (obj *Object) SetShape(s *Shape) error {
	if debugChecks {
		assertf(s.AllocKind() == obj.shape.AllocKind() && s.NumFixedSlots() == obj.shape.NumFixedSlots(),
			"Object.SetShape: layout changes from %d/%d fixed to %d/%d",
			obj.shape.AllocKind().Slots(), obj.shape.NumFixedSlots(), s.AllocKind().Slots(), s.NumFixedSlots())
	}
	oldSpan := obj.SlotSpan()
	if err := obj.resizeSlots(oldSpan, s.SlotSpan()); err != nil {
		return err
	}
	obj.shape = s
	return nil
}

// AddProperty appends a property, moving to the child shape and growing
// the slots if needed. The new slot (two for accessors) starts Undefined.
func (obj *Object) AddProperty(key PropertyKey, attrs PropertyAttrs) (Property, error) {
	oldSpan := obj.SlotSpan()
	next, err := obj.shape.AddProperty(key, attrs)
	if err != nil {
		return Property{}, err
	}
	if err := obj.resizeSlots(oldSpan, next.SlotSpan()); err != nil {
		if next.InDictionaryMode() {
			next.RemoveProperty(key)
		}
		return Property{}, err
	}
	obj.shape = next
	p, _ := next.Lookup(key)
	return p, nil
}

// DefineProperty adds a data property and stores its value.
func (obj *Object) DefineProperty(key PropertyKey, v Value) (Property, error) {
	p, err := obj.AddProperty(key, DefaultAttrs)
	if err != nil {
		return Property{}, err
	}
	obj.SetSlot(p.Slot, v)
	return p, nil
}

// GetProperty returns the value of a data property.
func (obj *Object) GetProperty(key PropertyKey) (Value, bool) {
	p, ok := obj.shape.Lookup(key)
	if !ok || p.Attrs.IsAccessor() {
		return Undefined, false
	}
	return obj.GetSlot(p.Slot), true
}

// RemoveProperty deletes a configurable property, moving the object to a
// dictionary shape first if its shape is shared. The property's slots are
// cleared and recycled by later additions.
func (obj *Object) RemoveProperty(key PropertyKey) bool {
	p, ok := obj.shape.Lookup(key)
	if !ok {
		return true
	}
	if p.Attrs&AttrConfigurable == 0 {
		return false
	}
	if !obj.shape.InDictionaryMode() {
		obj.shape = obj.shape.ToDictionary()
	}
	obj.shape.RemoveProperty(key)
	for i := p.Slot; i < p.Slot+p.Width(); i++ {
		obj.SetSlot(i, Undefined)
	}
	return true
}

// PreventExtensions stops the object from accepting new properties and new
// elements.
func (obj *Object) PreventExtensions() {
	obj.shape = obj.shape.PreventExtensions()
	obj.typ.note(TypeNonExtensible, obj.elements.Kind())
}

// IsExtensible reports whether properties and elements may be added.
func (obj *Object) IsExtensible() bool { return obj.shape.IsExtensible() }

// ---------------------------------------------------------------------------
// Elements
// ---------------------------------------------------------------------------

// Elements returns the current element storage.
func (obj *Object) Elements() Elements { return obj.elements }

// FixedElements returns the dense elements when they live in the inline
// region, or nil.
func (obj *Object) FixedElements() *DenseElements {
	if d, ok := obj.elements.(*DenseElements); ok && d.aliases(obj.fixed) {
		return d
	}
	return nil
}

// InlineElementsCapacity returns how many elements the inline region can
// hold, or 0 for objects that keep properties there.
func (obj *Object) InlineElementsCapacity() uint32 {
	if !obj.shape.Class().Has(ClassDenseArray) || len(obj.fixed) <= ValuesPerHeader {
		return 0
	}
	return uint32(len(obj.fixed) - ValuesPerHeader)
}

// SetFixedElements points the elements at the inline region, formatting an
// empty dense header there. The object must be a dense array with room for
// at least one inline element.
func (obj *Object) SetFixedElements() {
	assertf(obj.shape.Class().Has(ClassDenseArray), "Object.SetFixedElements: class %s has fixed property slots", obj.Class())
	assertf(len(obj.fixed) > ValuesPerHeader, "Object.SetFixedElements: inline region of %d values", len(obj.fixed))
	obj.elements = formatDenseSlab(obj.fixed)
}

// HasDynamicElements reports whether the elements are a separate
// allocation, rather than the shared empty elements or the inline region.
func (obj *Object) HasDynamicElements() bool {
	if IsEmptyElements(obj.elements) {
		return false
	}
	if d, ok := obj.elements.(*DenseElements); ok {
		return !d.aliases(obj.fixed)
	}
	return true
}

// setElements installs typed or buffer storage on a freshly created object.
func (obj *Object) setElements(e Elements) {
	obj.elements = e
	obj.typ.note(0, e.Kind())
}

// sparsePolicy returns the heap's policy, or the default for objects
// outside a heap.
func (obj *Object) sparsePolicy() SparsePolicy {
	if obj.heap != nil {
		return obj.heap.cfg.Sparse
	}
	return DefaultSparsePolicy()
}

// growDenseElements moves dense elements (nil for the empty elements) to a
// new dynamic slab with room for at least required values. Values move
// without barriers: locations are named by index, which does not change.
func (obj *Object) growDenseElements(d *DenseElements, required uint32) *DenseElements {
	var old header
	if d != nil {
		old = *d.hdr()
	}
	capacity := growCapacity(old.capacity, required, obj.sparsePolicy().MaxDenseCapacity)
	slab := newDenseSlab(capacity)
	nd := &DenseElements{slab: slab}
	h := nd.hdr()
	h.initializedLength = old.initializedLength
	h.length = old.length
	if d != nil {
		copy(nd.storage(), d.Values())
		if d.aliases(obj.fixed) {
			obj.clearInline()
		}
	}
	obj.elements = nd
	return nd
}

// EnsureDenseCapacity grows dense elements so that capacity elements fit
// without further reallocation.
func (obj *Object) EnsureDenseCapacity(capacity uint32) error {
	var d *DenseElements
	switch e := obj.elements.(type) {
	case *DenseElements:
		d = e
		if capacity <= d.Capacity() {
			return nil
		}
	default:
		if !IsEmptyElements(e) {
			return wrongKind("dense", e)
		}
		if capacity == 0 {
			return nil
		}
	}
	if capacity > obj.sparsePolicy().MaxDenseCapacity {
		return fmt.Errorf("ensure capacity %d: %w", capacity, ErrDenseCapacity)
	}
	obj.growDenseElements(d, capacity)
	return nil
}

// MakeElementsSparse converts dense (or empty) elements to sparse storage.
// Every initialized non-hole element keeps its index and value with default
// attributes; the length is preserved.
func (obj *Object) MakeElementsSparse() error {
	var d *DenseElements
	switch e := obj.elements.(type) {
	case *SparseElements:
		return nil
	case *DenseElements:
		d = e
	default:
		if !IsEmptyElements(e) {
			return wrongKind("dense", e)
		}
	}

	s := newSparseElements(obj.elements.Length())
	var moved []Value
	if d != nil {
		vals := d.Values()
		moved = make([]Value, 0, len(vals))
		for i, v := range vals {
			if v.IsHole() {
				continue
			}
			if _, err := s.shape.AddProperty(IndexKey(uint32(i)), DefaultAttrs); err != nil {
				return err
			}
			moved = append(moved, v)
		}
	}
	s.ensureValues()
	copy(s.values, moved)
	if d != nil && d.aliases(obj.fixed) {
		obj.clearInline()
	}
	obj.elements = s
	for i, v := range moved {
		if v.IsGCThing() {
			obj.barrier.AfterStore(SlotRef{Object: obj, Kind: SparseElementSlot, Index: uint32(i)}, v)
		}
	}
	obj.typ.note(TypeSparseElements, KindSparse)
	if obj.heap != nil {
		obj.heap.log.Debugf("object %d: %d elements converted to sparse, length %d", obj.handle, len(moved), s.length)
	}
	return nil
}

// MakeElementsDense converts sparse elements back to dense storage. Every
// index below the length must hold a plain data element.
func (obj *Object) MakeElementsDense() error {
	s, err := AsSparse(obj.elements)
	if err != nil {
		return err
	}
	if s.length > obj.sparsePolicy().MaxDenseCapacity {
		return fmt.Errorf("make dense of length %d: %w", s.length, ErrDenseCapacity)
	}
	if uint32(s.Count()) != s.length {
		return fmt.Errorf("make dense: %d of %d elements present: %w", s.Count(), s.length, ErrDefineElement)
	}
	for _, p := range s.shape.Properties() {
		if p.Attrs != DefaultAttrs {
			return fmt.Errorf("make dense: element %s has attributes %s: %w", p.Key, p.Attrs, ErrDefineElement)
		}
	}

	var d *DenseElements
	if n := obj.InlineElementsCapacity(); n > 0 && s.length <= n {
		obj.SetFixedElements()
		d = obj.elements.(*DenseElements)
	} else {
		d = &DenseElements{slab: newDenseSlab(growCapacity(0, s.length, obj.sparsePolicy().MaxDenseCapacity))}
	}
	store := d.storage()
	for i := uint32(0); i < s.length; i++ {
		p, _ := s.shape.Lookup(IndexKey(i))
		store[i] = s.values[p.Slot]
	}
	h := d.hdr()
	h.initializedLength = s.length
	h.length = s.length
	obj.elements = d
	for i := uint32(0); i < s.length; i++ {
		if v := store[i]; v.IsGCThing() {
			obj.barrier.AfterStore(SlotRef{Object: obj, Kind: DenseElementSlot, Index: i}, v)
		}
	}
	return nil
}

// clearInline resets the inline region after elements move out of it.
func (obj *Object) clearInline() {
	for i := range obj.fixed {
		obj.fixed[i] = Undefined
	}
}

// ---------------------------------------------------------------------------
// Classification
// ---------------------------------------------------------------------------

// IsDenseArray reports whether the object is an array with dense elements.
func (obj *Object) IsDenseArray() bool {
	return obj.Class().Has(ClassDenseArray) && obj.elements.Kind() == KindDense
}

// IsSlowArray reports whether the object is an array whose elements are
// sparse, either because it was created that way or because it converted.
func (obj *Object) IsSlowArray() bool {
	c := obj.Class()
	return c.Has(ClassSlowArray) || (c.Has(ClassDenseArray) && obj.elements.Kind() == KindSparse)
}

// IsArray reports whether the object is an array of either representation.
func (obj *Object) IsArray() bool {
	return obj.Class().HasAny(ClassDenseArray | ClassSlowArray)
}

// IsTypedArray reports whether the object has typed elements.
func (obj *Object) IsTypedArray() bool { return obj.elements.Kind().IsTyped() }

// IsArrayBuffer reports whether the object has byte buffer elements.
func (obj *Object) IsArrayBuffer() bool { return obj.elements.Kind() == KindArrayBuffer }

// ---------------------------------------------------------------------------
// Identity
// ---------------------------------------------------------------------------

// Handle returns the object's heap handle, or 0 if it is not in a heap.
func (obj *Object) Handle() uint32 { return obj.handle }

// Heap returns the heap that owns the object, if any.
func (obj *Object) Heap() *Heap { return obj.heap }

// ToValue returns an object Value referring to obj. Panics if the object
// does not belong to a heap.
func (obj *Object) ToValue() Value {
	if obj.handle == 0 {
		panic("Object.ToValue: object is not in a heap")
	}
	return FromHandle(obj.handle)
}

// ---------------------------------------------------------------------------
// Tracing and accounting
// ---------------------------------------------------------------------------

// MarkChildren reports every value the object holds: its prototype, its
// slots and its value-typed elements.
func (obj *Object) MarkChildren(t Tracer) {
	if p := obj.typ.Proto(); p.IsGCThing() {
		t.TraceValue(p)
	}
	span := obj.SlotSpan()
	nfixed := obj.NumFixedSlots()
	for i := uint32(0); i < nfixed && i < span; i++ {
		if v := obj.fixed[i]; v.IsGCThing() {
			t.TraceValue(v)
		}
	}
	if span > nfixed {
		for _, v := range obj.slots[:span-nfixed] {
			if v.IsGCThing() {
				t.TraceValue(v)
			}
		}
	}
	switch e := obj.elements.(type) {
	case *DenseElements:
		for _, v := range e.Values() {
			if v.IsGCThing() {
				t.TraceValue(v)
			}
		}
	case *SparseElements:
		e.trace(t)
	}
}

// finalize releases the dynamic slots and any separately allocated
// elements. The shared empty elements and the inline region are never
// released. It returns the number of allocations released.
func (obj *Object) finalize() int {
	if f := obj.Class().Finalize; f != nil {
		f(obj)
	}
	released := 0
	if obj.slots != nil {
		obj.slots = nil
		released++
	}
	if obj.HasDynamicElements() {
		released++
	}
	obj.elements = EmptyElements
	obj.clearInline()
	return released
}

// SizeOfExcludingThis returns the bytes held by the object outside its own
// allocation: dynamic slots and separately allocated elements.
func (obj *Object) SizeOfExcludingThis() int {
	n := cap(obj.slots) * ValueSize
	if !obj.HasDynamicElements() {
		return n
	}
	switch e := obj.elements.(type) {
	case *DenseElements:
		n += e.byteSize()
	case *SparseElements:
		n += e.byteSize()
	case *TypedElements:
		n += len(e.data)
	case *BufferElements:
		n += len(e.data)
	}
	return n
}

func (obj *Object) String() string {
	return fmt.Sprintf("<%s #%d span=%d elements=%s/%d>",
		obj.Class(), obj.handle, obj.SlotSpan(), obj.elements.Kind(), obj.elements.Length())
}
