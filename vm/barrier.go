package vm

import "fmt"

// ---------------------------------------------------------------------------
// Write barriers
// ---------------------------------------------------------------------------

// SlotKind says which storage region a SlotRef addresses.
type SlotKind uint8

const (
	FixedSlot SlotKind = iota
	DynamicSlot
	DenseElementSlot
	SparseElementSlot
	// TypeSlot is the prototype held by the object's type descriptor.
	TypeSlot
)

func (k SlotKind) String() string {
	switch k {
	case FixedSlot:
		return "fixed"
	case DynamicSlot:
		return "dynamic"
	case DenseElementSlot:
		return "element"
	case SparseElementSlot:
		return "sparse"
	case TypeSlot:
		return "type"
	}
	return fmt.Sprintf("SlotKind(%d)", uint8(k))
}

// SlotRef names a stored location by owner and index instead of by address,
// so it stays valid when the owner's storage is reallocated.
type SlotRef struct {
	Object *Object
	Kind   SlotKind
	Index  uint32
}

// Get reads the current value at the location. It reports false when the
// location no longer exists.
func (r SlotRef) Get() (Value, bool) {
	o := r.Object
	switch r.Kind {
	case FixedSlot:
		if r.Index < uint32(len(o.fixed)) {
			return o.fixed[r.Index], true
		}
	case DynamicSlot:
		if r.Index < uint32(len(o.slots)) {
			return o.slots[r.Index], true
		}
	case DenseElementSlot:
		if d, ok := o.elements.(*DenseElements); ok && r.Index < d.InitializedLength() {
			return d.storage()[r.Index], true
		}
	case SparseElementSlot:
		if s, ok := o.elements.(*SparseElements); ok && r.Index < uint32(len(s.values)) {
			return s.values[r.Index], true
		}
	case TypeSlot:
		return o.typ.Proto(), true
	}
	return Undefined, false
}

func (r SlotRef) String() string {
	return fmt.Sprintf("%s[%d]@%d", r.Kind, r.Index, r.Object.Handle())
}

// Barrier observes every overwrite of a stored value.
//
// BeforeOverwrite receives the value about to be replaced, for incremental
// marking. AfterStore receives the new value and its location, for
// generational remembered sets. Both are called only for GC things.
type Barrier interface {
	BeforeOverwrite(old Value)
	AfterStore(loc SlotRef, v Value)
}

// NoBarrier ignores all stores.
type NoBarrier struct{}

func (NoBarrier) BeforeOverwrite(Value)     {}
func (NoBarrier) AfterStore(SlotRef, Value) {}

// Tracer receives the values an object holds during marking.
type Tracer interface {
	TraceValue(v Value)
}

// writeBarriered overwrites *p with v, running the barrier around the store.
// Stores that write into never-initialized storage use the Init variants
// instead, which skip the pre-barrier.
func (obj *Object) writeBarriered(loc SlotRef, p *Value, v Value) {
	if old := *p; old.IsGCThing() {
		obj.barrier.BeforeOverwrite(old)
	}
	*p = v
	if v.IsGCThing() {
		obj.barrier.AfterStore(loc, v)
	}
}

// initBarriered stores v into storage that held no value, running only the
// post-barrier.
func (obj *Object) initBarriered(loc SlotRef, p *Value, v Value) {
	*p = v
	if v.IsGCThing() {
		obj.barrier.AfterStore(loc, v)
	}
}
