package vm

import "fmt"

// ---------------------------------------------------------------------------
// Slot addressing
// ---------------------------------------------------------------------------

// Logical slot i lives in the inline region when i < NumFixedSlots and in
// slots[i-NumFixedSlots] otherwise.

func (obj *Object) slotRef(i uint32) (SlotRef, *Value) {
	nfixed := obj.shape.NumFixedSlots()
	if i < nfixed {
		return SlotRef{Object: obj, Kind: FixedSlot, Index: i}, &obj.fixed[i]
	}
	return SlotRef{Object: obj, Kind: DynamicSlot, Index: i - nfixed}, &obj.slots[i-nfixed]
}

func (obj *Object) checkSlot(op string, i uint32) {
	if debugChecks {
		assertf(i < obj.shape.SlotSpan(), "Object.%s: index %d out of range (span %d)", op, i, obj.shape.SlotSpan())
	}
}

func (obj *Object) checkFixedSlot(op string, i uint32) {
	if debugChecks {
		assertf(i < obj.shape.NumFixedSlots(), "Object.%s: fixed index %d out of range (%d fixed)", op, i, obj.shape.NumFixedSlots())
	}
}

// GetSlot returns the value of logical slot i. Panics if i is outside the
// slot span in debug builds.
func (obj *Object) GetSlot(i uint32) Value {
	obj.checkSlot("GetSlot", i)
	_, p := obj.slotRef(i)
	return *p
}

// SetSlot overwrites logical slot i, running the write barrier.
func (obj *Object) SetSlot(i uint32, v Value) {
	obj.checkSlot("SetSlot", i)
	ref, p := obj.slotRef(i)
	obj.writeBarriered(ref, p, v)
}

// InitSlot stores into a slot that has never held a value, as on a fresh
// object. Only the post-barrier runs.
func (obj *Object) InitSlot(i uint32, v Value) {
	obj.checkSlot("InitSlot", i)
	ref, p := obj.slotRef(i)
	obj.initBarriered(ref, p, v)
}

// GetFixedSlot returns inline slot i.
func (obj *Object) GetFixedSlot(i uint32) Value {
	obj.checkFixedSlot("GetFixedSlot", i)
	return obj.fixed[i]
}

// SetFixedSlot overwrites inline slot i, running the write barrier.
func (obj *Object) SetFixedSlot(i uint32, v Value) {
	obj.checkFixedSlot("SetFixedSlot", i)
	obj.writeBarriered(SlotRef{Object: obj, Kind: FixedSlot, Index: i}, &obj.fixed[i], v)
}

// InitFixedSlot stores into a never-written inline slot.
func (obj *Object) InitFixedSlot(i uint32, v Value) {
	obj.checkFixedSlot("InitFixedSlot", i)
	obj.initBarriered(SlotRef{Object: obj, Kind: FixedSlot, Index: i}, &obj.fixed[i], v)
}

// ---------------------------------------------------------------------------
// Slot ranges
// ---------------------------------------------------------------------------

// SlotRange returns the storage of logical slots [start, start+length) as at
// most two contiguous pieces: the inline part and the dynamic part. Either
// may be empty.
func (obj *Object) SlotRange(start, length uint32) (fixed, dynamic []Value) {
	end := start + length
	if debugChecks {
		assertf(end >= start && end <= obj.shape.SlotSpan(), "Object.SlotRange: [%d, %d) out of range (span %d)", start, end, obj.shape.SlotSpan())
	}
	nfixed := obj.shape.NumFixedSlots()
	if start < nfixed {
		fixed = obj.fixed[start:min(end, nfixed)]
	}
	if end > nfixed {
		dynamic = obj.slots[max(start, nfixed)-nfixed : end-nfixed]
	}
	return fixed, dynamic
}

// HasContiguousSlots reports whether slots [start, start+count) are stored
// in one piece.
func (obj *Object) HasContiguousSlots(start, count uint32) bool {
	nfixed := obj.shape.NumFixedSlots()
	end := start + count
	return end <= nfixed || start >= nfixed
}

// CopySlotRange overwrites the slots starting at start with vals, running
// the write barrier for each.
func (obj *Object) CopySlotRange(start uint32, vals []Value) {
	for i, v := range vals {
		obj.SetSlot(start+uint32(i), v)
	}
}

// InitSlotRange fills never-written slots starting at start with vals.
func (obj *Object) InitSlotRange(start uint32, vals []Value) {
	for i, v := range vals {
		obj.InitSlot(start+uint32(i), v)
	}
}

// invalidateSlotRange releases slots [start, end) through the pre-barrier.
// Debug builds poison them with Uninitialized so stale reads stand out.
func (obj *Object) invalidateSlotRange(start, end uint32) {
	fill := Undefined
	if debugChecks {
		fill = Uninitialized
	}
	for i := start; i < end; i++ {
		_, p := obj.slotRef(i)
		if old := *p; old.IsGCThing() {
			obj.barrier.BeforeOverwrite(old)
		}
		*p = fill
	}
}

// resizeSlots adjusts the dynamic slots for a span change from oldSpan to
// newSpan, releasing slots dropped by a shrink.
func (obj *Object) resizeSlots(oldSpan, newSpan uint32) error {
	if newSpan > MaxSlotsCount {
		return fmt.Errorf("slot span %d: %w", newSpan, ErrSlotLimit)
	}
	if newSpan < oldSpan {
		obj.invalidateSlotRange(newSpan, oldSpan)
	}
	nfixed := obj.shape.NumFixedSlots()
	want := DynamicSlotsCount(nfixed, newSpan)
	have := uint32(len(obj.slots))
	switch {
	case want == have:
	case want == 0:
		obj.slots = nil
	default:
		slots := make([]Value, want)
		n := copy(slots, obj.slots)
		for i := n; i < len(slots); i++ {
			slots[i] = Undefined
		}
		obj.slots = slots
	}
	if newSpan > oldSpan {
		for i := oldSpan; i < newSpan; i++ {
			_, p := obj.slotRef(i)
			*p = Undefined
		}
	}
	return nil
}
