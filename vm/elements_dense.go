package vm

import "math"

// MaxArrayLength is the largest array length. The largest valid index is
// one less.
const MaxArrayLength = math.MaxUint32

// ---------------------------------------------------------------------------
// SparsePolicy: when dense storage gives up
// ---------------------------------------------------------------------------

// SparsePolicy decides when growing dense storage would waste too much
// memory and the elements should become sparse instead.
type SparsePolicy struct {
	// MinSparseIndex: required capacities below this never go sparse on
	// account of fill ratio.
	MinSparseIndex uint32
	// MinFillRatio is the smallest acceptable ratio of initialized elements
	// to required capacity once MinSparseIndex is reached.
	MinFillRatio float64
	// MaxDenseCapacity is a hard cap on dense capacity.
	MaxDenseCapacity uint32
}

// DefaultSparsePolicy returns the built-in thresholds.
func DefaultSparsePolicy() SparsePolicy {
	return SparsePolicy{
		MinSparseIndex:   1000,
		MinFillRatio:     0.125,
		MaxDenseCapacity: 1 << 27,
	}
}

// WillBeSparse reports whether growing to requiredCapacity with
// initializedLength existing elements (plus the one being added) should
// convert to sparse storage.
func (p SparsePolicy) WillBeSparse(requiredCapacity, initializedLength uint32) bool {
	if requiredCapacity > p.MaxDenseCapacity {
		return true
	}
	if requiredCapacity < p.MinSparseIndex {
		return false
	}
	filled := float64(initializedLength) + 1
	return filled/float64(requiredCapacity) < p.MinFillRatio
}

// growCapacity picks a new dense capacity of at least required.
func growCapacity(old, required, limit uint32) uint32 {
	c := uint64(old) * 2
	if c < uint64(required) {
		c = uint64(required)
	}
	if c < SlotCapacityMin {
		c = SlotCapacityMin
	}
	if c > uint64(limit) {
		c = uint64(limit)
	}
	if c < uint64(required) {
		c = uint64(required)
	}
	return uint32(c)
}

// ---------------------------------------------------------------------------
// DenseElements
// ---------------------------------------------------------------------------

// DenseElements stores elements contiguously in a value slab whose first
// ValuesPerHeader words hold the header. The slab is either a separate
// allocation or the inline region of its object.
//
// Values in [initializedLength, length) are holes and are never read;
// holes below initializedLength are marked with the Hole value.
type DenseElements struct {
	slab []Value
}

// newDenseSlab allocates a slab with room for capacity elements.
func newDenseSlab(capacity uint32) []Value {
	slab := make([]Value, ValuesPerHeader+int(capacity))
	*headerOf(slab) = header{capacity: capacity, kind: uint32(KindDense)}
	return slab
}

// formatDenseSlab writes an empty dense header into an existing region.
func formatDenseSlab(slab []Value) *DenseElements {
	*headerOf(slab) = header{
		capacity: uint32(len(slab) - ValuesPerHeader),
		kind:     uint32(KindDense),
	}
	return &DenseElements{slab: slab}
}

func (d *DenseElements) hdr() *header { return headerOf(d.slab) }

func (*DenseElements) elements() {}

// Kind returns KindDense.
func (d *DenseElements) Kind() ElementsKind {
	assertf(ElementsKind(d.hdr().kind) == KindDense, "DenseElements: header kind %d", d.hdr().kind)
	return KindDense
}

// Length returns the array length.
func (d *DenseElements) Length() uint32 { return d.hdr().length }

// Capacity returns the number of allocated element values.
func (d *DenseElements) Capacity() uint32 { return d.hdr().capacity }

// InitializedLength returns the number of leading elements that hold
// values (possibly Hole).
func (d *DenseElements) InitializedLength() uint32 { return d.hdr().initializedLength }

// storage returns all allocated element values, past the header.
func (d *DenseElements) storage() []Value { return d.slab[ValuesPerHeader:] }

// Values returns the initialized elements. Holes appear as Hole.
func (d *DenseElements) Values() []Value {
	return d.slab[ValuesPerHeader : ValuesPerHeader+int(d.InitializedLength())]
}

// Get returns the element at index, or false for holes and out-of-range
// indices.
func (d *DenseElements) Get(index uint32) (Value, bool) {
	if index >= d.InitializedLength() {
		return Undefined, false
	}
	v := d.storage()[index]
	if v.IsHole() {
		return Undefined, false
	}
	return v, true
}

// aliases reports whether the slab is the given inline region.
func (d *DenseElements) aliases(region []Value) bool {
	return len(d.slab) > 0 && len(region) > 0 && &d.slab[0] == &region[0]
}

// byteSize is the size of the slab in bytes.
func (d *DenseElements) byteSize() int { return len(d.slab) * ValueSize }

// DefineElement stores desc at index. Only plain data elements can be
// stored densely; anything else, and growth the sparse policy rejects,
// asks the caller to convert to sparse storage.
func (d *DenseElements) DefineElement(obj *Object, index uint32, desc ElementDescriptor) DefineResult {
	return defineDense(obj, d, index, desc)
}

// defineDense implements DefineElement for dense storage. A nil d stands
// for the shared empty elements.
func defineDense(obj *Object, d *DenseElements, index uint32, desc ElementDescriptor) DefineResult {
	if index >= MaxArrayLength || desc.Value.IsMagic() {
		return DefineFailure
	}
	if !desc.isPlain() {
		return DefineConvertToSparse
	}

	var initLen, capacity uint32
	if d != nil {
		initLen, capacity = d.InitializedLength(), d.Capacity()
	}

	if index < initLen {
		p := &d.storage()[index]
		if p.IsHole() && !obj.IsExtensible() {
			return DefineFailure
		}
		obj.writeBarriered(SlotRef{Object: obj, Kind: DenseElementSlot, Index: index}, p, desc.Value)
		return DefineSucceeded
	}
	if !obj.IsExtensible() {
		return DefineFailure
	}

	if index >= capacity {
		required := index + 1
		if obj.sparsePolicy().WillBeSparse(required, initLen) {
			return DefineConvertToSparse
		}
		d = obj.growDenseElements(d, required)
	}

	store := d.storage()
	for i := initLen; i < index; i++ {
		store[i] = Hole
	}
	store[index] = desc.Value
	if desc.Value.IsGCThing() {
		obj.barrier.AfterStore(SlotRef{Object: obj, Kind: DenseElementSlot, Index: index}, desc.Value)
	}

	h := d.hdr()
	h.initializedLength = index + 1
	if h.length < index+1 {
		h.length = index + 1
	}
	return DefineSucceeded
}

// setLength changes the array length, dropping elements at or above it.
func (d *DenseElements) setLength(obj *Object, length uint32) {
	h := d.hdr()
	if length < h.initializedLength {
		store := d.storage()
		for i := length; i < h.initializedLength; i++ {
			if store[i].IsGCThing() {
				obj.barrier.BeforeOverwrite(store[i])
			}
			store[i] = Uninitialized
		}
		h.initializedLength = length
	}
	h.length = length
}
