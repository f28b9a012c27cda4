package vm

import (
	"sort"
	"unsafe"
)

// sparseTableClass is the class of the dictionary shapes that index sparse
// element tables.
var sparseTableClass = NewClass("SparseElements", 0)

// SparseElements stores each index as a property of an auxiliary
// dictionary shape, with its own attributes. Values live in a side table
// addressed by the property's slot; accessor elements use two slots.
type SparseElements struct {
	length uint32
	shape  *Shape
	values []Value
}

func newSparseElements(length uint32) *SparseElements {
	return &SparseElements{
		length: length,
		shape:  NewDictionaryShape(sparseTableClass),
	}
}

func (*SparseElements) elements() {}

// Kind returns KindSparse.
func (s *SparseElements) Kind() ElementsKind { return KindSparse }

// Length returns the array length.
func (s *SparseElements) Length() uint32 { return s.length }

// Shape returns the auxiliary shape describing the stored indices.
func (s *SparseElements) Shape() *Shape { return s.shape }

// Count returns the number of stored elements.
func (s *SparseElements) Count() int { return s.shape.Len() }

// Indices returns the stored indices in ascending order.
func (s *SparseElements) Indices() []uint32 {
	props := s.shape.Properties()
	out := make([]uint32, 0, len(props))
	for _, p := range props {
		if i, ok := p.Key.Index(); ok {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a] < out[b] })
	return out
}

// Lookup returns the full descriptor of the element at index.
func (s *SparseElements) Lookup(index uint32) (ElementDescriptor, bool) {
	p, ok := s.shape.Lookup(IndexKey(index))
	if !ok {
		return ElementDescriptor{}, false
	}
	if p.Attrs.IsAccessor() {
		return ElementDescriptor{
			Value:  Undefined,
			Getter: s.values[p.Slot],
			Setter: s.values[p.Slot+1],
			Attrs:  p.Attrs,
		}, true
	}
	return ElementDescriptor{Value: s.values[p.Slot], Getter: Undefined, Setter: Undefined, Attrs: p.Attrs}, true
}

// Get returns the value of the data element at index. Accessor elements
// report Undefined; calling the getter is the property system's job.
func (s *SparseElements) Get(index uint32) (Value, bool) {
	d, ok := s.Lookup(index)
	if !ok {
		return Undefined, false
	}
	return d.Value, true
}

// DefineElement adds or redefines the element at index.
func (s *SparseElements) DefineElement(obj *Object, index uint32, desc ElementDescriptor) DefineResult {
	if index >= MaxArrayLength || desc.Value.IsMagic() {
		return DefineFailure
	}
	key := IndexKey(index)
	if old, ok := s.shape.Lookup(key); ok {
		if old.Attrs&AttrConfigurable == 0 && !s.compatible(old, desc) {
			return DefineFailure
		}
		if old.Width() == (Property{Attrs: desc.Attrs}).Width() {
			s.shape.dict.props[key] = Property{Key: key, Slot: old.Slot, Attrs: desc.Attrs}
			s.store(obj, old.Slot, desc)
			return DefineSucceeded
		}
		s.release(obj, old)
		s.shape.RemoveProperty(key)
	} else if !obj.IsExtensible() {
		return DefineFailure
	}

	if _, err := s.shape.AddProperty(key, desc.Attrs); err != nil {
		return DefineFailure
	}
	p, _ := s.shape.Lookup(key)
	s.ensureValues()
	s.store(obj, p.Slot, desc)
	if s.length < index+1 {
		s.length = index + 1
	}
	return DefineSucceeded
}

// compatible reports whether redefining a non-configurable element as desc
// is allowed: same attributes, and for read-only data the same value.
func (s *SparseElements) compatible(old Property, desc ElementDescriptor) bool {
	if old.Attrs != desc.Attrs {
		return false
	}
	if old.Attrs.IsAccessor() {
		return s.values[old.Slot] == desc.Getter && s.values[old.Slot+1] == desc.Setter
	}
	if old.Attrs&AttrWritable == 0 {
		return s.values[old.Slot] == desc.Value
	}
	return true
}

// Delete removes the element at index. Non-configurable elements stay.
func (s *SparseElements) Delete(obj *Object, index uint32) bool {
	p, ok := s.shape.Lookup(IndexKey(index))
	if !ok {
		return true
	}
	if p.Attrs&AttrConfigurable == 0 {
		return false
	}
	s.release(obj, p)
	s.shape.RemoveProperty(p.Key)
	return true
}

// setLength truncates to length. It stops at the highest non-configurable
// element and returns the length actually reached.
func (s *SparseElements) setLength(obj *Object, length uint32) uint32 {
	if length < s.length {
		idx := s.Indices()
		for i := len(idx) - 1; i >= 0 && idx[i] >= length; i-- {
			if !s.Delete(obj, idx[i]) {
				length = idx[i] + 1
				break
			}
		}
	}
	s.length = length
	return length
}

func (s *SparseElements) ensureValues() {
	span := int(s.shape.SlotSpan())
	n := len(s.values)
	if n >= span {
		return
	}
	if cap(s.values) < span {
		grown := make([]Value, n, span+span/2)
		copy(grown, s.values)
		s.values = grown
	}
	s.values = s.values[:span]
	for i := n; i < span; i++ {
		s.values[i] = Undefined
	}
}

func (s *SparseElements) store(obj *Object, slot uint32, desc ElementDescriptor) {
	if desc.Attrs.IsAccessor() {
		obj.writeBarriered(SlotRef{Object: obj, Kind: SparseElementSlot, Index: slot}, &s.values[slot], desc.Getter)
		obj.writeBarriered(SlotRef{Object: obj, Kind: SparseElementSlot, Index: slot + 1}, &s.values[slot+1], desc.Setter)
		return
	}
	obj.writeBarriered(SlotRef{Object: obj, Kind: SparseElementSlot, Index: slot}, &s.values[slot], desc.Value)
}

func (s *SparseElements) release(obj *Object, p Property) {
	for i := p.Slot; i < p.Slot+p.Width(); i++ {
		obj.writeBarriered(SlotRef{Object: obj, Kind: SparseElementSlot, Index: i}, &s.values[i], Undefined)
	}
}

// byteSize approximates the memory held by the table.
func (s *SparseElements) byteSize() int {
	return cap(s.values)*ValueSize + s.shape.Len()*int(unsafe.Sizeof(Property{}))
}

// trace reports every stored value.
func (s *SparseElements) trace(t Tracer) {
	for _, v := range s.values {
		if v.IsGCThing() {
			t.TraceValue(v)
		}
	}
}
