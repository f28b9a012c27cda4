package vm

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
)

// ---------------------------------------------------------------------------
// Property keys and attributes
// ---------------------------------------------------------------------------

type keyKind uint8

const (
	keyName keyKind = iota
	keyIndex
)

// PropertyKey names a property: a string name or an integer index. Index
// keys are used by sparse element tables.
type PropertyKey struct {
	kind  keyKind
	name  string
	index uint32
}

// NameKey constructs a key for a named property.
func NameKey(name string) PropertyKey { return PropertyKey{kind: keyName, name: name} }

// IndexKey constructs a key for an integer-indexed property.
func IndexKey(i uint32) PropertyKey { return PropertyKey{kind: keyIndex, index: i} }

// Index returns the integer index of an index key.
func (k PropertyKey) Index() (uint32, bool) {
	return k.index, k.kind == keyIndex
}

// Name returns the name of a named key.
func (k PropertyKey) Name() (string, bool) {
	return k.name, k.kind == keyName
}

func (k PropertyKey) String() string {
	if k.kind == keyIndex {
		return strconv.FormatUint(uint64(k.index), 10)
	}
	return k.name
}

// PropertyAttrs are the attribute bits of a property or element.
type PropertyAttrs uint8

const (
	AttrWritable PropertyAttrs = 1 << iota
	AttrEnumerable
	AttrConfigurable
	AttrGetter
	AttrSetter
)

// DefaultAttrs is a plain writable, enumerable, configurable data property.
const DefaultAttrs = AttrWritable | AttrEnumerable | AttrConfigurable

// IsAccessor reports whether the attributes describe a getter/setter pair.
func (a PropertyAttrs) IsAccessor() bool {
	return a&(AttrGetter|AttrSetter) != 0
}

func (a PropertyAttrs) String() string {
	b := []byte("---")
	if a&AttrWritable != 0 {
		b[0] = 'w'
	}
	if a&AttrEnumerable != 0 {
		b[1] = 'e'
	}
	if a&AttrConfigurable != 0 {
		b[2] = 'c'
	}
	if a&AttrGetter != 0 {
		b = append(b, 'g')
	}
	if a&AttrSetter != 0 {
		b = append(b, 's')
	}
	return string(b)
}

// Property records where a property lives. Accessor properties occupy two
// consecutive slots: getter then setter.
type Property struct {
	Key   PropertyKey
	Slot  uint32
	Attrs PropertyAttrs
}

// Width returns the number of slots the property occupies.
func (p Property) Width() uint32 {
	if p.Attrs.IsAccessor() {
		return 2
	}
	return 1
}

// ---------------------------------------------------------------------------
// Allocation kinds
// ---------------------------------------------------------------------------

// AllocKind selects the size of an object's inline region.
type AllocKind uint8

const (
	AllocKind0 AllocKind = iota
	AllocKind2
	AllocKind4
	AllocKind8
	AllocKind12
	AllocKind16
)

var allocKindSlots = [...]uint32{0, 2, 4, 8, 12, 16}

// MaxFixedSlots is the largest inline region an object can have.
const MaxFixedSlots = 16

// Valid reports whether k is one of the defined kinds.
func (k AllocKind) Valid() bool { return int(k) < len(allocKindSlots) }

// Slots returns the number of inline values for this kind.
func (k AllocKind) Slots() uint32 {
	return allocKindSlots[k]
}

// AllocKindForSlots returns the smallest kind holding n inline values,
// capped at MaxFixedSlots.
func AllocKindForSlots(n uint32) AllocKind {
	for k, s := range allocKindSlots {
		if n <= s {
			return AllocKind(k)
		}
	}
	return AllocKind16
}

// MaxSlotsCount bounds the slot span of any object.
const MaxSlotsCount = 1<<24 - 1

// ---------------------------------------------------------------------------
// Shape
// ---------------------------------------------------------------------------

// Shape describes the layout of an object's named properties and its class.
//
// Shared shapes form a tree: each non-initial shape adds exactly one
// property to its parent, and child shapes are cached in the parent's
// transition table so that objects built the same way share a shape.
// Shared shapes are never mutated once published.
//
// A dictionary shape is an unshared copy owned by a single object (or a
// sparse element table). It is mutated in place.
type Shape struct {
	class         *Class
	allocKind     AllocKind
	numFixed      uint32
	parent        *Shape
	prop          Property
	hasProp       bool
	span          uint32
	notExtensible bool

	mu          sync.RWMutex
	transitions map[transitionKey]*Shape

	dict *dictTable
}

type transitionKey struct {
	key   PropertyKey
	attrs PropertyAttrs
	seal  bool
}

type dictTable struct {
	props map[PropertyKey]Property
	free  [3][]uint32 // freed slots by width
}

// NewInitialShape returns an empty shape for class with an inline region of
// the given kind. Dense array classes use the whole inline region for
// elements and therefore have no fixed property slots.
func NewInitialShape(class *Class, kind AllocKind) *Shape {
	nfixed := kind.Slots()
	if class.Has(ClassDenseArray) {
		nfixed = 0
	}
	return &Shape{
		class:     class,
		allocKind: kind,
		numFixed:  nfixed,
	}
}

// NewDictionaryShape returns an empty unshared shape with no fixed slots.
func NewDictionaryShape(class *Class) *Shape {
	s := NewInitialShape(class, AllocKind0)
	s.dict = &dictTable{props: make(map[PropertyKey]Property)}
	return s
}

// Class returns the class of objects with this shape.
func (s *Shape) Class() *Class { return s.class }

// AllocKind returns the inline region size for objects with this shape.
func (s *Shape) AllocKind() AllocKind { return s.allocKind }

// NumFixedSlots returns the number of property slots stored inline.
func (s *Shape) NumFixedSlots() uint32 { return s.numFixed }

// SlotSpan returns the number of slots objects with this shape use.
func (s *Shape) SlotSpan() uint32 { return s.span }

// Parent returns the shape this one was derived from.
func (s *Shape) Parent() *Shape { return s.parent }

// InDictionaryMode reports whether the shape is an unshared dictionary.
func (s *Shape) InDictionaryMode() bool { return s.dict != nil }

// IsExtensible reports whether properties may be added.
func (s *Shape) IsExtensible() bool { return !s.notExtensible }

// Lookup finds a property by key.
func (s *Shape) Lookup(key PropertyKey) (Property, bool) {
	if s.dict != nil {
		p, ok := s.dict.props[key]
		return p, ok
	}
	for cur := s; cur != nil; cur = cur.parent {
		if cur.hasProp && cur.prop.Key == key {
			return cur.prop, true
		}
	}
	return Property{}, false
}

// Len returns the number of properties.
func (s *Shape) Len() int {
	if s.dict != nil {
		return len(s.dict.props)
	}
	n := 0
	for cur := s; cur != nil; cur = cur.parent {
		if cur.hasProp {
			n++
		}
	}
	return n
}

// Properties returns all properties ordered by slot.
func (s *Shape) Properties() []Property {
	var props []Property
	if s.dict != nil {
		props = make([]Property, 0, len(s.dict.props))
		for _, p := range s.dict.props {
			props = append(props, p)
		}
	} else {
		for cur := s; cur != nil; cur = cur.parent {
			if cur.hasProp {
				props = append(props, cur.prop)
			}
		}
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Slot < props[j].Slot })
	return props
}

// AddProperty returns a shape with key appended. Shared shapes return a
// cached or new child; dictionary shapes are updated in place and returned.
func (s *Shape) AddProperty(key PropertyKey, attrs PropertyAttrs) (*Shape, error) {
	if s.notExtensible {
		return nil, fmt.Errorf("add property %s: %w", key, ErrNotExtensible)
	}
	if _, ok := s.Lookup(key); ok {
		return nil, fmt.Errorf("add property %s: %w", key, ErrPropertyExists)
	}
	if s.dict != nil {
		if _, err := s.dict.put(s, key, attrs); err != nil {
			return nil, err
		}
		return s, nil
	}

	tk := transitionKey{key: key, attrs: attrs}
	s.mu.RLock()
	child := s.transitions[tk]
	s.mu.RUnlock()
	if child != nil {
		return child, nil
	}

	p := Property{Key: key, Slot: s.span, Attrs: attrs}
	if uint64(s.span)+uint64(p.Width()) > MaxSlotsCount {
		return nil, fmt.Errorf("add property %s: %w", key, ErrSlotLimit)
	}
	child = &Shape{
		class:     s.class,
		allocKind: s.allocKind,
		numFixed:  s.numFixed,
		parent:    s,
		prop:      p,
		hasProp:   true,
		span:      s.span + p.Width(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing := s.transitions[tk]; existing != nil {
		return existing, nil
	}
	if s.transitions == nil {
		s.transitions = make(map[transitionKey]*Shape)
	}
	s.transitions[tk] = child
	return child, nil
}

// PreventExtensions returns a shape identical to s that rejects new
// properties.
func (s *Shape) PreventExtensions() *Shape {
	if s.notExtensible {
		return s
	}
	if s.dict != nil {
		s.notExtensible = true
		return s
	}
	tk := transitionKey{seal: true}
	s.mu.Lock()
	defer s.mu.Unlock()
	if child := s.transitions[tk]; child != nil {
		return child
	}
	child := &Shape{
		class:         s.class,
		allocKind:     s.allocKind,
		numFixed:      s.numFixed,
		parent:        s,
		span:          s.span,
		notExtensible: true,
	}
	if s.transitions == nil {
		s.transitions = make(map[transitionKey]*Shape)
	}
	s.transitions[tk] = child
	return child
}

// ToDictionary returns an unshared copy of s that can be mutated in place.
// Slot assignments are preserved.
func (s *Shape) ToDictionary() *Shape {
	d := &Shape{
		class:         s.class,
		allocKind:     s.allocKind,
		numFixed:      s.numFixed,
		span:          s.span,
		notExtensible: s.notExtensible,
		dict:          &dictTable{props: make(map[PropertyKey]Property)},
	}
	for _, p := range s.Properties() {
		d.dict.props[p.Key] = p
	}
	return d
}

// RemoveProperty deletes key from a dictionary shape. Its slots are
// recycled by later additions of the same width.
func (s *Shape) RemoveProperty(key PropertyKey) (Property, bool) {
	if s.dict == nil {
		panic("Shape.RemoveProperty: shape is shared")
	}
	p, ok := s.dict.props[key]
	if !ok {
		return Property{}, false
	}
	delete(s.dict.props, key)
	w := p.Width()
	s.dict.free[w] = append(s.dict.free[w], p.Slot)
	return p, true
}

// put adds a property to a dictionary, reusing a freed slot when possible.
func (d *dictTable) put(s *Shape, key PropertyKey, attrs PropertyAttrs) (Property, error) {
	p := Property{Key: key, Attrs: attrs}
	w := p.Width()
	if n := len(d.free[w]); n > 0 {
		p.Slot = d.free[w][n-1]
		d.free[w] = d.free[w][:n-1]
	} else {
		if uint64(s.span)+uint64(w) > MaxSlotsCount {
			return Property{}, fmt.Errorf("add property %s: %w", key, ErrSlotLimit)
		}
		p.Slot = s.span
		s.span += w
	}
	d.props[key] = p
	return p, nil
}
