// Package snapshot captures heaps as self-contained records, encodes them
// in canonical CBOR and archives them in SQLite.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chazu/objimpl/vm"
)

// ErrUnknownClass is returned when a snapshot names a class the restoring
// class table does not have.
var ErrUnknownClass = errors.New("unknown class")

// ErrDanglingReference is returned when a snapshot value refers to an
// object the snapshot does not contain.
var ErrDanglingReference = errors.New("dangling object reference")

// ErrCorruptSnapshot is returned when a record is internally inconsistent,
// such as a property whose value count does not match its attributes.
var ErrCorruptSnapshot = errors.New("corrupt snapshot")

// Snapshot is a complete record of a heap's live objects.
type Snapshot struct {
	ID      string         `cbor:"1,keyasint"`
	HeapID  string         `cbor:"2,keyasint"`
	Label   string         `cbor:"3,keyasint,omitempty"`
	Created int64          `cbor:"4,keyasint"` // unix nanoseconds
	Objects []ObjectRecord `cbor:"5,keyasint"`
	Roots   []RootRecord   `cbor:"6,keyasint,omitempty"`
}

// RootRecord is a rooted handle and its root count.
type RootRecord struct {
	Handle uint32 `cbor:"1,keyasint"`
	Count  int    `cbor:"2,keyasint"`
}

// ObjectRecord describes one object. Values are stored as their 64-bit
// representation; object handles inside them refer to other records.
type ObjectRecord struct {
	Handle        uint32         `cbor:"1,keyasint"`
	Class         string         `cbor:"2,keyasint"`
	AllocKind     uint8          `cbor:"3,keyasint"`
	Dictionary    bool           `cbor:"4,keyasint,omitempty"`
	NotExtensible bool           `cbor:"5,keyasint,omitempty"`
	Props         []PropRecord   `cbor:"6,keyasint,omitempty"`
	Proto         uint64         `cbor:"7,keyasint"`
	LazyType      bool           `cbor:"8,keyasint,omitempty"`
	TypeFlags     uint32         `cbor:"9,keyasint,omitempty"`
	Elements      ElementsRecord `cbor:"10,keyasint"`
}

// PropRecord is a named property in slot order. Accessors carry two values.
type PropRecord struct {
	Name    string   `cbor:"1,keyasint,omitempty"`
	Index   uint32   `cbor:"2,keyasint,omitempty"`
	IsIndex bool     `cbor:"3,keyasint,omitempty"`
	Attrs   uint8    `cbor:"4,keyasint"`
	Values  []uint64 `cbor:"5,keyasint"`
}

// ElementsRecord describes an object's element storage.
type ElementsRecord struct {
	Kind              string          `cbor:"1,keyasint"`
	Length            uint32          `cbor:"2,keyasint"`
	InitializedLength uint32          `cbor:"3,keyasint,omitempty"`
	Capacity          uint32          `cbor:"4,keyasint,omitempty"`
	Dense             []uint64        `cbor:"5,keyasint,omitempty"`
	Sparse            []SparseElement `cbor:"6,keyasint,omitempty"`
	Bytes             []byte          `cbor:"7,keyasint,omitempty"`
	Buffer            uint32          `cbor:"8,keyasint,omitempty"`
	ByteOffset        uint32          `cbor:"9,keyasint,omitempty"`
}

// SparseElement is one stored sparse element.
type SparseElement struct {
	Index  uint32   `cbor:"1,keyasint"`
	Attrs  uint8    `cbor:"2,keyasint"`
	Values []uint64 `cbor:"3,keyasint"`
}

// ---------------------------------------------------------------------------
// Capture
// ---------------------------------------------------------------------------

// Capture records every live object of h. Classes are named through the
// heap's class table.
func Capture(h *vm.Heap, label string) (*Snapshot, error) {
	s := &Snapshot{
		ID:      uuid.NewString(),
		HeapID:  h.ID().String(),
		Label:   label,
		Created: time.Now().UnixNano(),
	}
	var err error
	h.ForEach(func(obj *vm.Object) {
		if err != nil {
			return
		}
		var rec ObjectRecord
		rec, err = captureObject(h, obj)
		s.Objects = append(s.Objects, rec)
	})
	if err != nil {
		return nil, err
	}
	for _, handle := range h.Roots() {
		s.Roots = append(s.Roots, RootRecord{Handle: handle, Count: h.RootCount(handle)})
	}
	return s, nil
}

func captureObject(h *vm.Heap, obj *vm.Object) (ObjectRecord, error) {
	class := h.Classes().KeyOf(obj.Class())
	if class == "" {
		return ObjectRecord{}, fmt.Errorf("capture object %d: class %s not registered: %w", obj.Handle(), obj.Class(), ErrUnknownClass)
	}
	shape := obj.Shape()
	rec := ObjectRecord{
		Handle:        obj.Handle(),
		Class:         class,
		AllocKind:     uint8(shape.AllocKind()),
		Dictionary:    shape.InDictionaryMode(),
		NotExtensible: !obj.IsExtensible(),
		Proto:         uint64(obj.Type().Proto()),
		LazyType:      obj.HasLazyType(),
	}
	if !rec.LazyType {
		rec.TypeFlags = uint32(obj.Type().Info().Flags)
	}
	for _, p := range shape.Properties() {
		pr := PropRecord{Attrs: uint8(p.Attrs)}
		if i, ok := p.Key.Index(); ok {
			pr.Index, pr.IsIndex = i, true
		} else {
			pr.Name, _ = p.Key.Name()
		}
		for i := uint32(0); i < p.Width(); i++ {
			pr.Values = append(pr.Values, uint64(obj.GetSlot(p.Slot+i)))
		}
		rec.Props = append(rec.Props, pr)
	}

	e := obj.Elements()
	er := ElementsRecord{Kind: e.Kind().String(), Length: e.Length()}
	switch {
	case vm.IsEmptyElements(e):
	case e.Kind() == vm.KindDense:
		d := vm.MustDense(e)
		er.InitializedLength = d.InitializedLength()
		er.Capacity = d.Capacity()
		for _, v := range d.Values() {
			er.Dense = append(er.Dense, uint64(v))
		}
	case e.Kind() == vm.KindSparse:
		sp := vm.MustSparse(e)
		for _, i := range sp.Indices() {
			desc, _ := sp.Lookup(i)
			se := SparseElement{Index: i, Attrs: uint8(desc.Attrs)}
			if desc.Attrs.IsAccessor() {
				se.Values = []uint64{uint64(desc.Getter), uint64(desc.Setter)}
			} else {
				se.Values = []uint64{uint64(desc.Value)}
			}
			er.Sparse = append(er.Sparse, se)
		}
	case e.Kind().IsTyped():
		t := vm.MustTyped(e, e.Kind())
		if buf, ok := obj.GetProperty(vm.NameKey("buffer")); ok && buf.IsObject() {
			off, _ := obj.GetProperty(vm.NameKey("byteOffset"))
			er.Buffer = buf.Handle()
			er.ByteOffset = uint32(off.SmallInt())
		} else {
			er.Bytes = append([]byte(nil), t.Bytes()...)
		}
	case e.Kind() == vm.KindArrayBuffer:
		er.Bytes = append([]byte(nil), vm.MustBuffer(e).Bytes()...)
	}
	rec.Elements = er
	return rec, nil
}

// ---------------------------------------------------------------------------
// Restore
// ---------------------------------------------------------------------------

// Restore rebuilds s into a new heap. Objects receive new handles; every
// reference is rewritten to match. Buffers are rebuilt first so typed
// array views can attach to them.
func Restore(s *Snapshot, cfg vm.HeapConfig, classes *vm.ClassTable) (*vm.Heap, error) {
	h := vm.NewHeapWithClasses(cfg, classes)
	h.Collector().SetEnabled(false)
	defer h.Collector().SetEnabled(true)
	r := &restorer{heap: h, handles: make(map[uint32]*vm.Object, len(s.Objects))}

	for _, pass := range []func(*ObjectRecord) bool{
		func(rec *ObjectRecord) bool { return rec.Elements.Kind == vm.KindArrayBuffer.String() },
		func(rec *ObjectRecord) bool { return rec.Elements.Kind != vm.KindArrayBuffer.String() },
	} {
		for i := range s.Objects {
			rec := &s.Objects[i]
			if !pass(rec) {
				continue
			}
			if err := r.create(rec); err != nil {
				return nil, err
			}
		}
	}
	for i := range s.Objects {
		if err := r.fill(&s.Objects[i]); err != nil {
			return nil, err
		}
	}
	for _, root := range s.Roots {
		obj, ok := r.handles[root.Handle]
		if !ok {
			return nil, fmt.Errorf("restore root %d: %w", root.Handle, ErrDanglingReference)
		}
		for n := 0; n < root.Count; n++ {
			h.AddRoot(obj)
		}
	}
	return h, nil
}

type restorer struct {
	heap    *vm.Heap
	handles map[uint32]*vm.Object
}

func (r *restorer) value(bits uint64) (vm.Value, error) {
	v := vm.Value(bits)
	if !v.IsObject() {
		return v, nil
	}
	obj, ok := r.handles[v.Handle()]
	if !ok {
		return vm.Undefined, fmt.Errorf("value %s: %w", v, ErrDanglingReference)
	}
	return obj.ToValue(), nil
}

func propKey(p PropRecord) vm.PropertyKey {
	if p.IsIndex {
		return vm.IndexKey(p.Index)
	}
	return vm.NameKey(p.Name)
}

// valueWidth is the number of values a property or element with attrs
// carries.
func valueWidth(attrs uint8) int {
	return int(vm.Property{Attrs: vm.PropertyAttrs(attrs)}.Width())
}

// check rejects records that decode cleanly but cannot describe an object.
func check(rec *ObjectRecord, kind vm.ElementsKind) error {
	if !vm.AllocKind(rec.AllocKind).Valid() {
		return fmt.Errorf("restore object %d: alloc kind %d: %w", rec.Handle, rec.AllocKind, ErrCorruptSnapshot)
	}
	for _, p := range rec.Props {
		if len(p.Values) != valueWidth(p.Attrs) {
			return fmt.Errorf("restore object %d property %s: %d values for attributes %s: %w",
				rec.Handle, propKey(p), len(p.Values), vm.PropertyAttrs(p.Attrs), ErrCorruptSnapshot)
		}
	}
	for _, se := range rec.Elements.Sparse {
		if len(se.Values) != valueWidth(se.Attrs) {
			return fmt.Errorf("restore object %d element %d: %d values for attributes %s: %w",
				rec.Handle, se.Index, len(se.Values), vm.PropertyAttrs(se.Attrs), ErrCorruptSnapshot)
		}
	}
	if kind.IsTyped() && rec.Elements.Buffer == 0 {
		want := uint64(rec.Elements.Length) * uint64(kind.ElementSize())
		if uint64(len(rec.Elements.Bytes)) != want {
			return fmt.Errorf("restore object %d: %d bytes for %d %s elements: %w",
				rec.Handle, len(rec.Elements.Bytes), rec.Elements.Length, kind, ErrCorruptSnapshot)
		}
	}
	return nil
}

// create allocates the object for rec with its class, layout and
// properties, but no values.
func (r *restorer) create(rec *ObjectRecord) error {
	h := r.heap
	class := h.Classes().Lookup(rec.Class)
	if class == nil {
		return fmt.Errorf("restore object %d: class %q: %w", rec.Handle, rec.Class, ErrUnknownClass)
	}
	kind, ok := vm.ParseElementsKind(rec.Elements.Kind)
	if !ok {
		return fmt.Errorf("restore object %d: elements kind %q: %w", rec.Handle, rec.Elements.Kind, vm.ErrWrongElementsKind)
	}
	if err := check(rec, kind); err != nil {
		return err
	}
	if _, dup := r.handles[rec.Handle]; dup {
		return fmt.Errorf("restore object %d: duplicate record: %w", rec.Handle, ErrCorruptSnapshot)
	}

	var obj *vm.Object
	var err error
	switch {
	case kind == vm.KindArrayBuffer:
		obj, err = h.NewArrayBuffer(uint32(len(rec.Elements.Bytes)))
		if err == nil {
			copy(vm.MustBuffer(obj.Elements()).Bytes(), rec.Elements.Bytes)
		}
	case kind.IsTyped() && rec.Elements.Buffer != 0:
		buf, ok := r.handles[rec.Elements.Buffer]
		if !ok {
			return fmt.Errorf("restore view %d: buffer %d: %w", rec.Handle, rec.Elements.Buffer, ErrDanglingReference)
		}
		obj, err = h.NewTypedArrayOnBuffer(kind, buf, rec.Elements.ByteOffset, rec.Elements.Length)
	case kind.IsTyped():
		obj, err = h.NewTypedArray(kind, rec.Elements.Length)
		if err == nil {
			copy(vm.MustTyped(obj.Elements(), kind).Bytes(), rec.Elements.Bytes)
		}
	default:
		shape := h.InitialShape(class, vm.AllocKind(rec.AllocKind))
		if rec.Dictionary {
			shape = shape.ToDictionary()
		}
		for _, p := range rec.Props {
			if shape, err = shape.AddProperty(propKey(p), vm.PropertyAttrs(p.Attrs)); err != nil {
				return fmt.Errorf("restore object %d: %w", rec.Handle, err)
			}
		}
		obj, err = h.NewObject(shape, nil)
	}
	if err != nil {
		return fmt.Errorf("restore object %d: %w", rec.Handle, err)
	}

	for _, p := range rec.Props {
		if _, exists := obj.Shape().Lookup(propKey(p)); exists {
			continue
		}
		if _, err := obj.AddProperty(propKey(p), vm.PropertyAttrs(p.Attrs)); err != nil {
			return fmt.Errorf("restore object %d: %w", rec.Handle, err)
		}
	}
	r.handles[rec.Handle] = obj
	return nil
}

// fill stores the type, slot values and value-typed elements of rec.
func (r *restorer) fill(rec *ObjectRecord) error {
	obj := r.handles[rec.Handle]
	proto, err := r.value(rec.Proto)
	if err != nil {
		return fmt.Errorf("restore object %d prototype: %w", rec.Handle, err)
	}
	if rec.LazyType {
		obj.SetType(vm.NewLazyType(proto))
	} else {
		obj.SetType(vm.NewType(proto, vm.TypeFlags(rec.TypeFlags)))
	}

	for _, p := range rec.Props {
		prop, ok := obj.Shape().Lookup(propKey(p))
		if !ok {
			return fmt.Errorf("restore object %d property %s: %w", rec.Handle, propKey(p), ErrCorruptSnapshot)
		}
		for i, bits := range p.Values {
			v, err := r.value(bits)
			if err != nil {
				return fmt.Errorf("restore object %d property %s: %w", rec.Handle, propKey(p), err)
			}
			obj.SetSlot(prop.Slot+uint32(i), v)
		}
	}

	er := rec.Elements
	switch er.Kind {
	case vm.KindDense.String():
		if er.Capacity > 0 {
			if err := obj.EnsureDenseCapacity(er.Capacity); err != nil {
				return fmt.Errorf("restore object %d elements: %w", rec.Handle, err)
			}
		}
		for i, bits := range er.Dense {
			if vm.Value(bits).IsHole() {
				continue
			}
			v, err := r.value(bits)
			if err != nil {
				return fmt.Errorf("restore object %d element %d: %w", rec.Handle, i, err)
			}
			if err := obj.SetElement(uint32(i), v); err != nil {
				return fmt.Errorf("restore object %d: %w", rec.Handle, err)
			}
		}
		if er.Length > 0 || er.Capacity > 0 {
			if _, err := vm.SetArrayLength(obj, er.Length); err != nil {
				return fmt.Errorf("restore object %d: %w", rec.Handle, err)
			}
		}
	case vm.KindSparse.String():
		if err := obj.MakeElementsSparse(); err != nil {
			return fmt.Errorf("restore object %d: %w", rec.Handle, err)
		}
		for _, se := range er.Sparse {
			vals := make([]vm.Value, len(se.Values))
			for i, bits := range se.Values {
				if vals[i], err = r.value(bits); err != nil {
					return fmt.Errorf("restore object %d element %d: %w", rec.Handle, se.Index, err)
				}
			}
			desc := vm.ElementDescriptor{Value: vals[0], Getter: vm.Undefined, Setter: vm.Undefined, Attrs: vm.PropertyAttrs(se.Attrs)}
			if desc.Attrs.IsAccessor() {
				desc = vm.ElementDescriptor{Value: vm.Undefined, Getter: vals[0], Setter: vals[1], Attrs: desc.Attrs}
			}
			if err := vm.DefineElement(obj, se.Index, desc); err != nil {
				return fmt.Errorf("restore object %d: %w", rec.Handle, err)
			}
		}
		if _, err := vm.SetArrayLength(obj, er.Length); err != nil {
			return fmt.Errorf("restore object %d: %w", rec.Handle, err)
		}
	}
	if rec.NotExtensible {
		obj.PreventExtensions()
	}
	return nil
}
