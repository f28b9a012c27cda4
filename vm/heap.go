package vm

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Heap: handle table for all objects of one runtime
// ---------------------------------------------------------------------------

// HeapConfig tunes a heap and its collector.
type HeapConfig struct {
	// Sparse decides when dense elements give up and go sparse.
	Sparse SparsePolicy

	// AutoCollect lets allocation trigger collections. Off by default:
	// with it on, any object not reachable from a root may be reclaimed at
	// the next allocation.
	AutoCollect bool
	// NurseryLimit is the number of nursery objects that triggers a minor
	// collection when AutoCollect is on.
	NurseryLimit int
	// StepBudget is the number of objects one incremental step scans.
	StepBudget int
	// PaceInterval is the period of the background pacer that requests
	// incremental steps. Zero disables the pacer.
	PaceInterval time.Duration
}

// DefaultHeapConfig returns the built-in tuning.
func DefaultHeapConfig() HeapConfig {
	return HeapConfig{
		Sparse:       DefaultSparsePolicy(),
		NurseryLimit: 4096,
		StepBudget:   256,
	}
}

// Heap owns a set of objects and hands out the handles that object Values
// carry. Handle 0 is never used. Freed handles are recycled.
//
// A heap has a single mutator. The handle table lock only makes lookups
// from inspection tools safe while the mutator runs.
type Heap struct {
	id  uuid.UUID
	cfg HeapConfig
	log commonlog.Logger

	mu      sync.RWMutex
	objects []*Object
	free    []uint32
	roots   map[uint32]int

	nursery []uint32

	shapesMu sync.Mutex
	shapes   map[shapeKey]*Shape

	classes *ClassTable
	gc      *Collector

	allocated uint64
}

type shapeKey struct {
	class *Class
	kind  AllocKind
}

// NewHeap creates an empty heap using the built-in classes.
func NewHeap(cfg HeapConfig) *Heap {
	return NewHeapWithClasses(cfg, NewBuiltinClassTable())
}

// NewHeapWithClasses creates an empty heap resolving class names through
// classes.
func NewHeapWithClasses(cfg HeapConfig, classes *ClassTable) *Heap {
	if cfg.StepBudget <= 0 {
		cfg.StepBudget = DefaultHeapConfig().StepBudget
	}
	if cfg.NurseryLimit <= 0 {
		cfg.NurseryLimit = DefaultHeapConfig().NurseryLimit
	}
	if cfg.Sparse == (SparsePolicy{}) {
		cfg.Sparse = DefaultSparsePolicy()
	}
	h := &Heap{
		id:      uuid.New(),
		cfg:     cfg,
		log:     commonlog.GetLogger("objimpl.heap"),
		objects: make([]*Object, 1, 64),
		roots:   make(map[uint32]int),
		shapes:  make(map[shapeKey]*Shape),
		classes: classes,
	}
	h.gc = newCollector(h)
	h.log.Debugf("heap %s created", h.id)
	return h
}

// ID returns the heap's unique identifier.
func (h *Heap) ID() uuid.UUID { return h.id }

// Config returns the heap's configuration.
func (h *Heap) Config() HeapConfig { return h.cfg }

// Classes returns the class table used to name classes in snapshots.
func (h *Heap) Classes() *ClassTable { return h.classes }

// Collector returns the heap's collector.
func (h *Heap) Collector() *Collector { return h.gc }

// InitialShape returns the shared empty shape for class and kind. Objects
// created from it share it, and so share every shape derived from it.
func (h *Heap) InitialShape(class *Class, kind AllocKind) *Shape {
	k := shapeKey{class: class, kind: kind}
	h.shapesMu.Lock()
	defer h.shapesMu.Unlock()
	s := h.shapes[k]
	if s == nil {
		s = NewInitialShape(class, kind)
		h.shapes[k] = s
	}
	return s
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// NewObject creates an object with the given shape and type and registers
// it with the heap.
func (h *Heap) NewObject(shape *Shape, typ *TypeDescriptor) (*Object, error) {
	h.gc.maybeCollect()
	obj, err := NewObject(shape, typ)
	if err != nil {
		return nil, err
	}
	h.register(obj)
	return obj, nil
}

// NewPlainObject creates an empty plain object with an inline region of
// kind's size.
func (h *Heap) NewPlainObject(kind AllocKind, proto Value) (*Object, error) {
	return h.NewObject(h.InitialShape(PlainObjectClass, kind), NewType(proto, 0))
}

// NewArray creates an empty dense array. Its inline region is sized for
// capacityHint elements, up to the largest allocation kind.
func (h *Heap) NewArray(capacityHint uint32) (*Object, error) {
	kind := AllocKind0
	if capacityHint > 0 {
		kind = AllocKindForSlots(capacityHint + ValuesPerHeader)
	}
	return h.NewObject(h.InitialShape(ArrayClass, kind), NewType(Null, 0))
}

// NewTypedArray creates a typed array of length zeroed elements.
func (h *Heap) NewTypedArray(kind ElementsKind, length uint32) (*Object, error) {
	te, err := NewTypedElements(kind, length)
	if err != nil {
		return nil, err
	}
	obj, err := h.NewObject(h.InitialShape(TypedArrayClass(kind), AllocKind0), NewType(Null, 0))
	if err != nil {
		return nil, err
	}
	obj.setElements(te)
	return obj, nil
}

// NewArrayBuffer creates a zeroed byte buffer.
func (h *Heap) NewArrayBuffer(byteLength uint32) (*Object, error) {
	obj, err := h.NewObject(h.InitialShape(ArrayBufferClass, AllocKind0), NewType(Null, 0))
	if err != nil {
		return nil, err
	}
	obj.setElements(NewBufferElements(byteLength))
	return obj, nil
}

// Typed array views keep their buffer and offset in two inline slots so the
// collector sees the buffer reference.
const (
	ViewBufferSlot     = 0
	ViewByteOffsetSlot = 1
)

// NewTypedArrayOnBuffer creates a typed array sharing buf's bytes.
func (h *Heap) NewTypedArrayOnBuffer(kind ElementsKind, buf *Object, byteOffset, length uint32) (*Object, error) {
	be, err := AsBuffer(buf.elements)
	if err != nil {
		return nil, err
	}
	te, err := NewTypedElementsView(kind, be, byteOffset, length)
	if err != nil {
		return nil, err
	}
	shape := h.InitialShape(TypedArrayClass(kind), AllocKind2)
	if shape, err = shape.AddProperty(NameKey("buffer"), 0); err != nil {
		return nil, err
	}
	if shape, err = shape.AddProperty(NameKey("byteOffset"), 0); err != nil {
		return nil, err
	}
	obj, err := h.NewObject(shape, NewType(Null, 0))
	if err != nil {
		return nil, err
	}
	obj.InitFixedSlot(ViewBufferSlot, buf.ToValue())
	obj.InitFixedSlot(ViewByteOffsetSlot, FromSmallInt(int64(byteOffset)))
	obj.setElements(te)
	return obj, nil
}

// register assigns a handle and attaches the collector.
func (h *Heap) register(obj *Object) {
	h.mu.Lock()
	var handle uint32
	if n := len(h.free); n > 0 {
		handle = h.free[n-1]
		h.free = h.free[:n-1]
		h.objects[handle] = obj
	} else {
		handle = uint32(len(h.objects))
		h.objects = append(h.objects, obj)
	}
	h.mu.Unlock()

	obj.handle = handle
	obj.heap = h
	obj.barrier = h.gc
	h.nursery = append(h.nursery, handle)
	h.allocated++
	h.gc.onAllocate(obj)
}

// release finalizes a dead object and recycles its handle. It returns the
// number of allocations the object released.
func (h *Heap) release(obj *Object) int {
	n := obj.finalize()
	h.mu.Lock()
	h.objects[obj.handle] = nil
	h.free = append(h.free, obj.handle)
	h.mu.Unlock()
	delete(h.roots, obj.handle)
	obj.heap = nil
	obj.barrier = NoBarrier{}
	obj.handle = 0
	return n
}

// ---------------------------------------------------------------------------
// Lookup
// ---------------------------------------------------------------------------

// Lookup returns the live object with the given handle.
func (h *Heap) Lookup(handle uint32) (*Object, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if handle == 0 || int(handle) >= len(h.objects) || h.objects[handle] == nil {
		return nil, false
	}
	return h.objects[handle], true
}

// Deref returns the object v refers to. It fails for non-object values and
// for handles of reclaimed objects.
func (h *Heap) Deref(v Value) (*Object, error) {
	if !v.IsObject() {
		return nil, fmt.Errorf("deref %s: not an object", v)
	}
	obj, ok := h.Lookup(v.Handle())
	if !ok {
		return nil, fmt.Errorf("deref %s: no live object with handle %d", v, v.Handle())
	}
	return obj, nil
}

// MustDeref is Deref for values known to be live objects. Panics otherwise.
func (h *Heap) MustDeref(v Value) *Object {
	obj, err := h.Deref(v)
	if err != nil {
		panic("Heap.MustDeref: " + err.Error())
	}
	return obj
}

// Len returns the number of live objects.
func (h *Heap) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.objects) - 1 - len(h.free)
}

// ForEach calls fn for every live object in handle order.
func (h *Heap) ForEach(fn func(obj *Object)) {
	h.mu.RLock()
	objs := make([]*Object, 0, len(h.objects))
	for _, obj := range h.objects[1:] {
		if obj != nil {
			objs = append(objs, obj)
		}
	}
	h.mu.RUnlock()
	for _, obj := range objs {
		fn(obj)
	}
}

// ---------------------------------------------------------------------------
// Roots
// ---------------------------------------------------------------------------

// AddRoot keeps obj alive until a matching RemoveRoot.
func (h *Heap) AddRoot(obj *Object) {
	h.roots[obj.handle]++
}

// RemoveRoot drops one root reference to obj.
func (h *Heap) RemoveRoot(obj *Object) {
	if n := h.roots[obj.handle]; n > 1 {
		h.roots[obj.handle] = n - 1
	} else {
		delete(h.roots, obj.handle)
	}
}

// IsRoot reports whether obj is rooted.
func (h *Heap) IsRoot(obj *Object) bool { return h.roots[obj.handle] > 0 }

// Roots returns the rooted handles in ascending order.
func (h *Heap) Roots() []uint32 {
	out := make([]uint32, 0, len(h.roots))
	for handle := range h.roots {
		out = append(out, handle)
	}
	slices.Sort(out)
	return out
}

// RootCount returns how many times the object with handle is rooted.
func (h *Heap) RootCount(handle uint32) int { return h.roots[handle] }

// ReadBarrier must be called when the mutator reads a reference out of a
// location the collector does not trace, such as a weak table. During
// marking it keeps the referent alive for the current cycle.
func (h *Heap) ReadBarrier(v Value) {
	if v.IsGCThing() {
		h.gc.shade(v.Handle())
	}
}

// HeapStats summarizes the heap.
type HeapStats struct {
	Live       int
	Nursery    int
	Roots      int
	Allocated  uint64
	ExtraBytes int
}

// Stats returns current counts. ExtraBytes sums SizeOfExcludingThis over
// all live objects.
func (h *Heap) Stats() HeapStats {
	s := HeapStats{
		Live:      h.Len(),
		Nursery:   len(h.nursery),
		Roots:     len(h.roots),
		Allocated: h.allocated,
	}
	h.ForEach(func(obj *Object) { s.ExtraBytes += obj.SizeOfExcludingThis() })
	return s
}
