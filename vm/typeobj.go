package vm

import "fmt"

// TypeFlags describe what the runtime knows about objects sharing a type.
type TypeFlags uint32

const (
	// TypeSingleton marks a type owned by exactly one object.
	TypeSingleton TypeFlags = 1 << iota
	// TypeSparseElements records that some object of this type went sparse.
	TypeSparseElements
	// TypeNonExtensible records that some object of this type stopped
	// accepting new properties.
	TypeNonExtensible
)

// TypeInfo is the metadata of a materialized type.
type TypeInfo struct {
	Flags TypeFlags
	// ElementKinds collects every elements kind observed on objects of this
	// type.
	ElementKinds map[ElementsKind]struct{}
}

// TypeDescriptor pairs an object's prototype with type metadata. A lazy
// descriptor only knows its prototype; its metadata is built on first
// demand by Materialize.
type TypeDescriptor struct {
	proto Value
	lazy  bool
	info  *TypeInfo
}

// NewType returns a materialized descriptor.
func NewType(proto Value, flags TypeFlags) *TypeDescriptor {
	return &TypeDescriptor{
		proto: proto,
		info:  &TypeInfo{Flags: flags, ElementKinds: make(map[ElementsKind]struct{})},
	}
}

// NewLazyType returns a descriptor whose metadata has not been built. Lazy
// types are always singletons.
func NewLazyType(proto Value) *TypeDescriptor {
	return &TypeDescriptor{proto: proto, lazy: true}
}

// Proto returns the prototype, or Null.
func (t *TypeDescriptor) Proto() Value { return t.proto }

// IsLazy reports whether the metadata has not been built yet.
func (t *TypeDescriptor) IsLazy() bool { return t.lazy }

// Info returns the type metadata. Panics on a lazy descriptor; call
// Materialize first.
func (t *TypeDescriptor) Info() *TypeInfo {
	if t.lazy {
		panic("TypeDescriptor.Info: type is lazy")
	}
	return t.info
}

// Materialize builds the metadata of a lazy descriptor. Materialized
// descriptors are returned unchanged.
func (t *TypeDescriptor) Materialize() *TypeInfo {
	if t.lazy {
		t.info = &TypeInfo{Flags: TypeSingleton, ElementKinds: make(map[ElementsKind]struct{})}
		t.lazy = false
	}
	return t.info
}

// IsSingleton reports whether the type belongs to one object.
func (t *TypeDescriptor) IsSingleton() bool {
	return t.lazy || t.info.Flags&TypeSingleton != 0
}

// note records an observation on a materialized type. Lazy types skip it;
// Materialize starts them from scratch.
func (t *TypeDescriptor) note(flags TypeFlags, kind ElementsKind) {
	if t == nil || t.lazy {
		return
	}
	t.info.Flags |= flags
	t.info.ElementKinds[kind] = struct{}{}
}

func (t *TypeDescriptor) String() string {
	if t.lazy {
		return fmt.Sprintf("type(lazy, proto=%s)", t.proto)
	}
	return fmt.Sprintf("type(flags=%#x, proto=%s)", uint32(t.info.Flags), t.proto)
}
