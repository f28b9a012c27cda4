package vm

import (
	"sort"
	"sync"
)

// ---------------------------------------------------------------------------
// Class: the category an object belongs to
// ---------------------------------------------------------------------------

// ClassFlags describe how instances of a class use their storage.
type ClassFlags uint32

const (
	// ClassDenseArray instances keep dense elements in their inline region.
	// Their shapes have zero fixed slots.
	ClassDenseArray ClassFlags = 1 << iota
	// ClassSlowArray instances are arrays whose elements went sparse.
	ClassSlowArray
	// ClassTypedArray instances hold fixed-length numeric elements.
	ClassTypedArray
	// ClassArrayBuffer instances hold raw byte elements.
	ClassArrayBuffer
)

// Class describes a family of objects. It is referenced from every shape
// created for it; two objects with the same shape always have the same class.
type Class struct {
	Name      string
	Namespace string
	Flags     ClassFlags

	// Finalize, if set, runs when the collector reclaims an instance, before
	// its dynamic storage is released.
	Finalize func(obj *Object)
}

// NewClass creates a new class with the given name and flags.
func NewClass(name string, flags ClassFlags) *Class {
	return &Class{Name: name, Flags: flags}
}

// NewClassInNamespace creates a new class in a specific namespace.
func NewClassInNamespace(namespace, name string, flags ClassFlags) *Class {
	c := NewClass(name, flags)
	c.Namespace = namespace
	return c
}

// Has reports whether all of the given flags are set.
func (c *Class) Has(flags ClassFlags) bool {
	return c.Flags&flags == flags
}

// HasAny reports whether at least one of the given flags is set.
func (c *Class) HasAny(flags ClassFlags) bool {
	return c.Flags&flags != 0
}

// FullName returns the fully qualified class name (namespace::name or just name).
func (c *Class) FullName() string {
	if c.Namespace == "" {
		return c.Name
	}
	return c.Namespace + "::" + c.Name
}

// String implements the Stringer interface.
func (c *Class) String() string {
	return c.FullName()
}

// Built-in classes for the element storage families.
var (
	PlainObjectClass = NewClass("Object", 0)
	ArrayClass       = NewClass("Array", ClassDenseArray)
	SlowArrayClass   = NewClass("Array", ClassSlowArray)
	ArrayBufferClass = NewClass("ArrayBuffer", ClassArrayBuffer)
)

// typedArrayClasses holds one class per numeric element kind.
var typedArrayClasses = func() map[ElementsKind]*Class {
	m := make(map[ElementsKind]*Class)
	for _, k := range TypedKinds() {
		m[k] = NewClass(k.TypedArrayName(), ClassTypedArray)
	}
	return m
}()

// TypedArrayClass returns the class used for typed arrays of kind k.
func TypedArrayClass(k ElementsKind) *Class {
	return typedArrayClasses[k]
}

// ---------------------------------------------------------------------------
// ClassTable: class registry by name
// ---------------------------------------------------------------------------

// ClassTable manages registered classes by name.
// It's thread-safe for concurrent access.
type ClassTable struct {
	mu      sync.RWMutex
	classes map[string]*Class
}

// NewClassTable creates a new empty class table.
func NewClassTable() *ClassTable {
	return &ClassTable{
		classes: make(map[string]*Class),
	}
}

// NewBuiltinClassTable returns a table preloaded with the built-in classes.
// The dense and slow array classes share a display name, so the slow one is
// registered as "SlowArray".
func NewBuiltinClassTable() *ClassTable {
	ct := NewClassTable()
	ct.Register(PlainObjectClass)
	ct.Register(ArrayClass)
	ct.RegisterAs("SlowArray", SlowArrayClass)
	ct.Register(ArrayBufferClass)
	for _, k := range TypedKinds() {
		ct.Register(TypedArrayClass(k))
	}
	return ct
}

// Register adds a class to the table.
// Returns the previous class with this name, or nil.
func (ct *ClassTable) Register(c *Class) *Class {
	return ct.RegisterAs(c.FullName(), c)
}

// RegisterAs adds a class under an explicit key.
func (ct *ClassTable) RegisterAs(key string, c *Class) *Class {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	old := ct.classes[key]
	ct.classes[key] = c
	return old
}

// Lookup finds a class by name.
func (ct *ClassTable) Lookup(name string) *Class {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.classes[name]
}

// KeyOf returns the key a class was registered under, or "" if it is not in
// the table.
func (ct *ClassTable) KeyOf(c *Class) string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	for k, v := range ct.classes {
		if v == c {
			return k
		}
	}
	return ""
}

// Keys returns the registered keys in sorted order.
func (ct *ClassTable) Keys() []string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	result := make([]string, 0, len(ct.classes))
	for k := range ct.classes {
		result = append(result, k)
	}
	sort.Strings(result)
	return result
}

// Len returns the number of registered classes.
func (ct *ClassTable) Len() int {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return len(ct.classes)
}
