package vm

import "errors"

// Failures a caller can recover from. The property system and array
// built-ins translate these into language-level exceptions.
var (
	// ErrDefineElement is returned when an element cannot be defined with the
	// requested value and attributes.
	ErrDefineElement = errors.New("element definition rejected")

	// ErrSlotLimit is returned when a shape needs more slots than an object
	// may hold.
	ErrSlotLimit = errors.New("object slot limit exceeded")

	// ErrDenseCapacity is returned when dense element storage cannot grow.
	ErrDenseCapacity = errors.New("dense element capacity exceeded")

	// ErrWrongElementsKind is returned by the classifier accessors when the
	// elements are not of the requested kind.
	ErrWrongElementsKind = errors.New("wrong elements kind")

	// ErrPropertyExists is returned when adding a property a shape already has.
	ErrPropertyExists = errors.New("property already exists")

	// ErrNotExtensible is returned when adding an element or property to an
	// object that no longer accepts new ones.
	ErrNotExtensible = errors.New("object is not extensible")
)
