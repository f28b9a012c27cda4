// Package vm implements the object storage model of the objimpl runtime.
//
// This package contains:
//   - NaN-boxed value representation with heap handles for objects
//   - Shapes: shared property layouts with transition caching
//   - Objects with inline fixed slots and dynamic slot arrays
//   - Element storage: dense, sparse, typed numeric and byte buffers
//   - Write barriers and an incremental, generational reference collector
//   - Layout offsets for code that reads objects directly
package vm
