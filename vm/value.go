package vm

import (
	"fmt"
	"math"
	"strconv"
)

// Value represents a runtime value using NaN-boxing.
//
// All values are represented as 64-bit IEEE 754 doubles. Non-double values
// are encoded in the NaN space using the quiet NaN prefix and tag bits.
//
// Encoding scheme:
//   - Double: Native IEEE 754 double (if not a tagged NaN, it's a double)
//   - SmallInt: Quiet NaN + tagInt + 48-bit signed payload
//   - Object: Quiet NaN + tagObject + 32-bit heap handle
//   - Special: Quiet NaN + tagSpecial + id (undefined/null/true/false)
//   - Magic: Quiet NaN + tagMagic + why (array hole, uninitialized)
//
// Object references are heap handles, never raw pointers, so a Value can be
// copied freely without hiding anything from Go's collector.
type Value uint64

// ValueSize is the width of a Value in bytes. Element headers and the fixed
// slot region are laid out in multiples of it.
const ValueSize = 8

// NaN-boxing constants
const (
	// Quiet NaN prefix: exponent all 1s, quiet bit set, sign bit 0
	nanBits uint64 = 0x7FF8000000000000

	// Tag mask: 3 bits within the NaN mantissa space
	tagMask uint64 = 0x0007000000000000

	// Payload mask: 48 bits
	payloadMask uint64 = 0x0000FFFFFFFFFFFF

	tagObject  uint64 = 0x0001000000000000
	tagInt     uint64 = 0x0002000000000000
	tagSpecial uint64 = 0x0003000000000000
	tagMagic   uint64 = 0x0004000000000000

	intSignBit    uint64 = 0x0000800000000000
	intSignExtend uint64 = 0xFFFF000000000000
)

const (
	specialUndefined uint64 = 0
	specialNull      uint64 = 1
	specialTrue      uint64 = 2
	specialFalse     uint64 = 3
)

// MagicWhy says why a magic value is present.
type MagicWhy uint32

const (
	// MagicElementsHole marks an unset dense element below the initialized length.
	MagicElementsHole MagicWhy = iota
	// MagicUninitialized marks a slot that was released or never written.
	MagicUninitialized
)

// Pre-defined values
const (
	Undefined Value = Value(nanBits | tagSpecial | specialUndefined)
	Null      Value = Value(nanBits | tagSpecial | specialNull)
	True      Value = Value(nanBits | tagSpecial | specialTrue)
	False     Value = Value(nanBits | tagSpecial | specialFalse)

	Hole          Value = Value(nanBits | tagMagic | uint64(MagicElementsHole))
	Uninitialized Value = Value(nanBits | tagMagic | uint64(MagicUninitialized))
)

// SmallInt range (48-bit signed)
const (
	MaxSmallInt int64 = (1 << 47) - 1
	MinSmallInt int64 = -(1 << 47)
)

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// IsDouble returns true if v represents a float64 value. Infinities and
// untagged NaNs are doubles.
func (v Value) IsDouble() bool {
	bits := uint64(v)
	if (bits & 0x7FF0000000000000) != 0x7FF0000000000000 {
		return true
	}
	if bits&0x000FFFFFFFFFFFFF == 0 {
		return true
	}
	if (bits & nanBits) != nanBits {
		return true
	}
	return bits&tagMask == 0
}

// IsSmallInt returns true if v represents a small integer.
func (v Value) IsSmallInt() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagInt)
}

// IsObject returns true if v is an object handle.
func (v Value) IsObject() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagObject)
}

// IsGCThing returns true if v carries a reference the collector must trace.
// Only these values go through the write barrier.
func (v Value) IsGCThing() bool {
	return v.IsObject()
}

// IsUndefined returns true if v is undefined.
func (v Value) IsUndefined() bool { return v == Undefined }

// IsNull returns true if v is null.
func (v Value) IsNull() bool { return v == Null }

// IsBool returns true if v is true or false.
func (v Value) IsBool() bool { return v == True || v == False }

// IsNumber returns true for doubles and small ints.
func (v Value) IsNumber() bool { return v.IsDouble() || v.IsSmallInt() }

// IsMagic returns true if v is an internal marker value.
func (v Value) IsMagic() bool {
	return (uint64(v) & (nanBits | tagMask)) == (nanBits | tagMagic)
}

// IsHole returns true if v is the dense elements hole marker.
func (v Value) IsHole() bool { return v == Hole }

// ---------------------------------------------------------------------------
// Constructors and accessors
// ---------------------------------------------------------------------------

// FromFloat64 creates a Value from a float64. NaNs are canonicalized so
// their payload can never be mistaken for a tagged value.
func FromFloat64(f float64) Value {
	if f != f {
		return canonicalNaN
	}
	return Value(math.Float64bits(f))
}

const canonicalNaN = Value(0x7FF8000000000000)

// Float64 returns v as a float64.
// Panics if v is not a double.
func (v Value) Float64() float64 {
	if !v.IsDouble() {
		panic("Value.Float64: not a double")
	}
	return math.Float64frombits(uint64(v))
}

// FromSmallInt creates a Value from an int64.
// Panics if n is outside the SmallInt range.
func FromSmallInt(n int64) Value {
	if n > MaxSmallInt || n < MinSmallInt {
		panic("FromSmallInt: value out of range")
	}
	return Value(nanBits | tagInt | (uint64(n) & payloadMask))
}

// TryFromSmallInt creates a Value from an int64, returning false if out of range.
func TryFromSmallInt(n int64) (Value, bool) {
	if n > MaxSmallInt || n < MinSmallInt {
		return Undefined, false
	}
	return Value(nanBits | tagInt | (uint64(n) & payloadMask)), true
}

// SmallInt returns v as an int64.
// Panics if v is not a small integer.
func (v Value) SmallInt() int64 {
	if !v.IsSmallInt() {
		panic("Value.SmallInt: not a small integer")
	}
	payload := uint64(v) & payloadMask
	if (payload & intSignBit) != 0 {
		payload |= intSignExtend
	}
	return int64(payload)
}

// FromHandle creates an object Value from a heap handle.
func FromHandle(h uint32) Value {
	return Value(nanBits | tagObject | uint64(h))
}

// Handle returns the heap handle of an object Value.
// Panics if v is not an object.
func (v Value) Handle() uint32 {
	if !v.IsObject() {
		panic("Value.Handle: not an object")
	}
	return uint32(uint64(v) & payloadMask)
}

// FromBool creates a Value from a bool.
func FromBool(b bool) Value {
	if b {
		return True
	}
	return False
}

// Bool returns v as a bool.
// Panics if v is not true or false.
func (v Value) Bool() bool {
	switch v {
	case True:
		return true
	case False:
		return false
	default:
		panic("Value.Bool: not a boolean")
	}
}

// ToNumber converts a primitive to a float64 the way numeric element stores
// need it. Objects and magic values are not converted.
func (v Value) ToNumber() (float64, bool) {
	switch {
	case v.IsSmallInt():
		return float64(v.SmallInt()), true
	case v.IsDouble():
		return v.Float64(), true
	case v == Undefined:
		return math.NaN(), true
	case v == Null, v == False:
		return 0, true
	case v == True:
		return 1, true
	}
	return 0, false
}

// FromNumber returns the most compact Value for f: a small int when f is
// integral and in range, a double otherwise. Negative zero stays a double.
func FromNumber(f float64) Value {
	if f == math.Trunc(f) && !math.IsInf(f, 0) && !(f == 0 && math.Signbit(f)) {
		if f >= float64(MinSmallInt) && f <= float64(MaxSmallInt) {
			return FromSmallInt(int64(f))
		}
	}
	return FromFloat64(f)
}

// String renders v for debugging and inspection.
func (v Value) String() string {
	switch {
	case v.IsSmallInt():
		return strconv.FormatInt(v.SmallInt(), 10)
	case v.IsDouble():
		return strconv.FormatFloat(v.Float64(), 'g', -1, 64)
	case v.IsObject():
		return fmt.Sprintf("<object #%d>", v.Handle())
	case v == Undefined:
		return "undefined"
	case v == Null:
		return "null"
	case v == True:
		return "true"
	case v == False:
		return "false"
	case v == Hole:
		return "<hole>"
	case v == Uninitialized:
		return "<uninitialized>"
	}
	return fmt.Sprintf("<value %#x>", uint64(v))
}
