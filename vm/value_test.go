package vm

import (
	"math"
	"testing"
	"unsafe"
)

// ---------------------------------------------------------------------------
// Double tests
// ---------------------------------------------------------------------------

func TestDoubleRoundTrip(t *testing.T) {
	tests := []float64{
		0.0,
		1.0,
		-1.0,
		3.14159265358979,
		-3.14159265358979,
		math.MaxFloat64,
		math.SmallestNonzeroFloat64,
		-math.MaxFloat64,
		math.Inf(1),
		math.Inf(-1),
	}

	for _, f := range tests {
		v := FromFloat64(f)
		if !v.IsDouble() {
			t.Errorf("FromFloat64(%v).IsDouble() = false, want true", f)
			continue
		}
		if got := v.Float64(); got != f {
			t.Errorf("FromFloat64(%v).Float64() = %v, want %v", f, got, f)
		}
	}
}

func TestDoubleNaNIsCanonical(t *testing.T) {
	// A NaN whose payload looks like an object tag must not decode as one.
	tricky := math.Float64frombits(0x7FF9000000000007)
	for _, f := range []float64{math.NaN(), tricky, -math.NaN()} {
		v := FromFloat64(f)
		if !v.IsDouble() || v.IsObject() || v.IsSmallInt() {
			t.Errorf("FromFloat64(NaN %#x) decoded as non-double %#x", math.Float64bits(f), uint64(v))
		}
		if !math.IsNaN(v.Float64()) {
			t.Errorf("NaN round trip lost NaN-ness: %v", v.Float64())
		}
	}
}

func TestNegativeZeroStaysDouble(t *testing.T) {
	v := FromNumber(math.Copysign(0, -1))
	if !v.IsDouble() {
		t.Fatalf("FromNumber(-0) should be a double, got %s", v)
	}
	if !math.Signbit(v.Float64()) {
		t.Error("FromNumber(-0) lost its sign")
	}
}

// ---------------------------------------------------------------------------
// SmallInt tests
// ---------------------------------------------------------------------------

func TestSmallIntRoundTrip(t *testing.T) {
	tests := []int64{0, 1, -1, 42, -42, MaxSmallInt, MinSmallInt, 1 << 40, -(1 << 40)}

	for _, n := range tests {
		v := FromSmallInt(n)
		if !v.IsSmallInt() {
			t.Errorf("FromSmallInt(%d).IsSmallInt() = false", n)
			continue
		}
		if v.IsDouble() || v.IsObject() {
			t.Errorf("FromSmallInt(%d) also classifies as another type", n)
		}
		if got := v.SmallInt(); got != n {
			t.Errorf("FromSmallInt(%d).SmallInt() = %d", n, got)
		}
	}
}

func TestSmallIntOverflow(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("FromSmallInt(MaxSmallInt+1) should panic")
		}
	}()
	FromSmallInt(MaxSmallInt + 1)
}

func TestTryFromSmallInt(t *testing.T) {
	if _, ok := TryFromSmallInt(MaxSmallInt + 1); ok {
		t.Error("TryFromSmallInt(MaxSmallInt+1) should fail")
	}
	if _, ok := TryFromSmallInt(MinSmallInt - 1); ok {
		t.Error("TryFromSmallInt(MinSmallInt-1) should fail")
	}
	v, ok := TryFromSmallInt(-7)
	if !ok || v.SmallInt() != -7 {
		t.Errorf("TryFromSmallInt(-7) = %v, %v", v, ok)
	}
}

func TestFromNumber(t *testing.T) {
	tests := []struct {
		in      float64
		wantInt bool
	}{
		{0, true},
		{12, true},
		{-3, true},
		{1.5, false},
		{float64(MaxSmallInt) * 4, false},
		{math.Inf(1), false},
	}
	for _, tt := range tests {
		v := FromNumber(tt.in)
		if v.IsSmallInt() != tt.wantInt {
			t.Errorf("FromNumber(%v).IsSmallInt() = %v, want %v", tt.in, v.IsSmallInt(), tt.wantInt)
		}
		if f, _ := v.ToNumber(); f != tt.in {
			t.Errorf("FromNumber(%v).ToNumber() = %v", tt.in, f)
		}
	}
}

// ---------------------------------------------------------------------------
// Objects, specials and magic values
// ---------------------------------------------------------------------------

func TestHandleRoundTrip(t *testing.T) {
	for _, h := range []uint32{1, 2, 1000, math.MaxUint32} {
		v := FromHandle(h)
		if !v.IsObject() || !v.IsGCThing() {
			t.Errorf("FromHandle(%d) is not an object", h)
		}
		if v.IsDouble() || v.IsSmallInt() || v.IsMagic() {
			t.Errorf("FromHandle(%d) also classifies as another type", h)
		}
		if got := v.Handle(); got != h {
			t.Errorf("FromHandle(%d).Handle() = %d", h, got)
		}
	}
}

func TestHandlePanicOnNonObject(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Handle() on a small int should panic")
		}
	}()
	FromSmallInt(3).Handle()
}

func TestSpecialValues(t *testing.T) {
	specials := []Value{Undefined, Null, True, False, Hole, Uninitialized}
	for i, a := range specials {
		if a.IsDouble() || a.IsSmallInt() || a.IsObject() || a.IsGCThing() {
			t.Errorf("special %s classifies as a number or object", a)
		}
		for j, b := range specials {
			if i != j && a == b {
				t.Errorf("specials %d and %d are equal", i, j)
			}
		}
	}
	if !Hole.IsMagic() || !Uninitialized.IsMagic() {
		t.Error("Hole and Uninitialized should be magic")
	}
	if Undefined.IsMagic() || Null.IsMagic() {
		t.Error("Undefined and Null are not magic")
	}
	if !FromBool(true).Bool() || FromBool(false).Bool() {
		t.Error("FromBool round trip failed")
	}
}

func TestToNumber(t *testing.T) {
	tests := []struct {
		v    Value
		want float64
		ok   bool
	}{
		{FromSmallInt(5), 5, true},
		{FromFloat64(2.5), 2.5, true},
		{Null, 0, true},
		{True, 1, true},
		{False, 0, true},
		{FromHandle(3), 0, false},
		{Hole, 0, false},
	}
	for _, tt := range tests {
		got, ok := tt.v.ToNumber()
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("%s.ToNumber() = %v, %v; want %v, %v", tt.v, got, ok, tt.want, tt.ok)
		}
	}
	if f, ok := Undefined.ToNumber(); !ok || !math.IsNaN(f) {
		t.Errorf("Undefined.ToNumber() = %v, %v; want NaN", f, ok)
	}
}

func TestValueString(t *testing.T) {
	tests := []struct {
		v    Value
		want string
	}{
		{FromSmallInt(-4), "-4"},
		{FromFloat64(0.5), "0.5"},
		{FromHandle(9), "<object #9>"},
		{Undefined, "undefined"},
		{Hole, "<hole>"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestValueSize(t *testing.T) {
	if unsafe.Sizeof(Value(0)) != ValueSize {
		t.Errorf("sizeof(Value) = %d, want %d", unsafe.Sizeof(Value(0)), ValueSize)
	}
}
