package vm

import (
	"strings"
	"testing"
)

func TestInspector_Specials(t *testing.T) {
	inspector := NewInspector(NewHeap(DefaultHeapConfig()))

	tests := []struct {
		value    Value
		typ      string
		expected string
	}{
		{Undefined, "Undefined", "undefined"},
		{Null, "Null", "null"},
		{True, "True", "true"},
		{False, "False", "false"},
		{Hole, "Magic", "<hole>"},
	}
	for _, tc := range tests {
		result := inspector.Inspect(tc.value)
		if result.Type != tc.typ {
			t.Errorf("expected Type %q, got %q", tc.typ, result.Type)
		}
		if result.Value != tc.expected {
			t.Errorf("expected Value %q, got %q", tc.expected, result.Value)
		}
	}
}

func TestInspector_Numbers(t *testing.T) {
	inspector := NewInspector(NewHeap(DefaultHeapConfig()))

	result := inspector.Inspect(FromSmallInt(-17))
	if result.Type != "SmallInt" || result.Value != "-17" {
		t.Errorf("SmallInt inspected as %s %q", result.Type, result.Value)
	}
	result = inspector.Inspect(FromFloat64(2.5))
	if result.Type != "Double" || result.Value != "2.5" {
		t.Errorf("Double inspected as %s %q", result.Type, result.Value)
	}
}

func TestInspector_DeadObject(t *testing.T) {
	h := NewHeap(DefaultHeapConfig())
	inspector := NewInspector(h)

	result := inspector.Inspect(FromHandle(42))
	if result.Type != "Object" {
		t.Errorf("expected Type 'Object', got %q", result.Type)
	}
	if !strings.Contains(result.Value, "dead object #42") {
		t.Errorf("expected dead object marker, got %q", result.Value)
	}
}

func TestInspector_PlainObject(t *testing.T) {
	h := NewHeap(DefaultHeapConfig())
	inspector := NewInspector(h)

	inner, _ := h.NewPlainObject(AllocKind0, Null)
	obj, _ := h.NewPlainObject(AllocKind2, Null)
	obj.DefineProperty(NameKey("x"), FromSmallInt(1))
	obj.DefineProperty(NameKey("inner"), inner.ToValue())
	obj.DefineProperty(NameKey("z"), True)
	obj.AddProperty(NameKey("acc"), AttrGetter|AttrConfigurable)

	result := inspector.Inspect(obj.ToValue())
	if result.ClassName != "Object" {
		t.Errorf("expected ClassName 'Object', got %q", result.ClassName)
	}
	if l := result.Layout; l == nil || l.FixedSlots != 2 || l.SlotSpan != 5 || l.DynamicSlots == 0 {
		t.Fatalf("unexpected layout %+v", result.Layout)
	}
	if len(result.Props) != 4 {
		t.Fatalf("expected 4 properties, got %d", len(result.Props))
	}
	if p := result.Props[1]; p.Name != "inner" || p.Value.Type != "Object" || p.Value.ClassName != "Object" {
		t.Errorf("inner property inspected as %+v", p)
	}
	if p := result.Props[3]; p.Value.Type != "Accessor" {
		t.Errorf("accessor property inspected as %s", p.Value.Type)
	}

	s := result.String()
	for _, want := range []string{"slots: 2 fixed of 2 inline, span 5", "x [0 ", "elements: dense (empty)"} {
		if !strings.Contains(s, want) {
			t.Errorf("String() missing %q:\n%s", want, s)
		}
	}
}

func TestInspector_DenseArray(t *testing.T) {
	h := NewHeap(DefaultHeapConfig())
	inspector := NewInspector(h)

	arr, _ := h.NewArray(6)
	for i := uint32(0); i < 30; i++ {
		arr.SetElement(i, FromSmallInt(int64(i)))
	}
	arr.DeleteElement(0)

	result := inspector.Inspect(arr.ToValue())
	if result.Size != 30 {
		t.Errorf("expected Size 30, got %d", result.Size)
	}
	if len(result.Elements) != MaxElementPreview {
		t.Errorf("expected %d previewed elements, got %d", MaxElementPreview, len(result.Elements))
	}
	if result.Indices[0] != 1 {
		t.Errorf("preview should skip holes, first index %d", result.Indices[0])
	}
	if !result.Layout.DynamicElements || result.Layout.InitLength != 30 {
		t.Errorf("unexpected layout %+v", result.Layout)
	}
	if !strings.Contains(result.String(), "elements (showing 10 of 30)") {
		t.Errorf("String() missing element summary:\n%s", result.String())
	}
}

func TestInspector_SparseArray(t *testing.T) {
	h := NewHeap(DefaultHeapConfig())
	inspector := NewInspector(h)

	arr, _ := h.NewArray(0)
	arr.SetElement(5, True)
	arr.SetElement(2_000_000, False)

	result := inspector.Inspect(arr.ToValue())
	if result.Layout.ElementsKind != KindSparse {
		t.Fatalf("expected sparse elements, got %s", result.Layout.ElementsKind)
	}
	if len(result.Indices) != 2 || result.Indices[0] != 5 || result.Indices[1] != 2_000_000 {
		t.Errorf("sparse preview indices %v", result.Indices)
	}
}

func TestInspector_TypedArray(t *testing.T) {
	h := NewHeap(DefaultHeapConfig())
	inspector := NewInspector(h)

	arr, _ := h.NewTypedArray(KindInt16, 3)
	arr.SetElement(1, FromSmallInt(-2))

	result := inspector.Inspect(arr.ToValue())
	if result.ClassName != "Int16Array" {
		t.Errorf("expected ClassName 'Int16Array', got %q", result.ClassName)
	}
	if len(result.Elements) != 3 || result.Elements[1].Value != "-2" {
		t.Errorf("typed preview %v", result.Elements)
	}
}

func TestInspector_DepthLimit(t *testing.T) {
	h := NewHeap(DefaultHeapConfig())
	inspector := NewInspector(h)

	inner, _ := h.NewPlainObject(AllocKind2, Null)
	inner.DefineProperty(NameKey("deep"), True)
	outer, _ := h.NewPlainObject(AllocKind2, Null)
	outer.DefineProperty(NameKey("inner"), inner.ToValue())

	result := inspector.InspectDepth(outer.ToValue(), 1)
	nested := result.Props[0].Value
	if nested.Type != "Object" || len(nested.Props) != 0 {
		t.Errorf("depth 1 should summarize nested objects, got %d props", len(nested.Props))
	}

	result = inspector.InspectDepth(outer.ToValue(), 0)
	if len(result.Props) != 0 {
		t.Error("depth 0 should not list properties")
	}
}

func TestInspector_Describe(t *testing.T) {
	h := NewHeap(DefaultHeapConfig())
	h.NewPlainObject(AllocKind0, Null)
	h.NewArray(0)

	s := NewInspector(h).Describe(1)
	if strings.Count(s, "Object: a ") != 2 {
		t.Errorf("Describe should list both objects:\n%s", s)
	}
	if !strings.Contains(s, "a Array #2") {
		t.Errorf("Describe missing the array:\n%s", s)
	}
}
