package vm

import (
	"errors"
	"testing"
)

func TestAllocKindValid(t *testing.T) {
	for k := AllocKind0; k <= AllocKind16; k++ {
		if !k.Valid() {
			t.Errorf("%d.Valid() = false", k)
		}
	}
	if AllocKind(6).Valid() || AllocKind(255).Valid() {
		t.Error("kinds past AllocKind16 should be invalid")
	}
}

func TestAllocKindForSlots(t *testing.T) {
	tests := []struct {
		n    uint32
		want AllocKind
	}{
		{0, AllocKind0},
		{1, AllocKind2},
		{2, AllocKind2},
		{3, AllocKind4},
		{5, AllocKind8},
		{9, AllocKind12},
		{13, AllocKind16},
		{16, AllocKind16},
		{100, AllocKind16},
	}
	for _, tt := range tests {
		if got := AllocKindForSlots(tt.n); got != tt.want {
			t.Errorf("AllocKindForSlots(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestInitialShapeFixedSlots(t *testing.T) {
	if n := NewInitialShape(PlainObjectClass, AllocKind4).NumFixedSlots(); n != 4 {
		t.Errorf("plain object kind 4: %d fixed slots, want 4", n)
	}
	if n := NewInitialShape(ArrayClass, AllocKind8).NumFixedSlots(); n != 0 {
		t.Errorf("dense array: %d fixed slots, want 0", n)
	}
}

func TestShapeTransitionsAreShared(t *testing.T) {
	root := NewInitialShape(PlainObjectClass, AllocKind4)

	a, err := root.AddProperty(NameKey("x"), DefaultAttrs)
	if err != nil {
		t.Fatalf("AddProperty: %v", err)
	}
	b, err := root.AddProperty(NameKey("x"), DefaultAttrs)
	if err != nil {
		t.Fatalf("AddProperty: %v", err)
	}
	if a != b {
		t.Error("adding the same property twice should reuse the cached child shape")
	}
	c, _ := root.AddProperty(NameKey("x"), AttrWritable)
	if c == a {
		t.Error("different attributes should produce a different child shape")
	}
	if a.Parent() != root {
		t.Error("child shape should point at its parent")
	}
	if a.SlotSpan() != 1 || root.SlotSpan() != 0 {
		t.Errorf("spans: root %d, child %d", root.SlotSpan(), a.SlotSpan())
	}
}

func TestShapeLookupAndProperties(t *testing.T) {
	s := NewInitialShape(PlainObjectClass, AllocKind2)
	var err error
	for _, name := range []string{"a", "b", "c"} {
		if s, err = s.AddProperty(NameKey(name), DefaultAttrs); err != nil {
			t.Fatal(err)
		}
	}
	if s, err = s.AddProperty(NameKey("acc"), AttrGetter|AttrSetter|AttrConfigurable); err != nil {
		t.Fatal(err)
	}

	if s.Len() != 4 {
		t.Errorf("Len() = %d, want 4", s.Len())
	}
	if s.SlotSpan() != 5 {
		t.Errorf("SlotSpan() = %d, want 5 (accessor takes two slots)", s.SlotSpan())
	}
	p, ok := s.Lookup(NameKey("b"))
	if !ok || p.Slot != 1 {
		t.Errorf("Lookup(b) = %+v, %v", p, ok)
	}
	if _, ok := s.Lookup(NameKey("missing")); ok {
		t.Error("Lookup(missing) should fail")
	}
	props := s.Properties()
	for i := 1; i < len(props); i++ {
		if props[i-1].Slot >= props[i].Slot {
			t.Errorf("Properties() not in slot order: %v", props)
		}
	}
}

func TestShapeDuplicateProperty(t *testing.T) {
	s, _ := NewInitialShape(PlainObjectClass, AllocKind0).AddProperty(NameKey("x"), DefaultAttrs)
	if _, err := s.AddProperty(NameKey("x"), DefaultAttrs); !errors.Is(err, ErrPropertyExists) {
		t.Errorf("duplicate AddProperty error = %v, want ErrPropertyExists", err)
	}
}

func TestShapePreventExtensions(t *testing.T) {
	s, _ := NewInitialShape(PlainObjectClass, AllocKind0).AddProperty(NameKey("x"), DefaultAttrs)
	sealed := s.PreventExtensions()
	if sealed.IsExtensible() {
		t.Fatal("sealed shape should not be extensible")
	}
	if sealed.PreventExtensions() != sealed {
		t.Error("PreventExtensions on a sealed shape should be a no-op")
	}
	if s.PreventExtensions() != sealed {
		t.Error("seal transition should be cached")
	}
	if _, ok := sealed.Lookup(NameKey("x")); !ok {
		t.Error("sealed shape lost its property")
	}
	if _, err := sealed.AddProperty(NameKey("y"), DefaultAttrs); !errors.Is(err, ErrNotExtensible) {
		t.Errorf("AddProperty on sealed shape error = %v, want ErrNotExtensible", err)
	}
}

func TestDictionaryShapeRecyclesSlots(t *testing.T) {
	d := NewDictionaryShape(PlainObjectClass)
	for _, name := range []string{"a", "b", "c"} {
		if _, err := d.AddProperty(NameKey(name), DefaultAttrs); err != nil {
			t.Fatal(err)
		}
	}
	p, ok := d.RemoveProperty(NameKey("b"))
	if !ok || p.Slot != 1 {
		t.Fatalf("RemoveProperty(b) = %+v, %v", p, ok)
	}
	next, err := d.AddProperty(NameKey("d"), DefaultAttrs)
	if err != nil {
		t.Fatal(err)
	}
	if next != d {
		t.Error("dictionary shapes are updated in place")
	}
	if q, _ := d.Lookup(NameKey("d")); q.Slot != 1 {
		t.Errorf("new property got slot %d, want recycled slot 1", q.Slot)
	}
	if d.SlotSpan() != 3 {
		t.Errorf("SlotSpan() = %d, want 3", d.SlotSpan())
	}
}

func TestToDictionaryPreservesSlots(t *testing.T) {
	s := NewInitialShape(PlainObjectClass, AllocKind4)
	s, _ = s.AddProperty(NameKey("a"), DefaultAttrs)
	s, _ = s.AddProperty(NameKey("b"), DefaultAttrs)
	d := s.ToDictionary()
	if !d.InDictionaryMode() || s.InDictionaryMode() {
		t.Fatal("ToDictionary should return a new dictionary shape")
	}
	if d.NumFixedSlots() != 4 || d.AllocKind() != AllocKind4 {
		t.Errorf("dictionary layout %d/%d, want 4/kind4", d.NumFixedSlots(), d.AllocKind())
	}
	for _, p := range s.Properties() {
		q, ok := d.Lookup(p.Key)
		if !ok || q.Slot != p.Slot {
			t.Errorf("property %s moved from slot %d to %d", p.Key, p.Slot, q.Slot)
		}
	}
}

func TestPropertyKeys(t *testing.T) {
	if NameKey("1") == IndexKey(1) {
		t.Error("name and index keys must differ")
	}
	if i, ok := IndexKey(7).Index(); !ok || i != 7 {
		t.Errorf("IndexKey(7).Index() = %d, %v", i, ok)
	}
	if _, ok := NameKey("x").Index(); ok {
		t.Error("NameKey should not have an index")
	}
	if got := (AttrWritable | AttrGetter).String(); got != "w--g" {
		t.Errorf("attrs string = %q", got)
	}
}
