package vm

import (
	"fmt"
	"strings"
)

// Inspector provides debugging inspection of heap values. It recursively
// describes objects: their layout, their named properties and a preview of
// their elements.
type Inspector struct {
	heap *Heap
}

// InspectionResult contains structured information about an inspected value.
type InspectionResult struct {
	Type      string              // Value type: SmallInt, Double, Undefined, Null, True, False, Magic, Object
	Value     string              // String representation of the value
	ClassName string              // For objects: the class name
	Layout    *LayoutInfo         // For objects: slot and elements layout
	Props     []PropInfo          // For objects: named properties in slot order
	Size      int                 // For objects with elements: element count or length
	Elements  []*InspectionResult // For objects with elements: preview (limited)
	Indices   []uint32            // Indices of the previewed elements
}

// LayoutInfo describes where an object keeps its slots and elements.
type LayoutInfo struct {
	AllocKind       AllocKind
	FixedSlots      uint32
	SlotSpan        uint32
	DynamicSlots    uint32
	Dictionary      bool
	Extensible      bool
	ElementsKind    ElementsKind
	DynamicElements bool
	Capacity        uint32
	InitLength      uint32
	Length          uint32
	ExtraBytes      int
}

// PropInfo contains information about a single named property.
type PropInfo struct {
	Name  string
	Slot  uint32
	Attrs PropertyAttrs
	Value *InspectionResult
}

// MaxElementPreview is the maximum number of elements to preview.
const MaxElementPreview = 10

// DefaultMaxDepth is the default recursion depth for inspection.
const DefaultMaxDepth = 3

// NewInspector creates a new Inspector resolving handles in h.
func NewInspector(h *Heap) *Inspector {
	return &Inspector{heap: h}
}

// Inspect inspects a value with the default maximum depth.
func (i *Inspector) Inspect(v Value) *InspectionResult {
	return i.InspectDepth(v, DefaultMaxDepth)
}

// InspectDepth inspects a value with a specified maximum recursion depth.
// When depth reaches 0, nested objects are shown as summaries only.
func (i *Inspector) InspectDepth(v Value, depth int) *InspectionResult {
	result := &InspectionResult{Value: v.String()}

	switch {
	case v == Undefined:
		result.Type = "Undefined"
	case v == Null:
		result.Type = "Null"
	case v == True:
		result.Type = "True"
	case v == False:
		result.Type = "False"
	case v.IsSmallInt():
		result.Type = "SmallInt"
	case v.IsDouble():
		result.Type = "Double"
	case v.IsMagic():
		result.Type = "Magic"
	case v.IsObject():
		obj, ok := i.heap.Lookup(v.Handle())
		if !ok {
			result.Type = "Object"
			result.Value = fmt.Sprintf("<dead object #%d>", v.Handle())
			return result
		}
		return i.InspectObject(obj, depth)
	default:
		result.Type = "Unknown"
		result.Value = fmt.Sprintf("<unknown:0x%016x>", uint64(v))
	}
	return result
}

// InspectObject describes obj with the given recursion depth.
func (i *Inspector) InspectObject(obj *Object, depth int) *InspectionResult {
	result := &InspectionResult{
		Type:      "Object",
		ClassName: obj.Class().FullName(),
		Value:     fmt.Sprintf("a %s #%d", obj.Class().FullName(), obj.Handle()),
		Layout:    layoutOf(obj),
		Size:      int(obj.elements.Length()),
	}
	if depth <= 0 {
		return result
	}

	for _, p := range obj.shape.Properties() {
		info := PropInfo{Name: p.Key.String(), Slot: p.Slot, Attrs: p.Attrs}
		if p.Attrs.IsAccessor() {
			info.Value = &InspectionResult{
				Type:  "Accessor",
				Value: fmt.Sprintf("get=%s set=%s", obj.GetSlot(p.Slot), obj.GetSlot(p.Slot+1)),
			}
		} else {
			info.Value = i.InspectDepth(obj.GetSlot(p.Slot), depth-1)
		}
		result.Props = append(result.Props, info)
	}

	for _, idx := range previewIndices(obj.elements) {
		v, _ := obj.GetElement(idx)
		result.Indices = append(result.Indices, idx)
		result.Elements = append(result.Elements, i.InspectDepth(v, depth-1))
	}
	return result
}

func layoutOf(obj *Object) *LayoutInfo {
	l := &LayoutInfo{
		AllocKind:       obj.shape.AllocKind(),
		FixedSlots:      obj.NumFixedSlots(),
		SlotSpan:        obj.SlotSpan(),
		DynamicSlots:    obj.NumDynamicSlots(),
		Dictionary:      obj.shape.InDictionaryMode(),
		Extensible:      obj.IsExtensible(),
		ElementsKind:    obj.elements.Kind(),
		DynamicElements: obj.HasDynamicElements(),
		Length:          obj.elements.Length(),
		ExtraBytes:      obj.SizeOfExcludingThis(),
	}
	if d, ok := obj.elements.(*DenseElements); ok {
		l.Capacity = d.Capacity()
		l.InitLength = d.InitializedLength()
	}
	return l
}

// previewIndices picks up to MaxElementPreview present element indices.
func previewIndices(e Elements) []uint32 {
	var out []uint32
	switch e := e.(type) {
	case *DenseElements:
		for idx, v := range e.Values() {
			if len(out) == MaxElementPreview {
				break
			}
			if !v.IsHole() {
				out = append(out, uint32(idx))
			}
		}
	case *SparseElements:
		out = e.Indices()
		if len(out) > MaxElementPreview {
			out = out[:MaxElementPreview]
		}
	case *TypedElements, *BufferElements:
		n := min(e.Length(), MaxElementPreview)
		for idx := uint32(0); idx < n; idx++ {
			out = append(out, idx)
		}
	}
	return out
}

// String returns a formatted multi-line representation of the inspection result.
func (r *InspectionResult) String() string {
	return r.stringWithIndent(0)
}

// stringWithIndent creates a formatted string with the specified indentation.
func (r *InspectionResult) stringWithIndent(indent int) string {
	var sb strings.Builder
	prefix := strings.Repeat("  ", indent)

	sb.WriteString(prefix)
	sb.WriteString(r.Type)
	sb.WriteString(": ")
	sb.WriteString(r.Value)
	sb.WriteString("\n")

	if l := r.Layout; l != nil {
		sb.WriteString(prefix)
		fmt.Fprintf(&sb, "  slots: %d fixed of %d inline, span %d, %d dynamic",
			l.FixedSlots, l.AllocKind.Slots(), l.SlotSpan, l.DynamicSlots)
		if l.Dictionary {
			sb.WriteString(", dictionary")
		}
		if !l.Extensible {
			sb.WriteString(", not extensible")
		}
		sb.WriteString("\n")

		sb.WriteString(prefix)
		where := "inline"
		if l.DynamicElements {
			where = "dynamic"
		} else if l.Length == 0 && l.Capacity == 0 {
			where = "empty"
		}
		fmt.Fprintf(&sb, "  elements: %s (%s), length %d", l.ElementsKind, where, l.Length)
		if l.ElementsKind == KindDense {
			fmt.Fprintf(&sb, ", initialized %d, capacity %d", l.InitLength, l.Capacity)
		}
		fmt.Fprintf(&sb, ", %d extra bytes\n", l.ExtraBytes)
	}

	if len(r.Props) > 0 {
		sb.WriteString(prefix)
		sb.WriteString("  properties:\n")
		for _, p := range r.Props {
			sb.WriteString(prefix)
			fmt.Fprintf(&sb, "    %s [%d %s]: ", p.Name, p.Slot, p.Attrs)
			if p.Value != nil {
				sb.WriteString(p.Value.Value)
			} else {
				sb.WriteString("<nil>")
			}
			sb.WriteString("\n")
		}
	}

	if len(r.Elements) > 0 {
		sb.WriteString(prefix)
		fmt.Fprintf(&sb, "  elements (showing %d of %d):\n", len(r.Elements), r.Size)
		for n, elem := range r.Elements {
			sb.WriteString(prefix)
			fmt.Fprintf(&sb, "    [%d]: %s\n", r.Indices[n], elem.Value)
		}
	}

	return sb.String()
}

// Describe inspects every live object of h, in handle order.
func (i *Inspector) Describe(depth int) string {
	var sb strings.Builder
	i.heap.ForEach(func(obj *Object) {
		sb.WriteString(i.InspectObject(obj, depth).String())
	})
	return sb.String()
}
