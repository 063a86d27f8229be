package evelin

import (
	"fmt"

	"github.com/xlab/treeprint"
)

// FieldLayout records one field's IR type and byte offset within its
// enclosing aggregate.
type FieldLayout struct {
	Type   Type
	Offset uint64
}

// StructLayout is the computed layout of a declared struct: a field-name
// lookup table plus the aggregate's total (padded) size.
type StructLayout struct {
	Fields map[string]FieldLayout
	Order  []string // declaration order, for stable TypeDef emission
	Size   uint64
	Align  uint64
}

// computeStructLayout lays fields out in declaration order: each offset is
// rounded up to that field's own alignment before being placed, and the
// final size is rounded up to the aggregate's own (max-of-members)
// alignment.
//
// A derived (struct-typed) field has no fixed primitive alignment of its
// own, so its align/size is resolved through resolveNested against the
// layout of the struct it names, rather than through Alignment/Size (which
// only know how to size primitive IR types).
func computeStructLayout(decl StructDecl, irTypeOf func(DType) Type, resolveNested func(string) (StructLayout, bool)) StructLayout {
	layout := StructLayout{Fields: make(map[string]FieldLayout)}
	var offset uint64
	var maxAlign uint64 = 1
	for _, f := range decl.Fields {
		ty := irTypeOf(f.Type)
		var align, size uint64
		if f.Type.IsDerived {
			if nested, ok := resolveNested(f.Type.Derived); ok {
				align, size = nested.Align, nested.Size
			} else {
				align, size = 1, 0
			}
		} else {
			align = Alignment(ty, nil)
			size = Size(ty)
		}
		if align > maxAlign {
			maxAlign = align
		}
		offset = AlignUp(offset, align)
		layout.Fields[f.Name] = FieldLayout{Type: ty, Offset: offset}
		layout.Order = append(layout.Order, f.Name)
		offset += size
	}
	layout.Size = AlignUp(offset, maxAlign)
	layout.Align = maxAlign
	return layout
}

// Dump renders the layout as an indented tree for trace output.
func (l StructLayout) Dump(name string) string {
	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("%s (size %d, align %d)", name, l.Size, l.Align))
	for _, f := range l.Order {
		fl := l.Fields[f]
		tree.AddNode(fmt.Sprintf("%s: %s @ %d", f, fl.Type, fl.Offset))
	}
	return tree.String()
}
