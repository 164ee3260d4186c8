package tp

import (
	"fmt"
	"strings"
)

type (
	Type interface {
		Size() int
		Align() int
		String() string
	}

	Bool struct{}

	Int struct {
		Bits   int16
		Signed bool
	}

	Ptr struct {
		Elem Type
	}

	Array struct {
		Elem Type
		Len  int
	}

	Struct struct {
		Fields []StructField
	}

	StructField struct {
		Name   string
		Offset int
		Type   Type
	}

	// Func is a generated function signature. Out is nil for void.
	Func struct {
		In  []Type
		Out Type
	}
)

var (
	I8  = Int{Bits: 8, Signed: true}
	I16 = Int{Bits: 16, Signed: true}
	I32 = Int{Bits: 32, Signed: true}
	I64 = Int{Bits: 64, Signed: true}

	U8  = Int{Bits: 8}
	U16 = Int{Bits: 16}
	U32 = Int{Bits: 32}
	U64 = Int{Bits: 64}
)

func PtrTo(t Type) Ptr { return Ptr{Elem: t} }

func NewFunc(out Type, in ...Type) Func {
	return Func{In: in, Out: out}
}

// NewStruct lays out fields with natural alignment, the same way Go does.
func NewStruct(fields ...StructField) Struct {
	s := Struct{Fields: make([]StructField, len(fields))}

	off := 0

	for i, f := range fields {
		off = alignUp(off, f.Type.Align())

		f.Offset = off
		s.Fields[i] = f

		off += f.Type.Size()
	}

	return s
}

func (x Bool) Size() int  { return 1 }
func (x Bool) Align() int { return 1 }

func (x Bool) String() string { return "bool" }

func (x Int) Size() int {
	return int(x.Bits) / 8
}

func (x Int) Align() int { return x.Size() }

func (x Int) String() string {
	if x.Signed {
		return fmt.Sprintf("i%d", x.Bits)
	}

	return fmt.Sprintf("u%d", x.Bits)
}

// Mask is the bit mask of the type width.
func (x Int) Mask() uint64 {
	if x.Bits >= 64 {
		return ^uint64(0)
	}

	return 1<<uint(x.Bits) - 1
}

func (x Int) Min() int64 {
	if !x.Signed {
		return 0
	}

	return -1 << uint(x.Bits-1)
}

func (x Int) Max() uint64 {
	if x.Signed {
		return x.Mask() >> 1
	}

	return x.Mask()
}

func (x Ptr) Size() int  { return 8 }
func (x Ptr) Align() int { return 8 }

func (x Ptr) String() string {
	if x.Elem == nil {
		return "*?"
	}

	return "*" + x.Elem.String()
}

func (x Array) Size() int {
	return x.Elem.Size() * x.Len
}

func (x Array) Align() int { return x.Elem.Align() }

func (x Array) String() string {
	return fmt.Sprintf("[%d]%v", x.Len, x.Elem)
}

func (x Struct) Size() (s int) {
	for _, f := range x.Fields {
		s = f.Offset + f.Type.Size()
	}

	return alignUp(s, x.Align())
}

func (x Struct) Align() (a int) {
	a = 1

	for _, f := range x.Fields {
		a = max(a, f.Type.Align())
	}

	return a
}

func (x Struct) String() string {
	var b strings.Builder

	b.WriteString("struct{")

	for i, f := range x.Fields {
		if i != 0 {
			b.WriteString("; ")
		}

		fmt.Fprintf(&b, "%s %v", f.Name, f.Type)
	}

	b.WriteString("}")

	return b.String()
}

func (x Func) Size() int  { return 8 }
func (x Func) Align() int { return 8 }

func (x Func) String() string {
	var b strings.Builder

	b.WriteString("func(")

	for i, t := range x.In {
		if i != 0 {
			b.WriteString(", ")
		}

		b.WriteString(t.String())
	}

	b.WriteString(")")

	if x.Out != nil {
		b.WriteString(" ")
		b.WriteString(x.Out.String())
	}

	return b.String()
}

// Equal compares types structurally.
// Struct types hold slices so they are never compared with ==.
func Equal(a, b Type) bool {
	switch a := a.(type) {
	case nil:
		return b == nil
	case Bool:
		_, ok := b.(Bool)
		return ok
	case Int:
		b, ok := b.(Int)
		return ok && a == b
	case Ptr:
		b, ok := b.(Ptr)
		return ok && Equal(a.Elem, b.Elem)
	case Array:
		b, ok := b.(Array)
		return ok && a.Len == b.Len && Equal(a.Elem, b.Elem)
	case Struct:
		b, ok := b.(Struct)
		if !ok || len(a.Fields) != len(b.Fields) {
			return false
		}

		for i, f := range a.Fields {
			g := b.Fields[i]

			if f.Name != g.Name || f.Offset != g.Offset || !Equal(f.Type, g.Type) {
				return false
			}
		}

		return true
	case Func:
		b, ok := b.(Func)
		if !ok || len(a.In) != len(b.In) || !Equal(a.Out, b.Out) {
			return false
		}

		for i := range a.In {
			if !Equal(a.In[i], b.In[i]) {
				return false
			}
		}

		return true
	default:
		return false
	}
}

// IsScalar reports whether values of t fit one machine word.
// Integers must be 8, 16, 32 or 64 bits wide.
func IsScalar(t Type) bool {
	switch t := t.(type) {
	case Bool, Ptr:
		return true
	case Int:
		switch t.Bits {
		case 8, 16, 32, 64:
			return true
		}
	}

	return false
}

func alignUp(x, a int) int {
	if a <= 1 {
		return x
	}

	return (x + a - 1) / a * a
}
