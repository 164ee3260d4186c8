// Package rt is the runtime model shared by the code generation engines:
// the machine word, value kinds and the exact integer semantics.
package rt

import (
	"fmt"
	"unsafe"

	"github.com/slowlang/meta/compiler/tp"
)

type (
	// Word is one register or argument.
	// Integers live in X normalized to their kind.
	// Pointers are the base object P plus the byte offset X,
	// so the garbage collector always sees the base of the allocation.
	Word struct {
		P unsafe.Pointer
		X uint64
	}

	Kind uint8

	Op uint8

	Cond string
)

const (
	KInvalid Kind = iota
	KBool
	KI8
	KI16
	KI32
	KI64
	KU8
	KU16
	KU32
	KU64
	KPtr
)

const (
	OpInvalid Op = iota

	Add
	Sub
	Mul
	Div
	Rem
	And
	Or
	Xor
	Shl
	Shr

	Neg
	Not
)

const (
	Eq Cond = "=="
	Ne Cond = "!="
	Lt Cond = "<"
	Le Cond = "<="
	Gt Cond = ">"
	Ge Cond = ">="
)

var opNames = [...]string{
	OpInvalid: "invalid",
	Add:       "add",
	Sub:       "sub",
	Mul:       "mul",
	Div:       "div",
	Rem:       "rem",
	And:       "and",
	Or:        "or",
	Xor:       "xor",
	Shl:       "shl",
	Shr:       "shr",
	Neg:       "neg",
	Not:       "not",
}

var kindNames = [...]string{
	KInvalid: "invalid",
	KBool:    "bool",
	KI8:      "i8",
	KI16:     "i16",
	KI32:     "i32",
	KI64:     "i64",
	KU8:      "u8",
	KU16:     "u16",
	KU32:     "u32",
	KU64:     "u64",
	KPtr:     "ptr",
}

func Int(x uint64) Word { return Word{X: x} }

func Ptr(p unsafe.Pointer) Word { return Word{P: p} }

func Bool(x bool) Word {
	if x {
		return Word{X: 1}
	}

	return Word{}
}

// Addr is the address the word points to. A nil base stays nil.
func (w Word) Addr() unsafe.Pointer {
	if w.P == nil {
		return nil
	}

	return unsafe.Add(w.P, int(w.X))
}

func (w Word) uaddr() uint64 {
	return uint64(uintptr(w.P)) + w.X
}

func (w Word) String() string {
	if w.P != nil {
		return fmt.Sprintf("%p+%#x", w.P, w.X)
	}

	return fmt.Sprintf("%#x", w.X)
}

func KindOf(t tp.Type) Kind {
	switch t := t.(type) {
	case tp.Bool:
		return KBool
	case tp.Ptr:
		return KPtr
	case tp.Int:
		k := KU8
		if t.Signed {
			k = KI8
		}

		switch t.Bits {
		case 8:
		case 16:
			k++
		case 32:
			k += 2
		case 64:
			k += 3
		default:
			return KInvalid
		}

		return k
	}

	return KInvalid
}

func (k Kind) Signed() bool { return k >= KI8 && k <= KI64 }

func (k Kind) Bits() uint {
	switch k {
	case KBool:
		return 1
	case KI8, KU8:
		return 8
	case KI16, KU16:
		return 16
	case KI32, KU32:
		return 32
	default:
		return 64
	}
}

func (k Kind) Size() int {
	if k == KBool {
		return 1
	}

	return int(k.Bits()) / 8
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}

	return fmt.Sprintf("kind(%d)", k)
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}

	return fmt.Sprintf("op(%d)", op)
}

func (c Cond) Valid() bool {
	switch c {
	case Eq, Ne, Lt, Le, Gt, Ge:
		return true
	}

	return false
}

// Norm truncates x to the kind width and extends it back to 64 bits.
func Norm(k Kind, x uint64) uint64 {
	if k == KBool {
		return x & 1
	}

	bits := k.Bits()
	if bits >= 64 {
		return x
	}

	sh := 64 - bits

	if k.Signed() {
		return uint64(int64(x<<sh) >> sh)
	}

	return x << sh >> sh
}

// Binary evaluates op over integer or bool kinds with wraparound at the kind width.
// Division by zero panics with the Go runtime error.
func Binary(op Op, k Kind, l, r Word) Word {
	a, b := l.X, r.X
	s := k.Signed()

	var z uint64

	switch op {
	case Add:
		z = a + b
	case Sub:
		z = a - b
	case Mul:
		z = a * b
	case Div:
		if s {
			z = uint64(int64(a) / int64(b))
		} else {
			z = a / b
		}
	case Rem:
		if s {
			z = uint64(int64(a) % int64(b))
		} else {
			z = a % b
		}
	case And:
		z = a & b
	case Or:
		z = a | b
	case Xor:
		z = a ^ b
	case Shl:
		z = a << (b & uint64(k.Bits()-1))
	case Shr:
		if s {
			z = uint64(int64(a) >> (b & uint64(k.Bits()-1)))
		} else {
			z = a >> (b & uint64(k.Bits()-1))
		}
	default:
		panic(fmt.Sprintf("rt: unsupported binary op: %v", op))
	}

	return Word{X: Norm(k, z)}
}

func Unary(op Op, k Kind, x Word) Word {
	switch op {
	case Neg:
		return Word{X: Norm(k, -x.X)}
	case Not:
		if k == KBool {
			return Word{X: x.X ^ 1}
		}

		return Word{X: Norm(k, ^x.X)}
	default:
		panic(fmt.Sprintf("rt: unsupported unary op: %v", op))
	}
}

// Compare compares two words of the same kind.
// Pointers are compared by address.
func Compare(c Cond, k Kind, l, r Word) bool {
	if k == KPtr {
		a, b := l.uaddr(), r.uaddr()

		return cmpu(c, a, b)
	}

	if k.Signed() {
		a, b := int64(l.X), int64(r.X)

		switch c {
		case Eq:
			return a == b
		case Ne:
			return a != b
		case Lt:
			return a < b
		case Le:
			return a <= b
		case Gt:
			return a > b
		case Ge:
			return a >= b
		}

		panic(fmt.Sprintf("rt: unsupported condition: %q", c))
	}

	return cmpu(c, l.X, r.X)
}

func cmpu(c Cond, a, b uint64) bool {
	switch c {
	case Eq:
		return a == b
	case Ne:
		return a != b
	case Lt:
		return a < b
	case Le:
		return a <= b
	case Gt:
		return a > b
	case Ge:
		return a >= b
	}

	panic(fmt.Sprintf("rt: unsupported condition: %q", c))
}

// Convert changes the kind of x.
// Integers are extended by the source signedness and truncated to the target width.
// Pointers convert to other pointers unchanged, to integers by address
// and to bool by comparing with nil.
func Convert(to, from Kind, x Word) Word {
	switch {
	case to == from:
		return x
	case to == KPtr && from == KPtr:
		return x
	case to == KBool && from == KPtr:
		return Bool(x.uaddr() != 0)
	case from == KPtr:
		return Word{X: Norm(to, x.uaddr())}
	case to == KPtr:
		panic("rt: integer to pointer conversion")
	case to == KBool:
		return Bool(x.X != 0)
	default:
		return Word{X: Norm(to, x.X)}
	}
}

// PtrAdd advances p by i elements of the given size.
func PtrAdd(p, i Word, size int) Word {
	p.X += i.X * uint64(size)

	return p
}

// PtrDiff is the signed distance between two pointers in elements.
func PtrDiff(l, r Word, size int) Word {
	d := int64(l.uaddr() - r.uaddr())

	if size > 1 {
		d /= int64(size)
	}

	return Word{X: uint64(d)}
}

func Load(k Kind, p Word) Word {
	a := p.Addr()

	switch k {
	case KBool:
		return Word{X: uint64(*(*uint8)(a)) & 1}
	case KI8:
		return Word{X: uint64(int64(*(*int8)(a)))}
	case KU8:
		return Word{X: uint64(*(*uint8)(a))}
	case KI16:
		return Word{X: uint64(int64(*(*int16)(a)))}
	case KU16:
		return Word{X: uint64(*(*uint16)(a))}
	case KI32:
		return Word{X: uint64(int64(*(*int32)(a)))}
	case KU32:
		return Word{X: uint64(*(*uint32)(a))}
	case KI64, KU64:
		return Word{X: *(*uint64)(a)}
	case KPtr:
		return Word{P: *(*unsafe.Pointer)(a)}
	}

	panic(fmt.Sprintf("rt: load of kind %v", k))
}

func Store(k Kind, p, x Word) {
	a := p.Addr()

	switch k {
	case KBool, KI8, KU8:
		*(*uint8)(a) = uint8(x.X)
	case KI16, KU16:
		*(*uint16)(a) = uint16(x.X)
	case KI32, KU32:
		*(*uint32)(a) = uint32(x.X)
	case KI64, KU64:
		*(*uint64)(a) = x.X
	case KPtr:
		*(*unsafe.Pointer)(a) = x.Addr()
	default:
		panic(fmt.Sprintf("rt: store of kind %v", k))
	}
}
