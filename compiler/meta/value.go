package meta

import (
	"fmt"

	"tlog.app/go/loc"

	"github.com/slowlang/meta/compiler/back"
	"github.com/slowlang/meta/compiler/rt"
	"github.com/slowlang/meta/compiler/tp"
)

// Value is a variable of the generated function.
// Operations create new Values, Assign rebinds the variable itself.
//
// Operands are *Value or Go constants of int, uint and bool kinds,
// which must be representable in the other operand type.
type Value struct {
	f *Func
	t tp.Type

	ref back.Ref

	id    int
	scope int
	pc    loc.PC
}

func (v *Value) Type() tp.Type { return v.t }

// Ref is the backend value currently bound to the variable.
func (v *Value) Ref() back.Ref { return v.ref }

func (v *Value) String() string {
	return fmt.Sprintf("v%d(%v)", v.id, v.t)
}

func (v *Value) typ() tp.Type {
	if v == nil {
		return nil
	}

	return v.t
}

func (v *Value) Add(x any) *Value { return v.arith("add", rt.Add, x, caller()) }
func (v *Value) Sub(x any) *Value { return v.arith("sub", rt.Sub, x, caller()) }
func (v *Value) Mul(x any) *Value { return v.arith("mul", rt.Mul, x, caller()) }

// Div truncates toward zero. Division by zero panics at run time.
func (v *Value) Div(x any) *Value { return v.arith("div", rt.Div, x, caller()) }
func (v *Value) Rem(x any) *Value { return v.arith("rem", rt.Rem, x, caller()) }

func (v *Value) And(x any) *Value { return v.arith("and", rt.And, x, caller()) }
func (v *Value) Or(x any) *Value  { return v.arith("or", rt.Or, x, caller()) }
func (v *Value) Xor(x any) *Value { return v.arith("xor", rt.Xor, x, caller()) }

// Shl and Shr mask the shift count to the type width.
// Shr is arithmetic for signed types.
func (v *Value) Shl(x any) *Value { return v.arith("shl", rt.Shl, x, caller()) }
func (v *Value) Shr(x any) *Value { return v.arith("shr", rt.Shr, x, caller()) }

func (v *Value) Neg() *Value { return v.unary("neg", rt.Neg, caller()) }
func (v *Value) Not() *Value { return v.unary("not", rt.Not, caller()) }

func (v *Value) Eq(x any) *Value { return v.compare(rt.Eq, x, caller()) }
func (v *Value) Ne(x any) *Value { return v.compare(rt.Ne, x, caller()) }
func (v *Value) Lt(x any) *Value { return v.compare(rt.Lt, x, caller()) }
func (v *Value) Le(x any) *Value { return v.compare(rt.Le, x, caller()) }
func (v *Value) Gt(x any) *Value { return v.compare(rt.Gt, x, caller()) }
func (v *Value) Ge(x any) *Value { return v.compare(rt.Ge, x, caller()) }

// Assign rebinds the variable to x.
func (v *Value) Assign(x any) {
	f := v.f
	pc := caller()

	if !f.ok("assign", pc) || !f.use("assign", v, pc) {
		return
	}

	y := f.operand("assign", v, x, pc)
	if y == nil || !f.same("assign", v.t, y.t, pc) {
		return
	}

	v.ref = y.ref

	if n := len(f.frames); n != 0 {
		f.frames[n-1].Set(v.id)
	}
}

// Copy creates a new variable with the same value.
func (v *Value) Copy() *Value {
	f := v.f
	pc := caller()

	if !f.ok("copy", pc) || !f.use("copy", v, pc) {
		return f.poison(v.t)
	}

	return f.newVar(v.t, v.ref, pc)
}

// Convert changes the value type.
// Integers are truncated or extended according to the source signedness,
// any non-zero integer converts to true, pointers convert to pointers and to integer addresses.
func (v *Value) Convert(t tp.Type) *Value {
	f := v.f
	pc := caller()

	if !f.ok("convert", pc) || !f.use("convert", v, pc) {
		return f.poison(t)
	}

	_, fromPtr := v.t.(tp.Ptr)
	_, toPtr := t.(tp.Ptr)

	if !tp.IsScalar(t) || toPtr && !fromPtr {
		f.fail(&TypeMismatchError{Op: "convert", Left: v.t, Right: t, At: pc})
		return f.poison(t)
	}

	if tp.Equal(v.t, t) {
		return f.newVar(t, v.ref, pc)
	}

	f.b.SetPos(pc)

	return f.newVar(t, f.b.Convert(t, v.t, v.ref), pc)
}

// Index returns pointer to element i counting from v.
func (v *Value) Index(i any) *Value {
	pc := caller()

	el, ok := v.pointee("index", pc)
	if !ok {
		return v.f.poison(v.t)
	}

	return v.ptrAdd("index", v.t, i, el.Size(), pc)
}

// Offset returns v advanced by n bytes.
func (v *Value) Offset(n any) *Value {
	pc := caller()

	if _, ok := v.pointee("offset", pc); !ok {
		return v.f.poison(v.t)
	}

	return v.ptrAdd("offset", v.t, n, 1, pc)
}

// Field returns pointer to the named field of the struct v points to.
func (v *Value) Field(name string) *Value {
	f := v.f
	pc := caller()

	el, ok := v.pointee("field", pc)
	if !ok {
		return f.poison(nil)
	}

	s, ok := el.(tp.Struct)
	if !ok {
		f.fail(&TypeMismatchError{Op: "field " + name, Left: v.t, At: pc})
		return f.poison(nil)
	}

	for _, fl := range s.Fields {
		if fl.Name == name {
			return v.ptrAdd("field "+name, tp.PtrTo(fl.Type), int64(fl.Offset), 1, pc)
		}
	}

	f.fail(&TypeMismatchError{Op: "field " + name, Left: v.t, At: pc})

	return f.poison(nil)
}

// At returns pointer to element i of the array v points to.
func (v *Value) At(i any) *Value {
	f := v.f
	pc := caller()

	el, ok := v.pointee("at", pc)
	if !ok {
		return f.poison(nil)
	}

	a, ok := el.(tp.Array)
	if !ok {
		f.fail(&TypeMismatchError{Op: "at", Left: v.t, At: pc})
		return f.poison(nil)
	}

	return v.ptrAdd("at", tp.PtrTo(a.Elem), i, a.Elem.Size(), pc)
}

// Load reads the value v points to.
func (v *Value) Load() *Value {
	return v.load("load", caller())
}

// Elem is v.Index(i).Load().
func (v *Value) Elem(i any) *Value {
	pc := caller()

	el, ok := v.pointee("elem", pc)
	if !ok {
		return v.f.poison(nil)
	}

	return v.ptrAdd("elem", v.t, i, el.Size(), pc).load("elem", pc)
}

// Store writes x to where v points.
func (v *Value) Store(x any) {
	f := v.f
	pc := caller()

	el, ok := v.pointee("store", pc)
	if !ok {
		return
	}

	if !tp.IsScalar(el) {
		f.fail(&TypeMismatchError{Op: "store", Left: v.t, At: pc})
		return
	}

	y := f.operandOf("store", el, x, pc)
	if y == nil || !f.same("store", el, y.t, pc) {
		return
	}

	f.b.SetPos(pc)
	f.b.Store(el, v.ref, y.ref)
}

// Diff returns the distance from q to v in elements as i64.
func (v *Value) Diff(q *Value) *Value {
	f := v.f
	pc := caller()

	el, ok := v.pointee("diff", pc)
	if !ok || !f.use("diff", q, pc) || !f.same("diff", v.t, q.t, pc) {
		return f.poison(tp.I64)
	}

	f.b.SetPos(pc)

	return f.newVar(tp.I64, f.b.PtrDiff(v.ref, q.ref, el.Size()), pc)
}

func (v *Value) arith(name string, op back.Op, x any, pc loc.PC) *Value {
	f := v.f

	if !f.ok(name, pc) || !f.use(name, v, pc) {
		return f.poison(v.t)
	}

	y := f.operand(name, v, x, pc)
	if y == nil || !f.same(name, v.t, y.t, pc) {
		return f.poison(v.t)
	}

	switch v.t.(type) {
	case tp.Int:
	case tp.Bool:
		if op != rt.And && op != rt.Or && op != rt.Xor {
			f.fail(&TypeMismatchError{Op: name, Left: v.t, At: pc})
			return f.poison(v.t)
		}
	default:
		f.fail(&TypeMismatchError{Op: name, Left: v.t, At: pc})
		return f.poison(v.t)
	}

	f.b.SetPos(pc)

	return f.newVar(v.t, f.b.Binary(op, v.t, v.ref, y.ref), pc)
}

func (v *Value) unary(name string, op back.Op, pc loc.PC) *Value {
	f := v.f

	if !f.ok(name, pc) || !f.use(name, v, pc) {
		return f.poison(v.t)
	}

	switch v.t.(type) {
	case tp.Int:
	case tp.Bool:
		if op != rt.Not {
			f.fail(&TypeMismatchError{Op: name, Left: v.t, At: pc})
			return f.poison(v.t)
		}
	default:
		f.fail(&TypeMismatchError{Op: name, Left: v.t, At: pc})
		return f.poison(v.t)
	}

	f.b.SetPos(pc)

	return f.newVar(v.t, f.b.Unary(op, v.t, v.ref), pc)
}

func (v *Value) compare(c back.Cond, x any, pc loc.PC) *Value {
	f := v.f
	name := string(c)

	if !f.ok(name, pc) || !f.use(name, v, pc) {
		return f.poison(tp.Bool{})
	}

	y := f.operand(name, v, x, pc)
	if y == nil || !f.same(name, v.t, y.t, pc) {
		return f.poison(tp.Bool{})
	}

	if _, ok := v.t.(tp.Bool); ok && c != rt.Eq && c != rt.Ne {
		f.fail(&TypeMismatchError{Op: name, Left: v.t, At: pc})
		return f.poison(tp.Bool{})
	}

	f.b.SetPos(pc)

	return f.newVar(tp.Bool{}, f.b.Compare(c, v.t, v.ref, y.ref), pc)
}

func (v *Value) pointee(op string, pc loc.PC) (tp.Type, bool) {
	f := v.f

	if !f.ok(op, pc) || !f.use(op, v, pc) {
		return nil, false
	}

	p, ok := v.t.(tp.Ptr)
	if !ok || p.Elem == nil {
		f.fail(&TypeMismatchError{Op: op, Left: v.t, At: pc})
		return nil, false
	}

	return p.Elem, true
}

func (v *Value) ptrAdd(op string, t tp.Type, i any, scale int, pc loc.PC) *Value {
	f := v.f

	var idx *Value

	switch i := i.(type) {
	case *Value:
		if !f.use(op, i, pc) {
			return f.poison(t)
		}

		if _, ok := i.t.(tp.Int); !ok {
			f.fail(&TypeMismatchError{Op: op, Left: v.t, Right: i.t, At: pc})
			return f.poison(t)
		}

		idx = i
	default:
		idx = f.operandOf(op, tp.I64, i, pc)
		if idx == nil {
			return f.poison(t)
		}
	}

	f.b.SetPos(pc)

	return f.newVar(t, f.b.PtrAdd(t, v.ref, idx.ref, scale), pc)
}

func (v *Value) load(op string, pc loc.PC) *Value {
	f := v.f

	el, ok := v.pointee(op, pc)
	if !ok {
		return f.poison(nil)
	}

	if !tp.IsScalar(el) {
		f.fail(&TypeMismatchError{Op: op, Left: v.t, At: pc})
		return f.poison(el)
	}

	f.b.SetPos(pc)

	return f.newVar(el, f.b.Load(el, v.ref), pc)
}

// operand returns x as a Value to be combined with v.
func (f *Func) operand(op string, v *Value, x any, pc loc.PC) *Value {
	return f.operandOf(op, v.t, x, pc)
}

// operandOf returns x as a Value. Constants get type t.
// The result is nil on error.
func (f *Func) operandOf(op string, t tp.Type, x any, pc loc.PC) *Value {
	if y, ok := x.(*Value); ok {
		if !f.use(op, y, pc) {
			return nil
		}

		return y
	}

	w, ok := constWord(t, x)
	if !ok {
		f.fail(&TypeMismatchError{Op: op, Left: t, Const: x, At: pc})
		return nil
	}

	f.b.SetPos(pc)

	return &Value{f: f, t: t, ref: f.b.Const(t, w), id: -1, scope: f.scopes[len(f.scopes)-1], pc: pc}
}

func (f *Func) constant(op string, t tp.Type, x any, pc loc.PC) *Value {
	w, ok := constWord(t, x)
	if !ok {
		f.fail(&TypeMismatchError{Op: op, Left: t, Const: x, At: pc})
		return f.poison(t)
	}

	f.b.SetPos(pc)

	return f.newVar(t, f.b.Const(t, w), pc)
}

func (f *Func) same(op string, l, r tp.Type, pc loc.PC) bool {
	if tp.Equal(l, r) {
		return true
	}

	f.fail(&TypeMismatchError{Op: op, Left: l, Right: r, At: pc})

	return false
}

// constWord converts Go constant x to type t if it is representable.
func constWord(t tp.Type, x any) (uint64, bool) {
	switch t := t.(type) {
	case tp.Bool:
		b, ok := x.(bool)
		if !ok {
			return 0, false
		}

		if b {
			return 1, true
		}

		return 0, true
	case tp.Ptr:
		return 0, x == nil
	case tp.Int:
		switch x := x.(type) {
		case int:
			return signed(t, int64(x))
		case int8:
			return signed(t, int64(x))
		case int16:
			return signed(t, int64(x))
		case int32:
			return signed(t, int64(x))
		case int64:
			return signed(t, x)
		case uint:
			return unsigned(t, uint64(x))
		case uint8:
			return unsigned(t, uint64(x))
		case uint16:
			return unsigned(t, uint64(x))
		case uint32:
			return unsigned(t, uint64(x))
		case uint64:
			return unsigned(t, x)
		case uintptr:
			return unsigned(t, uint64(x))
		}
	}

	return 0, false
}

func signed(t tp.Int, x int64) (uint64, bool) {
	if x < 0 {
		return uint64(x), t.Signed && x >= t.Min()
	}

	return unsigned(t, uint64(x))
}

func unsigned(t tp.Int, x uint64) (uint64, bool) {
	return x, x <= t.Max()
}
