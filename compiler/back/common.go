package back

import (
	"fmt"

	"tlog.app/go/loc"

	"github.com/slowlang/meta/compiler/rt"
	"github.com/slowlang/meta/compiler/tp"
)

// common is construction state and checks shared by backends.
type common struct {
	kind Kind
	name string
	sig  tp.Func

	types []tp.Type // by Ref
	pos   loc.PC

	begun     bool
	finalized bool

	err error
}

func (c *common) Kind() Kind { return c.kind }

func (c *common) SetPos(pc loc.PC) { c.pos = pc }

func (c *common) failf(block, format string, args ...any) {
	if c.err != nil {
		return
	}

	c.err = &Error{
		Backend: c.kind,
		Func:    c.name,
		Block:   block,
		Pos:     c.pos,
		Reason:  fmt.Sprintf(format, args...),
	}
}

func (c *common) ok(block string) bool {
	switch {
	case c.err != nil:
		return false
	case c.finalized:
		c.failf(block, "function is finalized")
		return false
	case !c.begun:
		c.failf(block, "function is not begun")
		return false
	}

	return true
}

func (c *common) setType(r Ref, t tp.Type) Ref {
	c.types = sliceSet(c.types, r, t)

	return r
}

func (c *common) typeOf(r Ref) tp.Type {
	if r < 0 || int(r) >= len(c.types) {
		return nil
	}

	return c.types[r]
}

// operand checks r is a defined value of type want. Nil want accepts any type.
func (c *common) operand(block string, r Ref, want tp.Type) bool {
	t := c.typeOf(r)
	if t == nil {
		c.failf(block, "undefined value %d", r)
		return false
	}

	if want != nil && !tp.Equal(t, want) {
		c.failf(block, "type mismatch: value %d is %v, expected %v", r, t, want)
		return false
	}

	return true
}

func (c *common) scalar(block string, t tp.Type) (rt.Kind, bool) {
	k := rt.KindOf(t)
	if k == rt.KInvalid {
		c.failf(block, "unsupported value type %v", t)
		return k, false
	}

	return k, true
}

func (c *common) binary(block string, op Op, t tp.Type, l, r Ref) bool {
	k, ok := c.scalar(block, t)
	if !ok {
		return false
	}

	switch {
	case op < rt.Add || op > rt.Shr:
		c.failf(block, "bad binary operation %v", op)
		return false
	case k == rt.KPtr:
		c.failf(block, "%v of pointers", op)
		return false
	case k == rt.KBool && op != rt.And && op != rt.Or && op != rt.Xor:
		c.failf(block, "%v of bools", op)
		return false
	}

	return c.operand(block, l, t) && c.operand(block, r, t)
}

func (c *common) unary(block string, op Op, t tp.Type, x Ref) bool {
	k, ok := c.scalar(block, t)
	if !ok {
		return false
	}

	switch {
	case op != rt.Neg && op != rt.Not:
		c.failf(block, "bad unary operation %v", op)
		return false
	case k == rt.KPtr, k == rt.KBool && op == rt.Neg:
		c.failf(block, "%v of %v", op, t)
		return false
	}

	return c.operand(block, x, t)
}

func (c *common) compare(block string, cond Cond, t tp.Type, l, r Ref) bool {
	k, ok := c.scalar(block, t)
	if !ok {
		return false
	}

	if !cond.Valid() {
		c.failf(block, "bad condition %q", cond)
		return false
	}

	if k == rt.KBool && cond != rt.Eq && cond != rt.Ne {
		c.failf(block, "ordered comparison of bools")
		return false
	}

	return c.operand(block, l, t) && c.operand(block, r, t)
}

func (c *common) convert(block string, to, from tp.Type, x Ref) bool {
	kt, ok := c.scalar(block, to)
	if !ok {
		return false
	}

	kf, ok := c.scalar(block, from)
	if !ok {
		return false
	}

	if kt == rt.KPtr && kf != rt.KPtr {
		c.failf(block, "conversion of %v to pointer", from)
		return false
	}

	return c.operand(block, x, from)
}

func (c *common) pointer(block string, p Ref) bool {
	if !c.operand(block, p, nil) {
		return false
	}

	if _, ok := c.types[p].(tp.Ptr); !ok {
		c.failf(block, "value %d is %v, expected pointer", p, c.types[p])
		return false
	}

	return true
}

func (c *common) index(block string, i Ref) bool {
	if !c.operand(block, i, nil) {
		return false
	}

	if k := rt.KindOf(c.types[i]); k == rt.KInvalid || k == rt.KBool || k == rt.KPtr {
		c.failf(block, "index of type %v", c.types[i])
		return false
	}

	return true
}

func (c *common) ret(block string, x Ref) bool {
	switch {
	case x == NoRef && c.sig.Out != nil:
		c.failf(block, "missing return value of type %v", c.sig.Out)
		return false
	case x != NoRef && c.sig.Out == nil:
		c.failf(block, "void function returns a value")
		return false
	case x == NoRef:
		return true
	}

	return c.operand(block, x, c.sig.Out)
}
