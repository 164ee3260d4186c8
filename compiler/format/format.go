// Package format renders generated code as text.
package format

import (
	"strings"

	"github.com/nikandfor/hacked/hfmt"

	"github.com/slowlang/meta/compiler/asm"
	"github.com/slowlang/meta/compiler/ir"
)

// Func appends SSA listing of f. Blocks removed as unreachable are marked.
func Func(b []byte, f *ir.Func) []byte {
	b = app(b, 0, "func %s%v {\n", f.Name, sig(f))

	for l, blk := range f.Blocks {
		b = app(b, 0, "%s:", blockName(f, ir.Label(l)))

		if f.Reachable(ir.Label(l)) || l == int(ir.Entry) {
			b = append(b, '\n')
		} else {
			b = append(b, " // unreachable\n"...)
		}

		for _, id := range blk.Phi {
			b = exprLine(b, f, id)
		}

		for _, id := range blk.Code {
			b = exprLine(b, f, id)
		}

		if blk.Term != ir.Nil {
			b = exprLine(b, f, blk.Term)
		}
	}

	b = app(b, 0, "}\n")

	return b
}

func exprLine(b []byte, f *ir.Func, id ir.Expr) []byte {
	b = app(b, 1, "")
	b = appendExpr(b, f, id)
	b = append(b, '\n')

	return b
}

// Expr formats single expression.
func Expr(f *ir.Func, id ir.Expr) string {
	return string(appendExpr(nil, f, id))
}

func appendExpr(b []byte, f *ir.Func, id ir.Expr) []byte {
	if id < 0 || int(id) >= len(f.Exprs) {
		return app(b, 0, "<bad %d>", id)
	}

	switch x := f.Exprs[id].(type) {
	case ir.B:
		return app(b, 0, "b %s", blockName(f, x.Label))
	case ir.BCond:
		return app(b, 0, "b.if v%d, %s, %s", x.Expr, blockName(f, x.Then), blockName(f, x.Else))
	case ir.Ret:
		if x.X == ir.Nil {
			return app(b, 0, "ret")
		}

		return app(b, 0, "ret v%d", x.X)
	case ir.Store:
		return app(b, 0, "store [v%d], v%d", x.P, x.X)
	}

	b = app(b, 0, "v%d %v = ", id, f.EType[id])

	switch x := f.Exprs[id].(type) {
	case ir.Arg:
		b = app(b, 0, "arg %d", int(x))
	case ir.Imm:
		b = app(b, 0, "%#x", uint64(x))
	case ir.Binary:
		b = app(b, 0, "%v v%d, v%d", x.Op, x.L, x.R)
	case ir.Unary:
		b = app(b, 0, "%v v%d", x.Op, x.X)
	case ir.Cmp:
		b = app(b, 0, "v%d %s v%d", x.L, x.Cond, x.R)
	case ir.Conv:
		b = app(b, 0, "conv v%d %v", x.X, f.EType[x.X])
	case ir.PtrAdd:
		b = app(b, 0, "v%d + v%d*%d", x.P, x.I, x.Scale)
	case ir.PtrDiff:
		b = app(b, 0, "(v%d - v%d) / %d", x.L, x.R, x.Scale)
	case ir.Load:
		b = app(b, 0, "load [v%d]", x.P)
	case ir.Phi:
		b = append(b, "phi"...)

		for i, br := range x {
			if i != 0 {
				b = append(b, ',')
			}

			b = app(b, 0, " [%s: v%d]", blockName(f, br.B), br.Expr)
		}
	default:
		b = app(b, 0, "%T %+v", x, x)
	}

	return b
}

func blockName(f *ir.Func, l ir.Label) string {
	if l < 0 || int(l) >= len(f.Blocks) {
		return string(app(nil, 0, "b%d", l))
	}

	return string(app(nil, 0, "b%d.%s", l, f.Blocks[l].Name))
}

func sig(f *ir.Func) string {
	b := []byte{'('}

	for i, t := range f.In {
		if i != 0 {
			b = append(b, ", "...)
		}

		b = app(b, 0, "v%d %v", f.Args[i], t)
	}

	b = append(b, ')')

	if f.Out != nil {
		b = app(b, 0, " %v", f.Out)
	}

	return string(b)
}

// Object appends assembly listing of o.
func Object(b []byte, o *asm.Object) []byte {
	b = app(b, 0, "%s:\n", o.Name)

	for pc, x := range o.Text {
		for _, l := range o.LabelsAt(pc) {
			b = app(b, 0, "L%d:\n", l)
		}

		b = app(b, 1, "%-4d ", pc)
		b = appendInstr(b, x)
		b = append(b, '\n')
	}

	return b
}

// Instr formats single instruction.
func Instr(x asm.Instr) string {
	return string(appendInstr(nil, x))
}

func appendInstr(b []byte, x asm.Instr) []byte {
	switch x := x.(type) {
	case asm.Imm:
		return app(b, 0, "MOV   R%d, #%#x", x.Out[0], x.Word)
	case asm.Arg:
		return app(b, 0, "ARG   R%d, %d", x.Out[0], x.Arg)
	case asm.Mov:
		return app(b, 0, "MOV   R%d, R%d", x.Out[0], x.In[0])
	case asm.Op2:
		return app(b, 0, "%-5s R%d, R%d, R%d  // %v", strings.ToUpper(x.Op.String()), x.Out[0], x.In[0], x.In[1], x.Kind)
	case asm.Op1:
		return app(b, 0, "%-5s R%d, R%d  // %v", strings.ToUpper(x.Op.String()), x.Out[0], x.In[0], x.Kind)
	case asm.Set:
		return app(b, 0, "SET   R%d, R%d %s R%d  // %v", x.Out[0], x.In[0], x.Cond, x.In[1], x.Kind)
	case asm.Conv:
		return app(b, 0, "CONV  R%d, R%d  // %v <- %v", x.Out[0], x.In[0], x.To, x.From)
	case asm.Lea:
		return app(b, 0, "LEA   R%d, [R%d + R%d*%d]", x.Out[0], x.In[0], x.In[1], x.Scale)
	case asm.Diff:
		return app(b, 0, "DIFF  R%d, R%d, R%d, %d", x.Out[0], x.In[0], x.In[1], x.Scale)
	case asm.Load:
		return app(b, 0, "LDR   R%d, [R%d]  // %v", x.Out[0], x.In[0], x.Kind)
	case asm.Store:
		return app(b, 0, "STR   R%d, [R%d]  // %v", x.In[1], x.In[0], x.Kind)
	case asm.B:
		return app(b, 0, "B     L%d", x.Label)
	case asm.BCond:
		return app(b, 0, "CBNZ  R%d, L%d", x.In[0], x.Label)
	case asm.Ret:
		if x.In[0] == asm.NoReg {
			return app(b, 0, "RET")
		}

		return app(b, 0, "RET   R%d", x.In[0])
	default:
		return app(b, 0, "%T %+v", x, x)
	}
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
