// Package ir is an SSA intermediate representation:
// an expression arena grouped into basic blocks with explicit phi merges.
package ir

import (
	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/meta/compiler/rt"
	"github.com/slowlang/meta/compiler/set"
	"github.com/slowlang/meta/compiler/tp"
)

type (
	Expr  int
	Label int
	Cond  = rt.Cond
	Op    = rt.Op

	Func struct {
		Name string

		In  []tp.Type
		Out tp.Type

		Args []Expr

		Exprs  []any     `tlog:"-"`
		EType  []tp.Type `tlog:"-"`
		EPos   []loc.PC  `tlog:"-"`
		EBlock []Label   `tlog:"-"`

		Blocks []*Block

		reach set.Bitmap
		err   error
	}

	Block struct {
		Name string

		Phi  []Expr
		Code []Expr
		Term Expr
	}

	Arg int
	Imm uint64

	Binary struct {
		Op   Op
		L, R Expr
	}

	Unary struct {
		Op Op
		X  Expr
	}

	Cmp struct {
		Cond Cond
		L, R Expr
	}

	// Conv converts X to the type of the expression itself.
	Conv struct {
		X Expr
	}

	PtrAdd struct {
		P, I  Expr
		Scale int
	}

	PtrDiff struct {
		L, R  Expr
		Scale int
	}

	Load struct {
		P Expr
	}

	Store struct {
		P, X Expr
	}

	Phi []PhiBranch

	PhiBranch struct {
		B    Label
		Expr Expr
	}

	B struct {
		Label Label
	}

	BCond struct {
		Expr       Expr
		Then, Else Label
	}

	Ret struct {
		X Expr
	}
)

const (
	Nil Expr = -1

	Entry   Label = 0
	NoLabel Label = -1
)

// NewFunc creates a function with the entry block holding the arguments.
func NewFunc(name string, sig tp.Func) *Func {
	f := &Func{
		Name: name,
		In:   sig.In,
		Out:  sig.Out,
	}

	f.NewBlock("entry")

	for i, t := range sig.In {
		id := f.Add(Entry, Arg(i), t, 0)
		f.Args = append(f.Args, id)
	}

	return f
}

func (f *Func) NewBlock(name string) Label {
	l := Label(len(f.Blocks))

	f.Blocks = append(f.Blocks, &Block{
		Name: name,
		Term: Nil,
	})

	return l
}

// Add appends x to block b. Phis go to the block head
// and may be added to terminated blocks, terminators close the block.
func (f *Func) Add(b Label, x any, t tp.Type, pc loc.PC) Expr {
	if int(b) >= len(f.Blocks) || b < 0 {
		f.fail(errors.New("add %T: no such block %d", x, b))
		return Nil
	}

	blk := f.Blocks[b]

	if _, phi := x.(Phi); blk.Term != Nil && !phi {
		f.fail(errors.New("add %T: block %q already terminated", x, blk.Name))
		return Nil
	}

	id := Expr(len(f.Exprs))

	f.Exprs = append(f.Exprs, x)
	f.EType = append(f.EType, t)
	f.EPos = append(f.EPos, pc)
	f.EBlock = append(f.EBlock, b)

	switch x.(type) {
	case Phi:
		blk.Phi = append(blk.Phi, id)
	case B, BCond, Ret:
		blk.Term = id
	default:
		blk.Code = append(blk.Code, id)
	}

	return id
}

// AddIncoming registers the value phi takes when control arrives from block from.
// It may be called any time before the function is compiled.
func (f *Func) AddIncoming(phi Expr, from Label, x Expr) {
	p, ok := f.expr(phi).(Phi)
	if !ok {
		f.fail(errors.New("add incoming: %d is not a phi", phi))
		return
	}

	f.Exprs[phi] = append(p, PhiBranch{B: from, Expr: x})
}

func (f *Func) Terminated(b Label) bool {
	return f.Blocks[b].Term != Nil
}

// Succs returns successors of a terminated block.
func (f *Func) Succs(b Label) []Label {
	t := f.Blocks[b].Term
	if t == Nil {
		return nil
	}

	switch x := f.Exprs[t].(type) {
	case B:
		return []Label{x.Label}
	case BCond:
		if x.Then == x.Else {
			return []Label{x.Then}
		}

		return []Label{x.Then, x.Else}
	}

	return nil
}

func (f *Func) Reachable(b Label) bool {
	return f.reach.IsSet(int(b))
}

func (f *Func) Err() error { return f.err }

func (f *Func) expr(id Expr) any {
	if id < 0 || int(id) >= len(f.Exprs) {
		return nil
	}

	return f.Exprs[id]
}

func (f *Func) fail(err error) {
	if f.err == nil {
		f.err = err
	}
}

// Operands lists expressions x reads.
func Operands(x any) []Expr {
	switch x := x.(type) {
	case Binary:
		return []Expr{x.L, x.R}
	case Unary:
		return []Expr{x.X}
	case Cmp:
		return []Expr{x.L, x.R}
	case Conv:
		return []Expr{x.X}
	case PtrAdd:
		return []Expr{x.P, x.I}
	case PtrDiff:
		return []Expr{x.L, x.R}
	case Load:
		return []Expr{x.P}
	case Store:
		return []Expr{x.P, x.X}
	case Phi:
		l := make([]Expr, len(x))

		for i, br := range x {
			l[i] = br.Expr
		}

		return l
	case BCond:
		return []Expr{x.Expr}
	case Ret:
		if x.X == Nil {
			return nil
		}

		return []Expr{x.X}
	}

	return nil
}

// rewrite returns x with every operand passed through ren.
func rewrite(x any, ren func(Expr) Expr) any {
	switch x := x.(type) {
	case Binary:
		x.L, x.R = ren(x.L), ren(x.R)
		return x
	case Unary:
		x.X = ren(x.X)
		return x
	case Cmp:
		x.L, x.R = ren(x.L), ren(x.R)
		return x
	case Conv:
		x.X = ren(x.X)
		return x
	case PtrAdd:
		x.P, x.I = ren(x.P), ren(x.I)
		return x
	case PtrDiff:
		x.L, x.R = ren(x.L), ren(x.R)
		return x
	case Load:
		x.P = ren(x.P)
		return x
	case Store:
		x.P, x.X = ren(x.P), ren(x.X)
		return x
	case Phi:
		y := make(Phi, len(x))

		for i, br := range x {
			y[i] = PhiBranch{B: br.B, Expr: ren(br.Expr)}
		}

		return y
	case BCond:
		x.Expr = ren(x.Expr)
		return x
	case Ret:
		if x.X != Nil {
			x.X = ren(x.X)
		}

		return x
	}

	return x
}

func (p PhiBranch) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	b = e.AppendMap(b, 2)
	b = e.AppendKeyInt64(b, "b", int64(p.B))
	b = e.AppendKeyInt64(b, "id", int64(p.Expr))

	return b
}
