package ir

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/meta/compiler/rt"
)

type (
	// Program is a verified function compiled to closures.
	// It is immutable and safe for concurrent Run calls.
	Program struct {
		Func *Func

		// Layout lists compiled blocks in execution order.
		Layout []Range

		args   []Expr
		regs   int
		blocks []cblock
	}

	Range struct {
		Label Label
		Start int
		Size  int
	}

	cblock struct {
		code  []step
		term  func(r []rt.Word) int
		ret   Expr
		edges []edge
	}

	edge struct {
		to  Label
		dst []Expr
		src []Expr
	}

	step func(r []rt.Word)
)

// Compile prunes, simplifies and verifies f and turns it into a Program.
func Compile(ctx context.Context, f *Func) (p *Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "ir: compile", "func", f.Name, "blocks", len(f.Blocks), "exprs", len(f.Exprs))
	defer tr.Finish("err", &err)

	f.Prune()

	_, err = f.Verify()
	if err != nil {
		return nil, err
	}

	removed := f.RemoveTrivialPhis(ctx)

	g, err := f.Verify()
	if err != nil {
		return nil, err
	}

	tr.V("ir_stats").Printw("verified", "reachable", len(g.RPO), "removed_phis", removed)

	if tr.If("dump_ir") {
		for _, l := range g.RPO {
			b := f.Blocks[l]

			tr.Printw("block", "label", l, "name", b.Name, "preds", g.Preds[l])

			for _, id := range b.Phi {
				tr.Printw("phi", "id", id, "tp", f.EType[id], "val", f.Exprs[id])
			}

			for _, id := range b.Code {
				x := f.Exprs[id]
				tr.Printw("expr", "id", id, "tp", f.EType[id], "typ", tlog.NextAsType, x, "val", x)
			}

			tr.Printw("term", "id", b.Term, "typ", tlog.NextAsType, f.Exprs[b.Term], "val", f.Exprs[b.Term])
		}
	}

	p = &Program{
		Func:   f,
		args:   f.Args,
		regs:   len(f.Exprs),
		blocks: make([]cblock, len(f.Blocks)),
	}

	start := 0

	for _, l := range g.RPO {
		b := f.Blocks[l]
		cb := &p.blocks[l]

		for _, id := range b.Code {
			s, err := f.step(id)
			if err != nil {
				return nil, err
			}

			if s != nil {
				cb.code = append(cb.code, s)
			}
		}

		cb.ret = Nil

		switch t := f.Exprs[b.Term].(type) {
		case B:
			cb.edges = []edge{f.edge(l, t.Label)}
			cb.term = func([]rt.Word) int { return 0 }
		case BCond:
			c := t.Expr

			if t.Then == t.Else {
				cb.edges = []edge{f.edge(l, t.Then)}
				cb.term = func([]rt.Word) int { return 0 }

				break
			}

			cb.edges = []edge{f.edge(l, t.Then), f.edge(l, t.Else)}
			cb.term = func(r []rt.Word) int {
				if r[c].X != 0 {
					return 0
				}

				return 1
			}
		case Ret:
			cb.ret = t.X
			cb.term = func([]rt.Word) int { return -1 }
		default:
			return nil, errors.New("unsupported terminator: %T", t)
		}

		size := len(b.Code) + 1

		p.Layout = append(p.Layout, Range{Label: l, Start: start, Size: size})
		start += size
	}

	return p, nil
}

// edge collects the phi copies performed when control goes from b to s.
func (f *Func) edge(b, s Label) (e edge) {
	e.to = s

	for _, id := range f.Blocks[s].Phi {
		for _, br := range f.Exprs[id].(Phi) {
			if br.B != b || br.Expr == id {
				continue
			}

			e.dst = append(e.dst, id)
			e.src = append(e.src, br.Expr)
		}
	}

	return e
}

func (f *Func) step(id Expr) (step, error) {
	switch x := f.Exprs[id].(type) {
	case Arg:
		return nil, nil
	case Imm:
		w := rt.Word{X: uint64(x)}

		return func(r []rt.Word) { r[id] = w }, nil
	case Binary:
		k := rt.KindOf(f.EType[id])
		op, a, b := x.Op, x.L, x.R

		return func(r []rt.Word) { r[id] = rt.Binary(op, k, r[a], r[b]) }, nil
	case Unary:
		k := rt.KindOf(f.EType[id])
		op, a := x.Op, x.X

		return func(r []rt.Word) { r[id] = rt.Unary(op, k, r[a]) }, nil
	case Cmp:
		k := rt.KindOf(f.EType[x.L])
		c, a, b := x.Cond, x.L, x.R

		return func(r []rt.Word) { r[id] = rt.Bool(rt.Compare(c, k, r[a], r[b])) }, nil
	case Conv:
		to, from := rt.KindOf(f.EType[id]), rt.KindOf(f.EType[x.X])
		a := x.X

		return func(r []rt.Word) { r[id] = rt.Convert(to, from, r[a]) }, nil
	case PtrAdd:
		a, b, sc := x.P, x.I, x.Scale

		return func(r []rt.Word) { r[id] = rt.PtrAdd(r[a], r[b], sc) }, nil
	case PtrDiff:
		a, b, sc := x.L, x.R, x.Scale

		return func(r []rt.Word) { r[id] = rt.PtrDiff(r[a], r[b], sc) }, nil
	case Load:
		k := rt.KindOf(f.EType[id])
		a := x.P

		return func(r []rt.Word) { r[id] = rt.Load(k, r[a]) }, nil
	case Store:
		k := rt.KindOf(f.EType[x.X])
		a, b := x.P, x.X

		return func(r []rt.Word) { rt.Store(k, r[a], r[b]) }, nil
	default:
		return nil, errors.New("unsupported expression: %T", x)
	}
}

// Run executes the program. len(args) must match the function arguments.
func (p *Program) Run(args []rt.Word) rt.Word {
	r := make([]rt.Word, p.regs)

	for i, a := range p.args {
		r[a] = args[i]
	}

	var tmp []rt.Word

	b := &p.blocks[Entry]

	for {
		for _, s := range b.code {
			s(r)
		}

		e := b.term(r)
		if e < 0 {
			if b.ret == Nil {
				return rt.Word{}
			}

			return r[b.ret]
		}

		ed := &b.edges[e]

		switch len(ed.dst) {
		case 0:
		case 1:
			r[ed.dst[0]] = r[ed.src[0]]
		default:
			tmp = tmp[:0]

			for _, s := range ed.src {
				tmp = append(tmp, r[s])
			}

			for i, d := range ed.dst {
				r[d] = tmp[i]
			}
		}

		b = &p.blocks[ed.to]
	}
}
