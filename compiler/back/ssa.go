package back

import (
	"context"

	"tlog.app/go/tlog"

	"github.com/slowlang/meta/compiler/format"
	"github.com/slowlang/meta/compiler/ir"
	"github.com/slowlang/meta/compiler/rt"
	"github.com/slowlang/meta/compiler/tp"
)

type (
	ssaBackend struct {
		common

		f   *ir.Func
		cur ir.Label
	}

	ssaProgram struct {
		p    *ir.Program
		syms []Symbol
	}
)

func newSSA() *ssaBackend {
	return &ssaBackend{common: common{kind: SSA}}
}

func (b *ssaBackend) Begin(name string, sig tp.Func) Block {
	b.name = name
	b.sig = sig
	b.begun = true

	for _, t := range sig.In {
		if _, ok := b.scalar("entry", t); !ok {
			break
		}
	}

	b.f = ir.NewFunc(name, sig)
	b.cur = ir.Entry

	for i, id := range b.f.Args {
		b.setType(Ref(id), sig.In[i])
	}

	return Block(ir.Entry)
}

func (b *ssaBackend) Arg(i int) Ref {
	if i < 0 || i >= len(b.f.Args) {
		b.failf(b.where(), "no argument %d", i)
		return NoRef
	}

	return Ref(b.f.Args[i])
}

func (b *ssaBackend) NewBlock(name string) Block {
	return Block(b.f.NewBlock(name))
}

func (b *ssaBackend) SetBlock(l Block) {
	if l < 0 || int(l) >= len(b.f.Blocks) {
		b.failf(b.where(), "no such block %d", l)
		return
	}

	b.cur = ir.Label(l)
}

func (b *ssaBackend) Current() Block { return Block(b.cur) }

func (b *ssaBackend) Terminated() bool {
	return b.f.Terminated(b.cur)
}

func (b *ssaBackend) where() string {
	if b.f != nil && int(b.cur) < len(b.f.Blocks) {
		return b.f.Blocks[b.cur].Name
	}

	return ""
}

func (b *ssaBackend) live() bool {
	if !b.ok(b.where()) {
		return false
	}

	if b.f.Terminated(b.cur) {
		b.failf(b.where(), "block is already terminated")
		return false
	}

	return true
}

func (b *ssaBackend) add(x any, t tp.Type) Ref {
	id := b.f.Add(b.cur, x, t, b.pos)
	if id == ir.Nil {
		return NoRef
	}

	if t == nil {
		return Ref(id)
	}

	return b.setType(Ref(id), t)
}

func ex(r Ref) ir.Expr { return ir.Expr(r) }

func (b *ssaBackend) Const(t tp.Type, x uint64) Ref {
	if !b.live() {
		return NoRef
	}

	k, ok := b.scalar(b.where(), t)
	if !ok {
		return NoRef
	}

	return b.add(ir.Imm(rt.Norm(k, x)), t)
}

func (b *ssaBackend) Binary(op Op, t tp.Type, l, r Ref) Ref {
	if !b.live() || !b.binary(b.where(), op, t, l, r) {
		return NoRef
	}

	return b.add(ir.Binary{Op: op, L: ex(l), R: ex(r)}, t)
}

func (b *ssaBackend) Unary(op Op, t tp.Type, x Ref) Ref {
	if !b.live() || !b.unary(b.where(), op, t, x) {
		return NoRef
	}

	return b.add(ir.Unary{Op: op, X: ex(x)}, t)
}

func (b *ssaBackend) Compare(c Cond, t tp.Type, l, r Ref) Ref {
	if !b.live() || !b.compare(b.where(), c, t, l, r) {
		return NoRef
	}

	return b.add(ir.Cmp{Cond: c, L: ex(l), R: ex(r)}, tp.Bool{})
}

func (b *ssaBackend) Convert(to, from tp.Type, x Ref) Ref {
	if !b.live() || !b.convert(b.where(), to, from, x) {
		return NoRef
	}

	return b.add(ir.Conv{X: ex(x)}, to)
}

func (b *ssaBackend) PtrAdd(t tp.Type, p, i Ref, scale int) Ref {
	if !b.live() || !b.pointer(b.where(), p) || !b.index(b.where(), i) {
		return NoRef
	}

	return b.add(ir.PtrAdd{P: ex(p), I: ex(i), Scale: scale}, t)
}

func (b *ssaBackend) PtrDiff(p, q Ref, scale int) Ref {
	if !b.live() || !b.pointer(b.where(), p) || !b.pointer(b.where(), q) {
		return NoRef
	}

	return b.add(ir.PtrDiff{L: ex(p), R: ex(q), Scale: scale}, tp.I64)
}

func (b *ssaBackend) Load(t tp.Type, p Ref) Ref {
	if !b.live() || !b.pointer(b.where(), p) {
		return NoRef
	}

	if _, ok := b.scalar(b.where(), t); !ok {
		return NoRef
	}

	return b.add(ir.Load{P: ex(p)}, t)
}

func (b *ssaBackend) Store(t tp.Type, p, x Ref) {
	if !b.live() || !b.pointer(b.where(), p) || !b.operand(b.where(), x, t) {
		return
	}

	if _, ok := b.scalar(b.where(), t); !ok {
		return
	}

	b.add(ir.Store{P: ex(p), X: ex(x)}, nil)
}

func (b *ssaBackend) block(l Block) bool {
	if l < 0 || int(l) >= len(b.f.Blocks) {
		b.failf(b.where(), "branch to undefined block %d", l)
		return false
	}

	return true
}

func (b *ssaBackend) Branch(to Block) {
	if !b.live() || !b.block(to) {
		return
	}

	b.add(ir.B{Label: ir.Label(to)}, nil)
}

func (b *ssaBackend) BranchIf(c Ref, then, els Block) {
	if !b.live() || !b.operand(b.where(), c, tp.Bool{}) || !b.block(then) || !b.block(els) {
		return
	}

	b.add(ir.BCond{Expr: ex(c), Then: ir.Label(then), Else: ir.Label(els)}, nil)
}

func (b *ssaBackend) Return(x Ref) {
	if !b.live() || !b.ret(b.where(), x) {
		return
	}

	y := ir.Nil
	if x != NoRef {
		y = ex(x)
	}

	b.add(ir.Ret{X: y}, nil)
}

func (b *ssaBackend) Phi(at Block, t tp.Type) Ref {
	if !b.ok(b.where()) || !b.block(at) {
		return NoRef
	}

	if _, ok := b.scalar(b.where(), t); !ok {
		return NoRef
	}

	id := b.f.Add(ir.Label(at), ir.Phi{}, t, b.pos)

	return b.setType(Ref(id), t)
}

func (b *ssaBackend) AddIncoming(phi Ref, from Block, x Ref) {
	if !b.ok(b.where()) || !b.block(from) {
		return
	}

	b.f.AddIncoming(ex(phi), ir.Label(from), ex(x))
}

func (b *ssaBackend) Finalize(ctx context.Context) (_ Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: ssa finalize", "func", b.name)
	defer tr.Finish("err", &err)

	if b.finalized {
		return nil, &Error{Backend: b.kind, Func: b.name, Reason: "function is finalized"}
	}

	b.finalized = true

	if b.err != nil {
		return nil, b.err
	}

	if !b.begun {
		return nil, &Error{Backend: b.kind, Func: b.name, Reason: "function is not begun"}
	}

	p, err := ir.Compile(ctx, b.f)
	if err != nil {
		e := &Error{Backend: b.kind, Func: b.name, Reason: err.Error(), Err: err}

		if ie, ok := err.(*ir.Error); ok {
			e.Block = ie.Block
			e.Pos = ie.Pos
			e.Reason = ie.Reason
		}

		return nil, e
	}

	sp := &ssaProgram{p: p}

	for _, r := range p.Layout {
		blk := b.f.Blocks[r.Label]

		s := Symbol{
			Name:  blk.Name,
			Start: r.Start,
			Size:  r.Size,
		}

		first := blk.Term
		if len(blk.Code) != 0 {
			first = blk.Code[0]
		}

		s.Pos = b.f.EPos[first]
		s.Text = format.Expr(b.f, first)

		sp.syms = append(sp.syms, s)
	}

	return sp, nil
}

func (p *ssaProgram) Run(args []rt.Word) rt.Word { return p.p.Run(args) }

func (p *ssaProgram) Dump() []byte { return format.Func(nil, p.p.Func) }

func (p *ssaProgram) Symbols() []Symbol { return p.syms }

func (p *ssaProgram) Func() *ir.Func { return p.p.Func }
