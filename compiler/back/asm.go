package back

import (
	"context"
	"fmt"

	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/meta/compiler/asm"
	"github.com/slowlang/meta/compiler/format"
	"github.com/slowlang/meta/compiler/ir"
	"github.com/slowlang/meta/compiler/rt"
	"github.com/slowlang/meta/compiler/tp"
)

type (
	asmBackend struct {
		common

		blocks []*asmBlock
		cur    Block

		defs []asmDef // by Ref
		args []Ref
	}

	asmBlock struct {
		name string

		phis []Ref
		code []asmInstr
		term asmTerm
		done bool
	}

	asmInstr struct {
		x   asm.Instr
		pos loc.PC
	}

	asmTerm struct {
		x   asm.Instr // asm.B, asm.BCond or asm.Ret
		els Block     // BCond fall through target
		pos loc.PC
	}

	// asmDef is where a value is defined. Phis have at == -1.
	asmDef struct {
		block Block
		at    int
		in    []phiIn
	}

	phiIn struct {
		from Block
		x    Ref
	}

	asmProgram struct {
		obj  *asm.Object
		syms []Symbol
	}

	stub struct {
		label    asm.Label
		from, to Block
		pos      loc.PC
	}
)

func newAsm() *asmBackend {
	return &asmBackend{common: common{kind: Asm}}
}

func (b *asmBackend) Begin(name string, sig tp.Func) Block {
	b.name = name
	b.sig = sig
	b.begun = true

	entry := b.NewBlock("entry")
	b.SetBlock(entry)

	for i, t := range sig.In {
		if _, ok := b.scalar("entry", t); !ok {
			break
		}

		r := b.def(t, false)
		b.emit(asm.Arg{Out: [1]asm.Reg{asm.Reg(r)}, Arg: i})
		b.args = append(b.args, r)
	}

	return entry
}

func (b *asmBackend) Arg(i int) Ref {
	if i < 0 || i >= len(b.args) {
		b.failf(b.where(), "no argument %d", i)
		return NoRef
	}

	return b.args[i]
}

func (b *asmBackend) NewBlock(name string) Block {
	l := Block(len(b.blocks))
	b.blocks = append(b.blocks, &asmBlock{name: name})

	return l
}

func (b *asmBackend) SetBlock(l Block) {
	if l < 0 || int(l) >= len(b.blocks) {
		b.failf(b.where(), "no such block %d", l)
		return
	}

	b.cur = l
}

func (b *asmBackend) Current() Block { return b.cur }

func (b *asmBackend) Terminated() bool {
	return b.blocks[b.cur].done
}

func (b *asmBackend) where() string {
	if int(b.cur) < len(b.blocks) {
		return b.blocks[b.cur].name
	}

	return ""
}

// def allocates a register for a new value in the current block.
func (b *asmBackend) def(t tp.Type, phi bool) Ref {
	r := Ref(len(b.defs))

	d := asmDef{block: b.cur, at: -1}
	if !phi {
		d.at = len(b.blocks[b.cur].code)
	}

	b.defs = append(b.defs, d)
	b.setType(r, t)

	return r
}

func (b *asmBackend) emit(x asm.Instr) {
	blk := b.blocks[b.cur]
	blk.code = append(blk.code, asmInstr{x: x, pos: b.pos})
}

func (b *asmBackend) live() bool {
	if !b.ok(b.where()) {
		return false
	}

	if b.blocks[b.cur].done {
		b.failf(b.where(), "block is already terminated")
		return false
	}

	return true
}

func (b *asmBackend) value(t tp.Type, mk func(out [1]asm.Reg) asm.Instr) Ref {
	r := b.def(t, false)
	b.emit(mk([1]asm.Reg{asm.Reg(r)}))

	return r
}

func reg(r Ref) asm.Reg { return asm.Reg(r) }

func (b *asmBackend) Const(t tp.Type, x uint64) Ref {
	if !b.live() {
		return NoRef
	}

	k, ok := b.scalar(b.where(), t)
	if !ok {
		return NoRef
	}

	return b.value(t, func(out [1]asm.Reg) asm.Instr {
		return asm.Imm{Out: out, Word: rt.Norm(k, x)}
	})
}

func (b *asmBackend) Binary(op Op, t tp.Type, l, r Ref) Ref {
	if !b.live() || !b.binary(b.where(), op, t, l, r) {
		return NoRef
	}

	k := rt.KindOf(t)

	return b.value(t, func(out [1]asm.Reg) asm.Instr {
		return asm.Op2{Op: op, Kind: k, Out: out, In: [2]asm.Reg{reg(l), reg(r)}}
	})
}

func (b *asmBackend) Unary(op Op, t tp.Type, x Ref) Ref {
	if !b.live() || !b.unary(b.where(), op, t, x) {
		return NoRef
	}

	k := rt.KindOf(t)

	return b.value(t, func(out [1]asm.Reg) asm.Instr {
		return asm.Op1{Op: op, Kind: k, Out: out, In: [1]asm.Reg{reg(x)}}
	})
}

func (b *asmBackend) Compare(c Cond, t tp.Type, l, r Ref) Ref {
	if !b.live() || !b.compare(b.where(), c, t, l, r) {
		return NoRef
	}

	k := rt.KindOf(t)

	return b.value(tp.Bool{}, func(out [1]asm.Reg) asm.Instr {
		return asm.Set{Cond: c, Kind: k, Out: out, In: [2]asm.Reg{reg(l), reg(r)}}
	})
}

func (b *asmBackend) Convert(to, from tp.Type, x Ref) Ref {
	if !b.live() || !b.convert(b.where(), to, from, x) {
		return NoRef
	}

	kt, kf := rt.KindOf(to), rt.KindOf(from)

	return b.value(to, func(out [1]asm.Reg) asm.Instr {
		return asm.Conv{To: kt, From: kf, Out: out, In: [1]asm.Reg{reg(x)}}
	})
}

func (b *asmBackend) PtrAdd(t tp.Type, p, i Ref, scale int) Ref {
	if !b.live() || !b.pointer(b.where(), p) || !b.index(b.where(), i) {
		return NoRef
	}

	return b.value(t, func(out [1]asm.Reg) asm.Instr {
		return asm.Lea{Scale: scale, Out: out, In: [2]asm.Reg{reg(p), reg(i)}}
	})
}

func (b *asmBackend) PtrDiff(p, q Ref, scale int) Ref {
	if !b.live() || !b.pointer(b.where(), p) || !b.pointer(b.where(), q) {
		return NoRef
	}

	return b.value(tp.I64, func(out [1]asm.Reg) asm.Instr {
		return asm.Diff{Scale: scale, Out: out, In: [2]asm.Reg{reg(p), reg(q)}}
	})
}

func (b *asmBackend) Load(t tp.Type, p Ref) Ref {
	if !b.live() || !b.pointer(b.where(), p) {
		return NoRef
	}

	k, ok := b.scalar(b.where(), t)
	if !ok {
		return NoRef
	}

	return b.value(t, func(out [1]asm.Reg) asm.Instr {
		return asm.Load{Kind: k, Out: out, In: [1]asm.Reg{reg(p)}}
	})
}

func (b *asmBackend) Store(t tp.Type, p, x Ref) {
	if !b.live() || !b.pointer(b.where(), p) || !b.operand(b.where(), x, t) {
		return
	}

	k, ok := b.scalar(b.where(), t)
	if !ok {
		return
	}

	b.emit(asm.Store{Kind: k, In: [2]asm.Reg{reg(p), reg(x)}})
}

func (b *asmBackend) terminate(t asmTerm) {
	blk := b.blocks[b.cur]

	t.pos = b.pos
	blk.term = t
	blk.done = true
}

func (b *asmBackend) block(l Block) bool {
	if l < 0 || int(l) >= len(b.blocks) {
		b.failf(b.where(), "branch to undefined block %d", l)
		return false
	}

	return true
}

func (b *asmBackend) Branch(to Block) {
	if !b.live() || !b.block(to) {
		return
	}

	b.terminate(asmTerm{x: asm.B{Label: asm.Label(to)}})
}

func (b *asmBackend) BranchIf(c Ref, then, els Block) {
	if !b.live() || !b.operand(b.where(), c, tp.Bool{}) || !b.block(then) || !b.block(els) {
		return
	}

	b.terminate(asmTerm{x: asm.BCond{Label: asm.Label(then), In: [1]asm.Reg{reg(c)}}, els: els})
}

func (b *asmBackend) Return(x Ref) {
	if !b.live() || !b.ret(b.where(), x) {
		return
	}

	r := asm.NoReg
	if x != NoRef {
		r = reg(x)
	}

	b.terminate(asmTerm{x: asm.Ret{In: [1]asm.Reg{r}}})
}

func (b *asmBackend) Phi(at Block, t tp.Type) Ref {
	if !b.ok(b.where()) || !b.block(at) {
		return NoRef
	}

	if _, ok := b.scalar(b.where(), t); !ok {
		return NoRef
	}

	cur := b.cur
	b.cur = at

	r := b.def(t, true)
	b.blocks[at].phis = append(b.blocks[at].phis, r)

	b.cur = cur

	return r
}

func (b *asmBackend) AddIncoming(phi Ref, from Block, x Ref) {
	if !b.ok(b.where()) || !b.block(from) {
		return
	}

	if phi < 0 || int(phi) >= len(b.defs) || b.defs[phi].at != -1 {
		b.failf(b.where(), "value %d is not a phi", phi)
		return
	}

	d := &b.defs[phi]
	d.in = append(d.in, phiIn{from: from, x: x})
}

func (b *asmBackend) succs(l ir.Label) []ir.Label {
	blk := b.blocks[l]
	if !blk.done {
		return nil
	}

	switch x := blk.term.x.(type) {
	case asm.B:
		return []ir.Label{ir.Label(x.Label)}
	case asm.BCond:
		if Block(x.Label) == blk.term.els {
			return []ir.Label{ir.Label(x.Label)}
		}

		return []ir.Label{ir.Label(x.Label), ir.Label(blk.term.els)}
	}

	return nil
}

func (b *asmBackend) Finalize(ctx context.Context) (_ Program, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "back: asm finalize", "func", b.name, "blocks", len(b.blocks), "values", len(b.defs))
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

	g := ir.NewGraph(len(b.blocks), b.succs)

	err = b.verify(g)
	if err != nil {
		return nil, err
	}

	return b.lower(ctx, g)
}

func (b *asmBackend) verify(g *ir.Graph) error {
	errorf := func(l ir.Label, pos loc.PC, format string, args ...any) error {
		return &Error{
			Backend: b.kind,
			Func:    b.name,
			Block:   b.blocks[l].name,
			Pos:     pos,
			Reason:  fmt.Sprintf(format, args...),
		}
	}

	dominated := func(l ir.Label, at int, x Ref) bool {
		if x < 0 || int(x) >= len(b.defs) {
			return false
		}

		d := b.defs[x]

		if !g.Reachable(ir.Label(d.block)) {
			return false
		}

		if d.block == Block(l) {
			return d.at < at
		}

		return g.Dominates(ir.Label(d.block), l)
	}

	for _, l := range g.RPO {
		blk := b.blocks[l]

		if !blk.done {
			return errorf(l, 0, "block is not terminated")
		}

		preds := g.Preds[l]

		for _, phi := range blk.phis {
			d := &b.defs[phi]

			live := d.in[:0:0]

			for _, in := range d.in {
				if g.Reachable(ir.Label(in.from)) {
					live = append(live, in)
				}
			}

			d.in = live

			if len(live) != len(preds) {
				return errorf(l, 0, "phi %d has %d incoming values for %d predecessors", phi, len(live), len(preds))
			}

			for _, p := range preds {
				n := 0

				for _, in := range live {
					if in.from == Block(p) {
						n++
					}
				}

				if n != 1 {
					return errorf(l, 0, "phi %d has %d incoming values from block %s", phi, n, b.blocks[p].name)
				}
			}

			for _, in := range live {
				if !dominated(ir.Label(in.from), len(b.blocks[in.from].code), in.x) {
					return errorf(l, 0, "phi %d incoming value %d from block %s is not available", phi, in.x, b.blocks[in.from].name)
				}

				if t := b.typeOf(in.x); !tp.Equal(t, b.types[phi]) {
					return errorf(l, 0, "phi %d of %v merges %v from block %s", phi, b.types[phi], t, b.blocks[in.from].name)
				}
			}
		}

		for i, x := range blk.code {
			_, in := asm.Operands(x.x)

			for _, r := range in {
				if !dominated(l, i, Ref(r)) {
					return errorf(l, x.pos, "%T uses value %d not available here", x.x, r)
				}
			}
		}

		_, in := asm.Operands(blk.term.x)

		for _, r := range in {
			if !dominated(l, len(blk.code), Ref(r)) {
				return errorf(l, blk.term.pos, "%T uses value %d not available here", blk.term.x, r)
			}
		}
	}

	return nil
}

func (b *asmBackend) lower(ctx context.Context, g *ir.Graph) (_ Program, err error) {
	tr := tlog.SpanFromContext(ctx)

	a := asm.NewAssembler(b.name)

	labels := make([]asm.Label, len(b.blocks))
	for _, l := range g.RPO {
		labels[l] = a.NewLabel()
	}

	temp := asm.Reg(len(b.defs))
	moves := 0

	copies := func(from, to Block) {
		var dst, src []asm.Reg

		for _, phi := range b.blocks[to].phis {
			for _, in := range b.defs[phi].in {
				if in.from == from && in.x != phi {
					dst = append(dst, reg(phi))
					src = append(src, reg(in.x))
				}
			}
		}

		moves += len(dst)

		parallelCopy(a, dst, src, temp)
	}

	var stubs []stub

	p := &asmProgram{}

	sym := func(name string, start int, pos loc.PC) {
		p.syms = append(p.syms, Symbol{Name: name, Start: start, Pos: pos})
	}

	for i, l := range g.RPO {
		blk := b.blocks[l]

		next := Block(-1)
		if i+1 < len(g.RPO) {
			next = Block(g.RPO[i+1])
		}

		a.Bind(labels[l])

		pos := blk.term.pos
		if len(blk.code) != 0 {
			pos = blk.code[0].pos
		}

		sym(blk.name, a.Len(), pos)

		for _, x := range blk.code {
			a.SetPos(x.pos)
			a.Emit(x.x)
		}

		a.SetPos(blk.term.pos)

		switch x := blk.term.x.(type) {
		case asm.Ret:
			a.Emit(x)
		case asm.B:
			to := Block(x.Label)

			copies(Block(l), to)

			if to != next {
				a.Emit(asm.B{Label: labels[to]})
			}
		case asm.BCond:
			then, els := Block(x.Label), blk.term.els

			if then == els {
				copies(Block(l), then)

				if then != next {
					a.Emit(asm.B{Label: labels[then]})
				}

				break
			}

			target := labels[then]

			if b.hasCopies(Block(l), then) {
				st := stub{label: a.NewLabel(), from: Block(l), to: then, pos: blk.term.pos}
				stubs = append(stubs, st)
				target = st.label
			}

			a.Emit(asm.BCond{Label: target, In: x.In})

			copies(Block(l), els)

			if els != next {
				a.Emit(asm.B{Label: labels[els]})
			}
		}
	}

	for _, st := range stubs {
		a.Bind(st.label)
		a.SetPos(st.pos)

		sym(b.blocks[st.from].name+">"+b.blocks[st.to].name, a.Len(), st.pos)

		copies(st.from, st.to)
		a.Emit(asm.B{Label: labels[st.to]})
	}

	tr.V("asm_stats").Printw("lowered", "instrs", a.Len(), "moves", moves, "split_edges", len(stubs))

	obj, err := a.Assemble(ctx)
	if err != nil {
		return nil, &Error{Backend: b.kind, Func: b.name, Reason: "assemble", Err: err}
	}

	p.obj = obj

	for i := range p.syms {
		end := len(obj.Text)
		if i+1 < len(p.syms) {
			end = p.syms[i+1].Start
		}

		s := &p.syms[i]
		s.Size = end - s.Start

		if s.Size != 0 {
			s.Text = format.Instr(obj.Text[s.Start])
		}
	}

	return p, nil
}

func (b *asmBackend) hasCopies(from, to Block) bool {
	for _, phi := range b.blocks[to].phis {
		for _, in := range b.defs[phi].in {
			if in.from == from && in.x != phi {
				return true
			}
		}
	}

	return false
}

// parallelCopy emits dst[i] = src[i] for all i as if performed simultaneously.
// Registers from temp on are free for staging.
func parallelCopy(a *asm.Assembler, dst, src []asm.Reg, temp asm.Reg) {
	clobbers := false

outer:
	for _, d := range dst {
		for _, s := range src {
			if d == s {
				clobbers = true
				break outer
			}
		}
	}

	if !clobbers {
		for i := range dst {
			a.Emit(asm.Mov{Out: [1]asm.Reg{dst[i]}, In: [1]asm.Reg{src[i]}})
		}

		return
	}

	for i := range src {
		a.Emit(asm.Mov{Out: [1]asm.Reg{temp + asm.Reg(i)}, In: [1]asm.Reg{src[i]}})
	}

	for i := range dst {
		a.Emit(asm.Mov{Out: [1]asm.Reg{dst[i]}, In: [1]asm.Reg{temp + asm.Reg(i)}})
	}
}

func (p *asmProgram) Run(args []rt.Word) rt.Word { return p.obj.Run(args) }

func (p *asmProgram) Dump() []byte { return format.Object(nil, p.obj) }

func (p *asmProgram) Symbols() []Symbol { return p.syms }

func (p *asmProgram) Object() *asm.Object { return p.obj }
