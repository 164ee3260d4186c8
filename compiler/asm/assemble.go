package asm

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/meta/compiler/rt"
)

type (
	// Assembler collects instructions and labels of one function.
	Assembler struct {
		Name string

		text   []Instr
		pos    []loc.PC
		labels []int

		cur loc.PC
		err error
	}

	// fixup is a jump whose target label is patched after all labels are placed.
	fixup struct {
		at    int
		label Label
	}

	// Object is assembled code ready to run.
	Object struct {
		Name string

		Text   []Instr
		Pos    []loc.PC
		Labels []int

		Regs int

		code []inst
	}

	opcode uint8

	inst struct {
		op    opcode
		k, k2 rt.Kind
		bop   rt.Op
		cond  Cond
		d     Reg
		a, b  Reg
		imm   uint64
		n     int
	}
)

const (
	opImm opcode = iota
	opArg
	opMov
	opBin
	opUn
	opSet
	opConv
	opLea
	opDiff
	opLoad
	opStore
	opJmp
	opJnz
	opRet
)

func NewAssembler(name string) *Assembler {
	return &Assembler{Name: name}
}

// NewLabel reserves a label to be placed later by Bind.
func (a *Assembler) NewLabel() Label {
	l := Label(len(a.labels))
	a.labels = append(a.labels, -1)

	return l
}

// Bind places l at the next emitted instruction.
func (a *Assembler) Bind(l Label) {
	if int(l) >= len(a.labels) || l < 0 {
		a.fail(errors.New("bind of unknown label %d", l))
		return
	}

	if a.labels[l] >= 0 {
		a.fail(errors.New("label %d bound twice", l))
		return
	}

	a.labels[l] = len(a.text)
}

// SetPos sets host source position of the following instructions.
func (a *Assembler) SetPos(pc loc.PC) {
	a.cur = pc
}

func (a *Assembler) Emit(x Instr) {
	a.text = append(a.text, x)
	a.pos = append(a.pos, a.cur)
}

func (a *Assembler) Len() int { return len(a.text) }

func (a *Assembler) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}

// Assemble encodes the instruction stream and resolves jump targets.
func (a *Assembler) Assemble(ctx context.Context) (o *Object, err error) {
	tr, _ := tlog.SpawnFromContextAndWrap(ctx, "asm: assemble", "name", a.Name, "instrs", len(a.text))
	defer tr.Finish("err", &err)

	if a.err != nil {
		return nil, a.err
	}

	if len(a.text) == 0 || !IsTerminator(a.text[len(a.text)-1]) {
		return nil, errors.New("code falls through the end")
	}

	o = &Object{
		Name:   a.Name,
		Text:   a.text,
		Pos:    a.pos,
		Labels: a.labels,
		code:   make([]inst, len(a.text)),
	}

	var fixups []fixup

	for i, x := range a.text {
		out, in := Operands(x)

		for _, r := range out {
			o.Regs = max(o.Regs, int(r)+1)
		}

		for _, r := range in {
			if r < 0 {
				return nil, errors.New("instr %d: %T: bad register %d", i, x, r)
			}

			o.Regs = max(o.Regs, int(r)+1)
		}

		c, err := encode(x)
		if err != nil {
			return nil, errors.Wrap(err, "instr %d", i)
		}

		switch x := x.(type) {
		case B:
			fixups = append(fixups, fixup{at: i, label: x.Label})
		case BCond:
			fixups = append(fixups, fixup{at: i, label: x.Label})
		}

		o.code[i] = c
	}

	for _, f := range fixups {
		if int(f.label) >= len(a.labels) || f.label < 0 || a.labels[f.label] < 0 {
			return nil, errors.New("instr %d: jump to undefined label %d", f.at, f.label)
		}

		o.code[f.at].n = a.labels[f.label]
	}

	if tr.If("dump_asm") {
		for i, x := range o.Text {
			tr.Printw("instr", "pc", i, "typ", tlog.NextAsType, x, "val", x, "from", o.Pos[i])
		}
	}

	return o, nil
}

func encode(x Instr) (c inst, err error) {
	c.d, c.a, c.b = NoReg, NoReg, NoReg

	switch x := x.(type) {
	case Imm:
		c.op, c.d, c.imm = opImm, x.Out[0], x.Word
	case Arg:
		c.op, c.d, c.n = opArg, x.Out[0], x.Arg
	case Mov:
		c.op, c.d, c.a = opMov, x.Out[0], x.In[0]
	case Op2:
		c.op, c.bop, c.k, c.d, c.a, c.b = opBin, x.Op, x.Kind, x.Out[0], x.In[0], x.In[1]
	case Op1:
		c.op, c.bop, c.k, c.d, c.a = opUn, x.Op, x.Kind, x.Out[0], x.In[0]
	case Set:
		if !x.Cond.Valid() {
			return c, errors.New("bad condition %q", x.Cond)
		}

		c.op, c.cond, c.k, c.d, c.a, c.b = opSet, x.Cond, x.Kind, x.Out[0], x.In[0], x.In[1]
	case Conv:
		c.op, c.k, c.k2, c.d, c.a = opConv, x.To, x.From, x.Out[0], x.In[0]
	case Lea:
		c.op, c.n, c.d, c.a, c.b = opLea, x.Scale, x.Out[0], x.In[0], x.In[1]
	case Diff:
		c.op, c.n, c.d, c.a, c.b = opDiff, x.Scale, x.Out[0], x.In[0], x.In[1]
	case Load:
		c.op, c.k, c.d, c.a = opLoad, x.Kind, x.Out[0], x.In[0]
	case Store:
		c.op, c.k, c.a, c.b = opStore, x.Kind, x.In[0], x.In[1]
	case B:
		c.op = opJmp
	case BCond:
		c.op, c.a = opJnz, x.In[0]
	case Ret:
		c.op, c.a = opRet, x.In[0]
	default:
		return c, errors.New("unsupported instruction: %T", x)
	}

	return c, nil
}

// Run executes the object with its own register file.
func (o *Object) Run(args []rt.Word) rt.Word {
	r := make([]rt.Word, o.Regs)
	code := o.code

	for pc := 0; ; {
		c := &code[pc]
		pc++

		switch c.op {
		case opImm:
			r[c.d] = rt.Word{X: c.imm}
		case opArg:
			r[c.d] = args[c.n]
		case opMov:
			r[c.d] = r[c.a]
		case opBin:
			r[c.d] = rt.Binary(c.bop, c.k, r[c.a], r[c.b])
		case opUn:
			r[c.d] = rt.Unary(c.bop, c.k, r[c.a])
		case opSet:
			r[c.d] = rt.Bool(rt.Compare(c.cond, c.k, r[c.a], r[c.b]))
		case opConv:
			r[c.d] = rt.Convert(c.k, c.k2, r[c.a])
		case opLea:
			r[c.d] = rt.PtrAdd(r[c.a], r[c.b], c.n)
		case opDiff:
			r[c.d] = rt.PtrDiff(r[c.a], r[c.b], c.n)
		case opLoad:
			r[c.d] = rt.Load(c.k, r[c.a])
		case opStore:
			rt.Store(c.k, r[c.a], r[c.b])
		case opJmp:
			pc = c.n
		case opJnz:
			if r[c.a].X != 0 {
				pc = c.n
			}
		case opRet:
			if c.a == NoReg {
				return rt.Word{}
			}

			return r[c.a]
		default:
			panic(fmt.Sprintf("asm: bad opcode %d at %d", c.op, pc-1))
		}
	}
}

// LabelsAt returns labels bound to instruction pc.
func (o *Object) LabelsAt(pc int) (ls []Label) {
	for l, at := range o.Labels {
		if at == pc {
			ls = append(ls, Label(l))
		}
	}

	return ls
}
