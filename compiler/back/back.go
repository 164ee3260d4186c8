// Package back defines the uniform code generation interface
// and its two implementations: a mutable register assembler
// and an SSA builder with explicit phi joins.
package back

import (
	"context"
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/loc"

	"github.com/slowlang/meta/compiler/rt"
	"github.com/slowlang/meta/compiler/tp"
)

type (
	Kind string

	// Ref is a backend value: a virtual register or an SSA expression.
	Ref int

	Block int

	Op   = rt.Op
	Cond = rt.Cond

	// Backend builds one function.
	//
	// Values are created in the current block.
	// Phi creates a join value at the head of a block,
	// its incoming values may be added later, up to Finalize.
	Backend interface {
		Kind() Kind

		Begin(name string, sig tp.Func) Block
		Arg(i int) Ref

		NewBlock(name string) Block
		SetBlock(b Block)
		Current() Block
		Terminated() bool

		// SetPos sets host source position for the following values.
		SetPos(pc loc.PC)

		Const(t tp.Type, x uint64) Ref
		Binary(op Op, t tp.Type, l, r Ref) Ref
		Unary(op Op, t tp.Type, x Ref) Ref
		// Compare compares values of type t and returns bool.
		Compare(c Cond, t tp.Type, l, r Ref) Ref
		Convert(to, from tp.Type, x Ref) Ref
		// PtrAdd returns p + i*scale of pointer type t.
		PtrAdd(t tp.Type, p, i Ref, scale int) Ref
		// PtrDiff returns (p - q) / scale as i64.
		PtrDiff(p, q Ref, scale int) Ref
		Load(t tp.Type, p Ref) Ref
		Store(t tp.Type, p, x Ref)

		Branch(to Block)
		BranchIf(c Ref, then, els Block)
		// Return x or NoRef for void.
		Return(x Ref)

		Phi(at Block, t tp.Type) Ref
		AddIncoming(phi Ref, from Block, x Ref)

		Finalize(ctx context.Context) (Program, error)
	}

	// Program is finalized code. It is safe for concurrent use.
	Program interface {
		Run(args []rt.Word) rt.Word
		Dump() []byte
		Symbols() []Symbol
	}

	// Symbol is a range of generated code attributed to one block.
	Symbol struct {
		Name  string
		Start int
		Size  int
		Pos   loc.PC
		Text  string
	}

	// Error is a construction or finalization failure.
	Error struct {
		Backend Kind
		Func    string
		Block   string
		Pos     loc.PC

		Reason string
		Err    error
	}
)

const (
	Asm Kind = "asm"
	SSA Kind = "ssa"
)

const NoRef Ref = -1

var ErrUnknownBackend = errors.New("unknown backend")

func New(k Kind) (Backend, error) {
	switch k {
	case Asm, "":
		return newAsm(), nil
	case SSA:
		return newSSA(), nil
	}

	return nil, errors.Wrap(ErrUnknownBackend, "%q", k)
}

func (k Kind) String() string { return string(k) }

func (e *Error) Error() string {
	var b []byte

	b = fmt.Appendf(b, "%s backend: %s", e.Backend, e.Func)

	if e.Block != "" {
		b = fmt.Appendf(b, ": block %s", e.Block)
	}

	b = fmt.Appendf(b, ": %s", e.Reason)

	if e.Pos != 0 {
		_, file, line := e.Pos.NameFileLine()
		b = fmt.Appendf(b, " (at %s:%d)", file, line)
	}

	return string(b)
}

func (e *Error) Unwrap() error { return e.Err }
