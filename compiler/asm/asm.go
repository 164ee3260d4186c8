// Package asm is a register machine assembler.
// Code is a linear instruction stream over an unbounded set of
// mutable virtual registers, with labels resolved at assembly time.
package asm

import (
	"github.com/slowlang/meta/compiler/rt"
)

type (
	Reg   int
	Label int
	Cond  = rt.Cond

	Instr any

	Imm struct {
		Out  [1]Reg
		Word uint64
	}

	Arg struct {
		Out [1]Reg
		Arg int
	}

	Mov struct {
		Out [1]Reg
		In  [1]Reg
	}

	Op2 struct {
		Op   rt.Op
		Kind rt.Kind
		Out  [1]Reg
		In   [2]Reg
	}

	Op1 struct {
		Op   rt.Op
		Kind rt.Kind
		Out  [1]Reg
		In   [1]Reg
	}

	// Set compares In and writes 1 or 0 to Out.
	Set struct {
		Cond Cond
		Kind rt.Kind
		Out  [1]Reg
		In   [2]Reg
	}

	Conv struct {
		To, From rt.Kind
		Out      [1]Reg
		In       [1]Reg
	}

	// Lea computes In[0] + In[1]*Scale.
	Lea struct {
		Scale int
		Out   [1]Reg
		In    [2]Reg
	}

	// Diff computes (In[0] - In[1]) / Scale.
	Diff struct {
		Scale int
		Out   [1]Reg
		In    [2]Reg
	}

	Load struct {
		Kind rt.Kind
		Out  [1]Reg
		In   [1]Reg
	}

	// Store writes In[1] to the address in In[0].
	Store struct {
		Kind rt.Kind
		In   [2]Reg
	}

	B struct {
		Label Label
	}

	// BCond jumps to Label if In is not zero and falls through otherwise.
	BCond struct {
		Label Label
		In    [1]Reg
	}

	Ret struct {
		In [1]Reg
	}
)

const NoReg Reg = -1

// Operands returns registers written and read by x.
func Operands(x Instr) (out, in []Reg) {
	switch x := x.(type) {
	case Imm:
		return x.Out[:], nil
	case Arg:
		return x.Out[:], nil
	case Mov:
		return x.Out[:], x.In[:]
	case Op2:
		return x.Out[:], x.In[:]
	case Op1:
		return x.Out[:], x.In[:]
	case Set:
		return x.Out[:], x.In[:]
	case Conv:
		return x.Out[:], x.In[:]
	case Lea:
		return x.Out[:], x.In[:]
	case Diff:
		return x.Out[:], x.In[:]
	case Load:
		return x.Out[:], x.In[:]
	case Store:
		return nil, x.In[:]
	case BCond:
		return nil, x.In[:]
	case Ret:
		if x.In[0] == NoReg {
			return nil, nil
		}

		return nil, x.In[:]
	}

	return nil, nil
}

// IsTerminator reports whether execution never falls through x.
func IsTerminator(x Instr) bool {
	switch x.(type) {
	case B, Ret:
		return true
	}

	return false
}
