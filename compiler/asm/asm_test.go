package asm

import (
	"context"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/meta/compiler/rt"
)

// sum(p *u64, n u64) u64 written by hand:
//
//	r0 = p; r1 = n; r2 = 0; r3 = 0
//	loop: r4 = r3 < r1; jnz r4 body; ret r2
//	body: r5 = load r0[r3]; r2 += r5; r3 += 1; jmp loop
func sumObject(t *testing.T) *Object {
	a := NewAssembler("sum")

	loop := a.NewLabel()
	body := a.NewLabel()

	a.Emit(Arg{Out: [1]Reg{0}, Arg: 0})
	a.Emit(Arg{Out: [1]Reg{1}, Arg: 1})
	a.Emit(Imm{Out: [1]Reg{2}})
	a.Emit(Imm{Out: [1]Reg{3}})
	a.Emit(Imm{Out: [1]Reg{6}, Word: 1})

	a.Bind(loop)
	a.Emit(Set{Cond: rt.Lt, Kind: rt.KU64, Out: [1]Reg{4}, In: [2]Reg{3, 1}})
	a.Emit(BCond{Label: body, In: [1]Reg{4}})
	a.Emit(Ret{In: [1]Reg{2}})

	a.Bind(body)
	a.Emit(Lea{Scale: 8, Out: [1]Reg{7}, In: [2]Reg{0, 3}})
	a.Emit(Load{Kind: rt.KU64, Out: [1]Reg{5}, In: [1]Reg{7}})
	a.Emit(Op2{Op: rt.Add, Kind: rt.KU64, Out: [1]Reg{2}, In: [2]Reg{2, 5}})
	a.Emit(Op2{Op: rt.Add, Kind: rt.KU64, Out: [1]Reg{3}, In: [2]Reg{3, 6}})
	a.Emit(B{Label: loop})

	o, err := a.Assemble(context.Background())
	require.NoError(t, err)

	return o
}

func TestAssembleRun(t *testing.T) {
	o := sumObject(t)

	assert.Equal(t, 8, o.Regs)
	assert.Equal(t, []Label{0}, o.LabelsAt(5))

	data := make([]uint64, 1024)
	for i := range data {
		data[i] = uint64(i)
	}

	args := []rt.Word{rt.Ptr(unsafe.Pointer(&data[0])), rt.Int(uint64(len(data)))}

	assert.Equal(t, uint64(523776), o.Run(args).X)
	assert.Equal(t, uint64(523776), o.Run(args).X)

	args[1] = rt.Int(0)
	assert.Equal(t, uint64(0), o.Run(args).X)
}

func TestAssembleErrors(t *testing.T) {
	ctx := context.Background()

	a := NewAssembler("undefined")
	l := a.NewLabel()
	a.Emit(B{Label: l})

	_, err := a.Assemble(ctx)
	assert.ErrorContains(t, err, "undefined label")

	a = NewAssembler("fallthrough")
	a.Emit(Imm{Out: [1]Reg{0}})

	_, err = a.Assemble(ctx)
	assert.ErrorContains(t, err, "falls through")

	a = NewAssembler("twice")
	l = a.NewLabel()
	a.Bind(l)
	a.Bind(l)
	a.Emit(Ret{In: [1]Reg{NoReg}})

	_, err = a.Assemble(ctx)
	assert.ErrorContains(t, err, "bound twice")
}

func TestOperands(t *testing.T) {
	out, in := Operands(Store{Kind: rt.KU8, In: [2]Reg{1, 2}})
	assert.Empty(t, out)
	assert.Equal(t, []Reg{1, 2}, in)

	out, in = Operands(Ret{In: [1]Reg{NoReg}})
	assert.Empty(t, out)
	assert.Empty(t, in)

	assert.True(t, IsTerminator(B{}))
	assert.False(t, IsTerminator(BCond{}))
}
