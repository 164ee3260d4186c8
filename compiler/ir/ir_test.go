package ir

import (
	"context"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/meta/compiler/rt"
	"github.com/slowlang/meta/compiler/tp"
)

func sumFunc() *Func {
	f := NewFunc("sum", tp.NewFunc(tp.U64, tp.PtrTo(tp.U64), tp.U64))
	ptr, n := f.Args[0], f.Args[1]

	loop := f.NewBlock("loop")
	body := f.NewBlock("body")
	exit := f.NewBlock("exit")

	zero := f.Add(Entry, Imm(0), tp.U64, 0)
	one := f.Add(Entry, Imm(1), tp.U64, 0)
	f.Add(Entry, B{Label: loop}, nil, 0)

	i := f.Add(loop, Phi{{B: Entry, Expr: zero}}, tp.U64, 0)
	s := f.Add(loop, Phi{{B: Entry, Expr: zero}}, tp.U64, 0)
	c := f.Add(loop, Cmp{Cond: rt.Lt, L: i, R: n}, tp.Bool{}, 0)
	f.Add(loop, BCond{Expr: c, Then: body, Else: exit}, nil, 0)

	p := f.Add(body, PtrAdd{P: ptr, I: i, Scale: 8}, tp.PtrTo(tp.U64), 0)
	v := f.Add(body, Load{P: p}, tp.U64, 0)
	s1 := f.Add(body, Binary{Op: rt.Add, L: s, R: v}, tp.U64, 0)
	i1 := f.Add(body, Binary{Op: rt.Add, L: i, R: one}, tp.U64, 0)
	f.Add(body, B{Label: loop}, nil, 0)

	f.AddIncoming(i, body, i1)
	f.AddIncoming(s, body, s1)

	f.Add(exit, Ret{X: s}, nil, 0)

	return f
}

func TestCompileSum(t *testing.T) {
	ctx := context.Background()

	p, err := Compile(ctx, sumFunc())
	require.NoError(t, err)

	data := make([]uint64, 1024)
	for i := range data {
		data[i] = uint64(i)
	}

	args := []rt.Word{rt.Ptr(unsafe.Pointer(&data[0])), rt.Int(uint64(len(data)))}

	assert.Equal(t, uint64(523776), p.Run(args).X)
	assert.Equal(t, uint64(523776), p.Run(args).X, "repeated run")

	assert.Equal(t, uint64(0), p.Run([]rt.Word{rt.Ptr(unsafe.Pointer(&data[0])), rt.Int(0)}).X)

	if assert.Len(t, p.Layout, 4) {
		assert.Equal(t, Entry, p.Layout[0].Label)
		assert.Equal(t, 0, p.Layout[0].Start)
	}
}

func TestSwapPhis(t *testing.T) {
	f := NewFunc("swap", tp.NewFunc(tp.I64, tp.I64, tp.I64, tp.I64))
	x, y, n := f.Args[0], f.Args[1], f.Args[2]

	loop := f.NewBlock("loop")
	body := f.NewBlock("body")
	exit := f.NewBlock("exit")

	zero := f.Add(Entry, Imm(0), tp.I64, 0)
	one := f.Add(Entry, Imm(1), tp.I64, 0)
	f.Add(Entry, B{Label: loop}, nil, 0)

	a := f.Add(loop, Phi{{B: Entry, Expr: x}}, tp.I64, 0)
	b := f.Add(loop, Phi{{B: Entry, Expr: y}}, tp.I64, 0)
	i := f.Add(loop, Phi{{B: Entry, Expr: zero}}, tp.I64, 0)
	c := f.Add(loop, Cmp{Cond: rt.Lt, L: i, R: n}, tp.Bool{}, 0)
	f.Add(loop, BCond{Expr: c, Then: body, Else: exit}, nil, 0)

	i1 := f.Add(body, Binary{Op: rt.Add, L: i, R: one}, tp.I64, 0)
	f.Add(body, B{Label: loop}, nil, 0)

	f.AddIncoming(a, body, b)
	f.AddIncoming(b, body, a)
	f.AddIncoming(i, body, i1)

	f.Add(exit, Ret{X: a}, nil, 0)

	p, err := Compile(context.Background(), f)
	require.NoError(t, err)

	for n, exp := range []uint64{1, 2, 1, 2} {
		assert.Equal(t, exp, p.Run([]rt.Word{rt.Int(1), rt.Int(2), rt.Int(uint64(n))}).X, "n=%d", n)
	}
}

func TestRemoveTrivialPhis(t *testing.T) {
	f := NewFunc("trivial", tp.NewFunc(tp.U32, tp.U32, tp.Bool{}))
	x, cond := f.Args[0], f.Args[1]

	loop := f.NewBlock("loop")
	exit := f.NewBlock("exit")
	dead := f.NewBlock("dead")

	f.Add(Entry, B{Label: loop}, nil, 0)

	v := f.Add(loop, Phi{{B: Entry, Expr: x}}, tp.U32, 0)
	w := f.Add(loop, Phi{{B: Entry, Expr: x}}, tp.U32, 0)
	f.Add(loop, BCond{Expr: cond, Then: exit, Else: loop}, nil, 0)

	f.AddIncoming(v, loop, v)
	f.AddIncoming(w, loop, v)

	imm := f.Add(dead, Imm(7), tp.U32, 0)
	f.AddIncoming(v, dead, imm)
	f.Add(dead, B{Label: loop}, nil, 0)

	f.Add(exit, Ret{X: w}, nil, 0)

	f.Prune()
	assert.False(t, f.Reachable(dead))

	assert.Equal(t, 2, f.RemoveTrivialPhis(context.Background()))
	assert.Empty(t, f.Blocks[loop].Phi)
	assert.Equal(t, Ret{X: x}, f.Exprs[f.Blocks[exit].Term])

	p, err := Compile(context.Background(), f)
	require.NoError(t, err)

	assert.Equal(t, uint64(42), p.Run([]rt.Word{rt.Int(42), rt.Bool(true)}).X)
}

func TestVerifyErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unterminated", func(t *testing.T) {
		f := NewFunc("f", tp.NewFunc(nil))
		next := f.NewBlock("next")
		f.Add(Entry, B{Label: next}, nil, 0)

		_, err := Compile(ctx, f)
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "next", e.Block)
		assert.Contains(t, e.Reason, "not terminated")
	})

	t.Run("no_blocks", func(t *testing.T) {
		f := &Func{Name: "empty"}

		_, err := f.Verify()
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "", e.Block)
		assert.Equal(t, "no blocks", e.Reason)
		assert.EqualError(t, err, "ir: empty: no blocks")
	})

	t.Run("phi_count", func(t *testing.T) {
		f := NewFunc("f", tp.NewFunc(tp.U64, tp.U64, tp.Bool{}))
		a := f.NewBlock("a")
		j := f.NewBlock("join")

		f.Add(Entry, BCond{Expr: f.Args[1], Then: a, Else: j}, nil, 0)
		f.Add(a, B{Label: j}, nil, 0)

		phi := f.Add(j, Phi{{B: a, Expr: f.Args[0]}}, tp.U64, 0)
		f.Add(j, Ret{X: phi}, nil, 0)

		_, err := Compile(ctx, f)
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Contains(t, e.Reason, "1 incoming values for 2 predecessors")
	})

	t.Run("dominance", func(t *testing.T) {
		f := NewFunc("f", tp.NewFunc(tp.U64, tp.U64, tp.Bool{}))
		a := f.NewBlock("a")
		b := f.NewBlock("b")

		f.Add(Entry, BCond{Expr: f.Args[1], Then: a, Else: b}, nil, 0)

		v := f.Add(a, Unary{Op: rt.Neg, X: f.Args[0]}, tp.U64, 0)
		f.Add(a, Ret{X: v}, nil, 0)
		f.Add(b, Ret{X: v}, nil, 0)

		_, err := Compile(ctx, f)
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "b", e.Block)
		assert.Contains(t, e.Reason, "not dominated")
	})

	t.Run("return_type", func(t *testing.T) {
		f := NewFunc("f", tp.NewFunc(tp.U64, tp.U32))
		f.Add(Entry, Ret{X: f.Args[0]}, nil, 0)

		_, err := Compile(ctx, f)
		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Contains(t, e.Reason, "return of u32")
	})

	t.Run("missing_return", func(t *testing.T) {
		f := NewFunc("f", tp.NewFunc(tp.U64))
		f.Add(Entry, Ret{X: Nil}, nil, 0)

		_, err := Compile(ctx, f)
		assert.ErrorContains(t, err, "missing return value")
	})

	t.Run("phi_type", func(t *testing.T) {
		f := NewFunc("f", tp.NewFunc(tp.U64, tp.U64, tp.U32))
		j := f.NewBlock("join")
		f.Add(Entry, BCond{Expr: f.Add(Entry, Cmp{Cond: rt.Eq, L: f.Args[0], R: f.Args[0]}, tp.Bool{}, 0), Then: j, Else: j}, nil, 0)

		phi := f.Add(j, Phi{{B: Entry, Expr: f.Args[1]}}, tp.U64, 0)
		f.Add(j, Ret{X: phi}, nil, 0)

		_, err := Compile(ctx, f)
		assert.ErrorContains(t, err, "merges u32")
	})

	t.Run("terminated", func(t *testing.T) {
		f := NewFunc("f", tp.NewFunc(nil))
		f.Add(Entry, Ret{X: Nil}, nil, 0)
		f.Add(Entry, Imm(1), tp.U64, 0)

		_, err := Compile(ctx, f)
		assert.ErrorContains(t, err, "already terminated")
	})
}
