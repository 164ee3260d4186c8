package back

import (
	"context"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/meta/compiler/rt"
	"github.com/slowlang/meta/compiler/tp"
)

func forEach(t *testing.T, f func(t *testing.T, k Kind)) {
	for _, k := range []Kind{Asm, SSA} {
		t.Run(string(k), func(t *testing.T) {
			f(t, k)
		})
	}
}

func newBackend(t *testing.T, k Kind) Backend {
	t.Helper()

	b, err := New(k)
	require.NoError(t, err)
	require.Equal(t, k, b.Kind())

	return b
}

func buildSum(b Backend) {
	u64 := tp.U64

	entry := b.Begin("sum", tp.NewFunc(u64, tp.PtrTo(u64), u64))
	loop := b.NewBlock("loop")
	body := b.NewBlock("body")
	exit := b.NewBlock("exit")

	zero := b.Const(u64, 0)
	one := b.Const(u64, 1)
	b.Branch(loop)

	b.SetBlock(loop)
	i := b.Phi(loop, u64)
	s := b.Phi(loop, u64)
	b.AddIncoming(i, entry, zero)
	b.AddIncoming(s, entry, zero)

	c := b.Compare(rt.Lt, u64, i, b.Arg(1))
	b.BranchIf(c, body, exit)

	b.SetBlock(body)
	p := b.PtrAdd(tp.PtrTo(u64), b.Arg(0), i, 8)
	v := b.Load(u64, p)
	s1 := b.Binary(rt.Add, u64, s, v)
	i1 := b.Binary(rt.Add, u64, i, one)
	b.Branch(loop)

	b.AddIncoming(i, body, i1)
	b.AddIncoming(s, body, s1)

	b.SetBlock(exit)
	b.Return(s)
}

func TestSum(t *testing.T) {
	forEach(t, func(t *testing.T, k Kind) {
		b := newBackend(t, k)
		buildSum(b)

		p, err := b.Finalize(context.Background())
		require.NoError(t, err)

		data := make([]uint64, 1024)
		for i := range data {
			data[i] = uint64(i)
		}

		args := []rt.Word{rt.Ptr(unsafe.Pointer(&data[0])), rt.Int(uint64(len(data)))}

		assert.Equal(t, uint64(523776), p.Run(args).X)
		assert.Equal(t, uint64(523776), p.Run(args).X)

		syms := p.Symbols()
		if assert.NotEmpty(t, syms) {
			assert.Equal(t, "entry", syms[0].Name)
			assert.Equal(t, 0, syms[0].Start)
		}

		assert.NotEmpty(t, p.Dump())
	})
}

func TestAsmLayout(t *testing.T) {
	b := newBackend(t, Asm)
	buildSum(b)

	p, err := b.Finalize(context.Background())
	require.NoError(t, err)

	obj := p.(*asmProgram).Object()

	syms := p.Symbols()
	end := 0

	for _, s := range syms {
		assert.Equal(t, end, s.Start, "symbol %s", s.Name)
		end += s.Size
	}

	assert.Equal(t, len(obj.Text), end)

	dump := string(p.Dump())
	assert.Equal(t, 1, strings.Count(dump, "B     L"), "only the back edge jumps:\n%s", dump)
	assert.Equal(t, 1, strings.Count(dump, "CBNZ"), "%s", dump)
}

func TestSwap(t *testing.T) {
	forEach(t, func(t *testing.T, k Kind) {
		b := newBackend(t, k)
		i64 := tp.I64

		entry := b.Begin("swap", tp.NewFunc(i64, i64, i64, i64))
		loop := b.NewBlock("loop")
		body := b.NewBlock("body")
		exit := b.NewBlock("exit")

		zero := b.Const(i64, 0)
		one := b.Const(i64, 1)
		b.Branch(loop)

		b.SetBlock(loop)
		x := b.Phi(loop, i64)
		y := b.Phi(loop, i64)
		i := b.Phi(loop, i64)
		b.AddIncoming(x, entry, b.Arg(0))
		b.AddIncoming(y, entry, b.Arg(1))
		b.AddIncoming(i, entry, zero)
		b.BranchIf(b.Compare(rt.Lt, i64, i, b.Arg(2)), body, exit)

		b.SetBlock(body)
		i1 := b.Binary(rt.Add, i64, i, one)
		b.Branch(loop)

		b.AddIncoming(x, body, y)
		b.AddIncoming(y, body, x)
		b.AddIncoming(i, body, i1)

		b.SetBlock(exit)
		b.Return(x)

		p, err := b.Finalize(context.Background())
		require.NoError(t, err)

		for n, exp := range []uint64{10, 20, 10, 20, 10} {
			assert.Equal(t, exp, p.Run([]rt.Word{rt.Int(10), rt.Int(20), rt.Int(uint64(n))}).X, "n=%d", n)
		}
	})
}

func TestCriticalEdge(t *testing.T) {
	forEach(t, func(t *testing.T, k Kind) {
		b := newBackend(t, k)
		u32 := tp.U32

		entry := b.Begin("edge", tp.NewFunc(u32, u32, tp.Bool{}))
		other := b.NewBlock("other")
		join := b.NewBlock("join")

		seven := b.Const(u32, 7)
		b.BranchIf(b.Arg(1), join, other)

		b.SetBlock(other)
		y := b.Binary(rt.Add, u32, b.Arg(0), b.Const(u32, 1))
		b.Branch(join)

		b.SetBlock(join)
		phi := b.Phi(join, u32)
		b.AddIncoming(phi, entry, seven)
		b.AddIncoming(phi, other, y)
		b.Return(phi)

		p, err := b.Finalize(context.Background())
		require.NoError(t, err)

		assert.Equal(t, uint64(7), p.Run([]rt.Word{rt.Int(100), rt.Bool(true)}).X)
		assert.Equal(t, uint64(101), p.Run([]rt.Word{rt.Int(100), rt.Bool(false)}).X)
		assert.Equal(t, uint64(0), p.Run([]rt.Word{rt.Int(0xffffffff), rt.Bool(false)}).X, "wraps at 32 bits")

		if k == Asm {
			split := false

			for _, s := range p.Symbols() {
				split = split || s.Name == "entry>join"
			}

			assert.True(t, split, "edge entry>join is split: %+v", p.Symbols())
		}
	})
}

func TestUnreachable(t *testing.T) {
	forEach(t, func(t *testing.T, k Kind) {
		b := newBackend(t, k)

		b.Begin("f", tp.NewFunc(tp.U8, tp.U8))
		dead := b.NewBlock("dead")
		half := b.NewBlock("half")

		b.Return(b.Arg(0))

		b.SetBlock(dead)
		b.Const(tp.U8, 1)
		b.Branch(half)

		b.SetBlock(half)
		b.Const(tp.U8, 2)

		p, err := b.Finalize(context.Background())
		require.NoError(t, err)

		assert.Equal(t, uint64(200), p.Run([]rt.Word{rt.Int(200)}).X)
	})
}

func TestErrors(t *testing.T) {
	ctx := context.Background()

	check := func(t *testing.T, k Kind, build func(b Backend), reason string) {
		t.Helper()

		b := newBackend(t, k)
		build(b)

		_, err := b.Finalize(ctx)

		var e *Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, k, e.Backend)
		assert.Contains(t, e.Reason, reason)
	}

	forEach(t, func(t *testing.T, k Kind) {
		t.Run("unterminated", func(t *testing.T) {
			check(t, k, func(b Backend) {
				b.Begin("f", tp.NewFunc(nil))
				next := b.NewBlock("next")
				b.Branch(next)
			}, "not terminated")
		})

		t.Run("phi_incoming", func(t *testing.T) {
			check(t, k, func(b Backend) {
				b.Begin("f", tp.NewFunc(tp.U64, tp.U64, tp.Bool{}))
				a := b.NewBlock("a")
				j := b.NewBlock("join")

				b.BranchIf(b.Arg(1), a, j)

				b.SetBlock(a)
				b.Branch(j)

				b.SetBlock(j)
				phi := b.Phi(j, tp.U64)
				b.AddIncoming(phi, a, b.Arg(0))
				b.Return(phi)
			}, "incoming values")
		})

		t.Run("type_mismatch", func(t *testing.T) {
			check(t, k, func(b Backend) {
				b.Begin("f", tp.NewFunc(tp.U64, tp.U64, tp.U32))
				b.Return(b.Binary(rt.Add, tp.U64, b.Arg(0), b.Arg(1)))
			}, "type mismatch")
		})

		t.Run("not_dominated", func(t *testing.T) {
			check(t, k, func(b Backend) {
				b.Begin("f", tp.NewFunc(tp.U64, tp.U64, tp.Bool{}))
				x := b.NewBlock("x")
				y := b.NewBlock("y")

				b.BranchIf(b.Arg(1), x, y)

				b.SetBlock(x)
				v := b.Unary(rt.Neg, tp.U64, b.Arg(0))
				b.Return(v)

				b.SetBlock(y)
				b.Return(v)
			}, "not")
		})

		t.Run("missing_return", func(t *testing.T) {
			check(t, k, func(b Backend) {
				b.Begin("f", tp.NewFunc(tp.U64))
				b.Return(NoRef)
			}, "missing return value")
		})

		t.Run("bool_arith", func(t *testing.T) {
			check(t, k, func(b Backend) {
				b.Begin("f", tp.NewFunc(tp.Bool{}, tp.Bool{}))
				b.Return(b.Binary(rt.Add, tp.Bool{}, b.Arg(0), b.Arg(0)))
			}, "of bools")
		})

		t.Run("finalize_twice", func(t *testing.T) {
			b := newBackend(t, k)
			b.Begin("f", tp.NewFunc(nil))
			b.Return(NoRef)

			_, err := b.Finalize(ctx)
			require.NoError(t, err)

			_, err = b.Finalize(ctx)
			assert.ErrorContains(t, err, "finalized")
		})
	})

	_, err := New("jit")
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
