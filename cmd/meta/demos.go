package main

import (
	"github.com/slowlang/meta/compiler/meta"
	"github.com/slowlang/meta/compiler/tp"
)

type (
	demo struct {
		sig      tp.Func
		describe func(f *meta.Func)
		cases    []demoCase
	}

	demoCase struct {
		args []any
		exp  any
	}
)

var data = func() []uint64 {
	d := make([]uint64, 1024)

	for i := range d {
		d[i] = uint64(i)
	}

	return d
}()

var demos = map[string]demo{
	"sum": {
		sig: tp.NewFunc(tp.U64, tp.PtrTo(tp.U64), tp.U64),
		describe: func(f *meta.Func) {
			p, n := f.Arg(0), f.Arg(1)

			s := f.Const(tp.U64, 0)

			f.ForRange(p, p.Index(n), func(x *meta.Value) {
				s.Assign(s.Add(x))
			})

			f.Return(s)
		},
		cases: []demoCase{
			{args: []any{data, len(data)}, exp: uint64(523776)},
			{args: []any{data, 0}, exp: uint64(0)},
		},
	},
	"threshold": {
		sig: tp.NewFunc(tp.I64, tp.I64),
		describe: func(f *meta.Func) {
			x := f.Arg(0)
			r := f.Const(tp.I64, 0)

			f.If(x.Gt(10), func() {
				r.Assign(1)
			})

			f.Return(r)
		},
		cases: []demoCase{
			{args: []any{5}, exp: int64(0)},
			{args: []any{10}, exp: int64(0)},
			{args: []any{15}, exp: int64(1)},
		},
	},
	"collatz": {
		sig: tp.NewFunc(tp.U32, tp.U64),
		describe: func(f *meta.Func) {
			x := f.Var(f.Arg(0))
			steps := f.Const(tp.U32, 0)

			f.While(func() *meta.Value { return x.Gt(1) }, func() {
				f.IfElse(x.And(1).Eq(0), func() {
					x.Assign(x.Shr(1))
				}, func() {
					x.Assign(x.Mul(3).Add(1))
				})

				steps.Assign(steps.Add(1))
			})

			f.Return(steps)
		},
		cases: []demoCase{
			{args: []any{1}, exp: uint32(0)},
			{args: []any{6}, exp: uint32(8)},
			{args: []any{27}, exp: uint32(111)},
		},
	},
	"wrap": {
		sig: tp.NewFunc(tp.U8, tp.U8, tp.U8),
		describe: func(f *meta.Func) {
			f.Return(f.Arg(0).Add(f.Arg(1)))
		},
		cases: []demoCase{
			{args: []any{200, 100}, exp: uint8(44)},
		},
	},
}
