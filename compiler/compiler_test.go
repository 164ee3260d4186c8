package compiler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/meta/compiler/back"
	"github.com/slowlang/meta/compiler/meta"
	"github.com/slowlang/meta/compiler/tp"
)

func TestBuild(t *testing.T) {
	for _, k := range []back.Kind{back.Asm, back.SSA} {
		t.Run(string(k), func(t *testing.T) {
			c, err := Build(context.Background(), meta.Config{Backend: k}, "fact", tp.NewFunc(tp.U64, tp.U64), func(f *meta.Func) {
				r := f.Const(tp.U64, 1)

				f.ForN(f.Arg(0), func(i *meta.Value) {
					r.Assign(r.Mul(i.Add(1)))
				})

				f.Return(r)
			})
			require.NoError(t, err)
			assert.Equal(t, k, c.Backend())

			r, err := c.Call(uint64(10))
			require.NoError(t, err)
			assert.Equal(t, uint64(3628800), r)

			_, err = Build(context.Background(), meta.Config{Backend: k}, "bad", tp.NewFunc(tp.U64), func(f *meta.Func) {
				f.Return(f.Const(tp.I64, 1))
			})
			assert.Error(t, err)
		})
	}
}
