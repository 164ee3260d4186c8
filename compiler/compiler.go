package compiler

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/meta/compiler/meta"
	"github.com/slowlang/meta/compiler/tp"
)

// Describe fills the function body.
type Describe func(f *meta.Func)

// Build describes and finalizes a function in one call.
func Build(ctx context.Context, cfg meta.Config, name string, sig tp.Func, describe Describe) (c *meta.Code, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "build", "name", name, "sig", sig, "backend", cfg.Backend)
	defer tr.Finish("err", &err)

	f, err := meta.New(cfg, name, sig)
	if err != nil {
		return nil, errors.Wrap(err, "new func")
	}

	describe(f)

	c, err = f.Finalize(ctx)
	if err != nil {
		return nil, err
	}

	tr.Printw("built", "name", name, "symbols", len(c.Symbols()))

	return c, nil
}
