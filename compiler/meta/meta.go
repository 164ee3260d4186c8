// Package meta describes generated functions with ordinary Go calls.
//
// A Func is built by calling methods on Values and control flow constructs.
// Nothing is computed at description time, each call is translated
// into a backend request. Finalize turns the description into Code.
//
//	f, _ := meta.New(meta.Config{}, "sum", tp.NewFunc(tp.U64, tp.PtrTo(tp.U64), tp.U64))
//	p, n := f.Arg(0), f.Arg(1)
//
//	s := f.Const(tp.U64, 0)
//	f.ForRange(p, p.Index(n), func(x *meta.Value) {
//		s.Assign(s.Add(x))
//	})
//	f.Return(s)
//
//	code, err := f.Finalize(ctx)
package meta

import (
	"context"
	"io"

	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/meta/compiler/back"
	"github.com/slowlang/meta/compiler/set"
	"github.com/slowlang/meta/compiler/tp"
)

type (
	Config struct {
		Backend back.Kind

		// Profile receives the code map at Finalize if set.
		Profile io.Writer
	}

	// Func is one function under description.
	// It must be used from one goroutine.
	Func struct {
		cfg  Config
		name string
		sig  tp.Func

		b back.Backend

		args []*Value
		vars []*Value

		// dead is set when the current block can't be reached.
		dead bool

		loops  []*loop
		frames []set.Bits[int]

		scopes    []int
		nextScope int
		closed    set.Bitmap

		final bool
		err   error
	}
)

// New starts describing function name of signature sig.
func New(cfg Config, name string, sig tp.Func) (*Func, error) {
	b, err := back.New(cfg.Backend)
	if err != nil {
		return nil, errors.Wrap(err, "new backend")
	}

	pc := loc.Caller(1)

	for _, t := range sig.In {
		if !tp.IsScalar(t) {
			return nil, &TypeMismatchError{Op: "argument", Left: t, At: pc}
		}
	}

	if sig.Out != nil && !tp.IsScalar(sig.Out) {
		return nil, &TypeMismatchError{Op: "result", Left: sig.Out, At: pc}
	}

	f := &Func{
		cfg:  cfg,
		name: name,
		sig:  sig,
		b:    b,

		scopes:    []int{0},
		nextScope: 1,
		closed:    set.MakeBitmap(64),
	}

	b.SetPos(pc)
	b.Begin(name, sig)

	for i, t := range sig.In {
		f.args = append(f.args, f.newVar(t, b.Arg(i), pc))
	}

	tlog.V("meta").Printw("new func", "name", name, "sig", sig, "backend", b.Kind(), "from", pc)

	return f, nil
}

func (f *Func) Name() string { return f.name }

func (f *Func) Sig() tp.Func { return f.sig }

func (f *Func) Backend() back.Kind { return f.b.Kind() }

// Arg returns argument Value i.
// Reassigning it changes the argument variable, not the caller's value.
func (f *Func) Arg(i int) *Value {
	pc := caller()

	if f.final {
		f.fail(&UseAfterFinalizeError{Op: "arg", At: pc})
		return f.poison(nil)
	}

	if i < 0 || i >= len(f.args) {
		f.fail(errors.New("no argument %d in %v", i, f.sig))
		return f.poison(nil)
	}

	return f.args[i]
}

// Args returns all argument Values, nil after Finalize.
func (f *Func) Args() []*Value {
	if f.final {
		f.fail(&UseAfterFinalizeError{Op: "args", At: caller()})
		return nil
	}

	return f.args
}

// Err returns the first description error.
func (f *Func) Err() error { return f.err }

// Const creates a new variable holding constant x of type t.
func (f *Func) Const(t tp.Type, x any) *Value {
	pc := caller()

	if !f.ok("const", pc) {
		return f.poison(t)
	}

	if !tp.IsScalar(t) {
		f.fail(&TypeMismatchError{Op: "const", Left: t, At: pc})
		return f.poison(t)
	}

	return f.constant("const", t, x, pc)
}

// Var creates a new variable initialized with x.
func (f *Func) Var(x *Value) *Value {
	pc := caller()

	if !f.ok("var", pc) || !f.use("var", x, pc) {
		return f.poison(x.typ())
	}

	return f.newVar(x.t, x.ref, pc)
}

// Finalize validates and compiles the function.
// Func can't be used after that.
func (f *Func) Finalize(ctx context.Context) (c *Code, err error) {
	pc := caller()

	if f.final {
		return nil, &UseAfterFinalizeError{Op: "finalize", At: pc}
	}

	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "meta: finalize", "name", f.name, "backend", f.b.Kind(), "vars", len(f.vars))
	defer tr.Finish("err", &err)

	f.final = true

	if f.err != nil {
		return nil, f.err
	}

	if !f.dead && !f.b.Terminated() {
		f.b.SetPos(pc)
		f.b.Return(back.NoRef)
	}

	p, err := f.b.Finalize(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "finalize %v", f.name)
	}

	c = &Code{
		name: f.name,
		sig:  f.sig,
		kind: f.b.Kind(),
		prog: p,
	}

	if tr.If("dump_code") {
		tr.Printw("code", "name", f.name, "text", p.Dump())
	}

	if f.cfg.Profile != nil {
		err = c.WriteProfile(f.cfg.Profile)
		if err != nil {
			return nil, errors.Wrap(err, "write profile")
		}
	}

	return c, nil
}

func (f *Func) newVar(t tp.Type, ref back.Ref, pc loc.PC) *Value {
	v := &Value{
		f:     f,
		t:     t,
		ref:   ref,
		id:    len(f.vars),
		scope: f.scopes[len(f.scopes)-1],
		pc:    pc,
	}

	f.vars = append(f.vars, v)

	return v
}

func (f *Func) poison(t tp.Type) *Value {
	return &Value{f: f, t: t, ref: back.NoRef, id: -1}
}

// ok checks the function may be extended by op.
func (f *Func) ok(op string, pc loc.PC) bool {
	if f.final {
		f.fail(&UseAfterFinalizeError{Op: op, At: pc})
		return false
	}

	return f.err == nil
}

// use checks v may be used by op.
func (f *Func) use(op string, v *Value, pc loc.PC) bool {
	switch {
	case v == nil:
		f.fail(errors.New("%s: nil value", op))
		return false
	case v.f != f:
		f.fail(errors.New("%s: value of function %s used in %s", op, v.f.name, f.name))
		return false
	case v.ref == back.NoRef:
		f.fail(errors.New("%s: invalid value", op))
		return false
	case f.closed.IsSet(v.scope):
		f.fail(&ScopeError{Op: op, Defined: v.pc, At: pc})
		return false
	}

	return true
}

func (f *Func) fail(err error) {
	if f.err != nil {
		_, uaf := err.(*UseAfterFinalizeError)
		_, had := f.err.(*UseAfterFinalizeError)

		if !uaf || had {
			return
		}
	}

	tlog.V("meta").Printw("description error", "name", f.name, "err", err, "from", loc.Caller(2))

	f.err = err
}

func caller() loc.PC { return loc.Caller(2) }
