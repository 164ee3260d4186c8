package meta

import (
	"tlog.app/go/errors"
	"tlog.app/go/loc"
	"tlog.app/go/tlog"

	"github.com/slowlang/meta/compiler/back"
	"github.com/slowlang/meta/compiler/df"
	"github.com/slowlang/meta/compiler/rt"
	"github.com/slowlang/meta/compiler/set"
	"github.com/slowlang/meta/compiler/tp"
)

type loop struct {
	n int

	cont back.Block
	exit back.Block

	// phis at the loop head by variable id. Nil if the loop is unreachable.
	head back.Block
	phis []back.Ref

	// continues are the back edges when cont is the head.
	continues []df.Flow
	breaks    []df.Flow
}

// If describes then executed when cond is true.
func (f *Func) If(cond *Value, then func()) {
	f.ifElse(cond, then, nil, caller())
}

// IfElse describes a conditional with both branches.
// Variables assigned in one branch keep their previous value on the other path.
func (f *Func) IfElse(cond *Value, then, els func()) {
	f.ifElse(cond, then, els, caller())
}

func (f *Func) ifElse(cond *Value, then, els func(), pc loc.PC) {
	if !f.ok("if", pc) || !f.cond("if", cond, pc) {
		return
	}

	n := len(f.vars)
	dead := f.dead
	pre := f.snapshot(n)

	thenB := f.b.NewBlock("if.then")
	join := f.b.NewBlock("if.end")

	elsB := join
	if els != nil {
		elsB = f.b.NewBlock("if.else")
	}

	f.b.SetPos(pc)
	f.b.BranchIf(cond.ref, thenB, elsB)

	var flows []df.Flow

	if els == nil && !dead {
		flows = append(flows, df.Flow{From: f.b.Current(), Refs: pre})
	}

	f.pushFrame()

	flows = f.branch(thenB, then, join, flows, n, dead, pc)

	if els != nil {
		f.restore(pre)
		flows = f.branch(elsB, els, join, flows, n, dead, pc)
	}

	assigned := f.popFrame()

	tlog.V("meta_flow").Printw("if", "then", thenB, "else", elsB, "join", join, "flows", len(flows), "assigned", assigned, "from", pc)

	f.restore(pre)
	f.merge(join, flows, n, assigned)
}

// branch describes body in block b and flows to join.
func (f *Func) branch(b back.Block, body func(), join back.Block, flows []df.Flow, n int, dead bool, pc loc.PC) []df.Flow {
	f.b.SetBlock(b)
	f.dead = dead

	f.scoped(body)

	if f.err != nil || f.dead {
		return flows
	}

	flows = append(flows, df.Flow{From: f.b.Current(), Refs: f.snapshot(n)})

	f.b.SetPos(pc)
	f.b.Branch(join)

	return flows
}

// While describes a loop checking cond before each iteration.
// A nil cond loops until Break or Return.
func (f *Func) While(cond func() *Value, body func()) {
	pc := caller()

	if !f.ok("while", pc) {
		return
	}

	f.loop("while", nil, cond, nil, body, pc)
}

// For describes init; cond; step loop. Continue jumps to step.
// Variables created in init live until the loop ends.
func (f *Func) For(init func(), cond func() *Value, step func(), body func()) {
	pc := caller()

	if !f.ok("for", pc) {
		return
	}

	f.loop("for", init, cond, step, body, pc)
}

// DoWhile describes a loop checking cond after each iteration.
func (f *Func) DoWhile(body func(), cond func() *Value) {
	pc := caller()

	if !f.ok("do-while", pc) {
		return
	}

	f.openScope()
	defer f.closeScope()

	n := len(f.vars)
	pre := f.snapshot(n)

	head := f.b.NewBlock("do.body")
	condB := f.b.NewBlock("do.cond")
	exit := f.b.NewBlock("do.end")

	l := &loop{n: n, cont: condB, exit: exit, head: head}

	f.enterLoop(l, pc)

	f.pushFrame()

	f.loops = append(f.loops, l)
	f.scoped(body)
	f.loops = f.loops[:len(f.loops)-1]

	if f.err != nil {
		return
	}

	if !f.dead {
		l.continues = append(l.continues, df.Flow{From: f.b.Current(), Refs: f.snapshot(n)})

		f.b.SetPos(pc)
		f.b.Branch(condB)
	}

	f.merge(condB, l.continues, n, nil)

	var exitFlows []df.Flow

	var c *Value

	if cond != nil {
		c = f.evalCond("do-while", cond, pc)
		if c == nil {
			return
		}
	}

	if !f.dead {
		fl := df.Flow{From: f.b.Current(), Refs: f.snapshot(n)}

		f.b.SetPos(pc)

		if c != nil {
			f.b.BranchIf(c.ref, head, exit)
			exitFlows = append(exitFlows, fl)
		} else {
			f.b.Branch(head)
		}

		f.backEdge(l, fl)
	}

	assigned := f.popFrame()

	f.merge(exit, append(exitFlows, l.breaks...), n, nil)
	f.unchanged(pre, assigned)

	tlog.V("meta_flow").Printw("do-while", "head", head, "exit", exit, "breaks", len(l.breaks), "assigned", assigned, "from", pc)
}

func (f *Func) loop(name string, init func(), cond func() *Value, step func(), body func(), pc loc.PC) {
	f.openScope()
	defer f.closeScope()

	if init != nil {
		init()

		if f.err != nil {
			return
		}
	}

	n := len(f.vars)
	pre := f.snapshot(n)

	head := f.b.NewBlock(name + ".head")
	bodyB := f.b.NewBlock(name + ".body")
	exit := f.b.NewBlock(name + ".end")

	l := &loop{n: n, cont: head, exit: exit, head: head}

	var stepB back.Block

	if step != nil {
		stepB = f.b.NewBlock(name + ".step")
		l.cont = stepB
	}

	f.enterLoop(l, pc)

	f.pushFrame()

	var exitFlows []df.Flow

	if cond != nil {
		c := f.evalCond(name, cond, pc)
		if c == nil {
			return
		}

		if !f.dead {
			exitFlows = append(exitFlows, df.Flow{From: f.b.Current(), Refs: f.snapshot(n)})
		}

		f.b.SetPos(pc)
		f.b.BranchIf(c.ref, bodyB, exit)
	} else {
		f.b.SetPos(pc)
		f.b.Branch(bodyB)
	}

	headDead := f.dead
	headRefs := f.snapshot(n)

	f.b.SetBlock(bodyB)

	f.loops = append(f.loops, l)
	f.scoped(body)
	f.loops = f.loops[:len(f.loops)-1]

	if f.err != nil {
		return
	}

	if !f.dead {
		fl := df.Flow{From: f.b.Current(), Refs: f.snapshot(n)}

		f.b.SetPos(pc)
		f.b.Branch(l.cont)

		if step != nil {
			l.continues = append(l.continues, fl)
		} else {
			f.backEdge(l, fl)
		}
	}

	if step != nil {
		f.restore(headRefs)
		f.merge(stepB, l.continues, n, nil)

		f.scoped(step)

		if f.err != nil {
			return
		}

		if !f.dead {
			fl := df.Flow{From: f.b.Current(), Refs: f.snapshot(n)}

			f.b.SetPos(pc)
			f.b.Branch(head)

			f.backEdge(l, fl)
		}
	}

	assigned := f.popFrame()

	f.restore(headRefs)
	f.dead = headDead
	f.merge(exit, append(exitFlows, l.breaks...), n, nil)
	f.unchanged(pre, assigned)

	tlog.V("meta_flow").Printw(name, "head", head, "exit", exit, "phis", len(l.phis), "breaks", len(l.breaks), "assigned", assigned, "from", pc)
}

// enterLoop branches to the loop head and installs a placeholder phi
// for every variable alive before the loop.
func (f *Func) enterLoop(l *loop, pc loc.PC) {
	dead := f.dead

	from := f.b.Current()

	f.b.SetPos(pc)
	f.b.Branch(l.head)
	f.b.SetBlock(l.head)

	if dead {
		return
	}

	l.phis = make([]back.Ref, l.n)

	for id, v := range f.vars[:l.n] {
		l.phis[id] = back.NoRef

		if f.closed.IsSet(v.scope) {
			continue
		}

		phi := f.b.Phi(l.head, v.t)
		f.b.AddIncoming(phi, from, v.ref)

		l.phis[id] = phi
		v.ref = phi
	}
}

func (f *Func) backEdge(l *loop, fl df.Flow) {
	for id, phi := range l.phis {
		if phi == back.NoRef {
			continue
		}

		f.b.AddIncoming(phi, fl.From, fl.Refs[id])
	}
}

// unchanged rebinds variables not assigned in a loop to their values before the loop.
// Their loop head placeholders are trivial.
func (f *Func) unchanged(pre []back.Ref, assigned *set.Bits[int]) {
	for id, r := range pre {
		if !assigned.IsSet(id) {
			f.vars[id].ref = r
		}
	}
}

func (f *Func) evalCond(name string, cond func() *Value, pc loc.PC) *Value {
	c := cond()

	if f.err != nil || !f.cond(name, c, pc) {
		return nil
	}

	return c
}

// Break leaves the innermost loop.
func (f *Func) Break() {
	pc := caller()

	if !f.ok("break", pc) {
		return
	}

	if len(f.loops) == 0 {
		f.fail(errors.New("break outside of a loop (at %v)", pc))
		return
	}

	l := f.loops[len(f.loops)-1]

	if !f.dead {
		l.breaks = append(l.breaks, df.Flow{From: f.b.Current(), Refs: f.snapshot(l.n)})

		f.b.SetPos(pc)
		f.b.Branch(l.exit)
	}

	f.deadBlock("break")
}

// Continue starts the next iteration of the innermost loop.
func (f *Func) Continue() {
	pc := caller()

	if !f.ok("continue", pc) {
		return
	}

	if len(f.loops) == 0 {
		f.fail(errors.New("continue outside of a loop (at %v)", pc))
		return
	}

	l := f.loops[len(f.loops)-1]

	if !f.dead {
		fl := df.Flow{From: f.b.Current(), Refs: f.snapshot(l.n)}

		f.b.SetPos(pc)
		f.b.Branch(l.cont)

		if l.cont == l.head {
			f.backEdge(l, fl)
		} else {
			l.continues = append(l.continues, fl)
		}
	}

	f.deadBlock("continue")
}

// Return returns x from the function. Nil x is for void functions.
func (f *Func) Return(x any) {
	pc := caller()

	if !f.ok("return", pc) {
		return
	}

	ref := back.NoRef

	switch {
	case x == nil && f.sig.Out == nil:
	case x == nil:
		f.fail(&TypeMismatchError{Op: "return", Left: f.sig.Out, At: pc})
		return
	case f.sig.Out == nil:
		f.fail(errors.New("return: value returned from void function %s (at %v)", f.name, pc))
		return
	default:
		y := f.operandOf("return", f.sig.Out, x, pc)
		if y == nil || !f.same("return", f.sig.Out, y.t, pc) {
			return
		}

		ref = y.ref
	}

	if !f.dead {
		f.b.SetPos(pc)
		f.b.Return(ref)
	}

	f.deadBlock("return")
}

// ForN describes loop for i from 0 to n-1.
// i has the type of n.
func (f *Func) ForN(n any, each func(i *Value)) {
	pc := caller()

	if !f.ok("for-n", pc) {
		return
	}

	cnt, ok := n.(*Value)
	if !ok {
		cnt = f.constant("for-n", f.countType(), n, pc)
	}

	if !f.use("for-n", cnt, pc) {
		return
	}

	var i *Value

	f.loop("for-n", func() {
		i = f.constant("for-n", cnt.t, 0, pc)
	}, func() *Value {
		return i.compare(rt.Lt, cnt, pc)
	}, func() {
		i.Assign(i.arith("add", rt.Add, 1, pc))
	}, func() {
		each(i)
	}, pc)
}

// ForRange iterates over elements in [begin, end).
// each gets the loaded element.
func (f *Func) ForRange(begin, end *Value, each func(elem *Value)) {
	pc := caller()

	f.forRange("for-range", begin, end, func(p *Value) {
		each(p.load("for-range", pc))
	}, pc)
}

// ForRangePtr iterates over [begin, end) giving pointers to elements.
func (f *Func) ForRangePtr(begin, end *Value, each func(p *Value)) {
	f.forRange("for-range", begin, end, each, caller())
}

func (f *Func) forRange(name string, begin, end *Value, each func(p *Value), pc loc.PC) {
	if !f.ok(name, pc) || !f.use(name, begin, pc) || !f.use(name, end, pc) {
		return
	}

	if !f.same(name, begin.t, end.t, pc) {
		return
	}

	el, ok := begin.pointee(name, pc)
	if !ok {
		return
	}

	var cur *Value

	f.loop(name, func() {
		cur = f.newVar(begin.t, begin.ref, pc)
	}, func() *Value {
		return cur.compare(rt.Ne, end, pc)
	}, func() {
		cur.Assign(cur.ptrAdd(name, cur.t, 1, el.Size(), pc))
	}, func() {
		each(cur)
	}, pc)
}

func (f *Func) countType() tp.Type { return tp.I64 }

func (f *Func) cond(op string, c *Value, pc loc.PC) bool {
	if !f.use(op, c, pc) {
		return false
	}

	if _, ok := c.t.(tp.Bool); !ok {
		f.fail(&TypeMismatchError{Op: op + " condition", Left: c.t, Right: tp.Bool{}, At: pc})
		return false
	}

	return true
}

// merge joins flows at block at and makes it current.
// Variables listed in assigned or, if nil, all variables below n are reconciled.
func (f *Func) merge(at back.Block, flows []df.Flow, n int, assigned *set.Bits[int]) {
	f.b.SetBlock(at)

	switch len(flows) {
	case 0:
		f.dead = true
		return
	case 1:
		f.dead = false
		f.restore(flows[0].Refs)

		return
	}

	f.dead = false

	vars := make([]int, 0, n)

	for id, v := range f.vars[:n] {
		if f.closed.IsSet(v.scope) {
			continue
		}

		if assigned != nil && !assigned.IsSet(id) {
			continue
		}

		vars = append(vars, id)
	}

	f.restore(flows[0].Refs)

	m := df.Build(at, flows, vars)

	for i := range m.Vars {
		mv := &m.Vars[i]
		v := f.vars[mv.Var]

		mv.Out = f.b.Phi(at, v.t)

		for _, e := range mv.In {
			f.b.AddIncoming(mv.Out, e.From, e.Ref)
		}

		v.ref = mv.Out
	}

	if len(m.Vars) != 0 {
		tlog.V("meta_merge").Printw("merge", "at", at, "flows", len(flows), "vars", m.Vars)
	}
}

func (f *Func) deadBlock(name string) {
	f.b.SetBlock(f.b.NewBlock(name + ".dead"))
	f.dead = true
}

func (f *Func) snapshot(n int) []back.Ref {
	refs := make([]back.Ref, n)

	for id, v := range f.vars[:n] {
		refs[id] = v.ref
	}

	return refs
}

func (f *Func) restore(refs []back.Ref) {
	for id, r := range refs {
		f.vars[id].ref = r
	}
}

func (f *Func) scoped(body func()) {
	if body == nil {
		return
	}

	f.openScope()
	defer f.closeScope()

	body()
}

func (f *Func) openScope() {
	f.scopes = append(f.scopes, f.nextScope)
	f.nextScope++
}

func (f *Func) closeScope() {
	s := f.scopes[len(f.scopes)-1]
	f.scopes = f.scopes[:len(f.scopes)-1]

	f.closed.Set(s)
}

func (f *Func) pushFrame() {
	f.frames = append(f.frames, set.MakeBits(0))
}

// popFrame returns variables assigned in the frame and passes them to the parent.
func (f *Func) popFrame() *set.Bits[int] {
	s := f.frames[len(f.frames)-1]
	f.frames = f.frames[:len(f.frames)-1]

	if n := len(f.frames); n != 0 {
		f.frames[n-1].Merge(s)
	}

	return &s
}
