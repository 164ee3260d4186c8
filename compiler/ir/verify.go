package ir

import (
	"fmt"

	"tlog.app/go/errors"
	"tlog.app/go/loc"

	"github.com/slowlang/meta/compiler/tp"
)

type (
	// Error is a malformed function reported by Verify.
	Error struct {
		Func  string
		Block string
		Expr  Expr
		Pos   loc.PC

		Reason string
	}

	// Graph is the control flow of a pruned function.
	Graph struct {
		Preds [][]Label
		RPO   []Label

		idom  []Label
		order []int
	}
)

func (e *Error) Error() string {
	if e.Block == "" {
		return fmt.Sprintf("ir: %s: %s", e.Func, e.Reason)
	}

	return fmt.Sprintf("ir: %s: block %s: %s", e.Func, e.Block, e.Reason)
}

// Verify checks reachable blocks of a pruned function:
// every block is terminated, phis have exactly one value per predecessor
// of the expected type, and every use is dominated by its definition.
func (f *Func) Verify() (*Graph, error) {
	if f.err != nil {
		return nil, errors.Wrap(f.err, "ir: %s", f.Name)
	}

	if len(f.Blocks) == 0 {
		return nil, f.errorf(NoLabel, Nil, "no blocks")
	}

	if f.reach.Len() == 0 {
		f.Prune()
	}

	for l, b := range f.Blocks {
		if !f.reach.IsSet(l) {
			continue
		}

		if b.Term == Nil {
			return nil, f.errorf(Label(l), Nil, "block is not terminated")
		}

		for _, s := range f.Succs(Label(l)) {
			if s < 0 || int(s) >= len(f.Blocks) {
				return nil, f.errorf(Label(l), b.Term, "branch to undefined block %d", s)
			}
		}
	}

	g := f.graph()

	for _, l := range g.RPO {
		b := f.Blocks[l]

		for _, id := range b.Phi {
			if err := f.verifyPhi(g, l, id); err != nil {
				return nil, err
			}
		}

		for i, id := range b.Code {
			if err := f.verifyExpr(g, l, i, id); err != nil {
				return nil, err
			}
		}

		if err := f.verifyExpr(g, l, len(b.Code), b.Term); err != nil {
			return nil, err
		}
	}

	return g, nil
}

func (f *Func) verifyPhi(g *Graph, l Label, id Expr) error {
	p := f.Exprs[id].(Phi)
	preds := g.Preds[l]

	if len(p) != len(preds) {
		return f.errorf(l, id, "phi has %d incoming values for %d predecessors", len(p), len(preds))
	}

	for _, pred := range preds {
		n := 0

		for _, br := range p {
			if br.B == pred {
				n++
			}
		}

		if n != 1 {
			return f.errorf(l, id, "phi has %d incoming values from block %s", n, f.Blocks[pred].Name)
		}
	}

	for _, br := range p {
		if err := f.defined(br.Expr); err != nil {
			return f.errorf(l, id, "phi incoming: %v", err)
		}

		if !tp.Equal(f.EType[br.Expr], f.EType[id]) {
			return f.errorf(l, id, "phi of %v merges %v from block %s", f.EType[id], f.EType[br.Expr], f.Blocks[br.B].Name)
		}

		def := f.EBlock[br.Expr]

		if !g.Dominates(def, br.B) {
			return f.errorf(l, id, "phi incoming %d from block %s is not dominated by its definition in %s", br.Expr, f.Blocks[br.B].Name, f.Blocks[def].Name)
		}
	}

	return nil
}

func (f *Func) verifyExpr(g *Graph, l Label, pos int, id Expr) error {
	x := f.Exprs[id]

	for _, op := range Operands(x) {
		if err := f.defined(op); err != nil {
			return f.errorf(l, id, "%T: %v", x, err)
		}

		def := f.EBlock[op]

		if def == l {
			if f.index(l, op) >= pos {
				return f.errorf(l, id, "%T uses %d before its definition", x, op)
			}

			continue
		}

		if !g.Dominates(def, l) {
			return f.errorf(l, id, "%T uses %d not dominated by its definition in %s", x, op, f.Blocks[def].Name)
		}
	}

	if r, ok := x.(Ret); ok {
		switch {
		case r.X == Nil && f.Out != nil:
			return f.errorf(l, id, "missing return value of type %v", f.Out)
		case r.X != Nil && f.Out == nil:
			return f.errorf(l, id, "void function returns %v", f.EType[r.X])
		case r.X != Nil && !tp.Equal(f.EType[r.X], f.Out):
			return f.errorf(l, id, "return of %v from function returning %v", f.EType[r.X], f.Out)
		}
	}

	if c, ok := x.(BCond); ok {
		if _, ok := f.EType[c.Expr].(tp.Bool); !ok {
			return f.errorf(l, id, "branch on %v", f.EType[c.Expr])
		}
	}

	return nil
}

func (f *Func) defined(x Expr) error {
	if x < 0 || int(x) >= len(f.Exprs) {
		return errors.New("undefined value %d", x)
	}

	if !f.reach.IsSet(int(f.EBlock[x])) {
		return errors.New("value %d is defined in unreachable block %s", x, f.Blocks[f.EBlock[x]].Name)
	}

	if t := f.EType[x]; t == nil {
		return errors.New("value %d has no type", x)
	}

	return nil
}

// index is the position of x in its block. Phis come first.
func (f *Func) index(l Label, x Expr) int {
	b := f.Blocks[l]

	for _, id := range b.Phi {
		if id == x {
			return -1
		}
	}

	for i, id := range b.Code {
		if id == x {
			return i
		}
	}

	return len(b.Code) + 1
}

func (f *Func) errorf(l Label, x Expr, format string, args ...any) error {
	e := &Error{
		Func:   f.Name,
		Expr:   x,
		Reason: fmt.Sprintf(format, args...),
	}

	if l >= 0 && int(l) < len(f.Blocks) {
		e.Block = f.Blocks[l].Name
	}

	if x >= 0 && int(x) < len(f.EPos) {
		e.Pos = f.EPos[x]
	}

	return e
}

func (f *Func) graph() *Graph {
	return NewGraph(len(f.Blocks), f.Succs)
}

// NewGraph computes predecessors, reverse postorder and dominators
// of the blocks reachable from Entry.
func NewGraph(n int, succs func(Label) []Label) *Graph {
	g := &Graph{
		Preds: make([][]Label, n),
		idom:  make([]Label, n),
		order: make([]int, n),
	}

	visited := make([]bool, n)
	post := make([]Label, 0, n)

	type frame struct {
		b Label
		i int
	}

	st := []frame{{b: Entry}}
	visited[Entry] = true

	for len(st) != 0 {
		top := &st[len(st)-1]
		succ := succs(top.b)

		if top.i < len(succ) {
			s := succ[top.i]
			top.i++

			if s >= 0 && int(s) < n && !visited[s] {
				visited[s] = true
				st = append(st, frame{b: s})
			}

			continue
		}

		post = append(post, top.b)
		st = st[:len(st)-1]
	}

	for i := len(post) - 1; i >= 0; i-- {
		g.RPO = append(g.RPO, post[i])
	}

	for l := 0; l < n; l++ {
		if !visited[l] {
			continue
		}

		for _, s := range succs(Label(l)) {
			g.Preds[s] = append(g.Preds[s], Label(l))
		}
	}

	for i := range g.idom {
		g.idom[i] = -1
		g.order[i] = -1
	}

	for i, b := range g.RPO {
		g.order[b] = i
	}

	g.idom[Entry] = Entry

	for changed := true; changed; {
		changed = false

		for _, b := range g.RPO[1:] {
			d := Label(-1)

			for _, p := range g.Preds[b] {
				if g.idom[p] == -1 {
					continue
				}

				if d == -1 {
					d = p
					continue
				}

				d = g.intersect(p, d)
			}

			if g.idom[b] != d {
				g.idom[b] = d
				changed = true
			}
		}
	}

	return g
}

// Reachable reports whether b was visited from Entry.
func (g *Graph) Reachable(b Label) bool {
	return g.order[b] >= 0
}

func (g *Graph) intersect(a, b Label) Label {
	for a != b {
		for g.order[a] > g.order[b] {
			a = g.idom[a]
		}

		for g.order[b] > g.order[a] {
			b = g.idom[b]
		}
	}

	return a
}

// Dominates reports whether every path from the entry to b passes a.
func (g *Graph) Dominates(a, b Label) bool {
	for {
		if a == b {
			return true
		}

		if b == Entry || g.idom[b] < 0 {
			return false
		}

		b = g.idom[b]
	}
}
