package ir

import (
	"context"

	"nikand.dev/go/heap"
	"tlog.app/go/tlog"

	"github.com/slowlang/meta/compiler/set"
)

type phiQueue struct {
	heap.Heap[Expr]

	queued set.Bitmap
}

// Prune marks reachable blocks and drops phi branches
// coming from blocks that are never executed.
func (f *Func) Prune() {
	f.reach = set.MakeBitmap(len(f.Blocks))

	q := []Label{Entry}
	f.reach.Set(int(Entry))

	for len(q) != 0 {
		b := q[len(q)-1]
		q = q[:len(q)-1]

		for _, s := range f.Succs(b) {
			if s < 0 || int(s) >= len(f.Blocks) || f.reach.IsSet(int(s)) {
				continue
			}

			f.reach.Set(int(s))
			q = append(q, s)
		}
	}

	for l, b := range f.Blocks {
		if !f.reach.IsSet(l) {
			continue
		}

		for _, id := range b.Phi {
			p := f.Exprs[id].(Phi)
			live := p[:0:0]

			for _, br := range p {
				if f.reach.IsSet(int(br.B)) {
					live = append(live, br)
				}
			}

			f.Exprs[id] = live
		}
	}
}

// RemoveTrivialPhis replaces phis merging a single value
// (possibly together with the phi itself) by that value.
// It returns the number of removed phis.
func (f *Func) RemoveTrivialPhis(ctx context.Context) int {
	tr := tlog.SpanFromContext(ctx)

	rename := make(map[Expr]Expr)
	ren := func(x Expr) Expr {
		for {
			y, ok := rename[x]
			if !ok {
				return x
			}

			x = y
		}
	}

	users := make(map[Expr][]Expr)

	q := phiQueue{
		Heap:   heap.Heap[Expr]{Less: func(d []Expr, i, j int) bool { return d[i] < d[j] }},
		queued: set.MakeBitmap(len(f.Exprs)),
	}

	push := func(id Expr) {
		if q.queued.IsSet(int(id)) {
			return
		}

		q.queued.Set(int(id))
		q.Push(id)
	}

	for l, b := range f.Blocks {
		if !f.reach.IsSet(l) {
			continue
		}

		for _, id := range b.Phi {
			for _, br := range f.Exprs[id].(Phi) {
				users[br.Expr] = append(users[br.Expr], id)
			}

			push(id)
		}
	}

	for q.Len() != 0 {
		id := q.Pop()
		q.queued.Clear(int(id))

		if _, ok := rename[id]; ok {
			continue
		}

		same := f.trivialPhi(id, ren)

		if same == Nil {
			continue
		}

		tr.V("trivial_phi").Printw("trivial phi", "id", id, "to", same)

		rename[id] = same

		for _, u := range users[id] {
			if u != id {
				push(u)
			}
		}

		users[same] = append(users[same], users[id]...)
	}

	if len(rename) == 0 {
		return 0
	}

	for l, b := range f.Blocks {
		if !f.reach.IsSet(l) {
			continue
		}

		phis := b.Phi[:0]

		for _, id := range b.Phi {
			if _, ok := rename[id]; !ok {
				phis = append(phis, id)
			}
		}

		b.Phi = phis

		for _, id := range b.Phi {
			f.Exprs[id] = rewrite(f.Exprs[id], ren)
		}

		for _, id := range b.Code {
			f.Exprs[id] = rewrite(f.Exprs[id], ren)
		}

		if b.Term != Nil {
			f.Exprs[b.Term] = rewrite(f.Exprs[b.Term], ren)
		}
	}

	return len(rename)
}

// trivialPhi returns the only value phi id merges besides itself or Nil.
func (f *Func) trivialPhi(id Expr, ren func(Expr) Expr) Expr {
	same := Nil

	for _, br := range f.Exprs[id].(Phi) {
		x := ren(br.Expr)

		if x == id || x == same {
			continue
		}

		if same != Nil {
			return Nil
		}

		same = x
	}

	return same
}
