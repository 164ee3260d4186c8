// Package df describes how variable values flow into join points.
package df

import (
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/meta/compiler/back"
)

type (
	// Edge is the value a variable carries along one incoming edge.
	Edge struct {
		From back.Block
		Ref  back.Ref
	}

	// Flow is one incoming edge with the values of all tracked variables.
	Flow struct {
		From back.Block
		Refs []back.Ref
	}

	MergeVar struct {
		Var int
		In  []Edge
		Out back.Ref
	}

	// Merge is the reconciliation performed at one join block.
	Merge struct {
		At   back.Block
		Vars []MergeVar
	}
)

// Same reports whether every incoming edge carries the same value.
func (v MergeVar) Same() bool {
	for _, e := range v.In[1:] {
		if e.Ref != v.In[0].Ref {
			return false
		}
	}

	return true
}

// Build collects per variable incoming values for variables listed in vars.
// Variables carrying the same value on every edge are left out.
func Build(at back.Block, flows []Flow, vars []int) (m Merge) {
	m.At = at

	for _, id := range vars {
		mv := MergeVar{
			Var: id,
			In:  make([]Edge, len(flows)),
			Out: back.NoRef,
		}

		for i, fl := range flows {
			mv.In[i] = Edge{From: fl.From, Ref: fl.Refs[id]}
		}

		if mv.Same() {
			continue
		}

		m.Vars = append(m.Vars, mv)
	}

	return m
}

func (e Edge) TlogAppend(b []byte) []byte {
	var enc tlwire.Encoder

	b = enc.AppendMap(b, 2)
	b = enc.AppendKeyInt64(b, "from", int64(e.From))
	b = enc.AppendKeyInt64(b, "ref", int64(e.Ref))

	return b
}
