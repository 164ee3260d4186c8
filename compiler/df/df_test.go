package df

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/slowlang/meta/compiler/back"
)

func TestBuild(t *testing.T) {
	flows := []Flow{
		{From: 1, Refs: []back.Ref{10, 11, 12}},
		{From: 2, Refs: []back.Ref{10, 21, 12}},
	}

	m := Build(3, flows, []int{0, 1, 2})

	assert.Equal(t, back.Block(3), m.At)

	if assert.Len(t, m.Vars, 1) {
		v := m.Vars[0]

		assert.Equal(t, 1, v.Var)
		assert.Equal(t, []Edge{{From: 1, Ref: 11}, {From: 2, Ref: 21}}, v.In)
		assert.Equal(t, back.NoRef, v.Out)
		assert.False(t, v.Same())
	}

	m = Build(3, flows, []int{0, 2})
	assert.Empty(t, m.Vars)
}
