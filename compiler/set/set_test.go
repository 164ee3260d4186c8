package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBits(t *testing.T) {
	s := MakeBits(0)

	s.Set(1)
	s.Set(70)
	s.Set(200)

	assert.True(t, s.IsSet(70))
	assert.False(t, s.IsSet(71))
	assert.False(t, s.IsSet(-1))
	assert.Equal(t, 3, s.Size())

	x := MakeBits(0)
	x.Set(2)
	x.Set(70)

	c := s.Copy()
	c.Merge(x)

	var keys []int

	c.Range(func(k int) bool {
		keys = append(keys, k)
		return true
	})

	assert.Equal(t, []int{1, 2, 70, 200}, keys)
	assert.Equal(t, 3, s.Size(), "copy is independent")

	c.Clear(70)
	assert.False(t, c.IsSet(70))

	c.Reset()
	assert.Equal(t, 0, c.Size())
}

func TestBitmap(t *testing.T) {
	s := MakeBitmap(10)

	s.Set(3)
	s.Set(130)

	assert.True(t, s.IsSet(3))
	assert.True(t, s.IsSet(130))
	assert.False(t, s.IsSet(4))
	assert.Equal(t, 131, s.Len())
	assert.Equal(t, 2, s.Size())

	c := s.Copy()
	c.Clear(3)

	assert.True(t, s.IsSet(3))
	assert.False(t, c.IsSet(3))

	var nilmap *Bitmap

	assert.False(t, nilmap.IsSet(1))
}
