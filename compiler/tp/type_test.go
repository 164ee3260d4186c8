package tp

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIntLimits(t *testing.T) {
	assert.Equal(t, int64(-128), I8.Min())
	assert.Equal(t, uint64(127), I8.Max())
	assert.Equal(t, uint64(255), U8.Max())
	assert.Equal(t, int64(0), U32.Min())
	assert.Equal(t, ^uint64(0), U64.Mask())
	assert.Equal(t, uint64(1<<63-1), I64.Max())
}

func TestStructLayout(t *testing.T) {
	s := NewStruct(
		StructField{Name: "a", Type: U8},
		StructField{Name: "b", Type: U64},
		StructField{Name: "c", Type: I32},
	)

	assert.Equal(t, 0, s.Fields[0].Offset)
	assert.Equal(t, 8, s.Fields[1].Offset)
	assert.Equal(t, 16, s.Fields[2].Offset)
	assert.Equal(t, 24, s.Size())
	assert.Equal(t, 8, s.Align())
	assert.Equal(t, "struct{a u8; b u64; c i32}", s.String())
}

func TestIsScalar(t *testing.T) {
	assert.True(t, IsScalar(Bool{}))
	assert.True(t, IsScalar(U8))
	assert.True(t, IsScalar(I64))
	assert.True(t, IsScalar(PtrTo(NewStruct())))

	assert.False(t, IsScalar(Int{Bits: 12}))
	assert.False(t, IsScalar(Int{Bits: 128, Signed: true}))
	assert.False(t, IsScalar(Array{Elem: U8, Len: 4}))
	assert.False(t, IsScalar(NewStruct()))
	assert.False(t, IsScalar(nil))
}

func TestEqual(t *testing.T) {
	s := NewStruct(StructField{Name: "x", Type: U64})

	assert.True(t, Equal(PtrTo(U64), PtrTo(U64)))
	assert.False(t, Equal(PtrTo(U64), PtrTo(I64)))
	assert.True(t, Equal(PtrTo(s), PtrTo(NewStruct(StructField{Name: "x", Type: U64}))))
	assert.False(t, Equal(U64, Bool{}))
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(U8, nil))

	f := NewFunc(U64, PtrTo(U64), U64)

	assert.True(t, Equal(f, NewFunc(U64, PtrTo(U64), U64)))
	assert.False(t, Equal(f, NewFunc(nil, PtrTo(U64), U64)))
	assert.Equal(t, "func(*u64, u64) u64", f.String())
}
