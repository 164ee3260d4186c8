package rt

import (
	"math"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"

	"github.com/slowlang/meta/compiler/tp"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KI8, KindOf(tp.I8))
	assert.Equal(t, KU32, KindOf(tp.U32))
	assert.Equal(t, KI64, KindOf(tp.I64))
	assert.Equal(t, KBool, KindOf(tp.Bool{}))
	assert.Equal(t, KPtr, KindOf(tp.PtrTo(tp.U8)))
	assert.Equal(t, KInvalid, KindOf(tp.Int{Bits: 12}))
}

func TestWraparound(t *testing.T) {
	assert.Equal(t, uint64(0), Binary(Add, KU8, Int(255), Int(1)).X)
	assert.Equal(t, uint64(math.MaxUint64), Binary(Sub, KU64, Int(0), Int(1)).X)

	min8 := Norm(KI8, 0x80)
	assert.Equal(t, int64(-128), int64(min8))
	assert.Equal(t, int64(-128), int64(Binary(Add, KI8, Int(127), Int(1)).X))
	assert.Equal(t, int64(-128), int64(Binary(Div, KI8, Int(min8), Int(Norm(KI8, uint64(math.MaxUint64)))).X))

	assert.Equal(t, int64(-3), int64(Binary(Div, KI32, si(-7), Int(2)).X))
	assert.Equal(t, int64(-1), int64(Binary(Rem, KI32, si(-7), Int(2)).X))

	assert.Equal(t, uint64(2), Binary(Shl, KU32, Int(1), Int(33)).X, "shift count is masked")
	assert.Equal(t, int64(-1), int64(Binary(Shr, KI16, Int(Norm(KI16, 0x8000)), Int(15)).X))
	assert.Equal(t, uint64(1), Binary(Shr, KU16, Int(0x8000), Int(15)).X)

	assert.Panics(t, func() { Binary(Div, KU64, Int(1), Int(0)) })
}

func TestUnaryCompareConvert(t *testing.T) {
	assert.Equal(t, uint64(0xff), Unary(Not, KU8, Int(0)).X)
	assert.Equal(t, uint64(0), Unary(Not, KBool, Int(1)).X)
	assert.Equal(t, int64(-5), int64(Unary(Neg, KI64, Int(5)).X))

	m1 := si(-1)

	assert.True(t, Compare(Lt, KI32, m1, Int(0)))
	assert.False(t, Compare(Lt, KU32, Int(Norm(KU32, m1.X)), Int(0)))

	assert.Equal(t, uint64(0xffffffff), Convert(KU32, KI8, Int(Norm(KI8, 0xff))).X)
	assert.Equal(t, uint64(0xff), Convert(KU64, KU8, Int(0xff)).X)
	assert.Equal(t, uint64(1), Convert(KBool, KU64, Int(42)).X)
	assert.Equal(t, int64(-1), int64(Convert(KI64, KI8, Int(Norm(KI8, 0xff))).X))
}

func TestMemory(t *testing.T) {
	data := []uint32{1, 2, 3, 4}

	p := Ptr(unsafe.Pointer(&data[0]))
	q := PtrAdd(p, Int(2), 4)

	assert.Equal(t, uint64(3), Load(KU32, q).X)

	Store(KU32, q, Int(30))
	assert.Equal(t, uint32(30), data[2])

	assert.Equal(t, uint64(2), PtrDiff(q, p, 4).X)
	assert.True(t, Compare(Lt, KPtr, p, q))
	assert.True(t, Compare(Eq, KPtr, q, PtrAdd(PtrAdd(p, Int(1), 4), Int(1), 4)))

	assert.Equal(t, uint64(1), Convert(KBool, KPtr, q).X, "aligned pointer is true")
	assert.Equal(t, uint64(1), Convert(KBool, KPtr, Ptr(unsafe.Pointer(&data[0]))).X)
	assert.Equal(t, uint64(0), Convert(KBool, KPtr, Ptr(nil)).X)
	assert.Equal(t, uint64(uintptr(unsafe.Pointer(&data[2]))), Convert(KU64, KPtr, q).X)

	var slot unsafe.Pointer

	Store(KPtr, Ptr(unsafe.Pointer(&slot)), q)
	assert.Equal(t, unsafe.Pointer(&data[2]), slot)
	assert.Equal(t, unsafe.Pointer(&data[2]), Load(KPtr, Ptr(unsafe.Pointer(&slot))).Addr())
}

func si(x int64) Word { return Int(uint64(x)) }
