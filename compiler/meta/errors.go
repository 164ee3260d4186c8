package meta

import (
	"fmt"

	"tlog.app/go/loc"

	"github.com/slowlang/meta/compiler/tp"
)

type (
	// TypeMismatchError is an operation over incompatible types.
	// Right is nil for a constant that does not fit Left.
	TypeMismatchError struct {
		Op    string
		Left  tp.Type
		Right tp.Type
		Const any
		At    loc.PC
	}

	// UseAfterFinalizeError is any operation on a finalized Func.
	UseAfterFinalizeError struct {
		Op string
		At loc.PC
	}

	// ScopeError is a value used after the construct it was created in has ended.
	ScopeError struct {
		Op      string
		Defined loc.PC
		At      loc.PC
	}
)

func (e *TypeMismatchError) Error() string {
	var b []byte

	switch {
	case e.Const != nil:
		b = fmt.Appendf(b, "meta: %s: constant %v does not fit %v", e.Op, e.Const, e.Left)
	case e.Right == nil:
		b = fmt.Appendf(b, "meta: %s: unsupported type %v", e.Op, e.Left)
	default:
		b = fmt.Appendf(b, "meta: %s: type mismatch: %v and %v", e.Op, e.Left, e.Right)
	}

	return string(appendPos(b, e.At))
}

func (e *UseAfterFinalizeError) Error() string {
	b := fmt.Appendf(nil, "meta: %s: function is finalized", e.Op)

	return string(appendPos(b, e.At))
}

func (e *ScopeError) Error() string {
	b := fmt.Appendf(nil, "meta: %s: value used outside its scope", e.Op)

	if e.Defined != 0 {
		_, file, line := e.Defined.NameFileLine()
		b = fmt.Appendf(b, " (defined at %s:%d)", file, line)
	}

	return string(appendPos(b, e.At))
}

func appendPos(b []byte, pc loc.PC) []byte {
	if pc == 0 {
		return b
	}

	_, file, line := pc.NameFileLine()

	return fmt.Appendf(b, " (at %s:%d)", file, line)
}
