package meta

import (
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"strconv"

	"tlog.app/go/errors"

	"github.com/slowlang/meta/compiler/back"
	"github.com/slowlang/meta/compiler/rt"
	"github.com/slowlang/meta/compiler/tp"
)

// Code is a finalized function.
// It holds no mutable state and may be called concurrently.
type Code struct {
	name string
	sig  tp.Func
	kind back.Kind

	prog back.Program
}

var (
	ErrArgs      = errors.New("arguments mismatch")
	ErrSignature = errors.New("signature mismatch")
)

func (c *Code) Name() string           { return c.name }
func (c *Code) Sig() tp.Func           { return c.sig }
func (c *Code) Backend() back.Kind     { return c.kind }
func (c *Code) Dump() []byte           { return c.prog.Dump() }
func (c *Code) Symbols() []back.Symbol { return c.prog.Symbols() }

// Run calls the function with raw words.
// len(args) must match the signature.
func (c *Code) Run(args []rt.Word) rt.Word {
	return c.prog.Run(args)
}

// Call converts Go values to arguments, calls the function and converts the result.
// Integers are accepted of any Go integer type and wrapped to the argument width,
// pointers are Go pointers, unsafe.Pointer, slices or nil.
// The result is a Go value of the matching sized type or nil for void.
func (c *Code) Call(args ...any) (any, error) {
	if len(args) != len(c.sig.In) {
		return nil, errors.Wrap(ErrArgs, "%s: want %d arguments, got %d", c.name, len(c.sig.In), len(args))
	}

	words := make([]rt.Word, len(args))

	for i, a := range args {
		w, err := toWord(c.sig.In[i], reflect.ValueOf(a))
		if err != nil {
			return nil, errors.Wrap(err, "%s: argument %d", c.name, i)
		}

		words[i] = w
	}

	r := c.prog.Run(words)

	if c.sig.Out == nil {
		return nil, nil
	}

	return fromWord(c.sig.Out, r), nil
}

// Bind sets *fnptr to a Go function calling the code.
// The function type must match the signature exactly.
func (c *Code) Bind(fnptr any) error {
	pv := reflect.ValueOf(fnptr)

	if pv.Kind() != reflect.Pointer || pv.Elem().Kind() != reflect.Func {
		return errors.Wrap(ErrSignature, "%s: want pointer to func, got %T", c.name, fnptr)
	}

	ft := pv.Elem().Type()

	err := c.checkFunc(ft)
	if err != nil {
		return errors.Wrap(err, "%s: bind %v", c.name, ft)
	}

	var out reflect.Type
	if ft.NumOut() != 0 {
		out = ft.Out(0)
	}

	fn := reflect.MakeFunc(ft, func(in []reflect.Value) []reflect.Value {
		words := make([]rt.Word, len(in))

		for i, a := range in {
			words[i], _ = toWord(c.sig.In[i], a)
		}

		r := c.prog.Run(words)

		if out == nil {
			return nil
		}

		return []reflect.Value{wordValue(out, r)}
	})

	pv.Elem().Set(fn)

	return nil
}

// WriteProfile writes the code map in perf map format:
// one line per code range, START SIZE name, hex.
func (c *Code) WriteProfile(w io.Writer) error {
	var b []byte

	for _, s := range c.prog.Symbols() {
		if s.Size == 0 {
			continue
		}

		b = fmt.Appendf(b, "%x %x meta.%s.%s", s.Start, s.Size, c.name, s.Name)

		if s.Pos != 0 {
			_, file, line := s.Pos.NameFileLine()
			b = fmt.Appendf(b, "@%s:%d", filepath.Base(file), line)
		}

		if s.Text != "" {
			b = fmt.Appendf(b, " [%s]", s.Text)
		}

		b = append(b, '\n')
	}

	_, err := w.Write(b)

	return err
}

func (c *Code) checkFunc(ft reflect.Type) error {
	if ft.IsVariadic() || ft.NumIn() != len(c.sig.In) {
		return errors.Wrap(ErrSignature, "want %d arguments", len(c.sig.In))
	}

	for i, t := range c.sig.In {
		if !goTypeFits(t, ft.In(i)) {
			return errors.Wrap(ErrSignature, "argument %d: %v does not fit %v", i, ft.In(i), t)
		}
	}

	switch {
	case c.sig.Out == nil && ft.NumOut() == 0:
	case c.sig.Out == nil || ft.NumOut() != 1:
		return errors.Wrap(ErrSignature, "want %d results", ft.NumOut())
	case ft.Out(0).Kind() == reflect.Slice || !goTypeFits(c.sig.Out, ft.Out(0)):
		return errors.Wrap(ErrSignature, "result: %v does not fit %v", ft.Out(0), c.sig.Out)
	}

	return nil
}

// goTypeFits reports whether Go type g represents t exactly.
func goTypeFits(t tp.Type, g reflect.Type) bool {
	switch t := t.(type) {
	case tp.Bool:
		return g.Kind() == reflect.Bool
	case tp.Int:
		if int(g.Size())*8 != int(t.Bits) {
			return false
		}

		switch g.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return t.Signed
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			return !t.Signed
		}
	case tp.Ptr:
		switch g.Kind() {
		case reflect.UnsafePointer:
			return true
		case reflect.Pointer, reflect.Slice:
			return t.Elem == nil || int(g.Elem().Size()) == t.Elem.Size()
		}
	}

	return false
}

func toWord(t tp.Type, v reflect.Value) (rt.Word, error) {
	k := rt.KindOf(t)

	if !v.IsValid() {
		if k == rt.KPtr {
			return rt.Word{}, nil
		}

		return rt.Word{}, errors.Wrap(ErrArgs, "nil for %v", t)
	}

	switch v.Kind() {
	case reflect.Bool:
		if k == rt.KBool {
			return rt.Bool(v.Bool()), nil
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if k != rt.KBool && k != rt.KPtr {
			return rt.Int(rt.Norm(k, uint64(v.Int()))), nil
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		if k != rt.KBool && k != rt.KPtr {
			return rt.Int(rt.Norm(k, v.Uint())), nil
		}
	case reflect.Pointer, reflect.UnsafePointer, reflect.Slice:
		if k == rt.KPtr {
			return rt.Ptr(v.UnsafePointer()), nil
		}
	}

	return rt.Word{}, errors.Wrap(ErrArgs, "%v for %v", v.Type(), t)
}

// fromWord converts result word to the Go type of the same size and signedness.
func fromWord(t tp.Type, w rt.Word) any {
	switch k := rt.KindOf(t); k {
	case rt.KBool:
		return w.X != 0
	case rt.KI8:
		return int8(w.X)
	case rt.KI16:
		return int16(w.X)
	case rt.KI32:
		return int32(w.X)
	case rt.KI64:
		return int64(w.X)
	case rt.KU8:
		return uint8(w.X)
	case rt.KU16:
		return uint16(w.X)
	case rt.KU32:
		return uint32(w.X)
	case rt.KU64:
		return w.X
	case rt.KPtr:
		return w.Addr()
	default:
		return "invalid kind " + strconv.Itoa(int(k))
	}
}

func wordValue(g reflect.Type, w rt.Word) reflect.Value {
	r := reflect.New(g).Elem()

	switch g.Kind() {
	case reflect.Bool:
		r.SetBool(w.X != 0)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		r.SetInt(int64(w.X))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		r.SetUint(w.X)
	case reflect.UnsafePointer:
		r.SetPointer(w.Addr())
	case reflect.Pointer:
		r = reflect.NewAt(g.Elem(), w.Addr())
	}

	return r
}
