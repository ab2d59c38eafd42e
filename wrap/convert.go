package wrap

import (
	"fmt"
	"reflect"

	"github.com/chazu/clientserver/interp"
	"github.com/chazu/clientserver/stream"
)

var idType = reflect.TypeOf(stream.ID(0))

// convertArgs converts message arguments to the parameters of a method of
// type ft, expanding the variadic tail.
func convertArgs(ft reflect.Type, args []stream.Argument) ([]reflect.Value, error) {
	n := ft.NumIn()
	if ft.IsVariadic() {
		if len(args) < n-1 {
			return nil, fmt.Errorf("%w: want at least %d, got %d", ErrArgCount, n-1, len(args))
		}
	} else if len(args) != n {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrArgCount, n, len(args))
	}

	vals := make([]reflect.Value, len(args))
	for i, a := range args {
		pt := paramType(ft, i)
		v, err := convert(a, pt)
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		vals[i] = v
	}
	return vals, nil
}

func paramType(ft reflect.Type, i int) reflect.Type {
	n := ft.NumIn()
	if ft.IsVariadic() && i >= n-1 {
		return ft.In(n - 1).Elem()
	}
	return ft.In(i)
}

func convert(a stream.Argument, pt reflect.Type) (reflect.Value, error) {
	if a.Type == stream.ArgID {
		id, _ := a.AsID()
		if pt == idType {
			return reflect.ValueOf(id), nil
		}
		// Bound handles were spliced away by expansion.
		return reflect.Value{}, fmt.Errorf("%w: %d", interp.ErrUnknownHandle, id)
	}
	if a.Type == stream.ArgObject {
		obj, _ := a.AsObject()
		if obj == nil {
			if nillable(pt) {
				return reflect.Zero(pt), nil
			}
			return reflect.Value{}, mismatch(a, pt)
		}
		v := reflect.ValueOf(obj)
		if !v.Type().AssignableTo(pt) {
			return reflect.Value{}, mismatch(a, pt)
		}
		return v, nil
	}

	out := reflect.New(pt).Elem()
	switch pt.Kind() {
	case reflect.Bool:
		b, ok := a.AsBool()
		if !ok {
			return reflect.Value{}, mismatch(a, pt)
		}
		out.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := a.AsInt()
		if !ok || out.OverflowInt(i) {
			return reflect.Value{}, mismatch(a, pt)
		}
		out.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, ok := a.AsUint()
		if !ok || out.OverflowUint(u) {
			return reflect.Value{}, mismatch(a, pt)
		}
		out.SetUint(u)
	case reflect.Float32, reflect.Float64:
		f, ok := a.AsFloat()
		if !ok || out.OverflowFloat(f) {
			return reflect.Value{}, mismatch(a, pt)
		}
		out.SetFloat(f)
	case reflect.String:
		s, ok := a.AsString()
		if !ok {
			return reflect.Value{}, mismatch(a, pt)
		}
		out.SetString(s)
	case reflect.Slice:
		b, ok := a.AsBytes()
		if !ok || pt.Elem().Kind() != reflect.Uint8 {
			return reflect.Value{}, mismatch(a, pt)
		}
		out.SetBytes(append([]byte(nil), b...))
	case reflect.Interface:
		v := reflect.ValueOf(a.Value)
		if !v.IsValid() || !v.Type().AssignableTo(pt) {
			return reflect.Value{}, mismatch(a, pt)
		}
		out.Set(v)
	default:
		return reflect.Value{}, mismatch(a, pt)
	}
	return out, nil
}

func nillable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return true
	}
	return false
}

func mismatch(a stream.Argument, pt reflect.Type) error {
	return fmt.Errorf("%w: cannot use %s as %s", ErrArgType, a.Type, pt)
}

// toArgument converts a method result to a message argument. Values that
// are not scalars travel as object references.
func toArgument(v reflect.Value) stream.Argument {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return stream.Object(nil)
		}
		v = v.Elem()
	}
	if v.Type() == idType {
		return stream.Handle(stream.ID(v.Uint()))
	}
	switch v.Kind() {
	case reflect.Bool:
		return stream.Bool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return stream.Int(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return stream.Uint(v.Uint())
	case reflect.Float32, reflect.Float64:
		return stream.Float(v.Float())
	case reflect.String:
		return stream.String(v.String())
	case reflect.Slice:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return stream.Bytes(append([]byte(nil), v.Bytes()...))
		}
	}
	if v.Kind() == reflect.Pointer && v.IsNil() {
		return stream.Object(nil)
	}
	return stream.Object(v.Interface())
}
