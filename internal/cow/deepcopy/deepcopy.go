// Package deepcopy provides identity keys and cycle-safe deep copying
// for the values the copy gate duplicates.
package deepcopy

import (
	"fmt"
	"reflect"

	"github.com/TuringLang/Libtask/tape"
)

// ErrUncopyable marks values whose type cannot be duplicated (channels,
// functions, unsafe pointers). A gate hitting one of these surfaces the
// failure at the mutating call site instead of silently sharing.
type ErrUncopyable struct {
	Type reflect.Type
}

func (e *ErrUncopyable) Error() string {
	return fmt.Sprintf("deepcopy: cannot copy value of type %s", e.Type)
}

// Key is an identity key for a heap value. Two values compare equal by
// Key exactly when they are the same instance, regardless of contents.
type Key struct {
	ptr  uintptr
	kind reflect.Kind
}

// Identity returns the identity key of v. Only pointer-shaped values
// (pointers, maps, slices, channels, functions) carry identity; for
// everything else ok is false and the gate treats the value as
// untrackable, passing it through unchanged.
func Identity(v any) (Key, bool) {
	if v == nil {
		return Key{}, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return Key{ptr: rv.Pointer(), kind: rv.Kind()}, true
	case reflect.Slice:
		if rv.Len() == 0 && rv.Cap() == 0 {
			return Key{}, false
		}
		return Key{ptr: rv.Pointer(), kind: rv.Kind()}, true
	}
	return Key{}, false
}

// Copy produces a deep copy of v. Object graphs may be cyclic: already
// visited instances are mapped to their copies so the result preserves
// the original's aliasing structure. Values implementing tape.Copyable
// copy themselves. Scalars and strings are returned as-is.
func Copy(v any) (any, error) {
	return copyValue(v, make(map[Key]any))
}

func copyValue(v any, seen map[Key]any) (any, error) {
	if v == nil {
		return nil, nil
	}
	if key, ok := Identity(v); ok {
		if dup, ok := seen[key]; ok {
			return dup, nil
		}
	}
	if c, ok := v.(tape.Copyable); ok {
		dup := c.CopyOnWrite()
		if key, ok := Identity(v); ok {
			seen[key] = dup
		}
		return dup, nil
	}
	switch x := v.(type) {
	case *tape.Vector:
		return copyVector(x, seen)
	case tape.Dict:
		return copyDict(x, seen)
	}
	return copyReflect(reflect.ValueOf(v), seen)
}

func copyVector(v *tape.Vector, seen map[Key]any) (any, error) {
	dup := &tape.Vector{Elems: make([]any, len(v.Elems))}
	key, _ := Identity(v)
	seen[key] = dup
	for i, e := range v.Elems {
		c, err := copyValue(e, seen)
		if err != nil {
			return nil, err
		}
		dup.Elems[i] = c
	}
	return dup, nil
}

func copyDict(d tape.Dict, seen map[Key]any) (any, error) {
	dup := make(tape.Dict, len(d))
	key, _ := Identity(d)
	seen[key] = dup
	for k, v := range d {
		c, err := copyValue(v, seen)
		if err != nil {
			return nil, err
		}
		dup[k] = c
	}
	return dup, nil
}

// copyReflect handles the generic cases: pointers, maps, slices, arrays,
// and structs are duplicated recursively; scalars pass through.
func copyReflect(rv reflect.Value, seen map[Key]any) (any, error) {
	switch rv.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128,
		reflect.String:
		return rv.Interface(), nil

	case reflect.Pointer:
		if rv.IsNil() {
			return rv.Interface(), nil
		}
		dup := reflect.New(rv.Type().Elem())
		seen[Key{ptr: rv.Pointer(), kind: reflect.Pointer}] = dup.Interface()
		elem, err := copyValue(rv.Elem().Interface(), seen)
		if err != nil {
			return nil, err
		}
		if elem != nil {
			dup.Elem().Set(reflect.ValueOf(elem))
		}
		return dup.Interface(), nil

	case reflect.Map:
		if rv.IsNil() {
			return rv.Interface(), nil
		}
		dup := reflect.MakeMapWithSize(rv.Type(), rv.Len())
		seen[Key{ptr: rv.Pointer(), kind: reflect.Map}] = dup.Interface()
		iter := rv.MapRange()
		for iter.Next() {
			c, err := copyValue(iter.Value().Interface(), seen)
			if err != nil {
				return nil, err
			}
			if c == nil {
				dup.SetMapIndex(iter.Key(), reflect.Zero(rv.Type().Elem()))
			} else {
				dup.SetMapIndex(iter.Key(), reflect.ValueOf(c))
			}
		}
		return dup.Interface(), nil

	case reflect.Slice:
		if rv.IsNil() {
			return rv.Interface(), nil
		}
		dup := reflect.MakeSlice(rv.Type(), rv.Len(), rv.Len())
		if key, ok := Identity(rv.Interface()); ok {
			seen[key] = dup.Interface()
		}
		for i := 0; i < rv.Len(); i++ {
			c, err := copyValue(rv.Index(i).Interface(), seen)
			if err != nil {
				return nil, err
			}
			if c != nil {
				dup.Index(i).Set(reflect.ValueOf(c))
			}
		}
		return dup.Interface(), nil

	case reflect.Array:
		dup := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.Len(); i++ {
			c, err := copyValue(rv.Index(i).Interface(), seen)
			if err != nil {
				return nil, err
			}
			if c != nil {
				dup.Index(i).Set(reflect.ValueOf(c))
			}
		}
		return dup.Interface(), nil

	case reflect.Struct:
		dup := reflect.New(rv.Type()).Elem()
		for i := 0; i < rv.NumField(); i++ {
			if !dup.Field(i).CanSet() {
				return nil, &ErrUncopyable{Type: rv.Type()}
			}
			c, err := copyValue(rv.Field(i).Interface(), seen)
			if err != nil {
				return nil, err
			}
			if c != nil {
				dup.Field(i).Set(reflect.ValueOf(c))
			}
		}
		return dup.Interface(), nil

	case reflect.Interface:
		if rv.IsNil() {
			return nil, nil
		}
		return copyValue(rv.Elem().Interface(), seen)
	}
	return nil, &ErrUncopyable{Type: rv.Type()}
}
