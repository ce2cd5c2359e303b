package tape

import "reflect"

// CopyPolicy decides which values the copy gate may copy. Everything the
// policy does not recognize passes through the gate unchanged, so by
// default nothing is copied; callers opt types in predicate by predicate.
type CopyPolicy struct {
	preds []func(any) bool
}

// NewCopyPolicy returns a policy that recognizes nothing.
func NewCopyPolicy() *CopyPolicy { return &CopyPolicy{} }

// DefaultCopyPolicy returns the standard opt-in set: values implementing
// Copyable, the builtin containers (*Vector, Dict), pointers to slices or
// arrays of numeric elements, and key/value maps.
func DefaultCopyPolicy() *CopyPolicy {
	p := NewCopyPolicy()
	p.Register(func(v any) bool {
		_, ok := v.(Copyable)
		return ok
	})
	p.Register(func(v any) bool {
		switch v.(type) {
		case *Vector, Dict:
			return true
		}
		return false
	})
	p.Register(isNumericContainerPtr)
	p.Register(func(v any) bool {
		return v != nil && reflect.TypeOf(v).Kind() == reflect.Map
	})
	return p
}

// Register adds a predicate. The policy recognizes a value as soon as
// any predicate does.
func (p *CopyPolicy) Register(pred func(any) bool) {
	p.preds = append(p.preds, pred)
}

// CopyWorthy reports whether the gate is allowed to copy v.
func (p *CopyPolicy) CopyWorthy(v any) bool {
	if v == nil {
		return false
	}
	for _, pred := range p.preds {
		if pred(v) {
			return true
		}
	}
	return false
}

// isNumericContainerPtr matches *[]T and *[N]T where T is a numeric kind.
func isNumericContainerPtr(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	if t.Kind() != reflect.Pointer {
		return false
	}
	e := t.Elem()
	if e.Kind() != reflect.Slice && e.Kind() != reflect.Array {
		return false
	}
	switch e.Elem().Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}
