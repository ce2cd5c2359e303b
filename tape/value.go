package tape

import "fmt"

// Copyable is the opt-in hook for user-defined value types. A type that
// implements Copyable decides for itself how the copy gate duplicates it:
// the returned value must be a fully independent copy that later in-place
// mutations cannot leak back through.
//
// Types that do not implement Copyable fall under the CopyPolicy
// predicates; anything the policy does not recognize passes through the
// gate unchanged.
type Copyable interface {
	CopyOnWrite() any
}

// Vector is a growable container with stable identity.
//
// The element slice lives behind the Vector pointer, so pushes that grow
// the backing array never change the identity the ledger tracks. All
// mutating builtin ops (push!, pop!, setindex!, fill!) target *Vector.
type Vector struct {
	Elems []any
}

// NewVector returns a vector holding the given elements.
func NewVector(elems ...any) *Vector {
	v := &Vector{Elems: make([]any, len(elems))}
	copy(v.Elems, elems)
	return v
}

// Len returns the number of elements.
func (v *Vector) Len() int { return len(v.Elems) }

// Push appends x in place.
func (v *Vector) Push(x any) { v.Elems = append(v.Elems, x) }

// Pop removes and returns the last element.
func (v *Vector) Pop() (any, error) {
	if len(v.Elems) == 0 {
		return nil, fmt.Errorf("pop! from empty vector")
	}
	x := v.Elems[len(v.Elems)-1]
	v.Elems = v.Elems[:len(v.Elems)-1]
	return x, nil
}

// At returns the element at index i (0-based).
func (v *Vector) At(i int) (any, error) {
	if i < 0 || i >= len(v.Elems) {
		return nil, fmt.Errorf("vector index %d out of range [0,%d)", i, len(v.Elems))
	}
	return v.Elems[i], nil
}

// Set replaces the element at index i in place.
func (v *Vector) Set(i int, x any) error {
	if i < 0 || i >= len(v.Elems) {
		return fmt.Errorf("vector index %d out of range [0,%d)", i, len(v.Elems))
	}
	v.Elems[i] = x
	return nil
}

// Snapshot returns an independent copy of the element slice. The
// elements themselves are not copied.
func (v *Vector) Snapshot() []any {
	out := make([]any, len(v.Elems))
	copy(out, v.Elems)
	return out
}

func (v *Vector) String() string { return fmt.Sprintf("%v", v.Elems) }

// Dict is the key/value container of the builtin vocabulary. Map values
// carry stable identity in Go, so Dict needs no pointer wrapper.
type Dict map[any]any

// NewDict returns an empty dict.
func NewDict() Dict { return make(Dict) }
