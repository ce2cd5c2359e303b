package deepcopy

import (
	"errors"
	"testing"

	"github.com/TuringLang/Libtask/tape"
)

func TestIdentity(t *testing.T) {
	v1 := tape.NewVector(1)
	v2 := tape.NewVector(1)

	k1, ok1 := Identity(v1)
	k1again, _ := Identity(v1)
	k2, ok2 := Identity(v2)
	if !ok1 || !ok2 {
		t.Fatalf("vectors must carry identity")
	}
	if k1 != k1again {
		t.Errorf("identity of the same instance changed between calls")
	}
	if k1 == k2 {
		t.Errorf("distinct instances with equal contents share an identity")
	}

	if _, ok := Identity(42); ok {
		t.Errorf("scalar carries identity")
	}
	if _, ok := Identity(nil); ok {
		t.Errorf("nil carries identity")
	}
	if _, ok := Identity(tape.NewDict()); !ok {
		t.Errorf("dict carries no identity")
	}
}

func TestCopy_Vector(t *testing.T) {
	orig := tape.NewVector(1, 2, 3)
	dupAny, err := Copy(orig)
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	dup := dupAny.(*tape.Vector)
	if dup == orig {
		t.Fatalf("Copy returned the original instance")
	}

	dup.Push(4)
	if orig.Len() != 3 {
		t.Errorf("mutating the copy changed the original: %v", orig.Elems)
	}
}

func TestCopy_NestedAliasing(t *testing.T) {
	inner := tape.NewVector(1)
	orig := tape.NewVector(inner, inner)

	dupAny, err := Copy(orig)
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	dup := dupAny.(*tape.Vector)

	a := dup.Elems[0].(*tape.Vector)
	b := dup.Elems[1].(*tape.Vector)
	if a == inner {
		t.Errorf("nested value not copied")
	}
	if a != b {
		t.Errorf("copy broke the aliasing structure: two copies of one inner value")
	}
}

func TestCopy_Cycle(t *testing.T) {
	v := tape.NewVector()
	v.Push(v) // self-referential

	dupAny, err := Copy(v)
	if err != nil {
		t.Fatalf("Copy of cyclic graph failed: %v", err)
	}
	dup := dupAny.(*tape.Vector)
	if dup == v {
		t.Fatalf("Copy returned the original instance")
	}
	if dup.Elems[0] != any(dup) {
		t.Errorf("cycle not preserved: copy's element is not the copy itself")
	}
}

func TestCopy_Dict(t *testing.T) {
	d := tape.NewDict()
	d["v"] = tape.NewVector(1)

	dupAny, err := Copy(d)
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	dup := dupAny.(tape.Dict)
	dup["v"].(*tape.Vector).Push(2)
	if d["v"].(*tape.Vector).Len() != 1 {
		t.Errorf("mutating the copy changed the original dict value")
	}
}

func TestCopy_NumericSlicePtr(t *testing.T) {
	nums := []float64{1, 2, 3}
	dupAny, err := Copy(&nums)
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	dup := dupAny.(*[]float64)
	(*dup)[0] = 99
	if nums[0] != 1 {
		t.Errorf("mutating the copy changed the original slice")
	}
}

type copyMe struct{ n int }

func (c *copyMe) CopyOnWrite() any { return &copyMe{n: c.n + 100} }

func TestCopy_CopyableHook(t *testing.T) {
	dupAny, err := Copy(&copyMe{n: 1})
	if err != nil {
		t.Fatalf("Copy failed: %v", err)
	}
	if got := dupAny.(*copyMe).n; got != 101 {
		t.Errorf("Copyable hook not used: n = %d, want 101", got)
	}
}

func TestCopy_Uncopyable(t *testing.T) {
	ch := make(chan int)
	_, err := Copy(ch)
	if err == nil {
		t.Fatalf("Copy of a channel did not fail")
	}
	var uc *ErrUncopyable
	if !errors.As(err, &uc) {
		t.Errorf("error is %T, want *ErrUncopyable", err)
	}
}

func TestCopy_Scalars(t *testing.T) {
	for _, v := range []any{42, 2.5, "s", true, nil} {
		got, err := Copy(v)
		if err != nil {
			t.Fatalf("Copy(%v) failed: %v", v, err)
		}
		if got != v {
			t.Errorf("Copy(%v) = %v", v, got)
		}
	}
}
