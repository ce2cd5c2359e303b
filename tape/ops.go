package tape

import (
	"fmt"
	"sync"
)

// OpFunc implements a builtin operation. Builtins run directly: the
// call-graph instrumenter never recurses into them, the dataflow pass
// classifies them through the mutating-operation table instead.
type OpFunc func(args []any) (any, error)

// OpTable maps operation names to their implementations. Tables are safe
// for concurrent lookup and registration; a running task only ever reads.
type OpTable struct {
	mu  sync.RWMutex
	ops map[string]OpFunc
}

// NewOpTable returns an empty table.
func NewOpTable() *OpTable {
	return &OpTable{ops: make(map[string]OpFunc)}
}

// Register adds or replaces an operation.
func (t *OpTable) Register(name string, fn OpFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ops[name] = fn
}

// Lookup returns the implementation of name.
func (t *OpTable) Lookup(name string) (OpFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.ops[name]
	return fn, ok
}

// Clone returns an independent table with the same entries, so separate
// sessions can extend their vocabularies without interfering.
func (t *OpTable) Clone() *OpTable {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := NewOpTable()
	for k, v := range t.ops {
		out.ops[k] = v
	}
	return out
}

// DefaultOps returns a fresh table holding the builtin vocabulary:
// numeric ops (add, sub, mul, div, lt, le, eq, not), container
// constructors (vector, dict), accessors (length, getindex, fetch),
// and the in-place mutators (push!, pop!, setindex!, fill!, store!,
// delete!). The mutators match the default mutating-operation table.
func DefaultOps() *OpTable {
	t := NewOpTable()
	for name, fn := range builtinOps {
		t.ops[name] = fn
	}
	return t
}

// ApplyOp is the dispatch wrapper: apply(opname, args...) invokes the
// named builtin with the remaining arguments. The wrapped operation's
// arguments all sit one position later, which is why the classifier
// offers the shifted lookup. The interpreter implements ApplyOp itself;
// it is not an OpTable entry.
const ApplyOp = "apply"

// ConstructorOps lists the builtin operations whose result is a freshly
// allocated container. The interpreter marks their results as owned by
// the running task, so the first write to a never-shared object does not
// pay for a copy.
var ConstructorOps = map[string]bool{
	"vector": true,
	"dict":   true,
}

var builtinOps = map[string]OpFunc{
	"add": arith("add", func(a, b int) int { return a + b }, func(a, b float64) float64 { return a + b }),
	"sub": arith("sub", func(a, b int) int { return a - b }, func(a, b float64) float64 { return a - b }),
	"mul": arith("mul", func(a, b int) int { return a * b }, func(a, b float64) float64 { return a * b }),
	"div": opDiv,
	"lt":  compare("lt", func(a, b float64) bool { return a < b }),
	"le":  compare("le", func(a, b float64) bool { return a <= b }),
	"eq":  opEq,
	"not": opNot,

	"vector":   opVector,
	"dict":     opDict,
	"length":   opLength,
	"getindex": opGetIndex,
	"fetch":    opFetch,

	"push!":     opPush,
	"pop!":      opPop,
	"setindex!": opSetIndex,
	"fill!":     opFill,
	"store!":    opStore,
	"delete!":   opDelete,
}

func want(name string, args []any, n int) error {
	if len(args) != n {
		return fmt.Errorf("%s: want %d arguments, got %d", name, n, len(args))
	}
	return nil
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func arith(name string, iop func(a, b int) int, fop func(a, b float64) float64) OpFunc {
	return func(args []any) (any, error) {
		if err := want(name, args, 2); err != nil {
			return nil, err
		}
		if a, ok := args[0].(int); ok {
			if b, ok := args[1].(int); ok {
				return iop(a, b), nil
			}
		}
		a, aok := asFloat(args[0])
		b, bok := asFloat(args[1])
		if !aok || !bok {
			return nil, fmt.Errorf("%s: non-numeric operand %T", name, pick(args[0], args[1], aok))
		}
		return fop(a, b), nil
	}
}

func pick(a, b any, firstOK bool) any {
	if firstOK {
		return b
	}
	return a
}

func compare(name string, cmp func(a, b float64) bool) OpFunc {
	return func(args []any) (any, error) {
		if err := want(name, args, 2); err != nil {
			return nil, err
		}
		a, aok := asFloat(args[0])
		b, bok := asFloat(args[1])
		if !aok || !bok {
			return nil, fmt.Errorf("%s: non-numeric operand %T", name, pick(args[0], args[1], aok))
		}
		return cmp(a, b), nil
	}
}

func opDiv(args []any) (any, error) {
	if err := want("div", args, 2); err != nil {
		return nil, err
	}
	a, aok := asFloat(args[0])
	b, bok := asFloat(args[1])
	if !aok || !bok {
		return nil, fmt.Errorf("div: non-numeric operand %T", pick(args[0], args[1], aok))
	}
	if b == 0 {
		return nil, fmt.Errorf("div: division by zero")
	}
	return a / b, nil
}

func opEq(args []any) (any, error) {
	if err := want("eq", args, 2); err != nil {
		return nil, err
	}
	if a, aok := asFloat(args[0]); aok {
		if b, bok := asFloat(args[1]); bok {
			return a == b, nil
		}
	}
	return args[0] == args[1], nil
}

func opNot(args []any) (any, error) {
	if err := want("not", args, 1); err != nil {
		return nil, err
	}
	b, ok := args[0].(bool)
	if !ok {
		return nil, fmt.Errorf("not: want bool, got %T", args[0])
	}
	return !b, nil
}

func opVector(args []any) (any, error) {
	return NewVector(args...), nil
}

func opDict(args []any) (any, error) {
	if err := want("dict", args, 0); err != nil {
		return nil, err
	}
	return NewDict(), nil
}

func opLength(args []any) (any, error) {
	if err := want("length", args, 1); err != nil {
		return nil, err
	}
	switch c := args[0].(type) {
	case *Vector:
		return c.Len(), nil
	case Dict:
		return len(c), nil
	}
	return nil, fmt.Errorf("length: want container, got %T", args[0])
}

func opGetIndex(args []any) (any, error) {
	if err := want("getindex", args, 2); err != nil {
		return nil, err
	}
	switch c := args[0].(type) {
	case *Vector:
		i, ok := args[1].(int)
		if !ok {
			return nil, fmt.Errorf("getindex: want int index, got %T", args[1])
		}
		return c.At(i)
	case Dict:
		return c[args[1]], nil
	}
	return nil, fmt.Errorf("getindex: want container, got %T", args[0])
}

func opFetch(args []any) (any, error) {
	if err := want("fetch", args, 2); err != nil {
		return nil, err
	}
	d, ok := args[0].(Dict)
	if !ok {
		return nil, fmt.Errorf("fetch: want dict, got %T", args[0])
	}
	v, ok := d[args[1]]
	if !ok {
		return nil, fmt.Errorf("fetch: key %v not found", args[1])
	}
	return v, nil
}

func opPush(args []any) (any, error) {
	if err := want("push!", args, 2); err != nil {
		return nil, err
	}
	v, ok := args[0].(*Vector)
	if !ok {
		return nil, fmt.Errorf("push!: want vector, got %T", args[0])
	}
	v.Push(args[1])
	return v, nil
}

func opPop(args []any) (any, error) {
	if err := want("pop!", args, 1); err != nil {
		return nil, err
	}
	v, ok := args[0].(*Vector)
	if !ok {
		return nil, fmt.Errorf("pop!: want vector, got %T", args[0])
	}
	return v.Pop()
}

func opSetIndex(args []any) (any, error) {
	if err := want("setindex!", args, 3); err != nil {
		return nil, err
	}
	v, ok := args[0].(*Vector)
	if !ok {
		return nil, fmt.Errorf("setindex!: want vector, got %T", args[0])
	}
	i, ok := args[1].(int)
	if !ok {
		return nil, fmt.Errorf("setindex!: want int index, got %T", args[1])
	}
	if err := v.Set(i, args[2]); err != nil {
		return nil, err
	}
	return v, nil
}

func opFill(args []any) (any, error) {
	if err := want("fill!", args, 2); err != nil {
		return nil, err
	}
	v, ok := args[0].(*Vector)
	if !ok {
		return nil, fmt.Errorf("fill!: want vector, got %T", args[0])
	}
	for i := range v.Elems {
		v.Elems[i] = args[1]
	}
	return v, nil
}

func opStore(args []any) (any, error) {
	if err := want("store!", args, 3); err != nil {
		return nil, err
	}
	d, ok := args[0].(Dict)
	if !ok {
		return nil, fmt.Errorf("store!: want dict, got %T", args[0])
	}
	d[args[1]] = args[2]
	return d, nil
}

func opDelete(args []any) (any, error) {
	if err := want("delete!", args, 2); err != nil {
		return nil, err
	}
	d, ok := args[0].(Dict)
	if !ok {
		return nil, fmt.Errorf("delete!: want dict, got %T", args[0])
	}
	delete(d, args[1])
	return d, nil
}
