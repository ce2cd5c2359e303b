package instrument

import (
	"errors"
	"testing"

	"github.com/TuringLang/Libtask/internal/cow/mutops"
	"github.com/TuringLang/Libtask/tape"
)

func newTestInstrumenter() *Instrumenter {
	return New(mutops.Default(), NewRegistry())
}

// pushFunc builds main(c): r1 = push!(c, 4); return r1.
func pushFunc(t *testing.T) *tape.Func {
	t.Helper()
	b := tape.NewBuilder("main", 1)
	r := b.NewReg()
	b.Op(r, "push!", tape.R(0), tape.Lit(4))
	b.Return(tape.R(r))
	fn, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return fn
}

func countGates(fn *tape.Func) int {
	n := 0
	for bi := range fn.Blocks {
		for _, in := range fn.Blocks[bi].Code {
			if in.Kind == tape.KindGate {
				n++
			}
		}
	}
	return n
}

func TestInstrument_GatesMutationTarget(t *testing.T) {
	in := newTestInstrumenter()
	src := pushFunc(t)

	out, err := in.Instrument(src)
	if err != nil {
		t.Fatalf("Instrument failed: %v", err)
	}
	if out == src {
		t.Fatalf("Instrument returned the source function")
	}
	if countGates(src) != 0 {
		t.Errorf("instrumentation modified the source function")
	}
	if err := out.Validate(); err != nil {
		t.Errorf("instrumented function is invalid: %v", err)
	}

	code := out.Blocks[0].Code
	if code[0].Kind != tape.KindGate || code[0].Dst != 0 {
		t.Errorf("parameter target not gated at entry: first instr is %v", code[0].Kind)
	}
	// The write itself must land on the task-owned copy: a gate sits
	// immediately before the mutating instruction.
	for i, instr := range code {
		if instr.Kind == tape.KindOp && instr.Op == "push!" {
			if i == 0 || code[i-1].Kind != tape.KindGate {
				t.Errorf("no gate immediately before the mutating op")
			}
		}
	}
	if countGates(out) < 2 {
		t.Errorf("got %d gates, want at least 2 (entry + before mutation)", countGates(out))
	}
}

// branchFunc builds:
//
//	b0: branch flag -> b1 : b2
//	b1: r2 = push!(c, 9); jump b3
//	b2: jump b3
//	b3: r3 = getindex(c, 0); return r3
func branchFunc(t *testing.T) *tape.Func {
	t.Helper()
	b := tape.NewBuilder("branchy", 2) // r0 = c, r1 = flag
	mut := b.NewBlock()
	skip := b.NewBlock()
	join := b.NewBlock()
	b.Branch(tape.R(1), mut, skip)
	b.SetBlock(mut)
	r2 := b.NewReg()
	b.Op(r2, "push!", tape.R(0), tape.Lit(9))
	b.Jump(join)
	b.SetBlock(skip)
	b.Jump(join)
	b.SetBlock(join)
	r3 := b.NewReg()
	b.Op(r3, "getindex", tape.R(0), tape.Lit(0))
	b.Return(tape.R(r3))
	fn, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	return fn
}

func TestInstrument_BranchClosure(t *testing.T) {
	in := newTestInstrumenter()
	out, err := in.Instrument(branchFunc(t))
	if err != nil {
		t.Fatalf("Instrument failed: %v", err)
	}

	// The mutation in block 1 reaches block 3: its read of c must be
	// gated there.
	join := out.Blocks[3].Code
	sawGatedRead := false
	for i, instr := range join {
		if instr.Kind == tape.KindOp && instr.Op == "getindex" {
			if i > 0 && join[i-1].Kind == tape.KindGate && join[i-1].Dst == 0 {
				sawGatedRead = true
			}
		}
	}
	if !sawGatedRead {
		t.Errorf("read after a conditionally-reached mutation is not gated in the join block")
	}

	// The skip arm never references c: no gate belongs there.
	for _, instr := range out.Blocks[2].Code {
		if instr.Kind == tape.KindGate {
			t.Errorf("gate inserted in a block that never references the target")
		}
	}
}

func TestInstrument_RepeatedMutationsKeepRedundantGates(t *testing.T) {
	b := tape.NewBuilder("twice", 1)
	r1 := b.NewReg()
	r2 := b.NewReg()
	b.Op(r1, "push!", tape.R(0), tape.Lit(1))
	b.Op(r2, "push!", tape.R(0), tape.Lit(2))
	b.Return(tape.R(0))
	fn, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	in := newTestInstrumenter()
	out, err := in.Instrument(fn)
	if err != nil {
		t.Fatalf("Instrument failed: %v", err)
	}
	// Two sites, each triggering its own closure pass over three
	// references plus the entry gate: the gate count must reflect both
	// sites, not a deduplicated minimum.
	if got := countGates(out); got < 4 {
		t.Errorf("got %d gates, want the redundant gates of both mutation sites (>= 4)", got)
	}
}

func TestInstrument_ApplyShiftedShape(t *testing.T) {
	b := tape.NewBuilder("dispatch", 1)
	r := b.NewReg()
	b.Op(r, tape.ApplyOp, tape.Lit("push!"), tape.R(0), tape.Lit(4))
	b.Return(tape.R(r))
	fn, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	in := newTestInstrumenter()
	out, err := in.Instrument(fn)
	if err != nil {
		t.Fatalf("Instrument failed: %v", err)
	}
	if countGates(out) == 0 {
		t.Errorf("mutation through the dispatch wrapper was not gated")
	}
}

func TestInstrument_FailFast(t *testing.T) {
	tests := []struct {
		name  string
		build func(t *testing.T) *tape.Func
	}{
		{
			name: "literal mutation target",
			build: func(t *testing.T) *tape.Func {
				b := tape.NewBuilder("litmut", 0)
				r := b.NewReg()
				b.Op(r, "push!", tape.Lit(tape.NewVector(1)), tape.Lit(2))
				b.Return(tape.R(r))
				fn, err := b.Build()
				if err != nil {
					t.Fatalf("Build failed: %v", err)
				}
				return fn
			},
		},
		{
			name: "dynamic apply",
			build: func(t *testing.T) *tape.Func {
				b := tape.NewBuilder("dyn", 2)
				r := b.NewReg()
				b.Op(r, tape.ApplyOp, tape.R(0), tape.R(1))
				b.Return(tape.R(r))
				fn, err := b.Build()
				if err != nil {
					t.Fatalf("Build failed: %v", err)
				}
				return fn
			},
		},
		{
			name: "missing terminator",
			build: func(t *testing.T) *tape.Func {
				return &tape.Func{
					Name: "broken", NumReg: 1,
					Blocks: []tape.Block{{Code: []tape.Instr{
						{Kind: tape.KindOp, Op: "add", Dst: 0, Args: []tape.Arg{tape.Lit(1), tape.Lit(2)}},
					}}},
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := newTestInstrumenter()
			_, err := in.Instrument(tt.build(t))
			if err == nil {
				t.Fatalf("Instrument accepted an unanalyzable function")
			}
			var ierr *Error
			if !errors.As(err, &ierr) {
				t.Fatalf("error is %T, want *instrument.Error", err)
			}
		})
	}
}

func TestInstrument_FailureIsLocal(t *testing.T) {
	in := newTestInstrumenter()
	if _, err := in.Instrument(pushFunc(t)); err != nil {
		t.Fatalf("Instrument failed: %v", err)
	}

	bad := &tape.Func{Name: "bad", NumReg: 1, Blocks: []tape.Block{{}}}
	if _, err := in.Instrument(bad); err == nil {
		t.Fatalf("Instrument accepted an invalid function")
	}

	if _, err := in.Instrument(pushFunc(t)); err != nil {
		t.Errorf("instrumenting after a failure broke the instrumenter: %v", err)
	}
}

func TestInstrument_Cached(t *testing.T) {
	in := newTestInstrumenter()
	fn := pushFunc(t)

	a, err := in.Instrument(fn, tape.NewVector(1))
	if err != nil {
		t.Fatalf("Instrument failed: %v", err)
	}
	b, err := in.Instrument(fn, tape.NewVector(2))
	if err != nil {
		t.Fatalf("Instrument failed: %v", err)
	}
	if a != b {
		t.Errorf("same function and argument shape instrumented twice")
	}

	c, err := in.Instrument(fn, 42)
	if err != nil {
		t.Fatalf("Instrument failed: %v", err)
	}
	if a == c {
		t.Errorf("different argument shapes share one instrumented form")
	}
}

func TestInstrument_RecursiveFunction(t *testing.T) {
	// down(n): if lt(n, 1) return n else return down(sub(n, 1))
	direct := selfRecursive(t)
	in := newTestInstrumenter()
	out, err := in.Instrument(direct)
	if err != nil {
		t.Fatalf("Instrument of recursive function failed: %v", err)
	}
	// The rewritten self edge must point at the instrumented instance,
	// not the source.
	call := findCall(t, out)
	if call.Callee == direct {
		t.Errorf("self call still targets the uninstrumented source")
	}
	if call.Callee != out {
		t.Errorf("self call does not target the instrumented instance")
	}
}

func selfRecursive(t *testing.T) *tape.Func {
	t.Helper()
	fn := &tape.Func{Name: "down", NumIn: 1, NumReg: 4}
	fn.Blocks = []tape.Block{
		{Code: []tape.Instr{
			{Kind: tape.KindOp, Op: "lt", Dst: 1, Args: []tape.Arg{tape.R(0), tape.Lit(1)}},
			{Kind: tape.KindBranch, Args: []tape.Arg{tape.R(1)}, Then: 1, Else: 2},
		}},
		{Code: []tape.Instr{
			{Kind: tape.KindReturn, Args: []tape.Arg{tape.R(0)}},
		}},
		{Code: []tape.Instr{
			{Kind: tape.KindOp, Op: "sub", Dst: 2, Args: []tape.Arg{tape.R(0), tape.Lit(1)}},
			{Kind: tape.KindCall, Dst: 3, Args: []tape.Arg{tape.R(2)}}, // self edge patched below
			{Kind: tape.KindReturn, Args: []tape.Arg{tape.R(3)}},
		}},
	}
	fn.Blocks[2].Code[1].Callee = fn
	if err := fn.Validate(); err != nil {
		t.Fatalf("recursive function invalid: %v", err)
	}
	return fn
}

func findCall(t *testing.T, fn *tape.Func) *tape.Instr {
	t.Helper()
	for bi := range fn.Blocks {
		for ii := range fn.Blocks[bi].Code {
			if fn.Blocks[bi].Code[ii].Kind == tape.KindCall {
				return &fn.Blocks[bi].Code[ii]
			}
		}
	}
	t.Fatalf("no call instruction found")
	return nil
}

func TestInstrument_ExemptFunction(t *testing.T) {
	in := newTestInstrumenter()
	exempt := pushFunc(t)
	in.Exempts().Exempt(exempt)

	out, err := in.Instrument(exempt)
	if err != nil {
		t.Fatalf("Instrument failed: %v", err)
	}
	if out != exempt {
		t.Errorf("exempt function was transformed")
	}

	// A caller of the exempt function keeps the call edge as-is.
	b := tape.NewBuilder("caller", 1)
	r := b.NewReg()
	b.Call(r, exempt, tape.R(0))
	b.Return(tape.R(r))
	caller, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	outc, err := in.Instrument(caller)
	if err != nil {
		t.Fatalf("Instrument failed: %v", err)
	}
	if findCall(t, outc).Callee != exempt {
		t.Errorf("call edge to exempt function was rewritten")
	}
}

func TestInstrument_MutatingUserFunction(t *testing.T) {
	table := mutops.Default()
	if err := table.Register("grow!", 1); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	in := New(table, NewRegistry())

	grow := func(t *testing.T) *tape.Func {
		b := tape.NewBuilder("grow!", 1)
		r := b.NewReg()
		b.Op(r, "push!", tape.R(0), tape.Lit(0))
		b.Return(tape.R(0))
		fn, err := b.Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		return fn
	}(t)

	b := tape.NewBuilder("caller", 1)
	r := b.NewReg()
	b.Call(r, grow, tape.R(0))
	b.Return(tape.R(0))
	caller, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	out, err := in.Instrument(caller)
	if err != nil {
		t.Fatalf("Instrument failed: %v", err)
	}
	// The call to a user function registered as mutating is itself a
	// mutation site: its argument must be gated in the caller.
	if countGates(out) == 0 {
		t.Errorf("call to a registered mutating function was not gated")
	}
}

func TestSignature(t *testing.T) {
	tests := []struct {
		args []any
		want string
	}{
		{nil, ""},
		{[]any{1}, "int"},
		{[]any{tape.NewVector(), 2.5}, "*tape.Vector,float64"},
		{[]any{nil}, "nil"},
	}
	for _, tt := range tests {
		if got := Signature(tt.args); got != tt.want {
			t.Errorf("Signature(%v) = %q, want %q", tt.args, got, tt.want)
		}
	}
}
