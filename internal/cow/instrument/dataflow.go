package instrument

import (
	"fmt"

	"github.com/TuringLang/Libtask/tape"
)

// The mutation-aware dataflow pass. Two stages run in sequence, no fixed
// point needed:
//
// Stage 1 (intra-block): after every definition of a register that is
// the mutation target of some operation anywhere in the function, a gate
// is inserted, so reads following a write in straight-line code see the
// task-owned value. Parameters are defined at function entry, so
// parameter targets are gated at the top of the entry block.
//
// Stage 2 (inter-block): every mutation site triggers a reachability
// closure over the successor blocks (the site's own block included); in
// every block of the closure, every instruction still referencing the
// target register gets a gate immediately before it. No control path can
// then observe a shared value this task has already decided to mutate.
//
// Redundant gates are kept deliberately. The gate is idempotent, so an
// extra call costs one identity check, while a missing one breaks
// isolation. Sites are processed independently and insertions are never
// deduplicated.

// site is one mutating instruction's location and target.
type site struct {
	block int
	reg   tape.Reg
}

func (in *Instrumenter) dataflow(fn *tape.Func) error {
	sites, targets, err := in.mutationSites(fn)
	if err != nil {
		return err
	}
	if len(sites) == 0 {
		return nil
	}
	stage1(fn, targets)
	stage2(fn, sites)
	return nil
}

// mutationSites scans the function for mutating operations and returns
// their locations plus the set of target registers.
func (in *Instrumenter) mutationSites(fn *tape.Func) ([]site, map[tape.Reg]bool, error) {
	var sites []site
	targets := make(map[tape.Reg]bool)
	for bi := range fn.Blocks {
		for ii := range fn.Blocks[bi].Code {
			instr := &fn.Blocks[bi].Code[ii]
			argIdx, mutating, err := in.mutatedOperand(instr)
			if err != nil {
				return nil, nil, &Error{Func: fn.Name, Block: bi, Index: ii, Message: err.Error()}
			}
			if !mutating {
				continue
			}
			if argIdx >= len(instr.Args) {
				return nil, nil, &Error{
					Func: fn.Name, Block: bi, Index: ii,
					Message: fmt.Sprintf("mutating operation %s has no argument %d", opName(instr), argIdx+1),
				}
			}
			arg := instr.Args[argIdx]
			if arg.Kind != tape.ArgReg {
				return nil, nil, &Error{
					Func: fn.Name, Block: bi, Index: ii,
					Message:    fmt.Sprintf("mutating operation %s targets a literal", opName(instr)),
					Suggestion: "bind the container to a register before mutating it",
				}
			}
			sites = append(sites, site{block: bi, reg: arg.Reg})
			targets[arg.Reg] = true
		}
	}
	return sites, targets, nil
}

// mutatedOperand classifies one instruction: the 0-based operand index
// it mutates, whether it mutates at all, or an error when the call
// encoding cannot be analyzed.
func (in *Instrumenter) mutatedOperand(instr *tape.Instr) (int, bool, error) {
	switch instr.Kind {
	case tape.KindOp:
		if instr.Op == tape.ApplyOp {
			if len(instr.Args) == 0 {
				return 0, false, fmt.Errorf("apply without operation name")
			}
			head := instr.Args[0]
			if head.Kind != tape.ArgLit {
				return 0, false, fmt.Errorf("cannot classify apply with dynamic operation name")
			}
			name, ok := head.Val.(string)
			if !ok {
				return 0, false, fmt.Errorf("apply operation name must be a string, got %T", head.Val)
			}
			// Shifted call shape: the wrapped op's arguments start at 1.
			if pos, mutating := in.table.LookupShifted(name); mutating {
				return pos - 1, true, nil
			}
			return 0, false, nil
		}
		if pos, mutating := in.table.Lookup(instr.Op); mutating {
			return pos - 1, true, nil
		}
	case tape.KindCall:
		// User-defined functions registered as mutating use the direct shape.
		if instr.Callee != nil {
			if pos, mutating := in.table.Lookup(instr.Callee.Name); mutating {
				return pos - 1, true, nil
			}
		}
	}
	return 0, false, nil
}

func opName(instr *tape.Instr) string {
	if instr.Kind == tape.KindCall && instr.Callee != nil {
		return instr.Callee.Name
	}
	return instr.Op
}

func gateInstr(r tape.Reg) tape.Instr {
	return tape.Instr{Kind: tape.KindGate, Dst: r, Args: []tape.Arg{tape.R(r)}}
}

// stage1 gates every definition of a target register, plus entry for
// parameter targets.
func stage1(fn *tape.Func, targets map[tape.Reg]bool) {
	var entry []tape.Instr
	for p := 0; p < fn.NumIn; p++ {
		if targets[tape.Reg(p)] {
			entry = append(entry, gateInstr(tape.Reg(p)))
		}
	}
	if len(entry) > 0 {
		fn.Blocks[0].Code = append(entry, fn.Blocks[0].Code...)
	}
	for bi := range fn.Blocks {
		code := fn.Blocks[bi].Code
		out := make([]tape.Instr, 0, len(code))
		for _, instr := range code {
			out = append(out, instr)
			if instr.Kind != tape.KindGate && writesReg(&instr) && targets[instr.Dst] {
				out = append(out, gateInstr(instr.Dst))
			}
		}
		fn.Blocks[bi].Code = out
	}
}

// stage2 expands every mutation site into its reachable-block closure
// and gates every remaining reference to the target register there,
// the mutating instruction itself included: the write must land on the
// task-owned copy.
func stage2(fn *tape.Func, sites []site) {
	for _, s := range sites {
		for _, bi := range reachable(fn, s.block) {
			code := fn.Blocks[bi].Code
			out := make([]tape.Instr, 0, len(code))
			for _, instr := range code {
				if instr.Kind != tape.KindGate && referencesReg(&instr, s.reg) {
					out = append(out, gateInstr(s.reg))
				}
				out = append(out, instr)
			}
			fn.Blocks[bi].Code = out
		}
	}
}

// reachable returns the transitive successor closure of block b,
// including b itself.
func reachable(fn *tape.Func, b int) []int {
	seen := make(map[int]bool)
	stack := []int{b}
	var order []int
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] {
			continue
		}
		seen[n] = true
		order = append(order, n)
		stack = append(stack, fn.Succs(n)...)
	}
	return order
}

func writesReg(instr *tape.Instr) bool {
	switch instr.Kind {
	case tape.KindOp, tape.KindCall, tape.KindGate, tape.KindProduce:
		return true
	}
	return false
}

func referencesReg(instr *tape.Instr, r tape.Reg) bool {
	for _, a := range instr.Args {
		if a.Kind == tape.ArgReg && a.Reg == r {
			return true
		}
	}
	return false
}
