// Package interp executes tape functions. The whole execution state is
// explicit data, a stack of frames each holding a register slice and a
// program counter, which is what makes tasks forkable: cloning the
// frame stack yields a second, independently resumable execution whose
// registers still reference the same heap objects.
package interp

import (
	"errors"
	"fmt"

	"github.com/TuringLang/Libtask/tape"
)

// ErrDone is returned by Run once the machine has already returned its
// final result.
var ErrDone = errors.New("interp: machine finished")

// Gate is the copy gate bound to the owning task's ledger.
type Gate func(obj any) (any, error)

// Own marks a freshly constructed container as task-owned.
type Own func(obj any)

// frame is one activation of a tape function.
type frame struct {
	fn    *tape.Func
	block int
	ip    int
	regs  []any
}

// Machine runs one task's tape program. It is single-owner state: only
// the task that holds it ever steps it, so it carries no locks.
type Machine struct {
	frames []frame
	ops    *tape.OpTable
	gate   Gate
	own    Own

	// produced-but-not-resumed bookkeeping
	resumeDst  tape.Reg
	wantResume bool

	done   bool
	result any
}

// New prepares a machine to run fn with the given arguments. fn is
// expected to be instrumented already; the machine executes whatever it
// is handed.
func New(fn *tape.Func, ops *tape.OpTable, gate Gate, own Own, args ...any) (*Machine, error) {
	if len(args) != fn.NumIn {
		return nil, fmt.Errorf("interp: %s takes %d arguments, got %d", fn.Name, fn.NumIn, len(args))
	}
	regs := make([]any, fn.NumReg)
	copy(regs, args)
	return &Machine{
		frames: []frame{{fn: fn, regs: regs}},
		ops:    ops,
		gate:   gate,
		own:    own,
	}, nil
}

// Clone duplicates the execution state: every frame's register slice is
// copied, so the clone resumes independently, while the register values
// themselves are shared by reference. The clone is rebound to the new
// owner's gate.
func (m *Machine) Clone(gate Gate, own Own) *Machine {
	frames := make([]frame, len(m.frames))
	for i, fr := range m.frames {
		regs := make([]any, len(fr.regs))
		copy(regs, fr.regs)
		frames[i] = frame{fn: fr.fn, block: fr.block, ip: fr.ip, regs: regs}
	}
	return &Machine{
		frames:     frames,
		ops:        m.ops,
		gate:       gate,
		own:        own,
		resumeDst:  m.resumeDst,
		wantResume: m.wantResume,
		done:       m.done,
		result:     m.result,
	}
}

// Done reports whether the program has returned.
func (m *Machine) Done() bool { return m.done }

// Result returns the program's return value once Done.
func (m *Machine) Result() any { return m.result }

// Run executes until the next produce or the final return. The resume
// value is delivered into the destination register of the produce the
// machine last suspended at; it is ignored on the first call. When the
// program produces, Run returns (value, true, nil); when it returns,
// Run returns (result, false, nil).
func (m *Machine) Run(resume any) (any, bool, error) {
	if m.done {
		return nil, false, ErrDone
	}
	if m.wantResume {
		top := &m.frames[len(m.frames)-1]
		top.regs[m.resumeDst] = resume
		m.wantResume = false
	}
	for {
		produced, suspended, err := m.step()
		if err != nil {
			return nil, false, err
		}
		if suspended {
			return produced, true, nil
		}
		if m.done {
			return m.result, false, nil
		}
	}
}

// step executes one instruction of the top frame.
func (m *Machine) step() (any, bool, error) {
	fr := &m.frames[len(m.frames)-1]
	instr := &fr.fn.Blocks[fr.block].Code[fr.ip]

	fail := func(err error) (any, bool, error) {
		return nil, false, fmt.Errorf("%s: block %d, instr %d (%s): %w", fr.fn.Name, fr.block, fr.ip, instr.Kind, err)
	}

	switch instr.Kind {
	case tape.KindOp:
		res, err := m.callOp(fr, instr)
		if err != nil {
			return fail(err)
		}
		if tape.ConstructorOps[instr.Op] && m.own != nil {
			m.own(res)
		}
		fr.regs[instr.Dst] = res
		fr.ip++

	case tape.KindGate:
		if m.gate == nil {
			return fail(fmt.Errorf("no copy gate bound"))
		}
		v := m.operand(fr, instr.Args[0])
		res, err := m.gate(v)
		if err != nil {
			return fail(err)
		}
		fr.regs[instr.Dst] = res
		fr.ip++

	case tape.KindCall:
		callee := instr.Callee
		regs := make([]any, callee.NumReg)
		if len(instr.Args) != callee.NumIn {
			return fail(fmt.Errorf("%s takes %d arguments, got %d", callee.Name, callee.NumIn, len(instr.Args)))
		}
		for i, a := range instr.Args {
			regs[i] = m.operand(fr, a)
		}
		m.frames = append(m.frames, frame{fn: callee, regs: regs})

	case tape.KindJump:
		fr.block = instr.To
		fr.ip = 0

	case tape.KindBranch:
		cond, ok := m.operand(fr, instr.Args[0]).(bool)
		if !ok {
			return fail(fmt.Errorf("branch condition must be bool"))
		}
		if cond {
			fr.block = instr.Then
		} else {
			fr.block = instr.Else
		}
		fr.ip = 0

	case tape.KindReturn:
		ret := m.operand(fr, instr.Args[0])
		m.frames = m.frames[:len(m.frames)-1]
		if len(m.frames) == 0 {
			m.done = true
			m.result = ret
			return nil, false, nil
		}
		caller := &m.frames[len(m.frames)-1]
		call := &caller.fn.Blocks[caller.block].Code[caller.ip]
		caller.regs[call.Dst] = ret
		caller.ip++

	case tape.KindProduce:
		v := m.operand(fr, instr.Args[0])
		m.resumeDst = instr.Dst
		m.wantResume = true
		fr.ip++
		return v, true, nil

	default:
		return fail(fmt.Errorf("invalid instruction"))
	}
	return nil, false, nil
}

func (m *Machine) operand(fr *frame, a tape.Arg) any {
	if a.Kind == tape.ArgReg {
		return fr.regs[a.Reg]
	}
	return a.Val
}

// callOp evaluates a builtin operation, including the apply dispatch
// wrapper. Instrumentation guarantees apply's operation name is a
// literal string.
func (m *Machine) callOp(fr *frame, instr *tape.Instr) (any, error) {
	name := instr.Op
	argOffset := 0
	if name == tape.ApplyOp {
		if len(instr.Args) == 0 {
			return nil, fmt.Errorf("apply without operation name")
		}
		lit, ok := instr.Args[0].Val.(string)
		if instr.Args[0].Kind != tape.ArgLit || !ok {
			return nil, fmt.Errorf("apply operation name must be a literal string")
		}
		name = lit
		argOffset = 1
	}
	op, ok := m.ops.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("unknown operation %q", name)
	}
	args := make([]any, 0, len(instr.Args)-argOffset)
	for _, a := range instr.Args[argOffset:] {
		args = append(args, m.operand(fr, a))
	}
	return op(args)
}
