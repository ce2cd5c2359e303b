package tape

import "fmt"

// Reg identifies a virtual register of a tape function. Registers
// 0..NumIn-1 hold the arguments on entry.
type Reg int

// ArgKind distinguishes register operands from literal operands.
type ArgKind uint8

const (
	// ArgReg reads a virtual register.
	ArgReg ArgKind = iota
	// ArgLit embeds a constant value.
	ArgLit
)

// Arg is a single instruction operand.
type Arg struct {
	Kind ArgKind
	Reg  Reg // valid when Kind == ArgReg
	Val  any // valid when Kind == ArgLit
}

// R returns a register operand.
func R(r Reg) Arg { return Arg{Kind: ArgReg, Reg: r} }

// Lit returns a literal operand.
func Lit(v any) Arg { return Arg{Kind: ArgLit, Val: v} }

// Kind enumerates the instruction forms of a tape function.
type Kind uint8

const (
	// KindInvalid is the zero value; it never appears in a valid function.
	KindInvalid Kind = iota
	// KindOp calls a builtin operation: Dst = Op(Args...).
	KindOp
	// KindCall calls a user-defined tape function: Dst = Callee(Args...).
	KindCall
	// KindGate routes a value through the copy gate: Dst = maybeCopy(Args[0]).
	// Gates are inserted by instrumentation; hand-built functions normally
	// do not contain them.
	KindGate
	// KindJump transfers control to block To.
	KindJump
	// KindBranch transfers control to block Then if Args[0] is true,
	// otherwise to block Else.
	KindBranch
	// KindReturn leaves the function with the value of Args[0].
	KindReturn
	// KindProduce suspends the task, yielding Args[0] to the consumer.
	// The value passed to resume lands in Dst.
	KindProduce
)

func (k Kind) String() string {
	switch k {
	case KindOp:
		return "op"
	case KindCall:
		return "call"
	case KindGate:
		return "gate"
	case KindJump:
		return "jump"
	case KindBranch:
		return "branch"
	case KindReturn:
		return "return"
	case KindProduce:
		return "produce"
	default:
		return "invalid"
	}
}

// Instr is a single instruction. Which fields are meaningful depends on
// Kind; unused fields stay at their zero value.
type Instr struct {
	Kind   Kind
	Dst    Reg    // KindOp, KindCall, KindGate, KindProduce
	Op     string // KindOp: builtin operation name
	Callee *Func  // KindCall
	Args   []Arg
	To     int // KindJump
	Then   int // KindBranch
	Else   int // KindBranch
}

// terminator reports whether the instruction ends a block.
func (in *Instr) terminator() bool {
	switch in.Kind {
	case KindJump, KindBranch, KindReturn:
		return true
	}
	return false
}

// writes reports whether the instruction defines Dst.
func (in *Instr) writes() bool {
	switch in.Kind {
	case KindOp, KindCall, KindGate, KindProduce:
		return true
	}
	return false
}

// Block is one basic block: straight-line code ending in a single
// terminator (jump, branch, or return).
type Block struct {
	Code []Instr
}

// Func is a tape function: a control-flow graph of blocks over NumReg
// virtual registers. Block 0 is the entry block.
type Func struct {
	Name   string
	NumIn  int // registers 0..NumIn-1 are parameters
	NumReg int
	Blocks []Block
}

// Succs returns the successor block indices of block b.
func (f *Func) Succs(b int) []int {
	code := f.Blocks[b].Code
	if len(code) == 0 {
		return nil
	}
	switch t := code[len(code)-1]; t.Kind {
	case KindJump:
		return []int{t.To}
	case KindBranch:
		return []int{t.Then, t.Else}
	default:
		return nil
	}
}

// Clone returns a structurally independent copy of the function: blocks,
// instructions, and operand slices are duplicated so the instrumentation
// passes can rewrite them freely. Callee pointers and literal values are
// shared.
func (f *Func) Clone() *Func {
	out := &Func{Name: f.Name, NumIn: f.NumIn, NumReg: f.NumReg}
	out.Blocks = make([]Block, len(f.Blocks))
	for i, b := range f.Blocks {
		code := make([]Instr, len(b.Code))
		copy(code, b.Code)
		for j := range code {
			args := make([]Arg, len(code[j].Args))
			copy(args, code[j].Args)
			code[j].Args = args
		}
		out.Blocks[i].Code = code
	}
	return out
}

// Validate checks the structural invariants instrumentation relies on:
// every block carries exactly one terminator and it comes last, every
// register and block index is in range, and every instruction carries
// the fields its kind requires.
func (f *Func) Validate() error {
	if f.NumIn < 0 || f.NumIn > f.NumReg {
		return fmt.Errorf("func %s: %d parameters but only %d registers", f.Name, f.NumIn, f.NumReg)
	}
	if len(f.Blocks) == 0 {
		return fmt.Errorf("func %s: no blocks", f.Name)
	}
	for bi, b := range f.Blocks {
		if len(b.Code) == 0 {
			return fmt.Errorf("func %s: block %d is empty", f.Name, bi)
		}
		for ii := range b.Code {
			in := &b.Code[ii]
			last := ii == len(b.Code)-1
			if in.terminator() != last {
				if in.terminator() {
					return fmt.Errorf("func %s: block %d: %s at %d before end of block", f.Name, bi, in.Kind, ii)
				}
				return fmt.Errorf("func %s: block %d: missing terminator", f.Name, bi)
			}
			if err := f.checkInstr(in); err != nil {
				return fmt.Errorf("func %s: block %d instr %d: %w", f.Name, bi, ii, err)
			}
		}
	}
	return nil
}

func (f *Func) checkInstr(in *Instr) error {
	if in.writes() && (in.Dst < 0 || int(in.Dst) >= f.NumReg) {
		return fmt.Errorf("destination register %d out of range", in.Dst)
	}
	for _, a := range in.Args {
		if a.Kind == ArgReg && (a.Reg < 0 || int(a.Reg) >= f.NumReg) {
			return fmt.Errorf("register %d out of range", a.Reg)
		}
	}
	switch in.Kind {
	case KindOp:
		if in.Op == "" {
			return fmt.Errorf("op instruction without operation name")
		}
	case KindCall:
		if in.Callee == nil {
			return fmt.Errorf("call instruction without callee")
		}
	case KindGate, KindReturn, KindProduce:
		if len(in.Args) != 1 {
			return fmt.Errorf("%s takes exactly one operand, got %d", in.Kind, len(in.Args))
		}
	case KindJump:
		if in.To < 0 || in.To >= len(f.Blocks) {
			return fmt.Errorf("jump target %d out of range", in.To)
		}
	case KindBranch:
		if len(in.Args) != 1 {
			return fmt.Errorf("branch takes exactly one condition operand")
		}
		if in.Then < 0 || in.Then >= len(f.Blocks) || in.Else < 0 || in.Else >= len(f.Blocks) {
			return fmt.Errorf("branch target out of range")
		}
	default:
		return fmt.Errorf("invalid instruction kind %d", in.Kind)
	}
	return nil
}
