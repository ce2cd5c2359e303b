package main

import (
	"fmt"
	"strings"

	"github.com/TuringLang/Libtask/tape"
)

// dumpFunc renders a tape function in a readable fixed layout, one block
// per paragraph. Used by the show command so the inserted copy gates are
// visible.
func dumpFunc(fn *tape.Func) string {
	var b strings.Builder
	fmt.Fprintf(&b, "func %s(%d params, %d regs)\n", fn.Name, fn.NumIn, fn.NumReg)
	for bi := range fn.Blocks {
		fmt.Fprintf(&b, "b%d:\n", bi)
		for _, in := range fn.Blocks[bi].Code {
			fmt.Fprintf(&b, "    %s\n", dumpInstr(&in))
		}
	}
	return b.String()
}

func dumpInstr(in *tape.Instr) string {
	switch in.Kind {
	case tape.KindOp:
		return fmt.Sprintf("r%d = %s(%s)", in.Dst, in.Op, dumpArgs(in.Args))
	case tape.KindCall:
		return fmt.Sprintf("r%d = call %s(%s)", in.Dst, in.Callee.Name, dumpArgs(in.Args))
	case tape.KindGate:
		return fmt.Sprintf("r%d = maybecopy(%s)", in.Dst, dumpArgs(in.Args))
	case tape.KindJump:
		return fmt.Sprintf("jump b%d", in.To)
	case tape.KindBranch:
		return fmt.Sprintf("branch %s ? b%d : b%d", dumpArgs(in.Args), in.Then, in.Else)
	case tape.KindReturn:
		return fmt.Sprintf("return %s", dumpArgs(in.Args))
	case tape.KindProduce:
		return fmt.Sprintf("r%d = produce %s", in.Dst, dumpArgs(in.Args))
	}
	return "<invalid>"
}

func dumpArgs(args []tape.Arg) string {
	parts := make([]string, len(args))
	for i, a := range args {
		if a.Kind == tape.ArgReg {
			parts[i] = fmt.Sprintf("r%d", a.Reg)
		} else {
			parts[i] = fmt.Sprintf("%#v", a.Val)
		}
	}
	return strings.Join(parts, ", ")
}
