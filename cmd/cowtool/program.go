package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/TuringLang/Libtask/cow"
	"github.com/TuringLang/Libtask/tape"
)

// programFile is the YAML schema of a cowtool program description.
type programFile struct {
	// MinVersion pins the oldest runtime the program accepts, e.g. "v0.2.0".
	MinVersion string `yaml:"minVersion"`
	// Mutating extends the classifier table.
	Mutating []mutatingDef `yaml:"mutating"`
	// Exempt lists function names excluded from instrumentation.
	Exempt []string `yaml:"exempt"`
	// Entry names the function to instrument and run.
	Entry string `yaml:"entry"`
	// Args are the literal arguments passed to the entry function.
	Args  []yaml.Node `yaml:"args"`
	Funcs []funcDef   `yaml:"funcs"`
}

type mutatingDef struct {
	Op  string `yaml:"op"`
	Arg int    `yaml:"arg"`
}

type funcDef struct {
	Name   string       `yaml:"name"`
	Params []string     `yaml:"params"`
	Blocks [][]instrDef `yaml:"blocks"`
}

// instrDef is one instruction; exactly one of the kind keys (op, call,
// jump, branch, return, produce) must be present.
type instrDef struct {
	Op      string      `yaml:"op"`
	Call    string      `yaml:"call"`
	Jump    *int        `yaml:"jump"`
	Branch  string      `yaml:"branch"`
	Then    int         `yaml:"then"`
	Else    int         `yaml:"else"`
	Return  *yaml.Node  `yaml:"return"`
	Produce *yaml.Node  `yaml:"produce"`
	Dst     string      `yaml:"dst"`
	Args    []yaml.Node `yaml:"args"`
}

// program is a loaded description: a session configured per the file,
// the resolved entry function, and its literal arguments.
type program struct {
	session *cow.Session
	entry   *tape.Func
	args    []any
}

func loadProgram(path string) (*program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf programFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if pf.MinVersion != "" && !cow.AtLeast(pf.MinVersion) {
		return nil, fmt.Errorf("%s requires runtime %s, this is %s", path, pf.MinVersion, cow.Version)
	}
	if len(pf.Funcs) == 0 {
		return nil, fmt.Errorf("%s: no functions", path)
	}

	session := cow.NewSession()
	for _, m := range pf.Mutating {
		if err := session.RegisterMutating(m.Op, m.Arg); err != nil {
			return nil, err
		}
	}

	// Shells first so calls can resolve by name in any order; bodies are
	// filled in place afterwards.
	funcs := make(map[string]*tape.Func, len(pf.Funcs))
	for _, fd := range pf.Funcs {
		if fd.Name == "" {
			return nil, fmt.Errorf("%s: function without name", path)
		}
		if _, dup := funcs[fd.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate function %s", path, fd.Name)
		}
		funcs[fd.Name] = &tape.Func{Name: fd.Name}
	}
	for _, fd := range pf.Funcs {
		if err := buildFunc(funcs[fd.Name], fd, funcs); err != nil {
			return nil, fmt.Errorf("%s: func %s: %w", path, fd.Name, err)
		}
	}

	for _, name := range pf.Exempt {
		fn, ok := funcs[name]
		if !ok {
			return nil, fmt.Errorf("%s: exempt function %s not defined", path, name)
		}
		session.Exempt(fn)
	}

	entryName := pf.Entry
	if entryName == "" {
		entryName = pf.Funcs[0].Name
	}
	entry, ok := funcs[entryName]
	if !ok {
		return nil, fmt.Errorf("%s: entry function %s not defined", path, entryName)
	}

	args := make([]any, len(pf.Args))
	for i, n := range pf.Args {
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("%s: entry argument %d: %w", path, i, err)
		}
		args[i] = v
	}
	return &program{session: session, entry: entry, args: args}, nil
}

// regAlloc maps register names to indices, allocating on first use.
type regAlloc struct {
	byName map[string]tape.Reg
	next   int
}

func (ra *regAlloc) reg(name string) tape.Reg {
	if r, ok := ra.byName[name]; ok {
		return r
	}
	r := tape.Reg(ra.next)
	ra.next++
	ra.byName[name] = r
	return r
}

func buildFunc(fn *tape.Func, fd funcDef, funcs map[string]*tape.Func) error {
	ra := &regAlloc{byName: make(map[string]tape.Reg)}
	for _, p := range fd.Params {
		ra.reg(p)
	}
	fn.NumIn = len(fd.Params)

	arg := func(n yaml.Node) (tape.Arg, error) {
		// A bare string names a register; {lit: ...} embeds a literal of
		// any type, including strings.
		if n.Kind == yaml.MappingNode {
			var m struct {
				Lit yaml.Node `yaml:"lit"`
			}
			if err := n.Decode(&m); err != nil {
				return tape.Arg{}, err
			}
			var v any
			if err := m.Lit.Decode(&v); err != nil {
				return tape.Arg{}, err
			}
			return tape.Lit(v), nil
		}
		var v any
		if err := n.Decode(&v); err != nil {
			return tape.Arg{}, err
		}
		if s, ok := v.(string); ok {
			return tape.R(ra.reg(s)), nil
		}
		return tape.Lit(v), nil
	}
	argList := func(nodes []yaml.Node) ([]tape.Arg, error) {
		out := make([]tape.Arg, len(nodes))
		for i, n := range nodes {
			a, err := arg(n)
			if err != nil {
				return nil, err
			}
			out[i] = a
		}
		return out, nil
	}

	fn.Blocks = make([]tape.Block, len(fd.Blocks))
	for bi, defs := range fd.Blocks {
		for ii, d := range defs {
			instr, err := buildInstr(d, ra, funcs, arg, argList)
			if err != nil {
				return fmt.Errorf("block %d instr %d: %w", bi, ii, err)
			}
			fn.Blocks[bi].Code = append(fn.Blocks[bi].Code, instr)
		}
	}
	fn.NumReg = ra.next
	return fn.Validate()
}

func buildInstr(
	d instrDef,
	ra *regAlloc,
	funcs map[string]*tape.Func,
	arg func(yaml.Node) (tape.Arg, error),
	argList func([]yaml.Node) ([]tape.Arg, error),
) (tape.Instr, error) {
	switch {
	case d.Op != "":
		args, err := argList(d.Args)
		if err != nil {
			return tape.Instr{}, err
		}
		if d.Dst == "" {
			return tape.Instr{}, fmt.Errorf("op %s needs dst", d.Op)
		}
		return tape.Instr{Kind: tape.KindOp, Op: d.Op, Dst: ra.reg(d.Dst), Args: args}, nil

	case d.Call != "":
		callee, ok := funcs[d.Call]
		if !ok {
			return tape.Instr{}, fmt.Errorf("call to undefined function %s", d.Call)
		}
		args, err := argList(d.Args)
		if err != nil {
			return tape.Instr{}, err
		}
		if d.Dst == "" {
			return tape.Instr{}, fmt.Errorf("call %s needs dst", d.Call)
		}
		return tape.Instr{Kind: tape.KindCall, Callee: callee, Dst: ra.reg(d.Dst), Args: args}, nil

	case d.Jump != nil:
		return tape.Instr{Kind: tape.KindJump, To: *d.Jump}, nil

	case d.Branch != "":
		return tape.Instr{
			Kind: tape.KindBranch,
			Args: []tape.Arg{tape.R(ra.reg(d.Branch))},
			Then: d.Then,
			Else: d.Else,
		}, nil

	case d.Return != nil:
		a, err := arg(*d.Return)
		if err != nil {
			return tape.Instr{}, err
		}
		return tape.Instr{Kind: tape.KindReturn, Args: []tape.Arg{a}}, nil

	case d.Produce != nil:
		a, err := arg(*d.Produce)
		if err != nil {
			return tape.Instr{}, err
		}
		dst := d.Dst
		if dst == "" {
			dst = "_produce"
		}
		return tape.Instr{Kind: tape.KindProduce, Dst: ra.reg(dst), Args: []tape.Arg{a}}, nil
	}
	return tape.Instr{}, fmt.Errorf("instruction without kind (op, call, jump, branch, return, produce)")
}
