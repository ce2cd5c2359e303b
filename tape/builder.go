package tape

// Builder constructs tape functions block by block. A fresh builder
// starts with the entry block (index 0) selected; NewBlock adds blocks
// and SetBlock switches the insertion point. Build validates the result.
type Builder struct {
	fn  *Func
	cur int
}

// NewBuilder starts a function with numIn parameters, bound to registers
// 0..numIn-1.
func NewBuilder(name string, numIn int) *Builder {
	return &Builder{
		fn: &Func{
			Name:   name,
			NumIn:  numIn,
			NumReg: numIn,
			Blocks: make([]Block, 1),
		},
	}
}

// Param returns the register holding parameter i.
func (b *Builder) Param(i int) Reg { return Reg(i) }

// NewReg allocates a fresh register.
func (b *Builder) NewReg() Reg {
	r := Reg(b.fn.NumReg)
	b.fn.NumReg++
	return r
}

// NewBlock appends an empty block and returns its index. The insertion
// point is unchanged.
func (b *Builder) NewBlock() int {
	b.fn.Blocks = append(b.fn.Blocks, Block{})
	return len(b.fn.Blocks) - 1
}

// SetBlock moves the insertion point to block i.
func (b *Builder) SetBlock(i int) { b.cur = i }

func (b *Builder) emit(in Instr) {
	blk := &b.fn.Blocks[b.cur]
	blk.Code = append(blk.Code, in)
}

// Op emits dst = name(args...).
func (b *Builder) Op(dst Reg, name string, args ...Arg) {
	b.emit(Instr{Kind: KindOp, Dst: dst, Op: name, Args: args})
}

// Call emits dst = callee(args...).
func (b *Builder) Call(dst Reg, callee *Func, args ...Arg) {
	b.emit(Instr{Kind: KindCall, Dst: dst, Callee: callee, Args: args})
}

// Jump emits an unconditional transfer to block to.
func (b *Builder) Jump(to int) {
	b.emit(Instr{Kind: KindJump, To: to})
}

// Branch emits a conditional transfer: then if cond is true, els otherwise.
func (b *Builder) Branch(cond Arg, then, els int) {
	b.emit(Instr{Kind: KindBranch, Args: []Arg{cond}, Then: then, Else: els})
}

// Return emits a function return of v.
func (b *Builder) Return(v Arg) {
	b.emit(Instr{Kind: KindReturn, Args: []Arg{v}})
}

// Produce emits a suspension point yielding v; the resume value lands
// in dst.
func (b *Builder) Produce(dst Reg, v Arg) {
	b.emit(Instr{Kind: KindProduce, Dst: dst, Args: []Arg{v}})
}

// Build validates and returns the function. The builder must not be
// reused afterwards.
func (b *Builder) Build() (*Func, error) {
	if err := b.fn.Validate(); err != nil {
		return nil, err
	}
	return b.fn, nil
}
