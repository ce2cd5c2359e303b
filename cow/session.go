package cow

import (
	"fmt"
	"sync/atomic"

	"github.com/TuringLang/Libtask/internal/cow/instrument"
	"github.com/TuringLang/Libtask/internal/cow/mutops"
	"github.com/TuringLang/Libtask/tape"
	"github.com/TuringLang/Libtask/task"
)

// Session bundles one configuration of the protocol: a mutating-
// operation table, an exemption registry, a builtin op vocabulary, a
// copy policy, and the instrumentation cache built against them.
// Sessions are independent; instrumenting in one never affects another,
// which keeps concurrent test suites and embedders isolated.
type Session struct {
	table   *mutops.Table
	ops     *tape.OpTable
	policy  *tape.CopyPolicy
	inst    *instrument.Instrumenter
	exprSeq atomic.Uint64
}

// NewSession returns a session with the default classifier table, the
// builtin op vocabulary, the default copy policy, and no exemptions.
func NewSession() *Session {
	table := mutops.Default()
	return &Session{
		table:  table,
		ops:    tape.DefaultOps(),
		policy: tape.DefaultCopyPolicy(),
		inst:   instrument.New(table, instrument.NewRegistry()),
	}
}

// Instrument returns the instrumented form of fn for the given concrete
// arguments: a drop-in replacement whose reads after mutations are gated
// and whose user-call edges recurse into the machinery. Results are
// cached per (function, argument shape).
func (s *Session) Instrument(fn *tape.Func, args ...any) (*tape.Func, error) {
	return s.inst.Instrument(fn, args...)
}

// Exempt makes every call to fn execute without instrumentation: the
// function still runs, but it observes the true shared objects, and its
// mutations are visible to every task sharing them. Exemptions apply to
// all tasks and all future instrumentation of call sites targeting fn.
func (s *Session) Exempt(fn *tape.Func) {
	s.inst.Exempts().Exempt(fn)
}

// ExemptExpr wraps a single expression (an arbitrary Go closure) as a
// zero-argument exempt function, so one statement can bypass the
// protocol without exempting a whole function. The returned function
// takes no arguments and returns the closure's value.
func (s *Session) ExemptExpr(expr func() (any, error)) *tape.Func {
	name := fmt.Sprintf("exempt.expr.%d", s.exprSeq.Add(1))
	s.ops.Register(name, func(args []any) (any, error) {
		return expr()
	})
	b := tape.NewBuilder(name, 0)
	r := b.NewReg()
	b.Op(r, name)
	b.Return(tape.R(r))
	fn, err := b.Build()
	if err != nil {
		// A two-instruction function cannot fail validation.
		panic(err)
	}
	s.Exempt(fn)
	return fn
}

// RegisterMutating extends the classifier: op mutates its pos-th
// argument (1-based) in place. Functions instrumented before the
// registration do not retroactively protect op.
func (s *Session) RegisterMutating(op string, pos int) error {
	return s.table.Register(op, pos)
}

// RegisterOp adds a builtin operation to the session's vocabulary.
// Pair it with RegisterMutating when the operation writes to one of its
// arguments.
func (s *Session) RegisterOp(name string, fn tape.OpFunc) {
	s.ops.Register(name, fn)
}

// RegisterCopyWorthy opts values matched by pred into copying by this
// session's gate.
func (s *Session) RegisterCopyWorthy(pred func(any) bool) {
	s.policy.Register(pred)
}

// MutatingOps returns the registered mutating operation names, sorted.
func (s *Session) MutatingOps() []string {
	return s.table.Names()
}

// NewTask instruments fn for the given arguments and starts a task on
// the result, wired to this session's vocabulary and copy policy.
func (s *Session) NewTask(fn *tape.Func, args ...any) (*task.Task, error) {
	inst, err := s.Instrument(fn, args...)
	if err != nil {
		return nil, err
	}
	return task.NewInstrumented(inst, s.ops, s.policy, args...)
}
