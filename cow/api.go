package cow

import (
	"github.com/TuringLang/Libtask/tape"
	"github.com/TuringLang/Libtask/task"
)

// defaultSession backs the package-level API. Embedders needing isolated
// configuration use NewSession instead.
var defaultSession = NewSession()

// Default returns the process-wide session the package-level functions
// operate on.
func Default() *Session { return defaultSession }

// Instrument instruments fn against the default session. See
// Session.Instrument.
func Instrument(fn *tape.Func, args ...any) (*tape.Func, error) {
	return defaultSession.Instrument(fn, args...)
}

// Exempt registers fn as exempt in the default session. See
// Session.Exempt.
func Exempt(fn *tape.Func) {
	defaultSession.Exempt(fn)
}

// ExemptExpr wraps expr as a zero-argument exempt function in the
// default session. See Session.ExemptExpr.
func ExemptExpr(expr func() (any, error)) *tape.Func {
	return defaultSession.ExemptExpr(expr)
}

// RegisterMutating extends the default session's classifier table. See
// Session.RegisterMutating.
func RegisterMutating(op string, pos int) error {
	return defaultSession.RegisterMutating(op, pos)
}

// NewTask instruments fn and starts a task on it in the default session.
func NewTask(fn *tape.Func, args ...any) (*task.Task, error) {
	return defaultSession.NewTask(fn, args...)
}

// MaybeCopy routes obj through t's copy gate, the public runtime hook
// of the protocol. The ledger is resolved from the task explicitly;
// there is no ambient current-task state.
func MaybeCopy(t *task.Task, obj any) (any, error) {
	return t.MaybeCopy(obj)
}
