package instrument

import "fmt"

// Error is an instrumentation-time failure with coordinates into the
// offending function. Instrumentation fails fast, before any task runs
// the function, and the failure is local: already-instrumented functions
// are unaffected.
type Error struct {
	Func       string // function name
	Block      int    // block index, -1 when not block-specific
	Index      int    // instruction index within the block, -1 when unknown
	Message    string
	Suggestion string // optional hint, empty if none
	Err        error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	var where string
	switch {
	case e.Block < 0:
		where = fmt.Sprintf("func %s", e.Func)
	case e.Index < 0:
		where = fmt.Sprintf("func %s: block %d", e.Func, e.Block)
	default:
		where = fmt.Sprintf("func %s: block %d, instr %d", e.Func, e.Block, e.Index)
	}
	msg := fmt.Sprintf("%s: %s", where, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Suggestion != "" {
		msg += "\n\nSuggestion: " + e.Suggestion
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }
