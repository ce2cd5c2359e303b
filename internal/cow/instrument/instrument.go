// Package instrument rewrites tape functions so every value read after
// an in-place mutation goes through the copy gate, and every call to a
// user-defined function recurses into the same transformation. The
// output is built once per (function, argument shape) and cached; the
// per-task ledger, not the instrumented code, is what makes the result
// task-specific.
package instrument

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/TuringLang/Libtask/internal/cow/mutops"
	"github.com/TuringLang/Libtask/tape"
)

// Instrumenter transforms functions against one mutating-operation
// table and one exemption registry. Independent sessions hold
// independent instrumenters so they do not interfere.
type Instrumenter struct {
	mu      sync.Mutex
	table   *mutops.Table
	exempts *Registry
	cache   map[cacheKey]*tape.Func
}

type cacheKey struct {
	fn  *tape.Func
	sig string
}

// New returns an instrumenter using the given classifier table and
// exemption registry.
func New(table *mutops.Table, exempts *Registry) *Instrumenter {
	return &Instrumenter{
		table:   table,
		exempts: exempts,
		cache:   make(map[cacheKey]*tape.Func),
	}
}

// Table returns the classifier table the instrumenter consults.
func (in *Instrumenter) Table() *mutops.Table { return in.table }

// Exempts returns the exemption registry.
func (in *Instrumenter) Exempts() *Registry { return in.exempts }

// Signature derives the argument-shape key from concrete argument
// values. Instrumented output is memoized per (function, signature).
func Signature(args []any) string {
	if len(args) == 0 {
		return ""
	}
	parts := make([]string, len(args))
	for i, a := range args {
		if a == nil {
			parts[i] = "nil"
			continue
		}
		parts[i] = reflect.TypeOf(a).String()
	}
	return strings.Join(parts, ",")
}

// Instrument returns the instrumented form of fn for the given concrete
// arguments, building and caching it on first use. Exempt functions are
// returned unchanged. Failures are instrumentation-time only and leave
// previously instrumented functions untouched.
func (in *Instrumenter) Instrument(fn *tape.Func, args ...any) (*tape.Func, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.instrument(fn, Signature(args))
}

func (in *Instrumenter) instrument(fn *tape.Func, sig string) (out *tape.Func, err error) {
	if fn == nil {
		return nil, &Error{Func: "<nil>", Block: -1, Index: -1, Message: "no function to instrument"}
	}
	if in.exempts.IsExempt(fn) {
		return fn, nil
	}
	key := cacheKey{fn: fn, sig: sig}
	if got, ok := in.cache[key]; ok {
		return got, nil
	}
	if verr := fn.Validate(); verr != nil {
		return nil, &Error{
			Func:       fn.Name,
			Block:      -1,
			Index:      -1,
			Message:    "unsupported construct",
			Suggestion: "every block must end in exactly one jump, branch, or return",
			Err:        verr,
		}
	}

	out = fn.Clone()
	// The shell goes into the cache before the body is rewritten so that
	// recursive call edges resolve to it instead of looping forever.
	in.cache[key] = out
	defer func() {
		if err != nil {
			delete(in.cache, key)
		}
	}()

	// Route every user-call edge through the machinery. Builtin ops stay
	// as they are; the dataflow pass covers them via the classifier.
	for bi := range out.Blocks {
		code := out.Blocks[bi].Code
		for ii := range code {
			if code[ii].Kind != tape.KindCall {
				continue
			}
			callee := code[ii].Callee
			if in.exempts.IsExempt(callee) {
				continue
			}
			inst, cerr := in.instrument(callee, "")
			if cerr != nil {
				return nil, &Error{
					Func:    fn.Name,
					Block:   bi,
					Index:   ii,
					Message: fmt.Sprintf("cannot instrument callee %s", callee.Name),
					Err:     cerr,
				}
			}
			code[ii].Callee = inst
		}
	}

	if derr := in.dataflow(out); derr != nil {
		return nil, derr
	}
	return out, nil
}
