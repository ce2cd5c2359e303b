package instrument

import (
	"sync"

	"github.com/TuringLang/Libtask/tape"
)

// Registry records functions exempt from instrumentation. An exempt
// function executes unmodified: call sites targeting it are not
// rewritten and its body is never transformed, so it observes the true
// shared objects. Required for primitives that must see real aliasing,
// such as cross-task communication helpers.
//
// Exemptions are registry-wide: once registered, they apply to every
// task and every future instrumentation of call sites targeting the
// function. Functions instrumented earlier keep the call rewriting they
// already have.
type Registry struct {
	mu     sync.RWMutex
	exempt map[*tape.Func]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{exempt: make(map[*tape.Func]struct{})}
}

// Exempt marks fn as exempt.
func (r *Registry) Exempt(fn *tape.Func) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exempt[fn] = struct{}{}
}

// IsExempt reports whether fn is exempt.
func (r *Registry) IsExempt(fn *tape.Func) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.exempt[fn]
	return ok
}
