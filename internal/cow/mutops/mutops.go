// Package mutops classifies operations by whether they mutate one of
// their arguments in place, and if so which one. The table is pure
// lookup state: the dataflow pass consults it while instrumenting,
// nothing consults it at run time.
package mutops

import (
	"fmt"
	"sort"
	"sync"
)

// Table maps operation names to the 1-based position of the argument
// they mutate in place. Operations absent from the table are
// non-mutating. Registration is open; functions instrumented before a
// registration do not retroactively protect the new operation.
type Table struct {
	mu  sync.RWMutex
	pos map[string]int
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{pos: make(map[string]int)}
}

// Default returns a fresh table covering the builtin mutating
// vocabulary. Every entry mutates its first argument.
func Default() *Table {
	t := NewTable()
	for _, name := range []string{"push!", "pop!", "setindex!", "fill!", "store!", "delete!"} {
		t.pos[name] = 1
	}
	return t
}

// Register adds name as mutating its pos-th argument (1-based).
func (t *Table) Register(name string, pos int) error {
	if name == "" {
		return fmt.Errorf("mutops: empty operation name")
	}
	if pos < 1 {
		return fmt.Errorf("mutops: %s: argument position %d must be >= 1", name, pos)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pos[name] = pos
	return nil
}

// Lookup classifies a direct call op(target, ...): it returns the
// 1-based position of the mutated argument, or false for non-mutating
// or unknown operations.
func (t *Table) Lookup(name string) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.pos[name]
	return p, ok
}

// LookupShifted classifies the dispatch-wrapper call shape
// apply(op, target, ...), where every argument of the wrapped operation
// sits one position later. The returned position is 1-based within the
// wrapper's argument list.
func (t *Table) LookupShifted(name string) (int, bool) {
	p, ok := t.Lookup(name)
	if !ok {
		return 0, false
	}
	return p + 1, true
}

// Clone returns an independent table with the same entries.
func (t *Table) Clone() *Table {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := NewTable()
	for k, v := range t.pos {
		out.pos[k] = v
	}
	return out
}

// Names returns the registered operation names, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.pos))
	for k := range t.pos {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
