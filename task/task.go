// Package task provides forkable cooperative tasks running tape
// programs under the copy-on-write protocol.
//
// A task owns its interpreter state and a private ledger. Forking clones
// the interpreter state (the frame stack and registers) while every
// heap object the registers point at stays shared by reference. The
// forked task starts with an empty ledger, so it lazily copies whatever
// it subsequently mutates, and both tasks keep sharing everything
// neither has written to.
package task

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/TuringLang/Libtask/internal/cow/instrument"
	"github.com/TuringLang/Libtask/internal/cow/interp"
	"github.com/TuringLang/Libtask/internal/cow/ledger"
	"github.com/TuringLang/Libtask/internal/cow/mutops"
	"github.com/TuringLang/Libtask/tape"
)

// ErrFinished is reported by Consume once the task's program has
// returned its final value.
var ErrFinished = errors.New("task: finished")

// reservedKey types the storage keys the task reserves for itself, so
// user entries in the storage map can never collide with them.
type reservedKey string

// ledgerKey is the reserved slot of the copy-on-write ledger inside a
// task's storage.
const ledgerKey reservedKey = "libtask.cow.ledger"

// Task is one forkable unit of execution.
type Task struct {
	// ID identifies the task; forks get fresh IDs.
	ID uuid.UUID

	fn      *tape.Func // instrumented entry point
	machine *interp.Machine
	storage map[any]any
	ops     *tape.OpTable
	policy  *tape.CopyPolicy
}

// defaultInstrumenter serves the convenience constructor; sessions in
// package cow carry their own.
var defaultInstrumenter = instrument.New(mutops.Default(), instrument.NewRegistry())

// New instruments fn with the default mutating-operation table, no
// exemptions, the builtin op vocabulary, and the default copy policy,
// then starts a task on it. Use NewInstrumented when the function was
// instrumented through a session.
func New(fn *tape.Func, args ...any) (*Task, error) {
	inst, err := defaultInstrumenter.Instrument(fn, args...)
	if err != nil {
		return nil, err
	}
	return NewInstrumented(inst, tape.DefaultOps(), tape.DefaultCopyPolicy(), args...)
}

// NewInstrumented starts a task on an already-instrumented function.
// The op table supplies the builtin vocabulary, the policy decides what
// the copy gate may copy.
func NewInstrumented(fn *tape.Func, ops *tape.OpTable, policy *tape.CopyPolicy, args ...any) (*Task, error) {
	t := &Task{
		ID:      uuid.New(),
		fn:      fn,
		storage: make(map[any]any),
		ops:     ops,
		policy:  policy,
	}
	m, err := interp.New(fn, ops, t.gate, t.ownValue, args...)
	if err != nil {
		return nil, err
	}
	t.machine = m
	return t, nil
}

// Fork clones the task: same program position, registers copied so the
// clone resumes independently, heap objects shared by reference. The
// clone's storage is fresh and its ledger starts empty, so it will
// lazily copy whatever it mutates from here on.
func (t *Task) Fork() *Task {
	n := &Task{
		ID:      uuid.New(),
		fn:      t.fn,
		storage: make(map[any]any),
		ops:     t.ops,
		policy:  t.policy,
	}
	n.machine = t.machine.Clone(n.gate, n.ownValue)
	return n
}

// Consume resumes the task until it produces the next value or returns.
// When the program returns, Consume delivers the return value and Done
// becomes true; consuming past the end reports ErrFinished.
func (t *Task) Consume() (any, error) {
	return t.Resume(nil)
}

// Resume is Consume with a handoff value: v lands in the destination
// register of the produce the task is suspended at.
func (t *Task) Resume(v any) (any, error) {
	out, _, err := t.machine.Run(v)
	if err != nil {
		if errors.Is(err, interp.ErrDone) {
			return nil, ErrFinished
		}
		return nil, fmt.Errorf("task %s: %w", t.ID, err)
	}
	return out, nil
}

// Done reports whether the program has returned.
func (t *Task) Done() bool { return t.machine.Done() }

// Result returns the program's return value once Done.
func (t *Task) Result() any { return t.machine.Result() }

// Storage is the task's own associative store. The copy-on-write ledger
// lives here under a reserved key; the store itself is never copied by
// the gate.
func (t *Task) Storage() map[any]any { return t.storage }

// MaybeCopy routes obj through this task's copy gate: the public hook of
// the protocol. Owned objects and previously copied originals come back
// as the task's private instance; everything else passes through.
func (t *Task) MaybeCopy(obj any) (any, error) {
	return t.gate(obj)
}

// CopyCount reports how many deep copies this task's gate has made.
// Zero for a task that never mutated a shared object.
func (t *Task) CopyCount() int {
	if l := t.peekLedger(); l != nil {
		return l.CopyCount()
	}
	return 0
}

// Owns reports whether obj is in this task's asset set.
func (t *Task) Owns(obj any) bool {
	if l := t.peekLedger(); l != nil {
		return l.Owns(obj)
	}
	return false
}

// CheckLedger probes the task's ledger invariants. Tasks that never
// created a ledger pass trivially.
func (t *Task) CheckLedger() error {
	if l := t.peekLedger(); l != nil {
		return l.CheckInvariants()
	}
	return nil
}

// dedicated ledger accessors: the ledger is created lazily on the first
// ownership event and lives in the task's storage.

func (t *Task) peekLedger() *ledger.Ledger {
	if v, ok := t.storage[ledgerKey]; ok {
		return v.(*ledger.Ledger)
	}
	return nil
}

func (t *Task) ledger() *ledger.Ledger {
	if l := t.peekLedger(); l != nil {
		return l
	}
	l := ledger.New(t.policy, t.storage)
	t.storage[ledgerKey] = l
	return l
}

func (t *Task) gate(obj any) (any, error) {
	// Don't materialize a ledger for pass-through values: the ledger
	// appears on the first real ownership event.
	if t.peekLedger() == nil && (obj == nil || !t.policy.CopyWorthy(obj)) {
		return obj, nil
	}
	return t.ledger().MaybeCopy(obj)
}

func (t *Task) ownValue(obj any) {
	t.ledger().Own(obj)
}
