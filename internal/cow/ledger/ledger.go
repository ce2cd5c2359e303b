// Package ledger holds the per-task copy-on-write bookkeeping: which
// objects a task already owns an exclusive copy of, and which copies it
// has already made. A ledger belongs to exactly one task and is only
// ever touched by that task's own execution, so it carries no locks.
package ledger

import (
	"fmt"

	"github.com/TuringLang/Libtask/internal/cow/deepcopy"
	"github.com/TuringLang/Libtask/tape"
)

// Ledger is the per-task ownership state consumed by the copy gate.
//
// The asset set holds the identities of objects the task has made its
// own, either by copying or because the task allocated them itself. The
// copy log maps an original object's identity to the copy this task
// produced for it, so the second and later encounters of the same
// original reuse the existing copy instead of copying again.
type Ledger struct {
	policy *tape.CopyPolicy
	skip   any // the task's own storage; intrinsically task-local, never copied

	assets map[deepcopy.Key]any
	copies map[deepcopy.Key]copyEntry

	copyCount int
}

// copyEntry pairs a copy with the original it was made from. Identity
// keys are raw addresses, so the log must keep the original reachable:
// were it collected, a later allocation could reuse its address and the
// gate would hand that unrelated object the stale copy.
type copyEntry struct {
	orig any
	dup  any
}

// New returns an empty ledger. The gate passes skip through unchanged
// even when the policy would otherwise copy it.
func New(policy *tape.CopyPolicy, skip any) *Ledger {
	return &Ledger{
		policy: policy,
		skip:   skip,
		assets: make(map[deepcopy.Key]any),
		copies: make(map[deepcopy.Key]copyEntry),
	}
}

// MaybeCopy is the copy gate. For an owned object it returns the object
// unchanged; for an original it has copied before it returns that same
// copy; otherwise it deep-copies, records the copy, and returns it.
// Objects the policy does not recognize, untrackable values, and the
// task's own storage pass through untouched.
//
// The gate is idempotent: a second call on an already-owned object is an
// identity check and nothing else.
func (l *Ledger) MaybeCopy(obj any) (any, error) {
	if obj == nil || !l.policy.CopyWorthy(obj) {
		return obj, nil
	}
	key, ok := deepcopy.Identity(obj)
	if !ok {
		return obj, nil
	}
	if l.skip != nil {
		if sk, ok := deepcopy.Identity(l.skip); ok && sk == key {
			return obj, nil
		}
	}
	if _, owned := l.assets[key]; owned {
		return obj, nil
	}
	if e, seen := l.copies[key]; seen {
		if dk, ok := deepcopy.Identity(e.dup); ok {
			l.assets[dk] = e.dup
		}
		return e.dup, nil
	}
	dup, err := deepcopy.Copy(obj)
	if err != nil {
		return nil, fmt.Errorf("copy-on-write of %T: %w", obj, err)
	}
	if dk, ok := deepcopy.Identity(dup); ok {
		l.assets[dk] = dup
	}
	l.copies[key] = copyEntry{orig: obj, dup: dup}
	l.copyCount++
	return dup, nil
}

// Own records obj as task-owned without copying. Used for objects the
// task allocated itself: a first write to a never-shared object must not
// pay for a copy.
func (l *Ledger) Own(obj any) {
	if obj == nil || !l.policy.CopyWorthy(obj) {
		return
	}
	if key, ok := deepcopy.Identity(obj); ok {
		l.assets[key] = obj
	}
}

// Owns reports whether obj is in the asset set.
func (l *Ledger) Owns(obj any) bool {
	key, ok := deepcopy.Identity(obj)
	if !ok {
		return false
	}
	_, owned := l.assets[key]
	return owned
}

// CopyCount returns how many deep copies the gate has produced.
func (l *Ledger) CopyCount() int { return l.copyCount }

// Assets returns the number of owned objects.
func (l *Ledger) Assets() int { return len(l.assets) }

// CheckInvariants probes the ledger for corruption: no copy instance may
// serve two different originals, and every copy-log value must be
// identity-trackable. A violation is an internal defect of the gate, not
// a user error; the test suite calls this after exercising the protocol.
func (l *Ledger) CheckInvariants() error {
	owners := make(map[deepcopy.Key]deepcopy.Key, len(l.copies))
	for orig, e := range l.copies {
		origKey, hasID := deepcopy.Identity(e.orig)
		if !hasID || origKey != orig {
			return fmt.Errorf("ledger: copy log entry for %v does not hold its original", orig)
		}
		dk, ok := deepcopy.Identity(e.dup)
		if !ok {
			return fmt.Errorf("ledger: copy for original %v has no identity", orig)
		}
		if prev, clash := owners[dk]; clash {
			return fmt.Errorf("ledger: copy instance shared by two originals (%v, %v)", prev, orig)
		}
		owners[dk] = orig
	}
	return nil
}
