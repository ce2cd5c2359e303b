// Package cow is the public API of the copy-on-write ownership protocol.
//
// The protocol lets a running tape program be forked into independent
// tasks that behave as if each had a private copy of every mutable
// object it touches, while actually sharing objects until a write forces
// a copy. It has three parts:
//
//   - a classifier table naming which operations mutate an argument in
//     place (RegisterMutating extends it),
//   - a static dataflow pass that rewrites a function so every point
//     where a mutated value might still be read routes through the copy
//     gate (Instrument),
//   - a per-task ledger consulted by the gate at run time, making the
//     lazy-copy decision idempotent and convergent (MaybeCopy).
//
// Instrumented code is built once per function and argument shape and
// shared across tasks; the ledger is what is per-task.
//
// Most programs use the package-level functions, which operate on a
// process-wide default Session. Tests and embedders that need isolated
// classifier tables or exemption registries create their own Session.
//
// A minimal use:
//
//	t, err := cow.NewTask(myFunc, vec)
//	t1 := t.Fork()
//	// t1 now lazily copies whatever it mutates; t is unaffected.
package cow
