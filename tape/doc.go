// Package tape defines the program representation the copy-on-write
// protocol operates on: functions made of basic blocks holding explicit
// instructions over virtual registers.
//
// A tape function is plain data. Its control-flow graph is an arena of
// blocks addressed by integer index with explicit successor edges, which
// keeps the instrumentation passes (insert instruction, renumber,
// propagate) simple and allocation-light. Because the interpreter state
// for a tape function is also plain data (a frame stack of register
// slices), a running tape program can be forked: the frame stack is
// cloned while every heap object stays shared by reference, and the
// copy-on-write protocol makes the clones behave as if each had a
// private copy of everything it writes to.
//
// The package also carries the builtin operation vocabulary (OpTable)
// and the container values those operations mutate in place (Vector,
// Dict), plus the CopyPolicy predicate that decides which values the
// copy gate is allowed to copy.
package tape
