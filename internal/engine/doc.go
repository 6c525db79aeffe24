// Package engine implements the optimistic mutation engine.
//
// The engine owns the normalized entity state and is its only writer. Every
// state change happens on the single goroutine running Run, which processes
// three event types in FIFO order:
//
//   - dispatch: a validated intent is applied optimistically (creates with a
//     provisional id, updates with the requested patch) and its server call
//     is started on its own goroutine
//   - settle: the server call returned; the result is reconciled into the
//     state field by field, or the optimistic patch is reverted
//   - apply: a local-only state transition (full loads, hydration, drafts)
//
// The transport call is the only suspension point. Store operations and
// reconciliation always run to completion without interleaving, so two
// mutations against one entity never partially overlap.
//
// Readers never lock: State returns the current immutable snapshot.
package engine
