// Package view derives the read-only dashboard view from an entity.State:
// lists joined with their tasks, filtered by a search term and a completion
// mode, then sorted.
//
// Each stage is pure and memoized on the identity of its input plus its own
// parameter, so an unchanged State yields the previously returned *View.
package view
