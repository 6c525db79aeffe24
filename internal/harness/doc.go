// Package harness runs scenario tests against the sync engine.
//
// A scenario seeds the in-memory server, drives the real engine through a
// sequence of steps and checks the resulting store, derived view and query
// cache. Every step appends an event to a trace, which tests compare
// against golden files.
//
// # Scenario Format
//
//	name: reconcile_keeps_local_title
//	description: "a settling update does not clobber a later local edit"
//	actor: alice
//	seed:
//	  lists:
//	    - { id: L1, title: Groceries }
//	  tasks:
//	    - { id: t1, title: A, list: L1 }
//	steps:
//	  - { do: fetch }
//	  - { do: hold, name: h1, kind: tasks, op: update }
//	  - { do: update, name: u1, kind: tasks, id: t1, fields: { title: B, completed: true }, async: true }
//	  - { do: local, kind: tasks, id: t1, fields: { title: C } }
//	  - { do: release, name: h1 }
//	  - { do: wait, name: u1, status: fulfilled }
//	expect:
//	  tasks:
//	    t1: { title: C, completed: true }
//
// # Steps
//
//   - fetch: read lists with tasks through the query cache
//   - create, update, delete: submit an intent and, unless async, wait for it
//   - local: edit the local store without contacting the server
//   - hold: park the next server call of kind/op until release
//   - release: let a held call proceed, or fail it with reason
//   - fail: make the next server call of kind/op fail with reason
//   - wait: wait for an async mutation to settle
//
// An id of the form $name refers to the entity of mutation name: its
// server id once settled, its provisional id before that.
//
// # Deterministic Testing
//
// Server ids come from testutil.SequentialIDs ("srv-1", ...), provisional
// ids and mutation ids share one generator ("tmp-1", ...), and the server
// clock steps one minute per timestamp from testutil.Epoch. Steps run one
// at a time, so the same scenario always yields the same trace. Async
// mutations that are not held race with later steps; hold them or wait for
// them before the next step that talks to the server.
package harness
