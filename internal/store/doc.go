// Package store is the durable boundary of the sync core, backed by SQLite.
//
// It holds two things:
//   - Snapshots: named, canonical-JSON renderings of an entity.State with
//     their digest, for hydrating a later session
//   - Mutation journal: one row per mutation record, written when the
//     mutation goes in flight and updated when it settles
//
// # Ordering
//
// Journal reads are ordered by the logical clock, never by wall time:
// ORDER BY seq ASC, id COLLATE BINARY ASC.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//
// # Migrations
//
// schema.sql creates the base tables with IF NOT EXISTS, so it runs on every
// Open. Later changes are numbered migrations tracked in PRAGMA
// user_version; each runs once, in its own transaction. A database whose
// user_version is ahead of this build is refused.
package store
