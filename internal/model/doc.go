// Package model provides the entity types, field-level patch representation,
// error taxonomy and intent validation shared by every tasksync package.
//
// This package imports nothing internal. All other internal packages import
// model; model is the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Entities are immutable values; a change produces a new value.
//   - Field names in Fields and Patch are the JSON names (camelCase) of the
//     server's wire shape, so a Patch can be sent to the transport as-is.
//   - Field values are scalars only: string, bool, time.Time or nil.
//   - Ids are opaque strings; the core never parses them.
package model
