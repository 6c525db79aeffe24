// Package diff computes and applies minimal field-level patches between two
// versions of an entity, and merges server responses into local state
// without discarding local edits made while a request was in flight.
//
// All functions are pure. Comparison is shallow and strict per field using
// model.ValueEqual.
package diff

import (
	"github.com/roach88/tasksync/internal/model"
)

// Compute returns the fields of next whose values differ from prev. A field
// present in next but absent from prev is included; fields absent from next
// are ignored, so Compute never produces deletions.
func Compute(prev, next model.Fields) model.Patch {
	patch := model.Patch{}
	for field, v := range next {
		old, ok := prev[field]
		if !ok || !model.ValueEqual(old, v) {
			patch[field] = v
		}
	}
	return patch
}

// ComputePatch is Compute over two entities.
func ComputePatch[T model.Entity[T]](prev, next T) model.Patch {
	return Compute(prev.Fields(), next.Fields())
}

// ApplyPatch merges only the listed fields into e. An empty patch returns e
// unchanged.
func ApplyPatch[T model.Entity[T]](e T, patch model.Patch) (T, error) {
	if len(patch) == 0 {
		return e, nil
	}
	return e.Apply(patch)
}

// Reconcile merges a server response into the current local copy.
//
// base is the local copy before the mutation's optimistic patch; current is
// the local copy now; optimistic is what this mutation applied locally;
// server is the server's canonical entity. For a field this mutation
// touched, the server value is applied only while the local value is still
// the optimistic one; any other local value was written later and wins,
// including a value equal to base. A field the mutation did not touch takes
// the server's change only while it still holds base's value. Fields
// already equal to the server's value are left out of the result, and so
// is an untouched field the server left at base.
func Reconcile(base, current model.Fields, optimistic model.Patch, server model.Fields) model.Patch {
	patch := model.Patch{}
	for field, sv := range server {
		cv, ok := current[field]
		if ok && model.ValueEqual(cv, sv) {
			continue
		}
		if ov, touched := optimistic[field]; touched {
			if !ok || model.ValueEqual(cv, ov) {
				patch[field] = sv
			}
			continue
		}
		if bv, had := base[field]; had && model.ValueEqual(bv, sv) {
			continue
		}
		if !ok || model.ValueEqual(cv, base[field]) {
			patch[field] = sv
		}
	}
	return patch
}

// Revert computes the patch that undoes an optimistic patch. Only fields
// still holding this mutation's optimistic value are restored to base, so a
// later local edit to the same field survives the rollback.
func Revert(base, current model.Fields, optimistic model.Patch) model.Patch {
	patch := model.Patch{}
	for field, ov := range optimistic {
		cv, ok := current[field]
		if !ok || !model.ValueEqual(cv, ov) {
			continue
		}
		bv := base[field]
		if !model.ValueEqual(cv, bv) {
			patch[field] = bv
		}
	}
	return patch
}

// Changed reports whether applying patch to fields would change anything.
func Changed(fields model.Fields, patch model.Patch) bool {
	for field, v := range patch {
		old, ok := fields[field]
		if !ok || !model.ValueEqual(old, v) {
			return true
		}
	}
	return false
}
