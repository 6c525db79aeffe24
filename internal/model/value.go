package model

import (
	"slices"
	"time"
	"unicode/utf16"
)

// ValueEqual reports whether two field values are equal. Times compare by
// instant, so the same moment in different locations is equal.
func ValueEqual(a, b any) bool {
	switch av := a.(type) {
	case nil:
		return b == nil
	case time.Time:
		bv, ok := b.(time.Time)
		return ok && av.Equal(bv)
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

// Normalize folds the pointer forms a caller may put in a Patch (*string,
// *time.Time, *bool) into the canonical scalar form. Nil pointers become nil.
func Normalize(v any) any {
	switch val := v.(type) {
	case *string:
		if val == nil {
			return nil
		}
		return *val
	case *time.Time:
		if val == nil {
			return nil
		}
		return *val
	case *bool:
		if val == nil {
			return nil
		}
		return *val
	default:
		return v
	}
}

// Clone returns a shallow copy of the patch with every value normalized.
func (p Patch) Clone() Patch {
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = Normalize(v)
	}
	return out
}

// Keys returns the patch's field names in canonical order.
func (p Patch) Keys() []string {
	return sortedKeys(p)
}

// Without returns a copy of the patch minus the named fields.
func (p Patch) Without(fields ...string) Patch {
	out := make(Patch, len(p))
	for k, v := range p {
		if !slices.Contains(fields, k) {
			out[k] = v
		}
	}
	return out
}

// Keys returns the field names in canonical order.
func (f Fields) Keys() []string {
	return sortedKeys(f)
}

// Equal reports whether two field maps hold the same keys with equal values.
func (f Fields) Equal(other Fields) bool {
	if len(f) != len(other) {
		return false
	}
	for k, v := range f {
		ov, ok := other[k]
		if !ok || !ValueEqual(v, ov) {
			return false
		}
	}
	return true
}

// sortedKeys returns map keys in RFC 8785 order (UTF-16 code units).
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareKeysRFC8785)
	return keys
}

// compareKeysRFC8785 compares two keys by UTF-16 code units.
// For ASCII keys this matches byte order; it differs for supplementary
// plane characters, which encode as surrogate pairs.
func compareKeysRFC8785(a, b string) int {
	if a == b {
		return 0
	}
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	return len(ua) - len(ub)
}

