package model

import "time"

func stringValue(kind Kind, id, field string, v any) (string, error) {
	switch val := Normalize(v).(type) {
	case string:
		return val, nil
	default:
		return "", NewValidationError(kind, id, "field %q: expected string, got %T", field, v)
	}
}

func optionalStringValue(kind Kind, id, field string, v any) (*string, error) {
	switch val := Normalize(v).(type) {
	case nil:
		return nil, nil
	case string:
		return &val, nil
	default:
		return nil, NewValidationError(kind, id, "field %q: expected string or null, got %T", field, v)
	}
}

func boolValue(kind Kind, id, field string, v any) (bool, error) {
	switch val := Normalize(v).(type) {
	case bool:
		return val, nil
	default:
		return false, NewValidationError(kind, id, "field %q: expected bool, got %T", field, v)
	}
}

func timeValue(kind Kind, id, field string, v any) (time.Time, error) {
	switch val := Normalize(v).(type) {
	case time.Time:
		return val, nil
	case string:
		t, err := time.Parse(time.RFC3339Nano, val)
		if err != nil {
			return time.Time{}, NewValidationError(kind, id, "field %q: %v", field, err)
		}
		return t, nil
	default:
		return time.Time{}, NewValidationError(kind, id, "field %q: expected time, got %T", field, v)
	}
}

func optionalTimeValue(kind Kind, id, field string, v any) (*time.Time, error) {
	if Normalize(v) == nil {
		return nil, nil
	}
	t, err := timeValue(kind, id, field, v)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
