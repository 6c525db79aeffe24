package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/roach88/tasksync/internal/model"
)

// marshalPatch converts a Patch to canonical JSON TEXT for storage.
func marshalPatch(p model.Patch) (string, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := model.MarshalCanonical(p)
	if err != nil {
		return "", fmt.Errorf("marshal patch: %w", err)
	}
	return string(data), nil
}

// unmarshalPatch parses stored patch TEXT. Timestamps come back as
// RFC 3339 strings, which entity Apply accepts.
func unmarshalPatch(data string) (model.Patch, error) {
	if data == "" || data == "{}" {
		return model.Patch{}, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(data)))
	dec.UseNumber()
	var p model.Patch
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("unmarshal patch: %w", err)
	}
	return p, nil
}
