package entity

import (
	"encoding/json"
	"reflect"
)

// normalizeValue round-trips a value through JSON so that values read
// back from storage (numbers as float64, objects as map[string]any)
// compare equal to their compiled-in counterparts.
func normalizeValue(v any) any {
	if v == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// equalValues reports deep, JSON-normalized equality. Map comparisons
// are order-independent by construction.
func equalValues(a, b any) bool {
	return reflect.DeepEqual(normalizeValue(a), normalizeValue(b))
}

// copyMap returns a shallow copy, nil-in nil-out.
func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
