package storage

import (
	"encoding/json"
	"fmt"
)

// encodeState marshals a value set to its JSON wire form.
// A nil map encodes to the empty string, which the engines store as NULL.
func encodeState(state map[string]any) (string, error) {
	if state == nil {
		return "", nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("marshalling state: %w", err)
	}
	return string(data), nil
}

// decodeState unmarshals a JSON value set. Empty input yields nil,
// which callers treat as "no stored state".
func decodeState(data string) (map[string]any, error) {
	if data == "" {
		return nil, nil
	}
	var state map[string]any
	if err := json.Unmarshal([]byte(data), &state); err != nil {
		return nil, fmt.Errorf("unmarshalling state: %w", err)
	}
	return state, nil
}

// encodeValue marshals a single locals value to JSON.
func encodeValue(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("marshalling value: %w", err)
	}
	return string(data), nil
}

// decodeValue unmarshals a single locals value from JSON.
func decodeValue(data string) (any, error) {
	var value any
	if err := json.Unmarshal([]byte(data), &value); err != nil {
		return nil, fmt.Errorf("unmarshalling value: %w", err)
	}
	return value, nil
}
