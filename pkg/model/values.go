package model

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Normalize converts a decoded document value into the canonical JSON shape
// (map[string]interface{}, []interface{}, string, float64, bool, nil) so that
// values loaded from YAML, CUE and JSON compare equal.
func Normalize(v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	return out, nil
}

// NormalizeMap normalizes every value of m.
func NormalizeMap(m map[string]interface{}) (map[string]interface{}, error) {
	if m == nil {
		return nil, nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		n, err := Normalize(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

// IsDefined reports whether a parameter holds a value.
func IsDefined(m map[string]interface{}, name string) bool {
	v, ok := m[name]
	return ok && v != nil
}

// ValuesEqual compares two normalized values.
func ValuesEqual(a, b interface{}) bool {
	return reflect.DeepEqual(a, b)
}
