package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// marshalValue converts a property value to JSON TEXT for storage.
// HTML escaping is disabled so stored text matches what callers wrote.
func marshalValue(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("marshal value: %w", err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}

// unmarshalValue parses JSON TEXT back into a value.
// Numbers decode as json.Number to avoid float64 precision loss for
// integers > 2^53.
func unmarshalValue(data string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}
