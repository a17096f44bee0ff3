package store

import (
	"fmt"

	"github.com/goccy/go-json"

	"github.com/roach88/dirtyread/internal/shape"
)

// marshalColumns converts a relation's columns to JSON TEXT for storage.
func marshalColumns(cols []shape.Column) (string, error) {
	if cols == nil {
		cols = []shape.Column{}
	}
	data, err := json.Marshal(cols)
	if err != nil {
		return "", fmt.Errorf("marshal columns: %w", err)
	}
	return string(data), nil
}

// unmarshalColumns parses JSON TEXT back into columns.
func unmarshalColumns(data string) ([]shape.Column, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var cols []shape.Column
	if err := json.Unmarshal([]byte(data), &cols); err != nil {
		return nil, fmt.Errorf("unmarshal columns: %w", err)
	}
	return cols, nil
}

// marshalPayload encodes a row value as the payload of a tuple.
func marshalPayload(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return data, nil
}
