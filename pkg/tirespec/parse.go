package tirespec

import (
	"encoding/json"
	"fmt"
)

// Parse parses and validates a JSON tire record.
func Parse(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse tire record: %w", err)
	}

	if err := Validate(&rec); err != nil {
		return nil, err
	}

	return &rec, nil
}
