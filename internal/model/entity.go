package model

import (
	"encoding/json"
	"fmt"
)

// Entity is anything the partition store can hold: an id for the snapshot
// and a partition key (status) for the per-partition counters.
type Entity interface {
	EntityID() string
	PartitionKey() string
}

// MergeFields overlays fields onto base through a JSON round-trip.
// Keys are wire names (snake_case); unknown keys are dropped by the decoder.
// A nil value clears the field.
func MergeFields[T any](base T, fields map[string]any) (T, error) {
	var zero T
	if len(fields) == 0 {
		return base, nil
	}

	raw, err := json.Marshal(base)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal base entity: %w", err)
	}
	doc := map[string]any{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return zero, fmt.Errorf("entity is not a JSON object: %w", err)
	}
	for k, v := range fields {
		doc[k] = v
	}

	merged, err := json.Marshal(doc)
	if err != nil {
		return zero, fmt.Errorf("failed to marshal merged fields: %w", err)
	}
	var out T
	if err := json.Unmarshal(merged, &out); err != nil {
		return zero, fmt.Errorf("failed to decode merged entity: %w", err)
	}
	return out, nil
}
