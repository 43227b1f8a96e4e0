package syncx

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Op is a patch operation kind
type Op string

const (
	OpAdd     Op = "add"
	OpReplace Op = "replace"
	OpRemove  Op = "remove"
)

// Operation is one JSON Patch operation as sent by the server.
// Value stays raw so each collection decodes it into its own entity type.
type Operation struct {
	Op    Op              `json:"op"`
	Path  string          `json:"path"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Valid reports whether Op is one the engine understands
func (o Operation) Valid() bool {
	switch o.Op {
	case OpAdd, OpReplace, OpRemove:
		return true
	default:
		return false
	}
}

// HasObjectValue reports whether Value is a well-formed JSON object
func (o Operation) HasObjectValue() bool {
	v := bytes.TrimSpace(o.Value)
	if len(v) < 2 || v[0] != '{' {
		return false
	}
	return json.Valid(v)
}

// Add builds an add operation for an entity, marshalling value
func Add(collection, id string, value any) (Operation, error) {
	return withValue(OpAdd, collection, id, value)
}

// Replace builds a replace operation for an entity, marshalling value
func Replace(collection, id string, value any) (Operation, error) {
	return withValue(OpReplace, collection, id, value)
}

// Remove builds a remove operation for an entity
func Remove(collection, id string) Operation {
	return Operation{Op: OpRemove, Path: EntityPath(collection, id)}
}

func withValue(op Op, collection, id string, value any) (Operation, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Operation{}, fmt.Errorf("failed to marshal %s value for %s: %w", op, id, err)
	}
	return Operation{Op: op, Path: EntityPath(collection, id), Value: raw}, nil
}
