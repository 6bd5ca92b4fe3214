package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// ValueKind tags the shape of a shared-context value.
type ValueKind string

const (
	// KindPrimitive is a scalar: bool, string, or number.
	KindPrimitive ValueKind = "primitive"
	// KindObject is a structured value: a JSON-like map or list.
	KindObject ValueKind = "object"
)

// Value is a tagged union carried through shared context. Contributor
// values are heterogeneous, so conflict resolution compares them by
// deep structure rather than identity.
type Value struct {
	// Kind tags the shape of Data.
	Kind ValueKind `json:"kind"`
	// Data holds the value. For KindPrimitive it is a bool, string,
	// float64, or int64. For KindObject it is a map[string]any or []any.
	Data any `json:"data"`
}

// PrimitiveValue wraps a scalar in a Value.
func PrimitiveValue(v any) Value {
	return Value{Kind: KindPrimitive, Data: v}
}

// ObjectValue wraps a structured map in a Value.
func ObjectValue(m map[string]any) Value {
	return Value{Kind: KindObject, Data: m}
}

// ListValue wraps a list in a Value.
func ListValue(items []any) Value {
	return Value{Kind: KindObject, Data: items}
}

// String renders the value for logs and CLI output.
func (v Value) String() string {
	if v.Kind == KindPrimitive {
		return fmt.Sprintf("%v", v.Data)
	}
	b, err := json.Marshal(v.Data)
	if err != nil {
		return fmt.Sprintf("%v", v.Data)
	}
	return string(b)
}

// Contribution is one worker's entry for a shared-context key.
// Contributions are append-only; resolution happens on read.
type Contribution struct {
	// Value is the contributed value.
	Value Value `json:"value"`
	// ContributorID identifies the contributing worker.
	ContributorID string `json:"contributor_id"`
	// Timestamp is when the contribution was recorded.
	Timestamp time.Time `json:"timestamp"`
}
