package app

import (
	"bytes"
	"encoding/json"
)

// Nullable distinguishes an absent patch field from an explicit null.
type Nullable[T any] struct {
	Set   bool
	Value *T
}

func Null[T any]() Nullable[T] { return Nullable[T]{Set: true} }

func Value[T any](v T) Nullable[T] { return Nullable[T]{Set: true, Value: &v} }

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	n.Value = &v
	return nil
}

// apply returns the patched value of current.
func (n Nullable[T]) apply(current *T) *T {
	if !n.Set {
		return current
	}
	return n.Value
}
