package types

import "encoding/json"

// Field is a snapshot value that may be absent from the payload. Set reports
// whether the key was present, even when its value was null.
type Field[T any] struct {
	Value T
	Set   bool
}

func Some[T any](v T) Field[T] { return Field[T]{Value: v, Set: true} }

func (f Field[T]) Get() (T, bool) { return f.Value, f.Set }

// IsZero lets `omitzero` drop absent fields when encoding.
func (f Field[T]) IsZero() bool { return !f.Set }

func (f Field[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Value)
}

func (f *Field[T]) UnmarshalJSON(data []byte) error {
	var v T
	if string(data) != "null" {
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
	}
	f.Value = v
	f.Set = true
	return nil
}
