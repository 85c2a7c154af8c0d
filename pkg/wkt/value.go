package wkt

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Value is the protobuf Value well-known type: null, a number, a string, a
// boolean, a Struct, or a ListValue. The zero Value is null.
type Value struct {
	v any
}

// NullValue is the protobuf NullValue enum. It serializes as the JSON
// literal null, and parsers accept null for this specific type.
type NullValue struct{}

// MarshalJSON implements json.Marshaler.
func (NullValue) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Struct is a map of dynamically typed values.
type Struct map[string]Value

// ListValue is a list of dynamically typed values.
type ListValue []Value

// NewValue wraps a Go value. Supported types: nil, bool, float64, string,
// Struct, ListValue, and the protobuf NullValue.
func NewValue(v any) Value {
	return Value{v: v}
}

// IsNull reports whether the value is null.
func (v Value) IsNull() bool {
	if v.v == nil {
		return true
	}
	_, ok := v.v.(NullValue)
	return ok
}

// AsInterface returns the underlying Go value: nil, bool, float64, string,
// Struct, or ListValue.
func (v Value) AsInterface() any {
	if v.IsNull() {
		return nil
	}
	return v.v
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsNull() {
		return []byte("null"), nil
	}
	return json.Marshal(v.v)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("invalid Value: %w", err)
	}
	converted, err := fromJSON(raw)
	if err != nil {
		return err
	}
	*v = converted
	return nil
}

func fromJSON(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Value{}, nil
	case bool, string:
		return Value{v: t}, nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return Value{v: f}, nil
	case float64:
		return Value{v: t}, nil
	case map[string]any:
		s := make(Struct, len(t))
		for k, e := range t {
			ev, err := fromJSON(e)
			if err != nil {
				return Value{}, err
			}
			s[k] = ev
		}
		return Value{v: s}, nil
	case []any:
		l := make(ListValue, 0, len(t))
		for _, e := range t {
			ev, err := fromJSON(e)
			if err != nil {
				return Value{}, err
			}
			l = append(l, ev)
		}
		return Value{v: l}, nil
	default:
		return Value{}, fmt.Errorf("unsupported Value payload %T", raw)
	}
}

// MarshalJSON implements json.Marshaler.
func (s Struct) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]Value(s))
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Struct) UnmarshalJSON(data []byte) error {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return err
	}
	st, ok := v.AsInterface().(Struct)
	if !ok {
		return fmt.Errorf("Struct must be a JSON object")
	}
	*s = st
	return nil
}
