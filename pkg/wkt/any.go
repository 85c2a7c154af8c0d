package wkt

import (
	"encoding/json"
	"fmt"
)

// Any carries an arbitrary serialized message together with the URL of its
// type. In protojson the payload fields are flattened next to the "@type"
// key; well-known scalar types nest under a "value" key instead.
type Any struct {
	// TypeURL identifies the payload type, such as
	// "type.googleapis.com/google.rpc.ErrorInfo".
	TypeURL string
	// value holds the payload fields, excluding "@type".
	value map[string]json.RawMessage
}

// scalarAnyTypes are well-known types whose protojson form inside an Any
// nests under a "value" key rather than flattening.
var scalarAnyTypes = map[string]bool{
	"type.googleapis.com/google.protobuf.Duration":    true,
	"type.googleapis.com/google.protobuf.Timestamp":   true,
	"type.googleapis.com/google.protobuf.FieldMask":   true,
	"type.googleapis.com/google.protobuf.StringValue": true,
	"type.googleapis.com/google.protobuf.BytesValue":  true,
	"type.googleapis.com/google.protobuf.BoolValue":   true,
	"type.googleapis.com/google.protobuf.Int32Value":  true,
	"type.googleapis.com/google.protobuf.Int64Value":  true,
	"type.googleapis.com/google.protobuf.UInt32Value": true,
	"type.googleapis.com/google.protobuf.UInt64Value": true,
	"type.googleapis.com/google.protobuf.FloatValue":  true,
	"type.googleapis.com/google.protobuf.DoubleValue": true,
	"type.googleapis.com/google.protobuf.Value":       true,
	"type.googleapis.com/google.protobuf.Struct":      true,
	"type.googleapis.com/google.protobuf.ListValue":   true,
}

// NewAny builds an Any from a type URL and a JSON-marshalable payload.
func NewAny(typeURL string, payload any) (Any, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Any{}, fmt.Errorf("cannot serialize Any payload: %w", err)
	}
	a := Any{TypeURL: typeURL}
	if scalarAnyTypes[typeURL] {
		a.value = map[string]json.RawMessage{"value": raw}
		return a, nil
	}
	if err := json.Unmarshal(raw, &a.value); err != nil {
		return Any{}, fmt.Errorf("Any payload for %q must be a JSON object: %w", typeURL, err)
	}
	return a, nil
}

// Decode deserializes the payload into target.
func (a Any) Decode(target any) error {
	raw, err := a.payloadJSON()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return fmt.Errorf("cannot decode Any payload of type %q: %w", a.TypeURL, err)
	}
	return nil
}

func (a Any) payloadJSON() (json.RawMessage, error) {
	if scalarAnyTypes[a.TypeURL] {
		raw, ok := a.value["value"]
		if !ok {
			return nil, fmt.Errorf("Any of type %q missing value field", a.TypeURL)
		}
		return raw, nil
	}
	return json.Marshal(a.value)
}

// MarshalJSON implements json.Marshaler.
func (a Any) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(a.value)+1)
	for k, v := range a.value {
		out[k] = v
	}
	typeRaw, _ := json.Marshal(a.TypeURL)
	out["@type"] = typeRaw
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (a *Any) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("Any must be a JSON object: %w", err)
	}
	typeRaw, ok := fields["@type"]
	if !ok {
		return fmt.Errorf("Any missing @type key")
	}
	var typeURL string
	if err := json.Unmarshal(typeRaw, &typeURL); err != nil {
		return fmt.Errorf("Any @type must be a string: %w", err)
	}
	delete(fields, "@type")
	a.TypeURL = typeURL
	a.value = fields
	return nil
}
