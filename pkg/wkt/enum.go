package wkt

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Enum is a protobuf enum value that preserves ordinals this library does
// not know a name for. Serialization prefers the name; an unknown ordinal
// round-trips as a bare number instead of being silently dropped.
type Enum struct {
	name    string
	ordinal int32
	known   bool
}

// KnownEnum builds an enum value with both name and ordinal.
func KnownEnum(name string, ordinal int32) Enum {
	return Enum{name: name, ordinal: ordinal, known: true}
}

// UnknownValue builds an enum value for an ordinal with no known name.
func UnknownValue(ordinal int32) Enum {
	return Enum{ordinal: ordinal}
}

// Name returns the enum name, or "" for unknown values.
func (e Enum) Name() string { return e.name }

// Ordinal returns the numeric value.
func (e Enum) Ordinal() int32 { return e.ordinal }

// Known reports whether the value has a name.
func (e Enum) Known() bool { return e.known }

// EnumCodec maps between names and ordinals for one enum type. Generated
// models hold one package-level codec per enum.
type EnumCodec struct {
	byName    map[string]int32
	byOrdinal map[int32]string
}

// NewEnumCodec builds a codec from the name -> ordinal table.
func NewEnumCodec(values map[string]int32) *EnumCodec {
	c := &EnumCodec{byName: values, byOrdinal: make(map[int32]string, len(values))}
	for name, ord := range values {
		c.byOrdinal[ord] = name
	}
	return c
}

// Marshal renders the protojson form: the name when known, the bare
// ordinal otherwise.
func (c *EnumCodec) Marshal(e Enum) ([]byte, error) {
	if e.known {
		return json.Marshal(e.name)
	}
	return json.Marshal(e.ordinal)
}

// Unmarshal accepts both the name and the ordinal form. Unknown ordinals
// are preserved; unknown names are an error.
func (c *EnumCodec) Unmarshal(data []byte) (Enum, error) {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		ord, ok := c.byName[name]
		if !ok {
			return Enum{}, fmt.Errorf("unknown enum name %q", name)
		}
		return KnownEnum(name, ord), nil
	}
	ordinal, err := strconv.ParseInt(string(data), 10, 32)
	if err != nil {
		return Enum{}, fmt.Errorf("enum must be a name or an ordinal, got %s", data)
	}
	if name, ok := c.byOrdinal[int32(ordinal)]; ok {
		return KnownEnum(name, int32(ordinal)), nil
	}
	return UnknownValue(int32(ordinal)), nil
}
