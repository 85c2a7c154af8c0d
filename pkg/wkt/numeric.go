package wkt

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Int64 encodes as a JSON string ("123") per protojson. The parser accepts
// both the string and the bare number form.
type Int64 int64

// MarshalJSON implements json.Marshaler.
func (v Int64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatInt(int64(v), 10))), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Int64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid int64 %s: %w", data, err)
	}
	*v = Int64(parsed)
	return nil
}

// UInt64 encodes as a JSON string per protojson, accepting both forms on
// input.
type UInt64 uint64

// MarshalJSON implements json.Marshaler.
func (v UInt64) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(strconv.FormatUint(uint64(v), 10))), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *UInt64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	parsed, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid uint64 %s: %w", data, err)
	}
	*v = UInt64(parsed)
	return nil
}

// Float64 encodes as a JSON number, with the non-finite values spelled as
// the strings "NaN", "Infinity", and "-Infinity". Integer literals and
// quoted numbers are accepted on input.
type Float64 float64

// MarshalJSON implements json.Marshaler.
func (v Float64) MarshalJSON() ([]byte, error) {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return []byte(`"NaN"`), nil
	case math.IsInf(f, 1):
		return []byte(`"Infinity"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-Infinity"`), nil
	}
	return []byte(strconv.FormatFloat(f, 'g', -1, 64)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Float64) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	switch s {
	case "NaN":
		*v = Float64(math.NaN())
		return nil
	case "Infinity":
		*v = Float64(math.Inf(1))
		return nil
	case "-Infinity":
		*v = Float64(math.Inf(-1))
		return nil
	}
	parsed, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid float %s: %w", data, err)
	}
	*v = Float64(parsed)
	return nil
}
