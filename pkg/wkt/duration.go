// Package wkt implements the protojson wire encoding for the protobuf
// well-known types used by Google APIs: Duration, Timestamp, FieldMask,
// Any, Value/Struct, wrapper types, 64-bit integers as strings, and enum
// values with unknown-ordinal preservation. Every codec obeys the
// round-trip law: serialize(deserialize(x)) == x for well-formed inputs.
package wkt

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration is a signed span of time with nanosecond precision. On the wire
// it is a decimal number of seconds suffixed with "s", such as
// "3.000000001s".
type Duration time.Duration

// FormatDuration renders d in the protojson form. Fractional seconds use
// 3, 6, or 9 digits, whichever is shortest without losing precision.
func FormatDuration(d time.Duration) string {
	neg := d < 0
	if neg {
		d = -d
	}
	secs := int64(d / time.Second)
	nanos := int64(d % time.Second)
	sign := ""
	if neg {
		sign = "-"
	}
	if nanos == 0 {
		return fmt.Sprintf("%s%ds", sign, secs)
	}
	frac := fmt.Sprintf("%09d", nanos)
	switch {
	case strings.HasSuffix(frac, "000000"):
		frac = frac[:3]
	case strings.HasSuffix(frac, "000"):
		frac = frac[:6]
	}
	return fmt.Sprintf("%s%d.%ss", sign, secs, frac)
}

// ParseDuration parses the protojson duration form.
func ParseDuration(s string) (time.Duration, error) {
	body, ok := strings.CutSuffix(s, "s")
	if !ok {
		return 0, fmt.Errorf("duration %q missing trailing s", s)
	}
	neg := strings.HasPrefix(body, "-")
	body = strings.TrimPrefix(body, "-")
	secPart, fracPart, _ := strings.Cut(body, ".")
	secs, err := strconv.ParseInt(secPart, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("duration %q: %w", s, err)
	}
	var nanos int64
	if fracPart != "" {
		if len(fracPart) > 9 {
			return 0, fmt.Errorf("duration %q has more than nanosecond precision", s)
		}
		padded := fracPart + strings.Repeat("0", 9-len(fracPart))
		nanos, err = strconv.ParseInt(padded, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("duration %q: %w", s, err)
		}
	}
	d := time.Duration(secs)*time.Second + time.Duration(nanos)
	if neg {
		d = -d
	}
	return d, nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(FormatDuration(time.Duration(d)))), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("duration must be a JSON string: %w", err)
	}
	parsed, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}
