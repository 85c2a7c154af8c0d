package wkt

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Timestamp is a point in time, encoded on the wire as an RFC3339 string in
// UTC with up to nanosecond precision, such as "2025-03-01T12:30:00.250Z".
type Timestamp time.Time

// FormatTimestamp renders t in the protojson form. Fractional seconds use
// 3, 6, or 9 digits, whichever is shortest without losing precision.
func FormatTimestamp(t time.Time) string {
	t = t.UTC()
	base := t.Format("2006-01-02T15:04:05")
	nanos := t.Nanosecond()
	if nanos == 0 {
		return base + "Z"
	}
	frac := fmt.Sprintf("%09d", nanos)
	switch {
	case strings.HasSuffix(frac, "000000"):
		frac = frac[:3]
	case strings.HasSuffix(frac, "000"):
		frac = frac[:6]
	}
	return base + "." + frac + "Z"
}

// ParseTimestamp parses an RFC3339 timestamp, accepting any offset and any
// fractional precision up to nanoseconds.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// MarshalJSON implements json.Marshaler.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(FormatTimestamp(time.Time(t)))), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("timestamp must be a JSON string: %w", err)
	}
	parsed, err := ParseTimestamp(s)
	if err != nil {
		return err
	}
	*t = Timestamp(parsed)
	return nil
}
