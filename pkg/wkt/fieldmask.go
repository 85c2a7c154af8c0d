package wkt

import (
	"fmt"
	"strconv"
	"strings"
)

// FieldMask is a set of field paths. On the wire it is a single string of
// comma-joined paths, such as "user.displayName,photo".
type FieldMask struct {
	Paths []string
}

// FormatFieldMask renders the comma-joined wire form.
func FormatFieldMask(m FieldMask) string {
	return strings.Join(m.Paths, ",")
}

// ParseFieldMask splits the wire form back into paths. The empty string is
// an empty mask.
func ParseFieldMask(s string) FieldMask {
	if s == "" {
		return FieldMask{}
	}
	return FieldMask{Paths: strings.Split(s, ",")}
}

// MarshalJSON implements json.Marshaler.
func (m FieldMask) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(FormatFieldMask(m))), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *FieldMask) UnmarshalJSON(data []byte) error {
	s, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("field mask must be a JSON string: %w", err)
	}
	*m = ParseFieldMask(s)
	return nil
}
