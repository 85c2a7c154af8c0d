package wkt

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Bytes encodes as standard base64 with padding per protojson. The parser
// also accepts the URL-safe alphabet and missing padding.
type Bytes []byte

// MarshalJSON implements json.Marshaler.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal(base64.StdEncoding.EncodeToString(b))
}

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bytes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("bytes must be a JSON string: %w", err)
	}
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if decoded, err := enc.DecodeString(s); err == nil {
			*b = decoded
			return nil
		}
	}
	return fmt.Errorf("invalid base64 payload %q", s)
}
