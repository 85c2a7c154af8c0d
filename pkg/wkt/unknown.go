package wkt

import "encoding/json"

// UnknownFields is the catch-all map generated models use to round-trip
// message fields this library does not know about. Keys are the wire field
// names; values are the raw JSON payloads.
type UnknownFields map[string]json.RawMessage

// CollectUnknown returns the entries of fields whose keys are not in known.
// Models call this after decoding their declared fields so that later
// serialization does not silently drop data.
func CollectUnknown(fields map[string]json.RawMessage, known ...string) UnknownFields {
	knownSet := make(map[string]bool, len(known))
	for _, k := range known {
		knownSet[k] = true
	}
	var out UnknownFields
	for k, v := range fields {
		if knownSet[k] {
			continue
		}
		if out == nil {
			out = make(UnknownFields)
		}
		out[k] = v
	}
	return out
}

// MergeUnknown writes the preserved fields back into an output map prior to
// serialization.
func MergeUnknown(out map[string]json.RawMessage, unknown UnknownFields) {
	for k, v := range unknown {
		out[k] = v
	}
}
