package transport

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
)

// AddQuery serializes one request field into query parameters following the
// protojson conventions: objects flatten as name.subname=value, arrays
// repeat the name, nulls are dropped, and booleans are lowercase. The value
// may be any JSON-shaped Go value.
func AddQuery(q url.Values, name string, value any) {
	switch v := value.(type) {
	case nil:
		return
	case map[string]any:
		for k, sub := range v {
			AddQuery(q, name+"."+k, sub)
		}
	case []any:
		for _, sub := range v {
			AddQuery(q, name, sub)
		}
	case string:
		q.Add(name, v)
	case bool:
		q.Add(name, strconv.FormatBool(v))
	case json.Number:
		q.Add(name, v.String())
	case int:
		q.Add(name, strconv.Itoa(v))
	case int32:
		q.Add(name, strconv.FormatInt(int64(v), 10))
	case int64:
		q.Add(name, strconv.FormatInt(v, 10))
	case uint64:
		q.Add(name, strconv.FormatUint(v, 10))
	case float64:
		q.Add(name, strconv.FormatFloat(v, 'g', -1, 64))
	case fmt.Stringer:
		q.Add(name, v.String())
	default:
		// Fall back through JSON so typed request models flatten the same
		// way as plain maps.
		raw, err := json.Marshal(v)
		if err != nil {
			return
		}
		var shaped any
		if err := json.Unmarshal(raw, &shaped); err != nil {
			return
		}
		if s, ok := shaped.(string); ok {
			q.Add(name, s)
			return
		}
		if _, ok := shaped.(map[string]any); ok {
			AddQuery(q, name, shaped)
			return
		}
		if _, ok := shaped.([]any); ok {
			AddQuery(q, name, shaped)
			return
		}
		if shaped != nil {
			q.Add(name, string(raw))
		}
	}
}
