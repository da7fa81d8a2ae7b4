package audit

import "fmt"

const (
	maxDepth     = 5
	maxStringLen = 10 * 1024
)

// Sanitize prunes a context snapshot for persistence: binary payloads are
// replaced with size markers, strings over 10 KB are truncated, and nesting
// is capped at depth 5. The input is never mutated.
func Sanitize(value map[string]interface{}) map[string]interface{} {
	out, _ := sanitizeValue(value, 0).(map[string]interface{})
	return out
}

func sanitizeValue(value interface{}, depth int) interface{} {
	switch v := value.(type) {
	case nil:
		return nil
	case []byte:
		return fmt.Sprintf("<binary %d bytes>", len(v))
	case string:
		if len(v) > maxStringLen {
			return v[:maxStringLen] + fmt.Sprintf("... <truncated %d bytes>", len(v)-maxStringLen)
		}
		return v
	case map[string]interface{}:
		if depth >= maxDepth {
			return fmt.Sprintf("<map with %d keys>", len(v))
		}
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			out[k] = sanitizeValue(val, depth+1)
		}
		return out
	case []interface{}:
		if depth >= maxDepth {
			return fmt.Sprintf("<list with %d items>", len(v))
		}
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = sanitizeValue(val, depth+1)
		}
		return out
	default:
		return v
	}
}
