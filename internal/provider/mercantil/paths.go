package mercantil

import (
	"fmt"
	"strconv"
	"strings"
)

// lookupString returns the first non-empty string found by walking the
// candidate dot-paths through a decoded JSON document. Numeric segments
// index into arrays ("error_list.0.error_code").
func lookupString(doc any, paths []string) string {
	for _, path := range paths {
		if v, ok := walk(doc, strings.Split(path, ".")); ok {
			if s := asString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func walk(node any, segments []string) (any, bool) {
	for _, seg := range segments {
		switch n := node.(type) {
		case map[string]any:
			v, ok := n[seg]
			if !ok {
				return nil, false
			}
			node = v
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(n) {
				return nil, false
			}
			node = n[idx]
		default:
			return nil, false
		}
	}
	return node, true
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		// JSON numbers decode as float64; status codes like 00 may
		// arrive numeric.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return fmt.Sprintf("%v", t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}
