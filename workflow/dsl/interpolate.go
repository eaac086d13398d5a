package dsl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// normalize converts values to their JSON shape so that expressions and
// templates can walk structs such as workflow.HumanInputResponse as maps.
func normalize(values map[string]any) (map[string]any, error) {
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("normalize state: %w", err)
	}
	out := make(map[string]any, len(values))
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize state: %w", err)
	}
	return out, nil
}

// interpolate replaces ${path} references. Unresolved references are left
// as written.
func interpolate(template string, vars map[string]any) string {
	var sb strings.Builder
	rest := template
	for {
		start := strings.Index(rest, "${")
		if start == -1 {
			sb.WriteString(rest)
			return sb.String()
		}
		end := strings.Index(rest[start:], "}")
		if end == -1 {
			sb.WriteString(rest)
			return sb.String()
		}
		ref := rest[start : start+end+1]
		sb.WriteString(rest[:start])

		path := strings.TrimSpace(ref[2 : len(ref)-1])
		if v := lookupPath(vars, strings.Split(path, ".")); v != nil && path != "" {
			sb.WriteString(render(v))
		} else {
			sb.WriteString(ref)
		}
		rest = rest[start+end+1:]
	}
}

func render(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case map[string]any, []any:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	default:
		return fmt.Sprint(val)
	}
}

// extractRefs 提取 ${path} 引用的路径
func extractRefs(s string) []string {
	var refs []string
	for {
		start := strings.Index(s, "${")
		if start == -1 {
			break
		}
		end := strings.Index(s[start:], "}")
		if end == -1 {
			break
		}
		refs = append(refs, strings.TrimSpace(s[start+2:start+end]))
		s = s[start+end+1:]
	}
	return refs
}
