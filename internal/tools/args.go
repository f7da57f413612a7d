package tools

import (
	"encoding/json"
	"fmt"

	"github.com/hollowmere/parley/pkg/provider/llm"
)

const (
	// maxArgStringLen caps individual string arguments before a tool call
	// is forwarded.
	maxArgStringLen = 1000

	// maxArgArrayLen caps array arguments.
	maxArgArrayLen = 100
)

// ValidateArgs checks a raw JSON argument string against the tool's parameter
// schema: it must be a JSON object, every required property must be present,
// and every declared property must match its declared type. Properties the
// schema does not declare are dropped rather than rejected, so a benign extra
// field does not discard the whole call. It returns the decoded argument map
// on success.
func ValidateArgs(def llm.ToolDefinition, raw string) (map[string]any, error) {
	if raw == "" {
		raw = "{}"
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("tools: args for %q are not a JSON object: %w", def.Name, err)
	}

	props, _ := def.Parameters["properties"].(map[string]any)
	if props != nil {
		for name, value := range args {
			schema, ok := props[name].(map[string]any)
			if !ok {
				if _, declared := props[name]; !declared {
					delete(args, name)
				}
				continue
			}
			declaredType, _ := schema["type"].(string)
			if declaredType != "" && !typeMatches(declaredType, value) {
				return nil, fmt.Errorf("tools: argument %q for tool %q is not of type %s", name, def.Name, declaredType)
			}
		}
	}

	if required, ok := def.Parameters["required"].([]any); ok {
		for _, req := range required {
			name, ok := req.(string)
			if !ok {
				continue
			}
			if _, present := args[name]; !present {
				return nil, fmt.Errorf("tools: missing required argument %q for tool %q", name, def.Name)
			}
		}
	}

	return args, nil
}

// typeMatches reports whether a decoded JSON value conforms to the declared
// JSON Schema primitive type. JSON numbers decode to float64, so "integer"
// additionally requires a whole value.
func typeMatches(declaredType string, value any) bool {
	switch declaredType {
	case "string":
		_, ok := value.(string)
		return ok
	case "number":
		_, ok := value.(float64)
		return ok
	case "integer":
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "array":
		_, ok := value.([]any)
		return ok
	case "object":
		_, ok := value.(map[string]any)
		return ok
	case "null":
		return value == nil
	default:
		return true
	}
}

// SanitizeArgs walks an argument map and bounds its contents: strings are
// truncated to 1000 characters and arrays to 100 entries, recursively through
// nested objects and arrays. The input map is modified in place and returned.
func SanitizeArgs(args map[string]any) map[string]any {
	for k, v := range args {
		args[k] = sanitizeValue(v)
	}
	return args
}

func sanitizeValue(v any) any {
	switch val := v.(type) {
	case string:
		runes := []rune(val)
		if len(runes) > maxArgStringLen {
			return string(runes[:maxArgStringLen])
		}
		return val
	case []any:
		if len(val) > maxArgArrayLen {
			val = val[:maxArgArrayLen]
		}
		for i, item := range val {
			val[i] = sanitizeValue(item)
		}
		return val
	case map[string]any:
		return SanitizeArgs(val)
	default:
		return v
	}
}

// EncodeArgs re-serialises a sanitized argument map for forwarding to the
// tool registry.
func EncodeArgs(args map[string]any) (string, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("tools: encode args: %w", err)
	}
	return string(data), nil
}
