package rpc

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ValidateParams checks args against an MCP inputSchema: every name in
// required must be present, and each present parameter is type-checked
// against its declared schema type, per spec §4.J.
func ValidateParams(schema map[string]any, args json.RawMessage) error {
	if schema == nil {
		return nil
	}

	var params map[string]any
	if len(args) > 0 {
		if err := json.Unmarshal(args, &params); err != nil {
			return fmt.Errorf("Invalid params: arguments must be a JSON object")
		}
	}
	if params == nil {
		params = map[string]any{}
	}

	if required, ok := schema["required"].([]any); ok {
		var missing []string
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := params[name]; !present {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("Invalid params: Missing required parameters: %s", strings.Join(missing, ", "))
		}
	}

	properties, _ := schema["properties"].(map[string]any)
	var errs []string
	for name, value := range params {
		propSchema, ok := properties[name].(map[string]any)
		if !ok {
			continue
		}
		if err := validateType(name, value, propSchema); err != "" {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("Invalid params: Parameter validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateType(field string, value any, schema map[string]any) string {
	declared, _ := schema["type"].(string)
	if declared == "" {
		return ""
	}

	ok := false
	switch declared {
	case "string":
		_, ok = value.(string)
	case "boolean":
		_, ok = value.(bool)
	case "number":
		_, ok = value.(float64)
	case "integer":
		f, isNum := value.(float64)
		ok = isNum && f == float64(int64(f))
	case "array":
		arr, isArr := value.([]any)
		ok = isArr
		if ok {
			if items, hasItems := schema["items"].(map[string]any); hasItems {
				for i, item := range arr {
					if err := validateType(fmt.Sprintf("%s[%d]", field, i), item, items); err != "" {
						return err
					}
				}
			}
		}
	case "object":
		_, ok = value.(map[string]any)
	default:
		ok = true
	}

	if !ok {
		return fmt.Sprintf("%s must be %s", field, article(declared))
	}
	return ""
}

func article(typ string) string {
	switch typ {
	case "integer", "object", "array":
		return "an " + typ
	default:
		return "a " + typ
	}
}
