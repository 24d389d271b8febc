package agent

import (
	"fmt"
	"sort"
)

// validateSchema structurally checks value against a JSON Schema object
// (draft-07 subset: type, properties, required, items, enum). No
// example repo in the corpus imports a JSON Schema validator
// (santhosh-tekuri/jsonschema et al. are absent from every go.sum), so
// this hand-rolled subset covers exactly what the agent extractor
// needs — object/array/string/number/boolean/integer typing, required
// fields, and enum membership — rather than the full draft spec
// (pattern, format, $ref, oneOf/anyOf are out of scope).
func validateSchema(schema map[string]any, value any) error {
	return validateNode(schema, value, "$")
}

func validateNode(schema map[string]any, value any, path string) error {
	if schema == nil {
		return nil
	}

	if enumVals, ok := schema["enum"].([]any); ok {
		if !enumContains(enumVals, value) {
			return fmt.Errorf("%s: value %v is not one of the allowed enum values", path, value)
		}
	}

	typeVal, hasType := schema["type"].(string)
	if !hasType {
		return nil
	}

	switch typeVal {
	case "object":
		obj, ok := value.(map[string]any)
		if !ok {
			return fmt.Errorf("%s: expected object, got %T", path, value)
		}
		if required, ok := schema["required"].([]any); ok {
			missing := []string{}
			for _, r := range required {
				name, _ := r.(string)
				if _, present := obj[name]; !present {
					missing = append(missing, name)
				}
			}
			if len(missing) > 0 {
				sort.Strings(missing)
				return fmt.Errorf("%s: missing required field(s): %v", path, missing)
			}
		}
		if props, ok := schema["properties"].(map[string]any); ok {
			for name, propSchemaAny := range props {
				propSchema, ok := propSchemaAny.(map[string]any)
				if !ok {
					continue
				}
				fieldVal, present := obj[name]
				if !present {
					continue
				}
				if err := validateNode(propSchema, fieldVal, path+"."+name); err != nil {
					return err
				}
			}
		}
	case "array":
		arr, ok := value.([]any)
		if !ok {
			return fmt.Errorf("%s: expected array, got %T", path, value)
		}
		if itemSchema, ok := schema["items"].(map[string]any); ok {
			for i, item := range arr {
				if err := validateNode(itemSchema, item, fmt.Sprintf("%s[%d]", path, i)); err != nil {
					return err
				}
			}
		}
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("%s: expected string, got %T", path, value)
		}
	case "number":
		if _, ok := value.(float64); !ok {
			return fmt.Errorf("%s: expected number, got %T", path, value)
		}
	case "integer":
		f, ok := value.(float64)
		if !ok || f != float64(int64(f)) {
			return fmt.Errorf("%s: expected integer, got %v", path, value)
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("%s: expected boolean, got %T", path, value)
		}
	}

	return nil
}

func enumContains(enum []any, value any) bool {
	for _, e := range enum {
		if fmt.Sprint(e) == fmt.Sprint(value) {
			return true
		}
	}
	return false
}
