package tools

// Schema helpers for building JSON Schema definitions.

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringProperty creates a string property.
func StringProperty(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
	}
}

// NonEmptyStringProperty creates a string property that rejects "".
func NonEmptyStringProperty(description string) map[string]any {
	p := StringProperty(description)
	p["minLength"] = 1
	return p
}

// IntegerProperty creates an integer property with an inclusive lower bound.
func IntegerProperty(description string, minimum int) map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": description,
		"minimum":     minimum,
	}
}

// WithThought adds the optional "thought" parameter to a schema, or a
// required one when requireThought is set.
func WithThought(schema map[string]any, requireThought bool) map[string]any {
	result := make(map[string]any, len(schema)+1)
	for k, v := range schema {
		result[k] = v
	}

	props, ok := result["properties"].(map[string]any)
	if !ok {
		props = make(map[string]any)
	}
	cloned := make(map[string]any, len(props)+1)
	for k, v := range props {
		cloned[k] = v
	}
	cloned["thought"] = StringProperty(
		"Your reasoning about why you're using this tool and what you expect it to return.",
	)
	result["properties"] = cloned

	if requireThought {
		required, _ := result["required"].([]string)
		result["required"] = append(append([]string(nil), required...), "thought")
	}
	return result
}

// BuildSchemaWithThought creates an ObjectSchema and adds thought support in one call.
func BuildSchemaWithThought(properties map[string]any, requireThought bool, required ...string) map[string]any {
	return WithThought(ObjectSchema(properties, required...), requireThought)
}
