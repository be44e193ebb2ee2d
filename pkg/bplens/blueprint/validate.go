package blueprint

import (
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationResult is the outcome of checking a tree against the blueprint schema.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

var inputDeclSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name":        map[string]any{"type": "string"},
		"description": map[string]any{"type": "string"},
		"default":     map[string]any{},
		"selector": map[string]any{
			"type":          "object",
			"maxProperties": 1,
		},
	},
	"additionalProperties": false,
}

var blueprintSchema = map[string]any{
	"type":     "object",
	"required": []any{"blueprint", "trigger", "action"},
	"properties": map[string]any{
		"blueprint": map[string]any{
			"type":     "object",
			"required": []any{"name", "domain"},
			"properties": map[string]any{
				"name":        map[string]any{"type": "string"},
				"description": map[string]any{"type": "string"},
				"domain":      map[string]any{"type": "string"},
				"author":      map[string]any{"type": "string"},
				"source_url": map[string]any{
					"type":    "string",
					"pattern": `^https?://[^\s/$.?#][^\s]*$`,
				},
				"homeassistant": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"min_version": map[string]any{
							"type":    "string",
							"pattern": `^[0-9]+\.[0-9]+\.[0-9]+$`,
						},
					},
					"additionalProperties": false,
				},
				"input": map[string]any{
					"type": []any{"object", "null"},
					"additionalProperties": map[string]any{
						"oneOf": []any{
							map[string]any{"type": "null"},
							inputDeclSchema,
						},
					},
				},
			},
			"additionalProperties": false,
		},
		"trigger": map[string]any{"type": []any{"object", "array"}},
		"action":  map[string]any{"type": []any{"object", "array"}},
	},
}

var compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewGoLoader(blueprintSchema))

// Validate checks a parsed (unresolved) tree against the blueprint schema.
// Extra top-level keys are allowed. Errors are sorted for stable output.
func Validate(root *Node) ValidationResult {
	if schemaErr != nil {
		return ValidationResult{Errors: []string{schemaErr.Error()}}
	}
	result, err := compiledSchema.Validate(gojsonschema.NewGoLoader(root.Plain()))
	if err != nil {
		return ValidationResult{Errors: []string{err.Error()}}
	}
	if result.Valid() {
		return ValidationResult{Valid: true}
	}
	errs := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		errs[i] = desc.String()
	}
	sort.Strings(errs)
	return ValidationResult{Errors: errs}
}
