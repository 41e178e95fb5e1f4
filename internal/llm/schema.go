package llm

// BuildCarJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// Extra keys are allowed; the model sometimes adds a year or a confidence.
func BuildCarJSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"make":  nonBlankString(),
			"model": nonBlankString(),
		},
		"required": []string{"make", "model"},
	}
}

func nonBlankString() map[string]any {
	return map[string]any{
		"type":    "string",
		"pattern": `\S`,
	}
}
