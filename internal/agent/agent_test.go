package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSchemaRequiredField(t *testing.T) {
	schema := map[string]any{
		"type":     "object",
		"required": []any{"title", "price"},
		"properties": map[string]any{
			"title": map[string]any{"type": "string"},
			"price": map[string]any{"type": "number"},
		},
	}

	err := validateSchema(schema, map[string]any{"title": "Widget"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "price")

	err = validateSchema(schema, map[string]any{"title": "Widget", "price": 9.99})
	assert.NoError(t, err)
}

func TestValidateSchemaTypeMismatch(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tags": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
	}

	err := validateSchema(schema, map[string]any{"tags": []any{"a", 1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tags[1]")

	err = validateSchema(schema, map[string]any{"tags": []any{"a", "b"}})
	assert.NoError(t, err)
}

func TestValidateSchemaEnum(t *testing.T) {
	schema := map[string]any{"type": "string", "enum": []any{"draft", "published"}}

	assert.NoError(t, validateSchema(schema, "draft"))
	assert.Error(t, validateSchema(schema, "archived"))
}

func TestTruncateHeadHeavyShortStringUnchanged(t *testing.T) {
	s := "short content"
	assert.Equal(t, s, truncateHeadHeavy(s, 100, 20))
}

func TestTruncateHeadHeavyKeepsHeadAndTail(t *testing.T) {
	body := ""
	for i := 0; i < 100; i++ {
		body += "x"
	}
	body += "MIDDLE"
	for i := 0; i < 100; i++ {
		body += "y"
	}

	out := truncateHeadHeavy(body, 10, 10)
	assert.Contains(t, out, "elided")
	assert.NotContains(t, out, "MIDDLE")
}

func TestExtractJSONObjectFromProse(t *testing.T) {
	content := "Sure, here is the data:\n```json\n{\"a\": 1, \"b\": \"two\"}\n```\nHope that helps."
	obj, err := extractJSONObject(content)
	require.NoError(t, err)
	assert.Equal(t, float64(1), obj["a"])
	assert.Equal(t, "two", obj["b"])
}

func TestExtractJSONObjectNoJSON(t *testing.T) {
	_, err := extractJSONObject("no json here at all")
	assert.Error(t, err)
}
