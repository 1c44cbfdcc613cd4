package ai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONPlain(t *testing.T) {
	raw, err := ExtractJSON(`{"summary": "ok"}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary": "ok"}`, string(raw))
}

func TestExtractJSONWithProse(t *testing.T) {
	reply := `Sure! Here is the analysis you asked for:

{"summary": "a contract", "categories": ["Legal"]}

Let me know if you need anything else.`

	raw, err := ExtractJSON(reply)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "a contract", decoded["summary"])
}

func TestExtractJSONMarkdownFence(t *testing.T) {
	reply := "```json\n{\"summary\": \"fenced\"}\n```"

	raw, err := ExtractJSON(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"summary": "fenced"}`, string(raw))
}

func TestExtractJSONNestedObjects(t *testing.T) {
	reply := `{"outer": {"inner": {"deep": 1}}, "list": [{"a": 2}]}`

	raw, err := ExtractJSON(reply)
	require.NoError(t, err)
	assert.JSONEq(t, reply, string(raw))
}

func TestExtractJSONBracesInsideStrings(t *testing.T) {
	reply := `{"summary": "uses { and } and \" inside", "n": 1}`

	raw, err := ExtractJSON(reply)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, `uses { and } and " inside`, decoded["summary"])
}

func TestExtractJSONNoObject(t *testing.T) {
	_, err := ExtractJSON("I could not produce any structured output, sorry.")
	assert.Error(t, err)
}

func TestExtractJSONUnterminated(t *testing.T) {
	_, err := ExtractJSON(`{"summary": "cut off`)
	assert.Error(t, err)
}

func TestExtractJSONInvalidBalanced(t *testing.T) {
	_, err := ExtractJSON(`{"summary": }`)
	assert.Error(t, err)
}

func TestStripFences(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripFences("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, stripFences(`{"a":1}`))
}
