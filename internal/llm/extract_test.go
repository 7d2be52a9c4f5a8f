package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_Fenced(t *testing.T) {
	response := "Here is my analysis:\n```json\n{\"exploitable\": true, \"confidence\": 85}\n```\nLet me know."
	raw, err := ExtractJSON(response)
	require.NoError(t, err)
	assert.JSONEq(t, `{"exploitable": true, "confidence": 85}`, raw)
}

func TestExtractJSON_Bare(t *testing.T) {
	raw, err := ExtractJSON(`The verdict follows. {"verdict": "likely", "note": "a } inside a string"} trailing text`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"verdict": "likely", "note": "a } inside a string"}`, raw)
}

func TestExtractJSON_Array(t *testing.T) {
	raw, err := ExtractJSON(`[{"a":1},{"a":2}]`)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"a":1},{"a":2}]`, raw)
}

func TestExtractJSON_NoJSON(t *testing.T) {
	_, err := ExtractJSON("I cannot determine that.")
	assert.Error(t, err)
}

func TestExtractJSON_Unbalanced(t *testing.T) {
	_, err := ExtractJSON(`{"truncated": tru`)
	assert.Error(t, err)
}

func TestDecodeJSON(t *testing.T) {
	var out struct {
		Verdict string `json:"verdict"`
	}
	require.NoError(t, DecodeJSON("```json\n{\"verdict\":\"confirmed\"}\n```", &out))
	assert.Equal(t, "confirmed", out.Verdict)
}

func TestNew_DisabledWithoutKeys(t *testing.T) {
	c, err := New(context.Background(), Config{})
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	_, err = c.Complete(context.Background(), "sys", "user")
	assert.Error(t, err, "disabled client must refuse completions")
}

func TestNew_UnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "anthropic-maybe"})
	assert.Error(t, err)
}

func TestNew_SelectedProviderWithoutKeyDisables(t *testing.T) {
	c, err := New(context.Background(), Config{Provider: "openai"})
	require.NoError(t, err)
	assert.False(t, c.Enabled())
}
