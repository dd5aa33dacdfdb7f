package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI_IncludesHintAndCode(t *testing.T) {
	err := New(ErrCodeStoreLocked, "store is locked by another process", nil).
		WithSuggestion("close the other docindex process")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: store is locked by another process")
	assert.Contains(t, out, "Hint: close the other docindex process")
	assert.Contains(t, out, "Code: ERR_202_STORE_LOCKED")
}

func TestFormatForCLI_StandardError(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))

	assert.Contains(t, out, "Error: boom")
	assert.Contains(t, out, ErrCodeInternal)
	assert.Equal(t, "", FormatForCLI(nil))
}

func TestFormatJSON_WithCause(t *testing.T) {
	err := New(ErrCodeMapEvaluation, "map failed", errors.New("field Start: not a duration")).
		WithDetail("index", "Foos")

	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeMapEvaluation, decoded["code"])
	assert.Equal(t, "INTERNAL", decoded["category"])
	assert.Equal(t, "field Start: not a duration", decoded["cause"])
	assert.Equal(t, "Foos", decoded["details"].(map[string]any)["index"])
}

func TestFormatForLog(t *testing.T) {
	fields := FormatForLog(New(ErrCodeReduceInvariant, "order dependent reduce", nil).WithDetail("group", "7"))

	assert.Equal(t, ErrCodeReduceInvariant, fields["error_code"])
	assert.Equal(t, "WARNING", fields["severity"])
	assert.Equal(t, "7", fields["detail_group"])

	assert.Equal(t, map[string]any{"error": "plain"}, FormatForLog(errors.New("plain")))
	assert.Nil(t, FormatForLog(nil))
}
