package toolregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CompilesEveryDefinition(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	defs := r.List()
	assert.Len(t, defs, len(defaultDefinitions()))

	for _, d := range defaultDefinitions() {
		_, ok := r.Get(d.Name)
		assert.True(t, ok, "expected %s to be registered", d.Name)
	}
}

func TestValidate_RequiresRequiredFields(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	err = r.Validate(ToolNavigate, map[string]any{})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, ToolNavigate, ve.Tool)
}

func TestValidate_AcceptsWellFormedInput(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	err = r.Validate(ToolNavigate, map[string]any{"url": "https://example.com"})
	assert.NoError(t, err)
}

func TestValidate_UnknownToolErrors(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	err = r.Validate("teleport", map[string]any{})
	require.Error(t, err)
}

func TestValidate_RejectsPseudoSelectorInSelectorField(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	err = r.Validate(ToolClick, map[string]any{"selector": `button:has-text("Submit")`})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestValidate_RejectsPseudoSelectorInBackupSelectors(t *testing.T) {
	r, err := New()
	require.NoError(t, err)

	err = r.Validate(ToolClick, map[string]any{
		"selector":        "#submit",
		"backupSelectors": []any{".btn", `button:contains("Go")`},
	})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
}

func TestAnalysisTools_OnlyNamesReadOnlyTools(t *testing.T) {
	assert.True(t, AnalysisTools[ToolExtractContext])
	assert.True(t, AnalysisTools[ToolTakeSnapshot])
	assert.False(t, AnalysisTools[ToolClick])
}
