package planparser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-dev/wayfarer/internal/toolregistry"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

func newRegistry(t *testing.T) *toolregistry.Registry {
	t.Helper()
	r, err := toolregistry.New()
	require.NoError(t, err)
	return r
}

func navigateBlock(id string) types.Block {
	return types.Block{
		Type: types.BlockToolUse,
		ID:   id,
		Name: toolregistry.ToolNavigate,
		Input: map[string]any{
			"url": "https://example.com",
		},
	}
}

func TestParse_RejectsZeroStepPlan(t *testing.T) {
	message := types.Message{Role: types.RoleAssistant, Content: []types.Block{
		{Type: types.BlockText, Text: "just thinking out loud"},
	}}

	_, err := Parse(message, newRegistry(t))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Reason, "zero executable steps")
}

func TestParse_RejectsUnknownTool(t *testing.T) {
	message := types.Message{Role: types.RoleAssistant, Content: []types.Block{
		{Type: types.BlockToolUse, ID: "tc1", Name: "teleport", Input: map[string]any{}},
	}}

	_, err := Parse(message, newRegistry(t))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Contains(t, parseErr.Reason, "unknown tool")
}

func TestParse_RejectsSchemaValidationFailure(t *testing.T) {
	message := types.Message{Role: types.RoleAssistant, Content: []types.Block{
		{Type: types.BlockToolUse, ID: "tc1", Name: toolregistry.ToolNavigate, Input: map[string]any{}},
	}}

	_, err := Parse(message, newRegistry(t))
	var parseErr *ParseError
	require.ErrorAs(t, err, &parseErr)
}

func TestParse_ExtractsPlanMetadataWithoutBecomingAStep(t *testing.T) {
	message := types.Message{Role: types.RoleAssistant, Content: []types.Block{
		{
			Type: types.BlockToolUse,
			ID:   "meta1",
			Name: toolregistry.ToolDeclarePlanMetadata,
			Input: map[string]any{
				"planType": "final",
			},
		},
		navigateBlock("tc1"),
	}}

	plan, err := Parse(message, newRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, "meta1", plan.MetadataToolUseID)
	assert.Equal(t, "final", plan.MetadataPlanType)
	require.Len(t, plan.Steps, 1)
	assert.Equal(t, toolregistry.ToolNavigate, plan.Steps[0].ToolName)
}

func TestParse_AssignsOrderAcrossSteps(t *testing.T) {
	message := types.Message{Role: types.RoleAssistant, Content: []types.Block{
		navigateBlock("tc1"),
		navigateBlock("tc2"),
	}}

	plan, err := Parse(message, newRegistry(t))
	require.NoError(t, err)
	require.Len(t, plan.Steps, 2)
	assert.Equal(t, 0, plan.Steps[0].Order)
	assert.Equal(t, 1, plan.Steps[1].Order)
}

func TestClassifyKind_AnalysisToolAsLastStepIsIntermediate(t *testing.T) {
	message := types.Message{Role: types.RoleAssistant, Content: []types.Block{
		navigateBlock("tc1"),
		{
			Type: types.BlockToolUse,
			ID:   "tc2",
			Name: toolregistry.ToolExtractContext,
			Input: map[string]any{},
		},
	}}

	plan, err := Parse(message, newRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, types.PlanIntermediate, plan.Kind)
}

func TestClassifyKind_IntermediateTextMarker(t *testing.T) {
	message := types.Message{Role: types.RoleAssistant, Content: []types.Block{
		{Type: types.BlockText, Text: "I'll click this then analyze the result."},
		navigateBlock("tc1"),
	}}

	plan, err := Parse(message, newRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, types.PlanIntermediate, plan.Kind)
}

func TestClassifyKind_FinalTextMarker(t *testing.T) {
	message := types.Message{Role: types.RoleAssistant, Content: []types.Block{
		{Type: types.BlockText, Text: "This completes the checkout flow."},
		navigateBlock("tc1"),
	}}

	plan, err := Parse(message, newRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, types.PlanFinal, plan.Kind)
}

func TestClassifyKind_DefaultsToFinal(t *testing.T) {
	message := types.Message{Role: types.RoleAssistant, Content: []types.Block{
		navigateBlock("tc1"),
	}}

	plan, err := Parse(message, newRegistry(t))
	require.NoError(t, err)
	assert.Equal(t, types.PlanFinal, plan.Kind)
}
