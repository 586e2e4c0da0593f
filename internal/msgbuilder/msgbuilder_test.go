package msgbuilder

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-dev/wayfarer/internal/toolregistry"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

func blockByToolUseID(t *testing.T, msg types.Message, id string) types.Block {
	t.Helper()
	for _, b := range msg.Content {
		if b.ToolUseID == id {
			return b
		}
	}
	t.Fatalf("no block with tool_use_id %q", id)
	return types.Block{}
}

func TestBuildUserTurn_AcksPlanMetadata(t *testing.T) {
	plan := types.Plan{
		MetadataToolUseID: "meta1",
		MetadataPlanType:  "final",
		Steps: []types.PlanStep{
			{ToolUseID: "tc1", ToolName: toolregistry.ToolNavigate},
		},
	}
	executed := map[string]types.ExecutedStep{
		"tc1": {Success: true, Result: &types.ToolResult{Success: true, Summary: "navigated"}},
	}

	msg := BuildUserTurn(plan, executed, "")
	ack := blockByToolUseID(t, msg, "meta1")
	var got metadataAck
	require.NoError(t, json.Unmarshal([]byte(ack.Content.(string)), &got))
	assert.True(t, got.Success)
	assert.Equal(t, "final", got.PlanType)
}

func TestBuildUserTurn_MarksUnexecutedStepsNotExecuted(t *testing.T) {
	plan := types.Plan{
		Steps: []types.PlanStep{
			{ToolUseID: "tc1", ToolName: toolregistry.ToolNavigate},
			{ToolUseID: "tc2", ToolName: toolregistry.ToolClick},
		},
	}
	executed := map[string]types.ExecutedStep{
		"tc1": {Success: true, Result: &types.ToolResult{Success: true}},
	}

	msg := BuildUserTurn(plan, executed, "")
	block := blockByToolUseID(t, msg, "tc2")
	assert.True(t, block.IsError)
	assert.Contains(t, block.Content.(string), NotExecutedMarker)
}

func TestBuildUserTurn_FailedStepCarriesErrorDetail(t *testing.T) {
	plan := types.Plan{
		Steps: []types.PlanStep{
			{ToolUseID: "tc1", ToolName: toolregistry.ToolClick},
		},
	}
	executed := map[string]types.ExecutedStep{
		"tc1": {Success: false, ErrorStr: "element not found"},
	}

	msg := BuildUserTurn(plan, executed, "")
	block := blockByToolUseID(t, msg, "tc1")
	assert.True(t, block.IsError)

	var got failedResult
	require.NoError(t, json.Unmarshal([]byte(block.Content.(string)), &got))
	assert.Equal(t, "element not found", got.Error)
	assert.Equal(t, toolregistry.ToolClick, got.ToolName)
}

func TestBuildUserTurn_AnalysisToolResultPassesValueThrough(t *testing.T) {
	plan := types.Plan{
		Steps: []types.PlanStep{
			{ToolUseID: "tc1", ToolName: toolregistry.ToolExtractContext},
		},
	}
	executed := map[string]types.ExecutedStep{
		"tc1": {Success: true, Result: &types.ToolResult{Success: true, Value: map[string]any{"url": "https://example.com"}}},
	}

	msg := BuildUserTurn(plan, executed, "")
	block := blockByToolUseID(t, msg, "tc1")

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(block.Content.(string)), &got))
	assert.Equal(t, "https://example.com", got["url"])
}

func TestBuildUserTurn_AppendsTrailingPromptAsTextBlock(t *testing.T) {
	plan := types.Plan{
		Steps: []types.PlanStep{
			{ToolUseID: "tc1", ToolName: toolregistry.ToolNavigate},
		},
	}
	executed := map[string]types.ExecutedStep{
		"tc1": {Success: true, Result: &types.ToolResult{Success: true}},
	}

	msg := BuildUserTurn(plan, executed, "keep going")
	last := msg.Content[len(msg.Content)-1]
	assert.Equal(t, types.BlockText, last.Type)
	assert.Equal(t, "keep going", last.Text)
}

func TestContinuationPrompt_IncludesAnalysisAndURL(t *testing.T) {
	prompt := ContinuationPrompt("found the login form", "page summary", "https://example.com/login")
	assert.Contains(t, prompt, "found the login form")
	assert.Contains(t, prompt, "https://example.com/login")
}

func TestRecoveryPrompt_IncludesErrorMarkerAndFailedTool(t *testing.T) {
	step := types.PlanStep{ToolName: toolregistry.ToolClick, Input: map[string]any{"selector": "#submit"}}
	prompt := RecoveryPrompt(step, "not visible", "https://example.com")
	assert.Contains(t, prompt, AutomationErrorMarker)
	assert.Contains(t, prompt, toolregistry.ToolClick)
	assert.Contains(t, prompt, "not visible")
}
