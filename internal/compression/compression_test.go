package compression

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-dev/wayfarer/internal/msgbuilder"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

func toolUseMsg(id, name string) types.Message {
	return types.Message{Role: types.RoleAssistant, Content: []types.Block{
		{Type: types.BlockToolUse, ID: id, Name: name},
	}}
}

func toolResultMsg(id string, content any) types.Message {
	return types.Message{Role: types.RoleUser, Content: []types.Block{
		{Type: types.BlockToolResult, ToolUseID: id, Content: content},
	}}
}

func TestApplyLayerA_RemovesUnexecutedPairs(t *testing.T) {
	messages := []types.Message{
		toolUseMsg("tc1", "click"),
		toolResultMsg("tc1", msgbuilder.NotExecutedMarker),
		toolUseMsg("tc2", "navigate"),
		toolResultMsg("tc2", `{"ok":true}`),
	}

	out, stats := ApplyLayerA(messages)
	require.Equal(t, 1, stats.UnexecutedPairsRemoved)
	require.Len(t, out, 2)
	for _, m := range out {
		for _, b := range m.Content {
			assert.NotEqual(t, "tc1", b.ID)
			assert.NotEqual(t, "tc1", b.ToolUseID)
		}
	}
}

func TestApplyLayerA_CompressesAnalysisResults(t *testing.T) {
	pageContextJSON := `{"interactiveElements":[],"stats":{"totalElements":0}}`
	messages := []types.Message{
		toolUseMsg("tc1", "extract_context"),
		toolResultMsg("tc1", pageContextJSON),
	}

	out, stats := ApplyLayerA(messages)
	assert.Equal(t, 1, stats.AnalysisResultsCompressed)
	assert.Equal(t, analysisCompressedPlaceholder, out[1].Content[0].Content)
}

func TestApplyLayerA_IsIdempotent(t *testing.T) {
	messages := []types.Message{
		toolUseMsg("tc1", "click"),
		toolResultMsg("tc1", msgbuilder.NotExecutedMarker),
		toolUseMsg("tc2", "extract_context"),
		toolResultMsg("tc2", `{"interactiveElements":[],"stats":{}}`),
	}

	once, _ := ApplyLayerA(messages)
	twice, stats := ApplyLayerA(once)
	assert.Equal(t, once, twice)
	assert.Equal(t, Stats{}, stats)
}

func TestApplyLayerA_KeepsOnlyMostRecentError(t *testing.T) {
	errText := msgbuilder.AutomationErrorMarker + ": click failed"
	messages := []types.Message{
		{Role: types.RoleUser, Content: []types.Block{{Type: types.BlockText, Text: errText}}},
		{Role: types.RoleUser, Content: []types.Block{{Type: types.BlockText, Text: errText}}},
	}

	out, stats := ApplyLayerA(messages)
	assert.Equal(t, 1, stats.StaleErrorsCompressed)
	assert.True(t, strings.Contains(out[0].Content[0].Text, staleErrorPlaceholder))
	assert.Equal(t, errText, out[1].Content[0].Text)
}

func TestApplyLayerB_NoOpUnderBudget(t *testing.T) {
	messages := []types.Message{
		{Role: types.RoleUser, Content: []types.Block{{Type: types.BlockText, Text: "hi"}}},
	}
	out := ApplyLayerB(messages, 1_000_000, 10, SummaryStats{})
	assert.Equal(t, messages, out)
}

func TestApplyLayerB_RefusesToSummarizeBelowRecentTurnFloor(t *testing.T) {
	var messages []types.Message
	for i := 0; i < 3; i++ {
		messages = append(messages,
			types.Message{Role: types.RoleUser, Content: []types.Block{{Type: types.BlockText, Text: strings.Repeat("x", 1000)}}},
			types.Message{Role: types.RoleAssistant, Content: []types.Block{{Type: types.BlockText, Text: strings.Repeat("y", 1000)}}},
		)
	}
	out := ApplyLayerB(messages, 1, 10, SummaryStats{})
	assert.Equal(t, messages, out)
}

func TestApplyLayerB_SummarizesOlderTurnsKeepingRecent(t *testing.T) {
	var messages []types.Message
	for i := 0; i < 20; i++ {
		messages = append(messages,
			types.Message{Role: types.RoleUser, Content: []types.Block{{Type: types.BlockText, Text: strings.Repeat("x", 1000)}}},
			types.Message{Role: types.RoleAssistant, Content: []types.Block{{Type: types.BlockText, Text: strings.Repeat("y", 1000)}}},
		)
	}

	out := ApplyLayerB(messages, 1, 3, SummaryStats{UserGoal: "buy shoes", Succeeded: 5})
	require.Len(t, out, 1+3*2)
	assert.Contains(t, out[0].Content[0].Text, "buy shoes")
	assert.Equal(t, messages[len(messages)-6:], out[1:])
}
