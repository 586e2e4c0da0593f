// Package msgbuilder implements the Message Builder (spec.md §4.8):
// constructs tool_result blocks and user turns preserving 1:1
// correspondence with emitted tool_use ids.
package msgbuilder

import (
	"encoding/json"
	"fmt"

	"github.com/wayfarer-dev/wayfarer/internal/toolregistry"
	"github.com/wayfarer-dev/wayfarer/internal/types"
)

// NotExecutedMarker is the canonical marker Context Compression matches on
// to drop unexecuted-pair tool_results (spec.md §4.8, §4.9 pass 1).
const NotExecutedMarker = "Not executed — automation stopped before reaching this step"

// AutomationErrorMarker tags text blocks Context Compression's stale-error
// pass collapses to only the most recent occurrence (spec.md §4.9 pass 3).
const AutomationErrorMarker = "AUTOMATION ERROR ENCOUNTERED"

type metadataAck struct {
	Success  bool   `json:"success"`
	PlanType string `json:"planType"`
}

type compactResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Summary string `json:"summary,omitempty"`
}

type failedResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	ToolName string `json:"toolName"`
}

// BuildUserTurn emits the next user turn for plan, given the steps executed
// so far keyed by their PlanStep.ToolUseID, and an optional trailing prompt
// text (a continuation or error-recovery prompt, spec.md §4.8).
func BuildUserTurn(plan types.Plan, executed map[string]types.ExecutedStep, trailingPrompt string) types.Message {
	var blocks []types.Block

	if plan.MetadataToolUseID != "" {
		ack, _ := json.Marshal(metadataAck{Success: true, PlanType: plan.MetadataPlanType})
		blocks = append(blocks, types.Block{
			Type:      types.BlockToolResult,
			ToolUseID: plan.MetadataToolUseID,
			Content:   string(ack),
		})
	}

	for _, step := range plan.Steps {
		es, ok := executed[step.ToolUseID]
		if !ok {
			blocks = append(blocks, notExecutedBlock(step.ToolUseID))
			continue
		}

		if !es.Success {
			content, _ := json.Marshal(failedResult{
				Success:  false,
				Error:    errText(es),
				ToolName: step.ToolName,
			})
			blocks = append(blocks, types.Block{
				Type:      types.BlockToolResult,
				ToolUseID: step.ToolUseID,
				Content:   string(content),
				IsError:   true,
			})
			continue
		}

		if toolregistry.AnalysisTools[step.ToolName] {
			valueJSON, _ := json.Marshal(es.Result.Value)
			blocks = append(blocks, types.Block{
				Type:      types.BlockToolResult,
				ToolUseID: step.ToolUseID,
				Content:   string(valueJSON),
			})
			continue
		}

		content, _ := json.Marshal(compactResult{
			Success: true,
			Message: "ok",
			Summary: es.Result.Summary,
		})
		blocks = append(blocks, types.Block{
			Type:      types.BlockToolResult,
			ToolUseID: step.ToolUseID,
			Content:   string(content),
		})
	}

	if trailingPrompt != "" {
		blocks = append(blocks, types.Block{Type: types.BlockText, Text: trailingPrompt})
	}

	return types.Message{Role: types.RoleUser, Content: blocks}
}

func notExecutedBlock(toolUseID string) types.Block {
	content, _ := json.Marshal(failedResult{Success: false, Error: NotExecutedMarker})
	return types.Block{
		Type:      types.BlockToolResult,
		ToolUseID: toolUseID,
		Content:   string(content),
		IsError:   true,
	}
}

func errText(es types.ExecutedStep) string {
	if es.Result != nil && es.Result.Error != nil {
		return es.Result.Error.Message
	}
	if es.ErrorStr != "" {
		return es.ErrorStr
	}
	return "unknown error"
}

// ContinuationPrompt builds the user-directed prompt following an
// intermediate plan's completion (spec.md §4.8, §4.10 CONTINUE_PHASE).
func ContinuationPrompt(analysis string, pageSummary string, currentURL string) string {
	return fmt.Sprintf("Continuing from your analysis: %s\n\nCurrent page context:\n%s\n\nCurrent URL: %s\n\nContinue working toward the goal.",
		analysis, pageSummary, currentURL)
}

// RecoveryPrompt builds the error-recovery prompt for a failed step
// (spec.md §4.8, §4.10 RECOVER).
func RecoveryPrompt(failedStep types.PlanStep, errMsg string, currentURL string) string {
	params, _ := json.Marshal(failedStep.Input)
	return fmt.Sprintf("%s: tool %q failed.\nParameters: %s\nError: %s\nCurrent URL: %s\n\nRevise your plan to recover.",
		AutomationErrorMarker, failedStep.ToolName, string(params), errMsg, currentURL)
}
